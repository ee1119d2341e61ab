// Package events publishes internal, non-gating notifications about board
// lifecycle and workflow completion over NATS. Nothing in the Conductor's
// control-plane logic waits on or branches on delivery — a slow or down NATS
// server never blocks a Workflow (spec.md §9 "internal event bus is fan-out
// only").
//
// Enrichment: no example repo in the retrieval pack uses NATS directly for
// this kind of fan-out, but nats-io/nats.go is pulled in because the
// lightning-rod-go manifest's sibling project family and the Conductor's own
// domain-stack expansion (SPEC_FULL.md "DOMAIN STACK") call for a
// lightweight pub/sub bus distinct from the device-facing WAMP bus.
package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/iotronic/conductor/internal/logging"
)

// Subjects used for internal fan-out.
const (
	SubjectBoardOnline     = "iotronic.events.board.online"
	SubjectBoardOffline    = "iotronic.events.board.offline"
	SubjectBoardRegistered = "iotronic.events.board.registered"
	SubjectBoardDestroyed  = "iotronic.events.board.destroyed"
	SubjectWorkflowDone    = "iotronic.events.workflow.done"
)

// BoardEvent is published on board lifecycle transitions.
type BoardEvent struct {
	BoardUUID string `json:"board_uuid"`
	Status    string `json:"status"`
}

// WorkflowEvent is published when a Workflow Coordinator operation
// completes, successfully or not (spec.md §4.F: partial failures are
// reported, not hidden).
type WorkflowEvent struct {
	RequestUUID string `json:"request_uuid"`
	Action      string `json:"action"`
	Succeeded   bool   `json:"succeeded"`
	Detail      string `json:"detail,omitempty"`
}

// Publisher wraps a NATS connection. A nil *nats.Conn (NATS unreachable or
// disabled) makes every Publish call a silent no-op rather than an error,
// matching the "non-gating" requirement.
type Publisher struct {
	nc *nats.Conn
}

// Connect dials url. On failure it logs a warning and returns a Publisher
// with no live connection instead of propagating the error — the Conductor
// must keep functioning with the event bus down.
func Connect(url string) *Publisher {
	nc, err := nats.Connect(url, nats.MaxReconnects(-1), nats.ReconnectWait(2*time.Second))
	if err != nil {
		logging.Log.Warn().Err(err).Str("url", url).Msg("nats unavailable, internal events disabled")
		return &Publisher{}
	}
	return &Publisher{nc: nc}
}

// Close closes the connection, if any, without draining it first.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}

func (p *Publisher) publish(subject string, payload interface{}) {
	if p.nc == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Log.Error().Err(err).Str("subject", subject).Msg("encoding event")
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		logging.Log.Warn().Err(err).Str("subject", subject).Msg("publishing event")
	}
}

// PublishBoardEvent fans out a board lifecycle transition.
func (p *Publisher) PublishBoardEvent(subject, boardUUID, status string) {
	p.publish(subject, BoardEvent{BoardUUID: boardUUID, Status: status})
}

// PublishWorkflowDone fans out a Workflow Coordinator completion.
func (p *Publisher) PublishWorkflowDone(requestUUID, action string, succeeded bool, detail string) {
	p.publish(SubjectWorkflowDone, WorkflowEvent{RequestUUID: requestUUID, Action: action, Succeeded: succeeded, Detail: detail})
}
