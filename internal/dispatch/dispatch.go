// Package dispatch implements the Device Dispatcher: turning a Workflow
// Coordinator's call into board into a dispatched WAMP RPC, tracking it as a
// Request/Result pair, and reconciling terminal outcomes whether they arrive
// synchronously (the RPC call itself returns SUCCESS/ERROR) or
// asynchronously via a later notify_result call from the board (spec.md
// §4.E).
//
// Grounded on the teacher's internal/services.CommandDispatcher: a bounded
// job queue drained by a fixed worker pool, with Start/Stop lifecycle
// methods instead of spawning one goroutine per call.
package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/iotronic/conductor/internal/apperrors"
	"github.com/iotronic/conductor/internal/bus"
	"github.com/iotronic/conductor/internal/logging"
	"github.com/iotronic/conductor/internal/models"
	"github.com/iotronic/conductor/internal/repository"
)

// lrVersionCutoff is the lightning-rod version at or above which a call's
// Request object is included alongside (call, args) (spec.md §4.E step 2).
const lrVersionCutoff = "0.4.9"

type job struct {
	requestUUID string
	boardUUID   string
	sessionID   int64
	call        string
	args        []interface{}
	lrVersion   string
	request     *models.Request
}

// Dispatcher fans calls out to boards over the Bus and tracks their results.
type Dispatcher struct {
	bus      bus.Bus
	requests repository.RequestRepository
	sessions repository.SessionRepository
	boards   repository.BoardRepository

	queue   chan job
	workers int
	done    chan struct{}
}

// New constructs a Dispatcher with workers concurrent goroutines draining
// its dispatch queue, sized queueDepth deep.
func New(b bus.Bus, requests repository.RequestRepository, sessions repository.SessionRepository, boards repository.BoardRepository, workers, queueDepth int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &Dispatcher{
		bus:      b,
		requests: requests,
		sessions: sessions,
		boards:   boards,
		queue:    make(chan job, queueDepth),
		workers:  workers,
		done:     make(chan struct{}),
	}
}

// Start launches the worker pool. Call once at Conductor startup.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		go d.worker(i)
	}
}

// Stop signals workers to drain and exit once the queue empties.
func (d *Dispatcher) Stop() {
	close(d.queue)
	<-d.done
}

func (d *Dispatcher) worker(id int) {
	for j := range d.queue {
		d.process(j)
	}
	if id == 0 {
		close(d.done)
	}
}

// ExecuteOnBoard dispatches call to boardUUID with args, recording a Request
// and a RUNNING Result before the RPC is even emitted so a Conductor crash
// mid-flight leaves an auditable PENDING request rather than silent loss.
// mainRequestUUID, when non-empty, ties this call to a parent Request the
// Workflow Coordinator is aggregating (spec.md §4.F).
func (d *Dispatcher) ExecuteOnBoard(ctx context.Context, boardUUID, call string, args []interface{}, mainRequestUUID string) (string, error) {
	session, err := d.sessions.GetValidByBoardUUID(boardUUID)
	if err != nil {
		return "", err
	}

	var lrVersion string
	if board, err := d.boards.GetByUUID(boardUUID); err == nil {
		lrVersion = board.LRVersion
	}

	req := &models.Request{
		UUID:            uuid.NewString(),
		DestinationUUID: boardUUID,
		MainRequestUUID: mainRequestUUID,
		PendingRequests: 0,
		Status:          models.RequestStatusPending,
		Type:            models.RequestTypeBoard,
		Action:          call,
	}
	if err := d.requests.Create(req); err != nil {
		return "", err
	}
	if err := d.requests.CreateResult(&models.Result{RequestUUID: req.UUID, BoardUUID: boardUUID, Result: models.ResultRunning}); err != nil {
		return "", err
	}

	select {
	case d.queue <- job{requestUUID: req.UUID, boardUUID: boardUUID, sessionID: session.SessionID, call: call, args: args, lrVersion: lrVersion, request: req}:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	return req.UUID, nil
}

func (d *Dispatcher) process(j job) {
	ctx := context.Background()
	uri := bus.BoardURI(j.sessionID, j.boardUUID, j.call)

	var kw map[string]interface{}
	if CompareVersion(j.lrVersion, lrVersionCutoff) >= 0 {
		kw = map[string]interface{}{"request": j.request}
	}

	args, kwArgs, err := d.bus.Call(ctx, uri, j.args, kw)
	if err != nil {
		d.finalizeResult(j.requestUUID, j.boardUUID, models.ResultError, err.Error())
		logging.Dispatch().Error().Err(err).Str("call", j.call).Str("board_uuid", j.boardUUID).Msg("rpc call failed")
		return
	}

	if result, ok := kwArgs["result"].(string); ok && models.IsTerminalResult(result) {
		message, _ := kwArgs["message"].(string)
		d.finalizeResult(j.requestUUID, j.boardUUID, result, message)
		return
	}

	// No synchronous terminal outcome: the call acknowledged receipt and the
	// board will report its outcome later via NotifyResult.
	logging.Dispatch().Debug().Str("call", j.call).Str("board_uuid", j.boardUUID).Interface("ack_args", args).Msg("call acknowledged, awaiting async result")
}

func (d *Dispatcher) finalizeResult(requestUUID, boardUUID, result, message string) {
	firstTerminal, err := d.requests.SetResult(requestUUID, boardUUID, result, message)
	if err != nil {
		logging.Dispatch().Error().Err(err).Str("request_uuid", requestUUID).Msg("failed to record result")
		return
	}
	if !firstTerminal {
		return
	}
	if err := d.requests.MarkCompleted(requestUUID); err != nil {
		logging.Dispatch().Error().Err(err).Str("request_uuid", requestUUID).Msg("failed to mark request completed")
	}

	req, err := d.requests.GetByUUID(requestUUID)
	if err != nil {
		logging.Dispatch().Error().Err(err).Str("request_uuid", requestUUID).Msg("failed to load request for pending decrement")
		return
	}
	if req.MainRequestUUID == "" {
		return
	}
	if _, err := d.requests.DecrementPending(req.MainRequestUUID); err != nil {
		logging.Dispatch().Error().Err(err).Str("main_request_uuid", req.MainRequestUUID).Msg("failed to decrement pending_requests")
	}

	if result == models.ResultError {
		logging.Dispatch().Warn().Str("board_uuid", boardUUID).Str("request_uuid", requestUUID).Msg(
			apperrors.NewErrorExecutionOnBoard(req.Action, boardUUID, message).Error())
	}
}

// NotifyResult is registered as a WAMP RPC (conductor.notify_result) that
// boards call with their call outcome once work finishes asynchronously. It
// is idempotent: a duplicate notification for an already-terminal Result is
// a no-op, per spec.md §4.E "must not double-decrement on duplicate
// notifications".
func (d *Dispatcher) NotifyResult(requestUUID, boardUUID, result, message string) error {
	if !models.IsTerminalResult(result) {
		return fmt.Errorf("notify_result: %q is not a terminal result", result)
	}
	d.finalizeResult(requestUUID, boardUUID, result, message)
	return nil
}
