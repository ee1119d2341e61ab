// Package bus wraps the WAMP router connection the Conductor uses to reach
// boards: RPC calls, registrations and pub/sub, all multiplexed over one
// WAMP session per spec.md §2 ("WAMP-over-WebSocket RPC bus").
//
// Grounded on the Go port of the on-device agent half of this same
// platform (github.com/MDSLab/iotronic-lightning-rod, retrieved as
// other_examples/.../webservice.go), which wraps
// github.com/gammazero/nexus/v3's client package the same way: a thin
// Bus interface the rest of the Conductor depends on, keeping nexus's
// wamp.List/wamp.Dict vocabulary out of business logic — the same seam
// the teacher draws around its websocket.AgentHub.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/wamp"

	"github.com/iotronic/conductor/internal/logging"
)

// CallHandler answers an incoming RPC registration. args/kwArgs mirror the
// WAMP call's positional/keyword arguments; the returned values become the
// RESULT message's own args/kwArgs.
type CallHandler func(ctx context.Context, args []interface{}, kwArgs map[string]interface{}) ([]interface{}, map[string]interface{}, error)

// EventHandler answers an incoming pub/sub event.
type EventHandler func(args []interface{}, kwArgs map[string]interface{})

// Bus is the Conductor's view of the WAMP session: call, register, publish
// and subscribe, without leaking nexus's own types into callers.
type Bus interface {
	Connect(ctx context.Context) error
	Close() error
	Connected() bool

	Call(ctx context.Context, procedure string, args []interface{}, kwArgs map[string]interface{}) ([]interface{}, map[string]interface{}, error)
	Register(procedure string, handler CallHandler) error
	Unregister(procedure string) error
	Publish(topic string, args []interface{}, kwArgs map[string]interface{}) error
	Subscribe(topic string, handler EventHandler) error

	// Echo is the bus's own liveness probe, mirrored from spec.md §6's
	// supplemented echo(data) RPC: any payload sent to a board is expected
	// back unchanged.
	Echo(ctx context.Context, boardSessionID int64, boardUUID string, data interface{}) (interface{}, error)
}

// Config configures the WAMP connection to the broker/router.
type Config struct {
	TransportURL     string
	Realm            string
	AutoPingInterval time.Duration
	AutoPingTimeout  time.Duration
	SkipCertVerify   bool
}

type nexusBus struct {
	cfg    Config
	client *client.Client
}

// New constructs a Bus. Connect must be called before use.
func New(cfg Config) Bus {
	return &nexusBus{cfg: cfg}
}

func (b *nexusBus) Connect(ctx context.Context) error {
	clientCfg := client.Config{
		Realm: b.cfg.Realm,
		HelloDetails: wamp.Dict{
			"roles": wamp.Dict{
				"caller":     wamp.Dict{},
				"callee":     wamp.Dict{},
				"publisher":  wamp.Dict{},
				"subscriber": wamp.Dict{},
			},
		},
	}

	c, err := client.ConnectNet(ctx, b.cfg.TransportURL, clientCfg)
	if err != nil {
		return fmt.Errorf("connecting to wamp router %s: %w", b.cfg.TransportURL, err)
	}
	b.client = c
	logging.Bus().Info().Str("realm", b.cfg.Realm).Str("url", b.cfg.TransportURL).Msg("wamp session established")
	return nil
}

func (b *nexusBus) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

func (b *nexusBus) Connected() bool {
	return b.client != nil && b.client.Connected()
}

func toWampList(args []interface{}) wamp.List {
	if args == nil {
		return nil
	}
	list := make(wamp.List, len(args))
	copy(list, args)
	return list
}

func toWampDict(kwArgs map[string]interface{}) wamp.Dict {
	if kwArgs == nil {
		return nil
	}
	dict := make(wamp.Dict, len(kwArgs))
	for k, v := range kwArgs {
		dict[k] = v
	}
	return dict
}

func fromWampList(list wamp.List) []interface{} {
	if list == nil {
		return nil
	}
	out := make([]interface{}, len(list))
	copy(out, list)
	return out
}

func fromWampDict(dict wamp.Dict) map[string]interface{} {
	if dict == nil {
		return nil
	}
	out := make(map[string]interface{}, len(dict))
	for k, v := range dict {
		out[k] = v
	}
	return out
}

func (b *nexusBus) Call(ctx context.Context, procedure string, args []interface{}, kwArgs map[string]interface{}) ([]interface{}, map[string]interface{}, error) {
	result, err := b.client.Call(ctx, procedure, nil, toWampList(args), toWampDict(kwArgs), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("calling %s: %w", procedure, err)
	}
	return fromWampList(result.Arguments), fromWampDict(result.ArgumentsKw), nil
}

func (b *nexusBus) Register(procedure string, handler CallHandler) error {
	invocationHandler := func(ctx context.Context, inv *wamp.Invocation) client.InvokeResult {
		args, kwArgs, err := handler(ctx, fromWampList(inv.Arguments), fromWampDict(inv.ArgumentsKw))
		if err != nil {
			return client.InvokeResult{Err: wamp.URI("iotronic.error"), Args: wamp.List{err.Error()}}
		}
		return client.InvokeResult{Args: toWampList(args), Kwargs: toWampDict(kwArgs)}
	}
	if err := b.client.Register(procedure, invocationHandler, nil); err != nil {
		return fmt.Errorf("registering %s: %w", procedure, err)
	}
	return nil
}

func (b *nexusBus) Unregister(procedure string) error {
	return b.client.Unregister(procedure)
}

func (b *nexusBus) Publish(topic string, args []interface{}, kwArgs map[string]interface{}) error {
	return b.client.Publish(topic, nil, toWampList(args), toWampDict(kwArgs))
}

func (b *nexusBus) Subscribe(topic string, handler EventHandler) error {
	eventHandler := func(event *wamp.Event) {
		handler(fromWampList(event.Arguments), fromWampDict(event.ArgumentsKw))
	}
	return b.client.Subscribe(topic, eventHandler, nil)
}

// BoardURI builds the per-board, per-session RPC URI the dispatcher calls
// into, matching the original wamp.functions.board_on_join registration
// naming scheme: iotronic.<session_id>.<board_uuid>.<call>.
func BoardURI(sessionID int64, boardUUID, call string) string {
	return fmt.Sprintf("iotronic.%d.%s.%s", sessionID, boardUUID, call)
}

func (b *nexusBus) Echo(ctx context.Context, boardSessionID int64, boardUUID string, data interface{}) (interface{}, error) {
	args, _, err := b.Call(ctx, BoardURI(boardSessionID, boardUUID, "echo"), []interface{}{data}, nil)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, nil
	}
	return args[0], nil
}
