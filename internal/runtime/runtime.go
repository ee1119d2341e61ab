// Package runtime wires every other package together into one long-lived
// process object, per spec.md §9's "no package-level globals" design note:
// every stateful component is a field on Runtime, constructed once at
// startup and passed down explicitly instead of reached for through
// init()-populated package variables.
//
// Grounded on the teacher's cmd/server wiring: a single composition root
// that builds the database, the repositories, the transport, and the
// background loops, then exposes Start/Shutdown to main.
package runtime

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/iotronic/conductor/internal/agentregistry"
	"github.com/iotronic/conductor/internal/bus"
	"github.com/iotronic/conductor/internal/config"
	"github.com/iotronic/conductor/internal/db"
	"github.com/iotronic/conductor/internal/dispatch"
	"github.com/iotronic/conductor/internal/dns"
	"github.com/iotronic/conductor/internal/events"
	"github.com/iotronic/conductor/internal/logging"
	"github.com/iotronic/conductor/internal/onboarding"
	"github.com/iotronic/conductor/internal/ports"
	"github.com/iotronic/conductor/internal/proxy"
	"github.com/iotronic/conductor/internal/repository"
	"github.com/iotronic/conductor/internal/sessionmgr"
	"github.com/iotronic/conductor/internal/workflow"
)

// Runtime is the assembled Conductor process.
type Runtime struct {
	Config     *config.Config
	Hostname   string
	Database   *db.Database
	Repo       *repository.Repository
	Bus        bus.Bus
	Agents     *agentregistry.Registry
	Sessions   *sessionmgr.Manager
	Ports      *ports.Allocator
	Dispatcher *dispatch.Dispatcher
	Workflow   *workflow.Coordinator
	Onboarding *onboarding.Service
	Proxy      *proxy.Gateway
	AllowList  *proxy.AllowList
	DNS        dns.Provider
	Events     *events.Publisher

	cron *cron.Cron
}

// New assembles a Runtime from cfg. It connects to the database and runs
// migrations, but does not yet connect the WAMP bus or start background
// loops — call Start for that.
func New(cfg *config.Config) (*Runtime, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "conductor"
	}

	database, err := db.NewDatabase(db.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	repo := repository.New(database.DB())

	wampBus := bus.New(bus.Config{
		TransportURL:     cfg.Wamp.TransportURL,
		Realm:            cfg.Wamp.Realm,
		AutoPingInterval: cfg.Wamp.AutoPingInterval,
		AutoPingTimeout:  cfg.Wamp.AutoPingTimeout,
		SkipCertVerify:   cfg.Wamp.SkipCertVerify,
	})

	agentRegistry := agentregistry.New(repo.Agents)
	sessionManager := sessionmgr.New(repo.Sessions, repo.Boards)

	takenPorts, err := repo.Services.AllPublicPorts()
	if err != nil {
		return nil, fmt.Errorf("loading bound public ports: %w", err)
	}
	portAllocator := ports.NewAllocator(cfg.Conductor.ServicePortMin, cfg.Conductor.ServicePortMax, takenPorts)

	dispatcher := dispatch.New(wampBus, repo.Requests, repo.Sessions, repo.Boards, 0, 0)

	gateway := proxy.NewGateway(cfg.Nginx.Path, cfg.Nginx.WstunEndpoint)
	allowList := proxy.NewAllowList(cfg.Wamp.ServiceAllowListPath)
	dnsProvider := dns.NewInMemoryProvider()
	publisher := events.Connect(cfg.Events.NatsURL)

	coordinator := workflow.New(repo, dispatcher, portAllocator, gateway, dnsProvider, publisher, allowList)

	onboardingSvc := onboarding.New(repo.Boards, repo.Sessions, agentRegistry, onboarding.Config{
		WampTransportURL: cfg.Wamp.TransportURL,
		WampRealm:        cfg.Wamp.Realm,
	})

	return &Runtime{
		Config:     cfg,
		Hostname:   hostname,
		Database:   database,
		Repo:       repo,
		Bus:        wampBus,
		Agents:     agentRegistry,
		Sessions:   sessionManager,
		Ports:      portAllocator,
		Dispatcher: dispatcher,
		Workflow:   coordinator,
		Onboarding: onboardingSvc,
		Proxy:      gateway,
		AllowList:  allowList,
		DNS:        dnsProvider,
		Events:     publisher,
		cron:       cron.New(),
	}, nil
}

// Start connects the bus, registers the inbound RPCs boards call into, and
// starts the dispatcher's worker pool and the periodic reconciliation jobs.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.Bus.Connect(ctx); err != nil {
		return fmt.Errorf("connecting wamp bus: %w", err)
	}

	if err := r.registerRPCs(); err != nil {
		return fmt.Errorf("registering rpcs: %w", err)
	}

	r.Dispatcher.Start()

	if err := r.Repo.Conductors.Register(r.Hostname); err != nil {
		return fmt.Errorf("registering conductor: %w", err)
	}

	r.scheduleJobs()
	r.cron.Start()

	logging.Log.Info().Str("hostname", r.Hostname).Msg("conductor started")
	return nil
}

// registerRPCs exposes the Conductor's own inbound WAMP procedures: board
// result callbacks and the registration handshake, matching
// original_source's wamp.functions module-level RPC registrations.
func (r *Runtime) registerRPCs() error {
	if err := r.Bus.Register("conductor.notify_result", r.handleNotifyResult); err != nil {
		return err
	}
	if err := r.Bus.Register("conductor.registration", r.handleRegistration); err != nil {
		return err
	}
	return nil
}

func (r *Runtime) handleNotifyResult(ctx context.Context, args []interface{}, kwArgs map[string]interface{}) ([]interface{}, map[string]interface{}, error) {
	requestUUID, _ := argString(args, 0)
	boardUUID, _ := argString(args, 1)
	result, _ := argString(args, 2)
	message, _ := argString(args, 3)

	if err := r.Dispatcher.NotifyResult(requestUUID, boardUUID, result, message); err != nil {
		return nil, nil, err
	}
	return nil, nil, nil
}

func (r *Runtime) handleRegistration(ctx context.Context, args []interface{}, kwArgs map[string]interface{}) ([]interface{}, map[string]interface{}, error) {
	code, _ := argString(args, 0)
	sessionID, _ := argInt64(args, 1)
	reg, err := r.Onboarding.Register(code, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return nil, map[string]interface{}{
		"uuid":               reg.BoardUUID,
		"agent":              reg.AssignedAgent,
		"wamp_transport_url": reg.WampTransport,
		"wamp_realm":         reg.WampRealm,
		"config":             reg.Config,
	}, nil
}

func argString(args []interface{}, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].(string)
	return s, ok
}

func argInt64(args []interface{}, i int) (int64, bool) {
	if i >= len(args) {
		return 0, false
	}
	switch n := args[i].(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	}
	return 0, false
}

// scheduleJobs registers the periodic sweeps a single Conductor instance
// runs for itself: session reconciliation against the broker's live session
// list, and its own liveness touch. No job expires stale agents.
func (r *Runtime) scheduleJobs() {
	heartbeat := r.Config.Conductor.HeartbeatTimeout
	if heartbeat <= 0 {
		heartbeat = 60 * time.Second
	}

	r.cron.AddFunc("@every 30s", func() {
		live := r.liveSessionIDs()
		if live == nil {
			return
		}
		if _, err := r.Sessions.Reconcile(live); err != nil {
			logging.Sessions().Error().Err(err).Msg("session reconciliation failed")
		}
	})

	r.cron.AddFunc("@every 1m", func() {
		if err := r.Repo.Conductors.Touch(r.Hostname); err != nil {
			logging.Log.Error().Err(err).Msg("conductor heartbeat failed")
		}
	})
}

// liveSessionIDs asks the broker which sessions are actually live. The WAMP
// meta API exposes this as wamp.session.list; a disconnected bus, a failed
// call or an unreadable reply yields nil, which the reconciliation job treats
// as "nothing confirmed live yet" and skips the sweep rather than
// invalidating every session.
func (r *Runtime) liveSessionIDs() []int64 {
	if !r.Bus.Connected() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	args, _, err := r.Bus.Call(ctx, "wamp.session.list", nil, nil)
	if err != nil {
		logging.Sessions().Warn().Err(err).Msg("listing live sessions")
		return nil
	}
	if len(args) == 0 {
		return nil
	}
	raw, ok := args[0].([]interface{})
	if !ok {
		return nil
	}
	ids := make([]int64, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case int64:
			ids = append(ids, n)
		case float64:
			ids = append(ids, int64(n))
		}
	}
	return ids
}

// Shutdown drains in-flight dispatches and releases the Conductor's
// resources, per spec.md §5/§6's graceful-exit requirement: no request is
// left half-dispatched, and this Conductor's own registration row is
// removed so a heartbeat sweep on another instance doesn't report it stale.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.cron.Stop()
	r.Dispatcher.Stop()
	r.Ports.Stop()

	if err := r.Repo.Conductors.Unregister(r.Hostname); err != nil {
		logging.Log.Warn().Err(err).Msg("unregistering conductor")
	}

	if err := r.Bus.Close(); err != nil {
		logging.Log.Warn().Err(err).Msg("closing wamp bus")
	}
	r.Events.Close()

	if err := r.Database.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}

	logging.Log.Info().Str("hostname", r.Hostname).Msg("conductor stopped")
	return nil
}
