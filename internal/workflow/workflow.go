// Package workflow implements the Workflow Coordinator: multi-step
// orchestration across the Repository, Device Dispatcher, Port Allocator
// and Proxy/DNS Gateway (spec.md §4.F). Each operation's steps run in
// sequence; a step that fails leaves prior steps' state in place for an
// operator to inspect and retry rather than attempting automatic rollback,
// per spec.md §4.F's explicit "no automatic rollback" invariant.
package workflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/iotronic/conductor/internal/apperrors"
	"github.com/iotronic/conductor/internal/dns"
	"github.com/iotronic/conductor/internal/events"
	"github.com/iotronic/conductor/internal/logging"
	"github.com/iotronic/conductor/internal/models"
	"github.com/iotronic/conductor/internal/ports"
	"github.com/iotronic/conductor/internal/proxy"
	"github.com/iotronic/conductor/internal/repository"
)

// Board actions recognized by ActionBoard, per spec.md §4.F.
const (
	BoardActionReboot    = "Reboot"
	BoardActionHardReset = "HardReset"
)

// Service actions recognized by ActionService.
const (
	ServiceActionEnable  = "Enable"
	ServiceActionDisable = "Disable"
	ServiceActionRestore = "Restore"
)

// Dispatcher is the slice of *dispatch.Dispatcher the Coordinator needs: a
// concrete Dispatcher already satisfies this, tests substitute a fake.
type Dispatcher interface {
	ExecuteOnBoard(ctx context.Context, boardUUID, call string, args []interface{}, mainRequestUUID string) (string, error)
}

// Coordinator composes the other modules into the multi-step operations
// boards, plugins, services and webservices require.
type Coordinator struct {
	repo        *repository.Repository
	dispatcher  Dispatcher
	ports       *ports.Allocator
	proxy       *proxy.Gateway
	dnsProvider dns.Provider
	publisher   *events.Publisher
	allowlist   *proxy.AllowList
}

// New constructs a Coordinator.
func New(repo *repository.Repository, dispatcher Dispatcher, portAllocator *ports.Allocator, gateway *proxy.Gateway, dnsProvider dns.Provider, publisher *events.Publisher, allowlist *proxy.AllowList) *Coordinator {
	return &Coordinator{
		repo:        repo,
		dispatcher:  dispatcher,
		ports:       portAllocator,
		proxy:       gateway,
		dnsProvider: dnsProvider,
		publisher:   publisher,
		allowlist:   allowlist,
	}
}

// --- Allow-list ---------------------------------------------------------

// allowlistEntries rebuilds the proxy allow-list contents from the
// repository's current state: every ExposedService binding plus every
// enabled webservice's http/https ports (spec.md §6 allowlist contract).
// exposed_services.service_uuid carries a hard FK to services(uuid), so a
// webservice's ports are never tracked as fabricated ExposedService rows;
// they live on EnabledWebservice and are folded in here instead.
func (c *Coordinator) allowlistEntries() ([]proxy.AllowListEntry, error) {
	exposed, err := c.repo.Services.ListAllExposed()
	if err != nil {
		return nil, err
	}
	enabled, err := c.repo.Webservices.ListAllEnabled()
	if err != nil {
		return nil, err
	}

	entries := make([]proxy.AllowListEntry, 0, len(exposed)+2*len(enabled))
	for _, e := range exposed {
		entries = append(entries, proxy.AllowListEntry{Client: e.BoardUUID, Port: strconv.Itoa(e.PublicPort)})
	}
	for _, e := range enabled {
		if e.HTTPPort != 0 {
			entries = append(entries, proxy.AllowListEntry{Client: e.BoardUUID, Port: strconv.Itoa(e.HTTPPort)})
		}
		if e.HTTPSPort != 0 {
			entries = append(entries, proxy.AllowListEntry{Client: e.BoardUUID, Port: strconv.Itoa(e.HTTPSPort)})
		}
	}
	return entries, nil
}

// syncAllowlist rewrites the allow-list file from the repository's current
// state, the rough equivalent of asking every agent to remove_from_allowlist
// a binding that just disappeared: rather than one RPC per removed port,
// the whole file is derived fresh from what's actually left in the DB.
func (c *Coordinator) syncAllowlist() error {
	entries, err := c.allowlistEntries()
	if err != nil {
		return fmt.Errorf("assembling allow list: %w", err)
	}
	if err := c.allowlist.Write(entries); err != nil {
		return fmt.Errorf("writing allow list: %w", err)
	}
	return nil
}

// allowBoardPort rewrites the allow-list with an additional (boardUUID,
// port) entry not yet reflected in the repository, the equivalent of
// addin_allowlist(board_uuid, public_port): spec.md §4.F dispatches this
// before the corresponding ExposedService row is created.
func (c *Coordinator) allowBoardPort(boardUUID string, port int) error {
	entries, err := c.allowlistEntries()
	if err != nil {
		return fmt.Errorf("assembling allow list: %w", err)
	}
	entries = append(entries, proxy.AllowListEntry{Client: boardUUID, Port: strconv.Itoa(port)})
	if err := c.allowlist.Write(entries); err != nil {
		return fmt.Errorf("writing allow list: %w", err)
	}
	return nil
}

// warnAndFail records a WARNING Result on a zero-pending (already-completed)
// parent Request and then returns err, satisfying spec.md §9's resolution
// that a webservice collision both surfaces a typed error to the caller and
// leaves an auditable trail in the Request/Result tables.
func (c *Coordinator) warnAndFail(boardUUID, action string, err *apperrors.AppError) error {
	if recErr := c.recordWarning(boardUUID, action, err.Message); recErr != nil {
		logging.Workflow().Error().Err(recErr).Str("board_uuid", boardUUID).Msg("failed to record warning request")
	}
	return err
}

// recordWarning creates a zero-pending, already-COMPLETED parent Request
// carrying a single WARNING Result, used when an operation is a no-op
// because the requested state already exists.
func (c *Coordinator) recordWarning(boardUUID, action, message string) error {
	parent := &models.Request{
		UUID:            uuid.NewString(),
		DestinationUUID: boardUUID,
		PendingRequests: 0,
		Status:          models.RequestStatusCompleted,
		Type:            models.RequestTypeBoard,
		Action:          action,
	}
	if err := c.repo.Requests.Create(parent); err != nil {
		return err
	}
	return c.repo.Requests.CreateResult(&models.Result{RequestUUID: parent.UUID, BoardUUID: boardUUID, Result: models.ResultWarning, Message: message})
}

func (c *Coordinator) requireOnline(boardUUID string) (*models.Board, error) {
	board, err := c.repo.Boards.GetByUUID(boardUUID)
	if err != nil {
		return nil, err
	}
	if board.Status != models.BoardStatusOnline {
		return nil, apperrors.BoardNotConnected(boardUUID)
	}
	return board, nil
}

// --- Boards ------------------------------------------------------------

// CreateBoard registers a new Board record. The board does not become
// reachable until it performs its own registration handshake
// (internal/onboarding) and opens a WAMP session.
func (c *Coordinator) CreateBoard(name, code, boardType string, fleetUUID string, config map[string]interface{}) (*models.Board, error) {
	board := &models.Board{
		UUID:      uuid.NewString(),
		Name:      name,
		Code:      code,
		Status:    models.BoardStatusRegistered,
		FleetUUID: fleetUUID,
		Type:      boardType,
		Config:    config,
		Extra:     map[string]interface{}{},
	}
	if err := c.repo.Boards.Create(board); err != nil {
		return nil, err
	}
	c.publisher.PublishBoardEvent(events.SubjectBoardRegistered, board.UUID, board.Status)
	return board, nil
}

// DestroyBoard removes a board. If it is currently connected, it is asked
// to factory-reset itself first; the record is then deleted and every public
// port it had exposed is dropped from the proxy allow-list (spec.md §4.F
// destroy_board). Cascading rows (sessions, ports, exposed services,
// injections) are removed by the database's ON DELETE CASCADE, so the
// allow-list is resynced from the post-delete state rather than walking
// each ExposedService individually.
func (c *Coordinator) DestroyBoard(ctx context.Context, boardUUID string) error {
	board, err := c.repo.Boards.GetByUUID(boardUUID)
	if err != nil {
		return err
	}

	if board.Status == models.BoardStatusOnline {
		if _, err := c.dispatcher.ExecuteOnBoard(ctx, boardUUID, "DeviceFactoryReset", nil, ""); err != nil {
			logging.Workflow().Error().Err(err).Str("board_uuid", boardUUID).Msg("factory reset dispatch failed, continuing with destroy")
		}
	}

	if err := c.repo.Boards.Destroy(boardUUID); err != nil {
		return err
	}

	if err := c.syncAllowlist(); err != nil {
		logging.Workflow().Error().Err(err).Str("board_uuid", boardUUID).Msg("failed to resync allow list after board destroy")
	}

	c.publisher.PublishBoardEvent(events.SubjectBoardDestroyed, boardUUID, "")
	return nil
}

// ActionBoard dispatches a lifecycle action (reboot, hard reset) to a
// connected board.
func (c *Coordinator) ActionBoard(ctx context.Context, boardUUID, action string) (string, error) {
	switch action {
	case BoardActionReboot, BoardActionHardReset:
	default:
		return "", apperrors.InvalidBoardAction(action)
	}
	return c.dispatcher.ExecuteOnBoard(ctx, boardUUID, action, nil, "")
}

// --- Plugins ---------------------------------------------------------------

// CreatePlugin registers a new Plugin.
func (c *Coordinator) CreatePlugin(name, owner string, code []byte, public, callable bool, parameters map[string]interface{}) (*models.Plugin, error) {
	p := &models.Plugin{
		UUID:       uuid.NewString(),
		Name:       name,
		Owner:      owner,
		Code:       code,
		Public:     public,
		Callable:   callable,
		Parameters: parameters,
	}
	if err := c.repo.Plugins.Create(p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdatePlugin replaces an existing Plugin's mutable fields.
func (c *Coordinator) UpdatePlugin(p *models.Plugin) error {
	return c.repo.Plugins.Update(p)
}

// DestroyPlugin removes a Plugin. Boards with it still injected are left
// with a dangling injection_plugins row removed by cascade.
func (c *Coordinator) DestroyPlugin(pluginUUID string) error {
	return c.repo.Plugins.Destroy(pluginUUID)
}

// InjectPlugin pushes a Plugin onto a connected board and records the
// injection. onboot controls whether the agent re-injects it automatically
// across reboots.
func (c *Coordinator) InjectPlugin(ctx context.Context, boardUUID, pluginUUID string, onboot bool) (string, error) {
	plugin, err := c.repo.Plugins.GetByUUID(pluginUUID)
	if err != nil {
		return "", err
	}
	requestUUID, err := c.dispatcher.ExecuteOnBoard(ctx, boardUUID, "PluginInject", []interface{}{plugin.Code, plugin.Parameters}, "")
	if err != nil {
		return "", err
	}
	if err := c.repo.Plugins.UpsertInjection(&models.InjectionPlugin{
		BoardUUID:  boardUUID,
		PluginUUID: pluginUUID,
		Onboot:     onboot,
		Status:     models.InjectionStatusInjected,
	}); err != nil {
		return "", err
	}
	return requestUUID, nil
}

// RemovePlugin removes a previously injected Plugin from a connected board.
func (c *Coordinator) RemovePlugin(ctx context.Context, boardUUID, pluginUUID string) (string, error) {
	requestUUID, err := c.dispatcher.ExecuteOnBoard(ctx, boardUUID, "PluginRemove", []interface{}{pluginUUID}, "")
	if err != nil {
		return "", err
	}
	if err := c.repo.Plugins.RemoveInjection(boardUUID, pluginUUID); err != nil {
		return "", err
	}
	return requestUUID, nil
}

// ActionPlugin dispatches a plugin-defined custom action (only valid for
// callable plugins).
func (c *Coordinator) ActionPlugin(ctx context.Context, boardUUID, pluginUUID, action string, args []interface{}) (string, error) {
	plugin, err := c.repo.Plugins.GetByUUID(pluginUUID)
	if err != nil {
		return "", err
	}
	if !plugin.Callable {
		return "", apperrors.InvalidPluginAction(action)
	}
	return c.dispatcher.ExecuteOnBoard(ctx, boardUUID, fmt.Sprintf("Plugin.%s.%s", plugin.Name, action), args, "")
}

// --- Services ----------------------------------------------------------------

// CreateService registers a new Service catalog entry.
func (c *Coordinator) CreateService(name, protocol string, port int) (*models.Service, error) {
	s := &models.Service{UUID: uuid.NewString(), Name: name, Protocol: protocol, Port: port}
	if err := c.repo.Services.Create(s); err != nil {
		return nil, err
	}
	return s, nil
}

// DestroyService removes a Service catalog entry.
func (c *Coordinator) DestroyService(serviceUUID string) error {
	return c.repo.Services.Destroy(serviceUUID)
}

// ActionService exposes, hides or restores a Service binding on a board,
// allocating/releasing a public port from the Port Allocator to match
// (spec.md §4.D). The board must be online for any of the three actions.
func (c *Coordinator) ActionService(ctx context.Context, boardUUID, serviceUUID, action string) (string, error) {
	if _, err := c.requireOnline(boardUUID); err != nil {
		return "", err
	}
	switch action {
	case ServiceActionEnable:
		return c.enableService(ctx, boardUUID, serviceUUID)
	case ServiceActionDisable:
		return c.disableService(ctx, boardUUID, serviceUUID)
	case ServiceActionRestore:
		return c.restoreService(ctx, boardUUID, serviceUUID)
	default:
		return "", apperrors.InvalidServiceAction(action)
	}
}

// enableService allocates a public port, tells the agent to allow it
// through the allow-list, dispatches ServiceEnable, and only on success
// records the ExposedService binding (spec.md §4.F: "on success create the
// ExposedService row").
func (c *Coordinator) enableService(ctx context.Context, boardUUID, serviceUUID string) (string, error) {
	service, err := c.repo.Services.GetByUUID(serviceUUID)
	if err != nil {
		return "", err
	}
	if _, err := c.repo.Services.GetExposed(boardUUID, serviceUUID); err == nil {
		return "", apperrors.ServiceAlreadyExposed(boardUUID, serviceUUID)
	}

	publicPort, err := c.ports.Allocate()
	if err != nil {
		return "", err
	}

	if err := c.allowBoardPort(boardUUID, publicPort); err != nil {
		// Leave the allocated port as-is: spec.md §4.F forbids automatic
		// rollback so an operator can retry without re-running allocation.
		return "", err
	}

	requestUUID, err := c.dispatcher.ExecuteOnBoard(ctx, boardUUID, "ServiceEnable", []interface{}{service.Name, service.Port, publicPort}, "")
	if err != nil {
		return "", err
	}

	if err := c.repo.Services.CreateExposed(&models.ExposedService{BoardUUID: boardUUID, ServiceUUID: serviceUUID, PublicPort: publicPort}); err != nil {
		return requestUUID, err
	}
	return requestUUID, nil
}

func (c *Coordinator) disableService(ctx context.Context, boardUUID, serviceUUID string) (string, error) {
	exposed, err := c.repo.Services.GetExposed(boardUUID, serviceUUID)
	if err != nil {
		return "", err
	}

	requestUUID, err := c.dispatcher.ExecuteOnBoard(ctx, boardUUID, "ServiceDisable", []interface{}{serviceUUID}, "")
	if err != nil {
		return "", err
	}

	c.ports.Release(exposed.PublicPort)
	if err := c.repo.Services.DestroyExposed(boardUUID, serviceUUID); err != nil {
		return requestUUID, err
	}

	if err := c.syncAllowlist(); err != nil {
		logging.Workflow().Error().Err(err).Str("board_uuid", boardUUID).Str("service_uuid", serviceUUID).Msg("failed to resync allow list after service disable")
	}
	return requestUUID, nil
}

// restoreService re-dispatches ServiceRestore for a board that already has
// an ExposedService binding, used after a board reconnects following a
// restart (the agent loses in-memory service state across a reboot even
// though the Conductor's binding survives it).
func (c *Coordinator) restoreService(ctx context.Context, boardUUID, serviceUUID string) (string, error) {
	return c.restoreServiceUnder(ctx, boardUUID, serviceUUID, "")
}

// RestoreServicesOnBoard re-enables every ExposedService bound to boardUUID,
// fanning the calls out under one parent Request so a caller can wait on
// the aggregate outcome (spec.md §4.F fan-out pattern).
func (c *Coordinator) RestoreServicesOnBoard(ctx context.Context, boardUUID string) (string, error) {
	exposed, err := c.repo.Services.ListExposedByBoard(boardUUID)
	if err != nil {
		return "", err
	}
	if len(exposed) == 0 {
		return "", nil
	}

	parent := &models.Request{
		UUID:            uuid.NewString(),
		DestinationUUID: boardUUID,
		PendingRequests: len(exposed),
		Status:          models.RequestStatusPending,
		Type:            models.RequestTypeBoard,
		Action:          "RestoreServices",
	}
	if err := c.repo.Requests.Create(parent); err != nil {
		return "", err
	}

	for _, e := range exposed {
		if _, err := c.restoreServiceUnder(ctx, boardUUID, e.ServiceUUID, parent.UUID); err != nil {
			logging.Workflow().Error().Err(err).Str("board_uuid", boardUUID).Str("service_uuid", e.ServiceUUID).Msg("restore service failed")
		}
	}
	return parent.UUID, nil
}

func (c *Coordinator) restoreServiceUnder(ctx context.Context, boardUUID, serviceUUID, mainRequestUUID string) (string, error) {
	service, err := c.repo.Services.GetByUUID(serviceUUID)
	if err != nil {
		return "", err
	}
	exposed, err := c.repo.Services.GetExposed(boardUUID, serviceUUID)
	if err != nil {
		return "", err
	}
	return c.dispatcher.ExecuteOnBoard(ctx, boardUUID, "ServiceRestore", []interface{}{service.Name, exposed.PublicPort}, mainRequestUUID)
}

// --- Webservices -------------------------------------------------------------

// CreateWebservice exposes a named local port on boardUUID's webservice
// domain (spec.md §4.F create_webservice). The board must already have an
// enabled webservice (EnableWebservice) to hang a named sub-path off of. A
// duplicate (board, name) is treated as a no-op: a WARNING Result is
// recorded and the existing row is returned rather than erroring.
func (c *Coordinator) CreateWebservice(ctx context.Context, boardUUID, name string, port int, secure bool) (*models.Webservice, error) {
	if _, err := c.requireOnline(boardUUID); err != nil {
		return nil, err
	}

	existing, err := c.findWebserviceByName(boardUUID, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := c.recordWarning(boardUUID, "ExposeWebservice", "Webservice already exposed"); err != nil {
			logging.Workflow().Error().Err(err).Str("board_uuid", boardUUID).Msg("failed to record warning request")
		}
		return existing, nil
	}

	enabled, err := c.repo.Webservices.GetEnabledByBoard(boardUUID)
	if err != nil {
		return nil, err
	}

	siblings, err := c.repo.Webservices.ListByBoard(boardUUID)
	if err != nil {
		return nil, err
	}
	allDNS := boardDNSNames(siblings, "")

	fqdn := name + "." + enabled.FQDN()
	if err := c.dnsProvider.CreateRecord(name+"."+enabled.DNS, enabled.Zone, boardUUID); err != nil {
		return nil, fmt.Errorf("creating dns record: %w", err)
	}

	if _, err := c.dispatcher.ExecuteOnBoard(ctx, boardUUID, "ExposeWebservice", []interface{}{enabled.Zone, fqdn, port, allDNS}, ""); err != nil {
		return nil, err
	}

	if err := c.proxy.AddRedirect(boardUUID, enabled.Zone, name); err != nil {
		return nil, fmt.Errorf("adding redirect: %w", err)
	}
	if err := c.proxy.ReloadProxy(); err != nil {
		return nil, fmt.Errorf("reloading proxy: %w", err)
	}

	w := &models.Webservice{UUID: uuid.NewString(), Name: name, Port: port, BoardUUID: boardUUID, Secure: secure}
	if err := c.repo.Webservices.Create(w); err != nil {
		return nil, err
	}
	return w, nil
}

// DestroyWebservice removes a named Webservice binding (spec.md §4.F
// destroy_webservice). If the board is online, the agent is asked to
// unexpose the domain and remove its redirect before the row and DNS
// record disappear; if offline, only the cloud-side state is cleaned up.
func (c *Coordinator) DestroyWebservice(ctx context.Context, webserviceUUID string) error {
	w, err := c.repo.Webservices.GetByUUID(webserviceUUID)
	if err != nil {
		return err
	}

	board, err := c.repo.Boards.GetByUUID(w.BoardUUID)
	if err != nil {
		return err
	}

	enabled, enabledErr := c.repo.Webservices.GetEnabledByBoard(w.BoardUUID)
	if enabledErr == nil && board.Status == models.BoardStatusOnline {
		siblings, err := c.repo.Webservices.ListByBoard(w.BoardUUID)
		if err != nil {
			return err
		}
		remaining := boardDNSNames(siblings, w.Name)
		fqdn := w.Name + "." + enabled.FQDN()

		if _, err := c.dispatcher.ExecuteOnBoard(ctx, w.BoardUUID, "UnexposeWebservice", []interface{}{fqdn, remaining}, ""); err != nil {
			logging.Workflow().Error().Err(err).Str("board_uuid", w.BoardUUID).Msg("unexpose webservice dispatch failed, continuing with destroy")
		}
		if err := c.proxy.RemoveRedirect(w.BoardUUID, enabled.Zone, w.Name); err != nil {
			logging.Workflow().Error().Err(err).Str("board_uuid", w.BoardUUID).Msg("failed to remove redirect")
		} else if err := c.proxy.ReloadProxy(); err != nil {
			logging.Workflow().Error().Err(err).Str("board_uuid", w.BoardUUID).Msg("failed to reload proxy")
		}
	}

	if err := c.repo.Webservices.Destroy(webserviceUUID); err != nil {
		return err
	}
	if enabledErr == nil {
		if err := c.dnsProvider.DeleteRecord(w.Name+"."+enabled.DNS, enabled.Zone); err != nil {
			logging.Workflow().Error().Err(err).Str("board_uuid", w.BoardUUID).Msg("failed to remove dns record")
		}
	}
	return nil
}

// findWebserviceByName returns the Webservice named name on boardUUID, or
// nil if none exists.
func (c *Coordinator) findWebserviceByName(boardUUID, name string) (*models.Webservice, error) {
	list, err := c.repo.Webservices.ListByBoard(boardUUID)
	if err != nil {
		return nil, err
	}
	for _, w := range list {
		if w.Name == name {
			return w, nil
		}
	}
	return nil, nil
}

// boardDNSNames joins the names of every Webservice in list, skipping
// exclude, into the comma-separated list ExposeWebservice/UnexposeWebservice
// expect as the board's full DNS roster.
func boardDNSNames(list []*models.Webservice, exclude string) string {
	names := make([]string, 0, len(list))
	for _, w := range list {
		if w.Name == exclude {
			continue
		}
		names = append(names, w.Name)
	}
	return strings.Join(names, ",")
}

// EnableWebservice reserves a DNS name, allocates public http/https ports,
// dispatches the three device calls that put the board's webservice behind
// TLS, and writes the nginx proxy fragments that route dns.zone to it
// (spec.md §4.F enable_webservice). Ports are allocated here, not supplied
// by the caller, and the board must be online.
func (c *Coordinator) EnableWebservice(ctx context.Context, boardUUID, dnsName, zone, email string) (*models.EnabledWebservice, error) {
	if _, err := c.requireOnline(boardUUID); err != nil {
		return nil, err
	}

	available, err := c.repo.Webservices.DNSAvailable(dnsName, zone)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, c.warnAndFail(boardUUID, "EnableWebservice", apperrors.DnsWebserviceAlreadyExists(dnsName))
	}

	if _, err := c.repo.Webservices.GetEnabledByBoard(boardUUID); err == nil {
		return nil, c.warnAndFail(boardUUID, "EnableWebservice", apperrors.EnabledWebserviceAlreadyExists(boardUUID))
	} else if !apperrors.Is(err, apperrors.CodeEnabledWebserviceNotFound) {
		return nil, err
	}

	if err := c.dnsProvider.CreateRecord(dnsName, zone, boardUUID); err != nil {
		return nil, fmt.Errorf("creating dns record: %w", err)
	}

	httpPort, err := c.ports.Allocate()
	if err != nil {
		return nil, err
	}
	httpsPort, err := c.ports.Allocate()
	if err != nil {
		c.ports.Release(httpPort)
		return nil, err
	}

	enabled := &models.EnabledWebservice{BoardUUID: boardUUID, HTTPPort: httpPort, HTTPSPort: httpsPort, DNS: dnsName, Zone: zone}
	if err := c.repo.Webservices.CreateEnabled(enabled); err != nil {
		return nil, err
	}

	parent := &models.Request{
		UUID:            uuid.NewString(),
		DestinationUUID: boardUUID,
		PendingRequests: 3,
		Status:          models.RequestStatusPending,
		Type:            models.RequestTypeBoard,
		Action:          "EnableWebservice",
	}
	if err := c.repo.Requests.Create(parent); err != nil {
		return enabled, err
	}

	fqdn := enabled.FQDN()
	calls := []struct {
		call string
		args []interface{}
	}{
		{"ServiceEnable", []interface{}{"webservice", httpPort}},
		{"ServiceEnable", []interface{}{"webservice_ssl", httpsPort}},
		{"EnableWebService", []interface{}{fqdn, email}},
	}
	for _, call := range calls {
		if _, err := c.dispatcher.ExecuteOnBoard(ctx, boardUUID, call.call, call.args, parent.UUID); err != nil {
			logging.Workflow().Error().Err(err).Str("board_uuid", boardUUID).Str("call", call.call).Msg("enable webservice dispatch failed")
		}
	}

	if err := c.syncAllowlist(); err != nil {
		logging.Workflow().Error().Err(err).Str("board_uuid", boardUUID).Msg("failed to resync allow list after enable webservice")
	}

	if err := c.proxy.EnableWebservice(boardUUID, httpsPort, httpPort, zone); err != nil {
		return enabled, fmt.Errorf("writing proxy config: %w", err)
	}
	if err := c.proxy.ReloadProxy(); err != nil {
		return enabled, fmt.Errorf("reloading proxy: %w", err)
	}
	return enabled, nil
}

// DisableWebservice tears down an enabled webservice: the two ServiceDisable
// calls and DisableWebService run under one parent Request (mirroring
// EnableWebservice's pending_requests=3) when the board is online; ports,
// DB rows, DNS record, allow-list entries and nginx fragments are always
// cleaned up regardless of connectivity (spec.md §4.F disable_webservice).
func (c *Coordinator) DisableWebservice(ctx context.Context, boardUUID string) error {
	enabled, err := c.repo.Webservices.GetEnabledByBoard(boardUUID)
	if err != nil {
		return err
	}

	board, err := c.repo.Boards.GetByUUID(boardUUID)
	if err != nil {
		return err
	}

	if board.Status == models.BoardStatusOnline {
		parent := &models.Request{
			UUID:            uuid.NewString(),
			DestinationUUID: boardUUID,
			PendingRequests: 3,
			Status:          models.RequestStatusPending,
			Type:            models.RequestTypeBoard,
			Action:          "DisableWebservice",
		}
		if err := c.repo.Requests.Create(parent); err != nil {
			return err
		}

		calls := []struct {
			call string
			args []interface{}
		}{
			{"ServiceDisable", []interface{}{"webservice"}},
			{"ServiceDisable", []interface{}{"webservice_ssl"}},
			{"DisableWebService", nil},
		}
		for _, call := range calls {
			if _, err := c.dispatcher.ExecuteOnBoard(ctx, boardUUID, call.call, call.args, parent.UUID); err != nil {
				logging.Workflow().Error().Err(err).Str("board_uuid", boardUUID).Str("call", call.call).Msg("disable webservice dispatch failed")
			}
		}
	}

	c.ports.Release(enabled.HTTPPort)
	c.ports.Release(enabled.HTTPSPort)

	if err := c.repo.Webservices.DestroyEnabled(boardUUID); err != nil {
		return err
	}
	if err := c.dnsProvider.DeleteRecord(enabled.DNS, enabled.Zone); err != nil {
		logging.Workflow().Error().Err(err).Str("board_uuid", boardUUID).Msg("failed to remove dns record")
	}
	if err := c.syncAllowlist(); err != nil {
		logging.Workflow().Error().Err(err).Str("board_uuid", boardUUID).Msg("failed to resync allow list after disable webservice")
	}

	if err := c.proxy.DisableWebservice(boardUUID); err != nil {
		return fmt.Errorf("removing proxy config: %w", err)
	}
	return c.proxy.ReloadProxy()
}

// RenewWebservice re-requests the board's TLS certificate and re-applies the
// proxy fragments for an already-enabled webservice (spec.md §4.F
// renew_webservice). The board must be online.
func (c *Coordinator) RenewWebservice(ctx context.Context, boardUUID string) error {
	if _, err := c.requireOnline(boardUUID); err != nil {
		return err
	}

	enabled, err := c.repo.Webservices.GetEnabledByBoard(boardUUID)
	if err != nil {
		return err
	}

	parent := &models.Request{
		UUID:            uuid.NewString(),
		DestinationUUID: boardUUID,
		PendingRequests: 1,
		Status:          models.RequestStatusPending,
		Type:            models.RequestTypeBoard,
		Action:          "RenewWebservice",
	}
	if err := c.repo.Requests.Create(parent); err != nil {
		return err
	}
	if _, err := c.dispatcher.ExecuteOnBoard(ctx, boardUUID, "RenewWebservice", nil, parent.UUID); err != nil {
		return err
	}

	if err := c.proxy.EnableWebservice(boardUUID, enabled.HTTPSPort, enabled.HTTPPort, enabled.Zone); err != nil {
		return fmt.Errorf("rewriting proxy config: %w", err)
	}
	return c.proxy.ReloadProxy()
}

// --- Ports (VIFs) ------------------------------------------------------------

// CreatePortOnBoard allocates a socat tunnel port and dispatches a
// PortCreate call to attach a virtual network interface to boardUUID
// (spec.md §4.D).
func (c *Coordinator) CreatePortOnBoard(ctx context.Context, boardUUID, vifName, mac, network string) (*models.Port, string, error) {
	tcpPort, err := c.ports.Allocate()
	if err != nil {
		return nil, "", err
	}

	port := &models.Port{UUID: uuid.NewString(), VIFName: vifName, MAC: mac, Network: network, BoardUUID: boardUUID, TCPPort: tcpPort}
	if err := c.repo.Ports.Create(port); err != nil {
		c.ports.Release(tcpPort)
		return nil, "", err
	}

	requestUUID, err := c.dispatcher.ExecuteOnBoard(ctx, boardUUID, "PortCreate", []interface{}{vifName, mac, network, tcpPort}, "")
	if err != nil {
		return port, "", err
	}
	return port, requestUUID, nil
}

// RemoveVIFFromBoard dispatches a PortRemove call and releases the port's
// socat tunnel port back to the pool once the dispatch succeeds.
func (c *Coordinator) RemoveVIFFromBoard(ctx context.Context, portUUID string) (string, error) {
	port, err := c.repo.Ports.GetByUUID(portUUID)
	if err != nil {
		return "", err
	}

	requestUUID, err := c.dispatcher.ExecuteOnBoard(ctx, port.BoardUUID, "PortRemove", []interface{}{port.VIFName}, "")
	if err != nil {
		return "", err
	}

	if err := c.repo.Ports.Destroy(portUUID); err != nil {
		return requestUUID, err
	}
	c.ports.Release(port.TCPPort)
	return requestUUID, nil
}
