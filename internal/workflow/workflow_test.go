package workflow

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/iotronic/conductor/internal/apperrors"
	"github.com/iotronic/conductor/internal/dns"
	"github.com/iotronic/conductor/internal/events"
	"github.com/iotronic/conductor/internal/models"
	"github.com/iotronic/conductor/internal/ports"
	"github.com/iotronic/conductor/internal/proxy"
	"github.com/iotronic/conductor/internal/repository"
)

// --- fake repositories -------------------------------------------------

type fakeBoards struct {
	repository.BoardRepository
	byUUID map[string]*models.Board
	byCode map[string]*models.Board
}

func newFakeBoards() *fakeBoards {
	return &fakeBoards{byUUID: map[string]*models.Board{}, byCode: map[string]*models.Board{}}
}

func (f *fakeBoards) Create(b *models.Board) error {
	f.byUUID[b.UUID] = b
	if b.Code != "" {
		f.byCode[b.Code] = b
	}
	return nil
}

func (f *fakeBoards) GetByUUID(uuid string) (*models.Board, error) {
	b, ok := f.byUUID[uuid]
	if !ok {
		return nil, apperrors.NotFound("board", apperrors.CodeBoardNotFound, uuid)
	}
	return b, nil
}

func (f *fakeBoards) Destroy(uuid string) error {
	if _, ok := f.byUUID[uuid]; !ok {
		return apperrors.NotFound("board", apperrors.CodeBoardNotFound, uuid)
	}
	delete(f.byUUID, uuid)
	return nil
}

func (f *fakeBoards) UpdateStatus(uuid, status string) error {
	b, ok := f.byUUID[uuid]
	if !ok {
		return apperrors.NotFound("board", apperrors.CodeBoardNotFound, uuid)
	}
	b.Status = status
	return nil
}

// online registers a board directly as ONLINE, the way a real connection
// handshake (outside this package's scope) would leave it.
func (f *fakeBoards) online(uuid string) {
	f.byUUID[uuid] = &models.Board{UUID: uuid, Status: models.BoardStatusOnline}
}

type fakePlugins struct {
	repository.PluginRepository
	byUUID     map[string]*models.Plugin
	injections map[string]*models.InjectionPlugin
}

func newFakePlugins() *fakePlugins {
	return &fakePlugins{byUUID: map[string]*models.Plugin{}, injections: map[string]*models.InjectionPlugin{}}
}

func (f *fakePlugins) Create(p *models.Plugin) error { f.byUUID[p.UUID] = p; return nil }

func (f *fakePlugins) GetByUUID(uuid string) (*models.Plugin, error) {
	p, ok := f.byUUID[uuid]
	if !ok {
		return nil, apperrors.NotFound("plugin", apperrors.CodePluginNotFound, uuid)
	}
	return p, nil
}

func (f *fakePlugins) Destroy(uuid string) error {
	if _, ok := f.byUUID[uuid]; !ok {
		return apperrors.NotFound("plugin", apperrors.CodePluginNotFound, uuid)
	}
	delete(f.byUUID, uuid)
	return nil
}

func (f *fakePlugins) UpsertInjection(inj *models.InjectionPlugin) error {
	f.injections[inj.BoardUUID+"/"+inj.PluginUUID] = inj
	return nil
}

func (f *fakePlugins) RemoveInjection(boardUUID, pluginUUID string) error {
	delete(f.injections, boardUUID+"/"+pluginUUID)
	return nil
}

type fakeServices struct {
	repository.ServiceRepository
	byUUID  map[string]*models.Service
	exposed map[string]*models.ExposedService // board/service -> exposed
}

func newFakeServices() *fakeServices {
	return &fakeServices{byUUID: map[string]*models.Service{}, exposed: map[string]*models.ExposedService{}}
}

func (f *fakeServices) Create(s *models.Service) error { f.byUUID[s.UUID] = s; return nil }

func (f *fakeServices) GetByUUID(uuid string) (*models.Service, error) {
	s, ok := f.byUUID[uuid]
	if !ok {
		return nil, apperrors.NotFound("service", apperrors.CodeServiceNotFound, uuid)
	}
	return s, nil
}

func (f *fakeServices) Destroy(uuid string) error {
	delete(f.byUUID, uuid)
	return nil
}

func (f *fakeServices) CreateExposed(e *models.ExposedService) error {
	key := e.BoardUUID + "/" + e.ServiceUUID
	if _, exists := f.exposed[key]; exists {
		return apperrors.ServiceAlreadyExposed(e.BoardUUID, e.ServiceUUID)
	}
	f.exposed[key] = e
	return nil
}

func (f *fakeServices) GetExposed(boardUUID, serviceUUID string) (*models.ExposedService, error) {
	e, ok := f.exposed[boardUUID+"/"+serviceUUID]
	if !ok {
		return nil, apperrors.NotFound("exposed service", apperrors.CodeServiceNotFound, serviceUUID)
	}
	return e, nil
}

func (f *fakeServices) DestroyExposed(boardUUID, serviceUUID string) error {
	delete(f.exposed, boardUUID+"/"+serviceUUID)
	return nil
}

func (f *fakeServices) ListExposedByBoard(boardUUID string) ([]*models.ExposedService, error) {
	var out []*models.ExposedService
	for _, e := range f.exposed {
		if e.BoardUUID == boardUUID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeServices) ListAllExposed() ([]*models.ExposedService, error) {
	out := make([]*models.ExposedService, 0, len(f.exposed))
	for _, e := range f.exposed {
		out = append(out, e)
	}
	return out, nil
}

type fakeWebservices struct {
	repository.WebserviceRepository
	byUUID  map[string]*models.Webservice
	byBoard map[string][]*models.Webservice
	enabled map[string]*models.EnabledWebservice // board -> enabled
	dns     map[string]bool                      // "dns/zone" -> taken
}

func newFakeWebservices() *fakeWebservices {
	return &fakeWebservices{
		byUUID:  map[string]*models.Webservice{},
		byBoard: map[string][]*models.Webservice{},
		enabled: map[string]*models.EnabledWebservice{},
		dns:     map[string]bool{},
	}
}

func (f *fakeWebservices) Create(w *models.Webservice) error {
	f.byUUID[w.UUID] = w
	f.byBoard[w.BoardUUID] = append(f.byBoard[w.BoardUUID], w)
	return nil
}

func (f *fakeWebservices) GetByUUID(uuid string) (*models.Webservice, error) {
	w, ok := f.byUUID[uuid]
	if !ok {
		return nil, apperrors.NotFound("webservice", apperrors.CodeWebserviceNotFound, uuid)
	}
	return w, nil
}

func (f *fakeWebservices) ListByBoard(boardUUID string) ([]*models.Webservice, error) {
	return f.byBoard[boardUUID], nil
}

func (f *fakeWebservices) Destroy(uuid string) error {
	w, ok := f.byUUID[uuid]
	if !ok {
		return apperrors.NotFound("webservice", apperrors.CodeWebserviceNotFound, uuid)
	}
	delete(f.byUUID, uuid)
	list := f.byBoard[w.BoardUUID]
	for i, existing := range list {
		if existing.UUID == uuid {
			f.byBoard[w.BoardUUID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeWebservices) DNSAvailable(dnsName, zone string) (bool, error) {
	return !f.dns[dnsName+"/"+zone], nil
}

func (f *fakeWebservices) CreateEnabled(e *models.EnabledWebservice) error {
	f.enabled[e.BoardUUID] = e
	f.dns[e.DNS+"/"+e.Zone] = true
	return nil
}

func (f *fakeWebservices) GetEnabledByBoard(boardUUID string) (*models.EnabledWebservice, error) {
	e, ok := f.enabled[boardUUID]
	if !ok {
		return nil, apperrors.EnabledWebserviceNotFound(boardUUID)
	}
	return e, nil
}

func (f *fakeWebservices) ListAllEnabled() ([]*models.EnabledWebservice, error) {
	out := make([]*models.EnabledWebservice, 0, len(f.enabled))
	for _, e := range f.enabled {
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeWebservices) DestroyEnabled(boardUUID string) error {
	if e, ok := f.enabled[boardUUID]; ok {
		delete(f.dns, e.DNS+"/"+e.Zone)
	}
	delete(f.enabled, boardUUID)
	return nil
}

type fakeRequests struct {
	repository.RequestRepository
	mu      sync.Mutex
	byUUID  map[string]*models.Request
	results map[string]*models.Result // requestUUID -> result
}

func newFakeRequests() *fakeRequests {
	return &fakeRequests{byUUID: map[string]*models.Request{}, results: map[string]*models.Result{}}
}

func (f *fakeRequests) Create(r *models.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byUUID[r.UUID] = r
	return nil
}

func (f *fakeRequests) GetByUUID(uuid string) (*models.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byUUID[uuid]
	if !ok {
		return nil, apperrors.NotFound("request", apperrors.CodeRequestNotFound, uuid)
	}
	return r, nil
}

func (f *fakeRequests) MarkCompleted(uuid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.byUUID[uuid]; ok {
		r.Status = models.RequestStatusCompleted
	}
	return nil
}

func (f *fakeRequests) DecrementPending(mainRequestUUID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byUUID[mainRequestUUID]
	if !ok {
		return 0, apperrors.NotFound("request", apperrors.CodeRequestNotFound, mainRequestUUID)
	}
	r.PendingRequests--
	if r.PendingRequests <= 0 {
		r.Status = models.RequestStatusCompleted
	}
	return r.PendingRequests, nil
}

func (f *fakeRequests) CreateResult(res *models.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[res.RequestUUID] = res
	return nil
}

func (f *fakeRequests) GetResult(requestUUID, boardUUID string) (*models.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.results[requestUUID]
	if !ok {
		return nil, apperrors.NotFound("result", apperrors.CodeResultNotFound, requestUUID)
	}
	return r, nil
}

func (f *fakeRequests) SetResult(requestUUID, boardUUID, result, message string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[requestUUID] = &models.Result{RequestUUID: requestUUID, BoardUUID: boardUUID, Result: result, Message: message}
	return true, nil
}

// fakeDispatcher stands in for *dispatch.Dispatcher: it records every call
// and returns a synthetic request UUID instead of touching a bus or session
// table, letting workflow tests exercise the dispatch-ordering invariants
// spec.md §4.F mandates without a real WAMP transport.
type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []dispatchedCall
	failing map[string]bool
}

type dispatchedCall struct {
	boardUUID       string
	call            string
	args            []interface{}
	mainRequestUUID string
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{failing: map[string]bool{}}
}

func (d *fakeDispatcher) ExecuteOnBoard(ctx context.Context, boardUUID, call string, args []interface{}, mainRequestUUID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dispatchedCall{boardUUID: boardUUID, call: call, args: args, mainRequestUUID: mainRequestUUID})
	if d.failing[call] {
		return "", apperrors.Internal("dispatch failed", nil)
	}
	return "request-" + call, nil
}

func (d *fakeDispatcher) callNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, len(d.calls))
	for i, c := range d.calls {
		names[i] = c.call
	}
	return names
}

// --- harness -------------------------------------------------------------

func newTestCoordinator(t *testing.T) (*Coordinator, *repository.Repository, *fakeDispatcher) {
	t.Helper()
	repo := &repository.Repository{
		Boards:      newFakeBoards(),
		Plugins:     newFakePlugins(),
		Services:    newFakeServices(),
		Webservices: newFakeWebservices(),
		Requests:    newFakeRequests(),
	}

	nginxPath := t.TempDir()
	for _, dir := range []string{"maps", "upstreams", "servers"} {
		if err := os.MkdirAll(filepath.Join(nginxPath, dir), 0755); err != nil {
			t.Fatal(err)
		}
	}
	gateway := proxy.NewGateway(nginxPath, "wstun.example.com")
	gateway.SetReloadForTesting(func() error { return nil })
	allocator := ports.NewAllocator(10000, 10010, nil)
	t.Cleanup(allocator.Stop)
	allowlist := proxy.NewAllowList(filepath.Join(t.TempDir(), "allow.json"))

	dispatcher := newFakeDispatcher()
	coordinator := New(repo, dispatcher, allocator, gateway, dns.NewInMemoryProvider(), &events.Publisher{}, allowlist)
	return coordinator, repo, dispatcher
}

func TestCreateAndDestroyBoard(t *testing.T) {
	coordinator, repo, _ := newTestCoordinator(t)

	board, err := coordinator.CreateBoard("board-1", "CODE1", "linux", "", nil)
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	if board.Status != models.BoardStatusRegistered {
		t.Fatalf("expected REGISTERED status, got %s", board.Status)
	}

	if err := coordinator.DestroyBoard(context.Background(), board.UUID); err != nil {
		t.Fatalf("destroy board: %v", err)
	}
	if _, err := repo.Boards.GetByUUID(board.UUID); err == nil {
		t.Fatal("expected board to be gone after destroy")
	}
}

func TestDestroyOnlineBoardDispatchesFactoryReset(t *testing.T) {
	coordinator, repo, dispatcher := newTestCoordinator(t)
	repo.Boards.(*fakeBoards).online("board-1")

	if err := coordinator.DestroyBoard(context.Background(), "board-1"); err != nil {
		t.Fatalf("destroy board: %v", err)
	}

	calls := dispatcher.callNames()
	if len(calls) != 1 || calls[0] != "DeviceFactoryReset" {
		t.Fatalf("expected a single DeviceFactoryReset dispatch, got %v", calls)
	}
}

func TestCreatePluginAndDestroy(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(t)

	plugin, err := coordinator.CreatePlugin("my-plugin", "alice", []byte("print(1)"), true, false, nil)
	if err != nil {
		t.Fatalf("create plugin: %v", err)
	}
	if err := coordinator.DestroyPlugin(plugin.UUID); err != nil {
		t.Fatalf("destroy plugin: %v", err)
	}
}

func TestEnableServiceDispatchesBeforeExposing(t *testing.T) {
	coordinator, repo, dispatcher := newTestCoordinator(t)
	repo.Boards.(*fakeBoards).online("board-1")

	service, err := coordinator.CreateService("ssh", "tcp", 22)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}

	requestUUID, err := coordinator.ActionService(context.Background(), "board-1", service.UUID, ServiceActionEnable)
	if err != nil {
		t.Fatalf("enable service: %v", err)
	}
	if requestUUID == "" {
		t.Fatal("expected a request uuid")
	}

	calls := dispatcher.callNames()
	if len(calls) != 1 || calls[0] != "ServiceEnable" {
		t.Fatalf("expected a single ServiceEnable dispatch, got %v", calls)
	}

	exposed, err := repo.Services.GetExposed("board-1", service.UUID)
	if err != nil {
		t.Fatalf("expected exposed service row to exist after successful dispatch: %v", err)
	}
	if exposed.PublicPort < 10000 || exposed.PublicPort > 10010 {
		t.Fatalf("expected an allocated port in range, got %d", exposed.PublicPort)
	}

	// A second attempt to expose the same (board, service) pair must fail.
	if _, err := coordinator.ActionService(context.Background(), "board-1", service.UUID, ServiceActionEnable); err == nil {
		t.Fatal("expected duplicate exposure to fail")
	}
}

func TestEnableServiceOfflineBoardRejected(t *testing.T) {
	coordinator, repo, _ := newTestCoordinator(t)
	repo.Boards.(*fakeBoards).byUUID["board-1"] = &models.Board{UUID: "board-1", Status: models.BoardStatusOffline}

	service, err := coordinator.CreateService("ssh", "tcp", 22)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}

	if _, err := coordinator.ActionService(context.Background(), "board-1", service.UUID, ServiceActionEnable); !apperrors.Is(err, apperrors.CodeBoardNotConnected) {
		t.Fatalf("expected BoardNotConnected, got %v", err)
	}
}

func TestDisableServiceReleasesPortAndUpdatesAllowlist(t *testing.T) {
	coordinator, repo, dispatcher := newTestCoordinator(t)
	repo.Boards.(*fakeBoards).online("board-1")

	service, err := coordinator.CreateService("ssh", "tcp", 22)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	if _, err := coordinator.ActionService(context.Background(), "board-1", service.UUID, ServiceActionEnable); err != nil {
		t.Fatalf("enable service: %v", err)
	}

	if _, err := coordinator.ActionService(context.Background(), "board-1", service.UUID, ServiceActionDisable); err != nil {
		t.Fatalf("disable service: %v", err)
	}

	calls := dispatcher.callNames()
	if calls[len(calls)-1] != "ServiceDisable" {
		t.Fatalf("expected ServiceDisable to be dispatched, got %v", calls)
	}
	if _, err := repo.Services.GetExposed("board-1", service.UUID); err == nil {
		t.Fatal("expected exposed service row to be gone")
	}

	entries, err := coordinator.allowlistEntries()
	if err != nil {
		t.Fatalf("allowlist entries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected allow list to be empty after disable, got %v", entries)
	}
}

func TestRestoreServicesOnBoardDispatchesServiceRestore(t *testing.T) {
	coordinator, repo, dispatcher := newTestCoordinator(t)
	repo.Boards.(*fakeBoards).online("board-1")

	service, err := coordinator.CreateService("ssh", "tcp", 22)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	if _, err := coordinator.ActionService(context.Background(), "board-1", service.UUID, ServiceActionEnable); err != nil {
		t.Fatalf("enable service: %v", err)
	}

	if _, err := coordinator.RestoreServicesOnBoard(context.Background(), "board-1"); err != nil {
		t.Fatalf("restore services: %v", err)
	}

	calls := dispatcher.callNames()
	if calls[len(calls)-1] != "ServiceRestore" {
		t.Fatalf("expected ServiceRestore to be dispatched on restore, got %v", calls)
	}
}

func TestEnableWebserviceAllocatesPortsAndDispatchesTrio(t *testing.T) {
	coordinator, repo, dispatcher := newTestCoordinator(t)
	repo.Boards.(*fakeBoards).online("board-1")

	enabled, err := coordinator.EnableWebservice(context.Background(), "board-1", "myboard", "things.example.com", "admin@example.com")
	if err != nil {
		t.Fatalf("enable webservice: %v", err)
	}
	if enabled.DNS != "myboard" {
		t.Fatalf("expected dns myboard, got %s", enabled.DNS)
	}
	if enabled.HTTPPort == 0 || enabled.HTTPSPort == 0 || enabled.HTTPPort == enabled.HTTPSPort {
		t.Fatalf("expected two distinct allocated ports, got %d/%d", enabled.HTTPPort, enabled.HTTPSPort)
	}

	calls := dispatcher.callNames()
	if len(calls) != 3 {
		t.Fatalf("expected three dispatched calls, got %v", calls)
	}
	if calls[2] != "EnableWebService" {
		t.Fatalf("expected EnableWebService as the third call, got %v", calls)
	}

	entries, err := coordinator.allowlistEntries()
	if err != nil {
		t.Fatalf("allowlist entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected both webservice ports in the allow list, got %v", entries)
	}
}

func TestEnableWebserviceDuplicateDNSWarnsAndFails(t *testing.T) {
	coordinator, repo, _ := newTestCoordinator(t)
	repo.Boards.(*fakeBoards).online("board-1")
	repo.Boards.(*fakeBoards).online("board-2")

	if _, err := coordinator.EnableWebservice(context.Background(), "board-1", "myboard", "things.example.com", "a@example.com"); err != nil {
		t.Fatalf("enable webservice: %v", err)
	}

	_, err := coordinator.EnableWebservice(context.Background(), "board-2", "myboard", "things.example.com", "a@example.com")
	if !apperrors.Is(err, apperrors.CodeDnsWebserviceAlreadyExists) {
		t.Fatalf("expected DnsWebserviceAlreadyExists, got %v", err)
	}

	requests := repo.Requests.(*fakeRequests)
	found := false
	for _, res := range requests.results {
		if res.BoardUUID == "board-2" && res.Result == models.ResultWarning {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a WARNING result to be recorded for the collision")
	}
}

func TestDisableWebserviceCleansUpState(t *testing.T) {
	coordinator, repo, dispatcher := newTestCoordinator(t)
	repo.Boards.(*fakeBoards).online("board-1")

	if _, err := coordinator.EnableWebservice(context.Background(), "board-1", "myboard", "things.example.com", "a@example.com"); err != nil {
		t.Fatalf("enable webservice: %v", err)
	}

	if err := coordinator.DisableWebservice(context.Background(), "board-1"); err != nil {
		t.Fatalf("disable webservice: %v", err)
	}

	calls := dispatcher.callNames()
	if calls[len(calls)-1] != "DisableWebService" {
		t.Fatalf("expected DisableWebService as the last dispatched call, got %v", calls)
	}
	if _, err := repo.Webservices.GetEnabledByBoard("board-1"); err == nil {
		t.Fatal("expected enabled webservice row to be gone")
	}

	entries, err := coordinator.allowlistEntries()
	if err != nil {
		t.Fatalf("allowlist entries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected allow list to be empty after disable, got %v", entries)
	}

	// Once disabled, the name frees up again for a different board.
	repo.Boards.(*fakeBoards).online("board-2")
	if _, err := coordinator.EnableWebservice(context.Background(), "board-2", "myboard", "things.example.com", "a@example.com"); err != nil {
		t.Fatalf("expected dns name to be free after disable: %v", err)
	}
}

func TestRenewWebserviceRequiresOnlineAndEnabled(t *testing.T) {
	coordinator, repo, dispatcher := newTestCoordinator(t)
	repo.Boards.(*fakeBoards).online("board-1")

	if err := coordinator.RenewWebservice(context.Background(), "board-1"); !apperrors.Is(err, apperrors.CodeEnabledWebserviceNotFound) {
		t.Fatalf("expected EnabledWebserviceNotFound before any webservice is enabled, got %v", err)
	}

	if _, err := coordinator.EnableWebservice(context.Background(), "board-1", "myboard", "things.example.com", "a@example.com"); err != nil {
		t.Fatalf("enable webservice: %v", err)
	}

	if err := coordinator.RenewWebservice(context.Background(), "board-1"); err != nil {
		t.Fatalf("renew webservice: %v", err)
	}

	calls := dispatcher.callNames()
	if calls[len(calls)-1] != "RenewWebservice" {
		t.Fatalf("expected RenewWebservice to be dispatched, got %v", calls)
	}
}

func TestCreateAndDestroyNamedWebservice(t *testing.T) {
	coordinator, repo, dispatcher := newTestCoordinator(t)
	repo.Boards.(*fakeBoards).online("board-1")

	if _, err := coordinator.EnableWebservice(context.Background(), "board-1", "myboard", "things.example.com", "a@example.com"); err != nil {
		t.Fatalf("enable webservice: %v", err)
	}

	w, err := coordinator.CreateWebservice(context.Background(), "board-1", "grafana", 3000, false)
	if err != nil {
		t.Fatalf("create webservice: %v", err)
	}

	calls := dispatcher.callNames()
	if calls[len(calls)-1] != "ExposeWebservice" {
		t.Fatalf("expected ExposeWebservice to be dispatched, got %v", calls)
	}

	// A duplicate name on the same board is a warned no-op, not an error.
	again, err := coordinator.CreateWebservice(context.Background(), "board-1", "grafana", 3000, false)
	if err != nil {
		t.Fatalf("expected duplicate create to be a no-op, got error: %v", err)
	}
	if again.UUID != w.UUID {
		t.Fatalf("expected the existing webservice to be returned, got a different one")
	}

	if err := coordinator.DestroyWebservice(context.Background(), w.UUID); err != nil {
		t.Fatalf("destroy webservice: %v", err)
	}
	calls = dispatcher.callNames()
	if calls[len(calls)-1] != "UnexposeWebservice" {
		t.Fatalf("expected UnexposeWebservice to be dispatched, got %v", calls)
	}
	if _, err := repo.Webservices.GetByUUID(w.UUID); err == nil {
		t.Fatal("expected webservice row to be gone")
	}
}
