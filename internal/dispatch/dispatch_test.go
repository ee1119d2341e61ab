package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/iotronic/conductor/internal/bus"
	"github.com/iotronic/conductor/internal/models"
	"github.com/iotronic/conductor/internal/repository"
)

type fakeBus struct {
	mu          sync.Mutex
	calls       []string
	sentKwArgs  []map[string]interface{}
	callFunc    func(procedure string, args []interface{}) (map[string]interface{}, error)
}

func (b *fakeBus) Connect(ctx context.Context) error { return nil }
func (b *fakeBus) Close() error                      { return nil }
func (b *fakeBus) Connected() bool                   { return true }

func (b *fakeBus) Call(ctx context.Context, procedure string, args []interface{}, kwArgs map[string]interface{}) ([]interface{}, map[string]interface{}, error) {
	b.mu.Lock()
	b.calls = append(b.calls, procedure)
	b.sentKwArgs = append(b.sentKwArgs, kwArgs)
	b.mu.Unlock()
	if b.callFunc == nil {
		return nil, nil, nil
	}
	kw, err := b.callFunc(procedure, args)
	return nil, kw, err
}

func (b *fakeBus) Register(procedure string, handler bus.CallHandler) error { return nil }
func (b *fakeBus) Unregister(procedure string) error                       { return nil }
func (b *fakeBus) Publish(topic string, args []interface{}, kwArgs map[string]interface{}) error {
	return nil
}
func (b *fakeBus) Subscribe(topic string, handler bus.EventHandler) error { return nil }
func (b *fakeBus) Echo(ctx context.Context, boardSessionID int64, boardUUID string, data interface{}) (interface{}, error) {
	return data, nil
}

type fakeRequests struct {
	mu       sync.Mutex
	requests map[string]*models.Request
	results  map[string]*models.Result // requestUUID/boardUUID -> result
}

func newFakeRequests() *fakeRequests {
	return &fakeRequests{requests: map[string]*models.Request{}, results: map[string]*models.Result{}}
}

func (r *fakeRequests) GetByUUID(uuid string) (*models.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[uuid]
	if !ok {
		return nil, fmt.Errorf("request %s not found", uuid)
	}
	return req, nil
}

func (r *fakeRequests) Create(req *models.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[req.UUID] = req
	return nil
}

func (r *fakeRequests) MarkCompleted(uuid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if req, ok := r.requests[uuid]; ok {
		req.Status = models.RequestStatusCompleted
	}
	return nil
}

func (r *fakeRequests) DecrementPending(mainRequestUUID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[mainRequestUUID]
	if !ok {
		return 0, fmt.Errorf("parent request %s not found", mainRequestUUID)
	}
	req.PendingRequests--
	return req.PendingRequests, nil
}

func (r *fakeRequests) CreateResult(res *models.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[res.RequestUUID+"/"+res.BoardUUID] = res
	return nil
}

func (r *fakeRequests) GetResult(requestUUID, boardUUID string) (*models.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[requestUUID+"/"+boardUUID]
	if !ok {
		return nil, fmt.Errorf("result not found")
	}
	return res, nil
}

func (r *fakeRequests) SetResult(requestUUID, boardUUID, result, message string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := requestUUID + "/" + boardUUID
	res, ok := r.results[key]
	if !ok {
		r.results[key] = &models.Result{RequestUUID: requestUUID, BoardUUID: boardUUID, Result: result, Message: message}
		return true, nil
	}
	if models.IsTerminalResult(res.Result) {
		return false, nil
	}
	res.Result = result
	res.Message = message
	return true, nil
}

type fakeBoards struct {
	repository.BoardRepository
	byUUID map[string]*models.Board
}

func (b *fakeBoards) GetByUUID(uuid string) (*models.Board, error) {
	board, ok := b.byUUID[uuid]
	if !ok {
		return nil, fmt.Errorf("board %s not found", uuid)
	}
	return board, nil
}

type fakeSessions struct {
	byBoard map[string]*models.Session
}

func (s *fakeSessions) GetValidByBoardUUID(boardUUID string) (*models.Session, error) {
	sess, ok := s.byBoard[boardUUID]
	if !ok {
		return nil, fmt.Errorf("no valid session for %s", boardUUID)
	}
	return sess, nil
}
func (s *fakeSessions) GetBySessionID(sessionID int64) (*models.Session, error) { return nil, nil }
func (s *fakeSessions) Open(boardUUID string, sessionID int64) (*models.Session, error) {
	return nil, nil
}
func (s *fakeSessions) Invalidate(sessionID int64) (string, error) { return "", nil }
func (s *fakeSessions) ListValidSessionIDs() ([]int64, error)      { return nil, nil }

func waitForRequestStatus(t *testing.T, requests *fakeRequests, uuid, status string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		requests.mu.Lock()
		req, ok := requests.requests[uuid]
		requests.mu.Unlock()
		if ok && req.Status == status {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("request %s never reached status %s", uuid, status)
}

func TestExecuteOnBoardSynchronousSuccessMarksCompleted(t *testing.T) {
	requests := newFakeRequests()
	sessions := &fakeSessions{byBoard: map[string]*models.Session{"board-1": {SessionID: 42, BoardUUID: "board-1", Valid: true}}}
	boards := &fakeBoards{byUUID: map[string]*models.Board{"board-1": {UUID: "board-1"}}}
	b := &fakeBus{callFunc: func(procedure string, args []interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"result": models.ResultSuccess, "message": "ok"}, nil
	}}

	d := New(b, requests, sessions, boards, 2, 4)
	d.Start()
	defer d.Stop()

	reqUUID, err := d.ExecuteOnBoard(context.Background(), "board-1", "Reboot", nil, "")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	waitForRequestStatus(t, requests, reqUUID, models.RequestStatusCompleted)
}

func TestExecuteOnBoardUnknownSessionFails(t *testing.T) {
	requests := newFakeRequests()
	sessions := &fakeSessions{byBoard: map[string]*models.Session{}}
	boards := &fakeBoards{byUUID: map[string]*models.Board{}}
	d := New(&fakeBus{}, requests, sessions, boards, 1, 1)

	if _, err := d.ExecuteOnBoard(context.Background(), "board-missing", "Reboot", nil, ""); err == nil {
		t.Fatal("expected error for board with no valid session")
	}
}

func TestNotifyResultIsIdempotent(t *testing.T) {
	requests := newFakeRequests()
	sessions := &fakeSessions{byBoard: map[string]*models.Session{"board-1": {SessionID: 1, BoardUUID: "board-1", Valid: true}}}
	boards := &fakeBoards{byUUID: map[string]*models.Board{"board-1": {UUID: "board-1"}}}
	b := &fakeBus{} // callFunc nil: call acknowledges without a synchronous terminal result
	d := New(b, requests, sessions, boards, 1, 1)
	d.Start()
	defer d.Stop()

	reqUUID, err := d.ExecuteOnBoard(context.Background(), "board-1", "PluginInject", nil, "")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	// Give the worker a moment to process the ack before we notify.
	time.Sleep(20 * time.Millisecond)

	if err := d.NotifyResult(reqUUID, "board-1", models.ResultSuccess, "done"); err != nil {
		t.Fatalf("notify result: %v", err)
	}
	waitForRequestStatus(t, requests, reqUUID, models.RequestStatusCompleted)

	requests.mu.Lock()
	pendingBefore := requests.requests[reqUUID].PendingRequests
	requests.mu.Unlock()

	// A duplicate notification must not double-process.
	if err := d.NotifyResult(reqUUID, "board-1", models.ResultSuccess, "done"); err != nil {
		t.Fatalf("duplicate notify result: %v", err)
	}

	requests.mu.Lock()
	pendingAfter := requests.requests[reqUUID].PendingRequests
	requests.mu.Unlock()
	if pendingBefore != pendingAfter {
		t.Fatalf("duplicate notify changed pending count: before=%d after=%d", pendingBefore, pendingAfter)
	}
}

func TestNotifyResultRejectsNonTerminal(t *testing.T) {
	d := New(&fakeBus{}, newFakeRequests(), &fakeSessions{byBoard: map[string]*models.Session{}}, &fakeBoards{byUUID: map[string]*models.Board{}}, 1, 1)
	if err := d.NotifyResult(uuid.NewString(), "board-1", models.ResultRunning, ""); err == nil {
		t.Fatal("expected error for non-terminal result")
	}
}

func TestFinalizeResultDecrementsParentPending(t *testing.T) {
	requests := newFakeRequests()
	parentUUID := uuid.NewString()
	requests.requests[parentUUID] = &models.Request{UUID: parentUUID, PendingRequests: 2, Status: models.RequestStatusPending}

	sessions := &fakeSessions{byBoard: map[string]*models.Session{"board-1": {SessionID: 1, BoardUUID: "board-1", Valid: true}}}
	boards := &fakeBoards{byUUID: map[string]*models.Board{"board-1": {UUID: "board-1"}}}
	b := &fakeBus{callFunc: func(procedure string, args []interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"result": models.ResultSuccess}, nil
	}}
	d := New(b, requests, sessions, boards, 1, 1)
	d.Start()
	defer d.Stop()

	childUUID, err := d.ExecuteOnBoard(context.Background(), "board-1", "ServiceEnable", nil, parentUUID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	waitForRequestStatus(t, requests, childUUID, models.RequestStatusCompleted)

	requests.mu.Lock()
	remaining := requests.requests[parentUUID].PendingRequests
	requests.mu.Unlock()
	if remaining != 1 {
		t.Fatalf("expected parent pending count decremented to 1, got %d", remaining)
	}
}

func TestProcessIncludesRequestOnlyForNewLightningRods(t *testing.T) {
	sessions := &fakeSessions{byBoard: map[string]*models.Session{
		"board-old": {SessionID: 1, BoardUUID: "board-old", Valid: true},
		"board-new": {SessionID: 2, BoardUUID: "board-new", Valid: true},
	}}
	boards := &fakeBoards{byUUID: map[string]*models.Board{
		"board-old": {UUID: "board-old", LRVersion: "0.4.8"},
		"board-new": {UUID: "board-new", LRVersion: "0.4.9"},
	}}
	b := &fakeBus{callFunc: func(procedure string, args []interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"result": models.ResultSuccess}, nil
	}}
	requests := newFakeRequests()
	d := New(b, requests, sessions, boards, 2, 4)
	d.Start()
	defer d.Stop()

	oldUUID, err := d.ExecuteOnBoard(context.Background(), "board-old", "Reboot", nil, "")
	if err != nil {
		t.Fatalf("execute on old board: %v", err)
	}
	waitForRequestStatus(t, requests, oldUUID, models.RequestStatusCompleted)

	newUUID, err := d.ExecuteOnBoard(context.Background(), "board-new", "Reboot", nil, "")
	if err != nil {
		t.Fatalf("execute on new board: %v", err)
	}
	waitForRequestStatus(t, requests, newUUID, models.RequestStatusCompleted)

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, procedure := range b.calls {
		kw := b.sentKwArgs[i]
		switch {
		case procedure == uuidURI(1, "board-old", "Reboot"):
			if kw != nil {
				t.Fatalf("expected no request kwarg for pre-0.4.9 board, got %v", kw)
			}
		case procedure == uuidURI(2, "board-new", "Reboot"):
			if kw == nil || kw["request"] == nil {
				t.Fatalf("expected request kwarg for 0.4.9+ board, got %v", kw)
			}
		}
	}
}

func uuidURI(sessionID int64, boardUUID, call string) string {
	return bus.BoardURI(sessionID, boardUUID, call)
}
