package onboarding

import (
	"testing"

	"github.com/iotronic/conductor/internal/agentregistry"
	"github.com/iotronic/conductor/internal/apperrors"
	"github.com/iotronic/conductor/internal/models"
	"github.com/iotronic/conductor/internal/repository"
)

type fakeBoards struct {
	repository.BoardRepository
	byCode map[string]*models.Board
}

func newFakeBoards() *fakeBoards {
	return &fakeBoards{byCode: map[string]*models.Board{}}
}

func (f *fakeBoards) GetByCode(code string) (*models.Board, error) {
	b, ok := f.byCode[code]
	if !ok {
		return nil, apperrors.NotFound("board", apperrors.CodeBoardNotFound, code)
	}
	return b, nil
}

func (f *fakeBoards) Update(b *models.Board) error {
	for _, existing := range f.byCode {
		if existing.UUID == b.UUID {
			*existing = *b
		}
	}
	return nil
}

type fakeAgents struct {
	repository.AgentRepository
	ragent  *models.Agent
	online  []*models.Agent
}

func (f *fakeAgents) GetRegistrationAgent() (*models.Agent, error) {
	if f.ragent == nil {
		return nil, apperrors.NoRegistrationAgent()
	}
	return f.ragent, nil
}

func (f *fakeAgents) ListOnline() ([]*models.Agent, error) {
	return f.online, nil
}

type fakeSessions struct {
	repository.SessionRepository
	opened map[string]int64
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{opened: map[string]int64{}}
}

func (f *fakeSessions) Open(boardUUID string, sessionID int64) (*models.Session, error) {
	f.opened[boardUUID] = sessionID
	return &models.Session{BoardUUID: boardUUID, SessionID: sessionID, Valid: true}, nil
}

func TestRegisterAssignsAgentOnFirstCall(t *testing.T) {
	boards := newFakeBoards()
	boards.byCode["CODE1"] = &models.Board{UUID: "board-1", Code: "CODE1", Status: models.BoardStatusRegistered, Extra: map[string]interface{}{}}

	mainAgent := &models.Agent{Hostname: "agent-main", WSURL: "ws://main", Online: true}
	regAgent := &models.Agent{Hostname: "agent-reg", WSURL: "ws://reg", Online: true, Ragent: true}
	registry := agentregistry.New(&fakeAgents{ragent: regAgent, online: []*models.Agent{mainAgent}})
	sessions := newFakeSessions()
	svc := New(boards, sessions, registry, Config{WampTransportURL: "ws://conductor:8181", WampRealm: "s4t"})

	result, err := svc.Register("CODE1", 42)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if result.AssignedAgent != "agent-main" {
		t.Fatalf("expected agent-main, got %s", result.AssignedAgent)
	}
	if sessions.opened["board-1"] != 42 {
		t.Fatalf("expected session 42 to be opened for board-1, got %v", sessions.opened)
	}
	if boards.byCode["CODE1"].Status != models.BoardStatusOffline {
		t.Fatalf("expected board status OFFLINE after first registration, got %s", boards.byCode["CODE1"].Status)
	}
	wamp, ok := result.Config["wamp"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected config to carry a wamp section, got %v", result.Config)
	}
	if wamp["main-agent"].(map[string]interface{})["url"] != "ws://main" {
		t.Fatalf("expected main-agent url to be the picked agent's, got %v", wamp["main-agent"])
	}
	if wamp["registration-agent"].(map[string]interface{})["url"] != "ws://reg" {
		t.Fatalf("expected registration-agent url to be the ragent's, got %v", wamp["registration-agent"])
	}
}

func TestRegisterReconnectingBoardReturnsExistingConfig(t *testing.T) {
	boards := newFakeBoards()
	existingConfig := map[string]interface{}{"wamp": map[string]interface{}{"main-agent": map[string]interface{}{"url": "ws://main"}}}
	boards.byCode["CODE1"] = &models.Board{UUID: "board-1", Code: "CODE1", Agent: "agent-main", Status: models.BoardStatusOffline, Config: existingConfig}

	// No agents online; this must not matter since the board is reconnecting,
	// not registering for the first time.
	registry := agentregistry.New(&fakeAgents{})
	sessions := newFakeSessions()
	svc := New(boards, sessions, registry, Config{})

	result, err := svc.Register("CODE1", 7)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if result.AssignedAgent != "agent-main" {
		t.Fatalf("expected existing agent-main to be reused, got %s", result.AssignedAgent)
	}
	if result.Config["wamp"] == nil {
		t.Fatalf("expected existing config to be returned verbatim, got %v", result.Config)
	}
	if sessions.opened["board-1"] != 7 {
		t.Fatalf("expected session 7 to be opened, got %v", sessions.opened)
	}
	if boards.byCode["CODE1"].Status != models.BoardStatusOffline {
		t.Fatalf("expected board status to remain OFFLINE, got %s", boards.byCode["CODE1"].Status)
	}
}

func TestRegisterFailsWithoutOnlineAgent(t *testing.T) {
	boards := newFakeBoards()
	boards.byCode["CODE1"] = &models.Board{UUID: "board-1", Code: "CODE1", Status: models.BoardStatusRegistered}

	registry := agentregistry.New(&fakeAgents{ragent: &models.Agent{Hostname: "agent-reg"}})
	svc := New(boards, newFakeSessions(), registry, Config{})

	if _, err := svc.Register("CODE1", 1); err == nil {
		t.Fatal("expected NoAgents error")
	}
}

func TestRegisterFailsWithoutRegistrationAgent(t *testing.T) {
	boards := newFakeBoards()
	boards.byCode["CODE1"] = &models.Board{UUID: "board-1", Code: "CODE1", Status: models.BoardStatusRegistered}

	registry := agentregistry.New(&fakeAgents{online: []*models.Agent{{Hostname: "agent-main", Online: true}}})
	svc := New(boards, newFakeSessions(), registry, Config{})

	if _, err := svc.Register("CODE1", 1); err == nil {
		t.Fatal("expected NoRegistrationAgent error")
	}
}

func TestRegisterUnknownCode(t *testing.T) {
	svc := New(newFakeBoards(), newFakeSessions(), agentregistry.New(&fakeAgents{}), Config{})
	if _, err := svc.Register("missing", 1); err == nil {
		t.Fatal("expected error for unknown code")
	}
}

func TestValidateCode(t *testing.T) {
	boards := newFakeBoards()
	boards.byCode["CODE1"] = &models.Board{UUID: "board-1", Code: "CODE1"}
	svc := New(boards, newFakeSessions(), agentregistry.New(&fakeAgents{}), Config{})

	if err := svc.ValidateCode("CODE1"); err != nil {
		t.Fatalf("expected valid code to pass: %v", err)
	}
	if err := svc.ValidateCode("missing"); err == nil {
		t.Fatal("expected error for unknown code")
	}
}
