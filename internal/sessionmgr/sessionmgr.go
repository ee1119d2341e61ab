// Package sessionmgr tracks which boards hold a valid WAMP session and
// reconciles the Conductor's view against the broker's own live session
// list (spec.md §4.C).
//
// Grounded on the teacher's internal/tracker package: an in-memory,
// mutex-guarded map refreshed by a periodic sweep, here backed by the
// repository's transactional invalidate-then-create instead of a pure
// in-memory structure, since session validity must survive a Conductor
// restart.
package sessionmgr

import (
	"sync"

	"github.com/iotronic/conductor/internal/logging"
	"github.com/iotronic/conductor/internal/models"
	"github.com/iotronic/conductor/internal/repository"
)

// Manager handles board connect/disconnect transitions.
type Manager struct {
	sessions repository.SessionRepository
	boards   repository.BoardRepository

	mu          sync.RWMutex
	sessionByID map[int64]string // session_id -> board_uuid, for fast on_leave lookups
}

// New constructs a Manager.
func New(sessions repository.SessionRepository, boards repository.BoardRepository) *Manager {
	return &Manager{
		sessions:    sessions,
		boards:      boards,
		sessionByID: make(map[int64]string),
	}
}

// ConnectionParams carries the board-reported fields merged on connect,
// mirroring original_source's on_board_connect(board_uuid, session_id, msg).
type ConnectionParams struct {
	LRVersion    string
	MACAddr      string
	Connectivity *models.Connectivity
}

// OnConnect opens a new valid session for boardUUID, invalidating any prior
// one (spec.md §4.C "at most one valid Session per board"), sets the board
// ONLINE, and merges in connectivity/version fields reported at connect time.
func (m *Manager) OnConnect(boardUUID string, sessionID int64, params ConnectionParams) (*models.Session, error) {
	session, err := m.sessions.Open(boardUUID, sessionID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	for id, owner := range m.sessionByID {
		if owner == boardUUID {
			delete(m.sessionByID, id)
		}
	}
	m.sessionByID[sessionID] = boardUUID
	m.mu.Unlock()

	board, err := m.boards.GetByUUID(boardUUID)
	if err != nil {
		return nil, err
	}
	board.Status = models.BoardStatusOnline
	if params.LRVersion != "" {
		board.LRVersion = params.LRVersion
	}
	if params.MACAddr != "" {
		board.MACAddr = params.MACAddr
	}
	if params.Connectivity != nil {
		board.Connectivity = params.Connectivity
	}
	if err := m.boards.Update(board); err != nil {
		return nil, err
	}

	logging.Sessions().Info().Str("board_uuid", boardUUID).Int64("session_id", sessionID).Msg("board connected")
	return session, nil
}

// OnLeave invalidates the session owning sessionID and marks its board
// OFFLINE, mirroring original_source's board_on_leave(session_id). Returns
// "" if sessionID did not own a valid session (already handled, or unknown).
func (m *Manager) OnLeave(sessionID int64) (string, error) {
	boardUUID, err := m.sessions.Invalidate(sessionID)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	delete(m.sessionByID, sessionID)
	m.mu.Unlock()

	if boardUUID == "" {
		return "", nil
	}

	if err := m.boards.UpdateStatus(boardUUID, models.BoardStatusOffline); err != nil {
		return "", err
	}
	logging.Sessions().Info().Str("board_uuid", boardUUID).Int64("session_id", sessionID).Msg("board disconnected")
	return boardUUID, nil
}

// Reconcile compares the broker's live session_list() against sessions this
// Conductor believes are still valid, invalidating any that the broker no
// longer holds. This heals sessions whose WAMP on_leave notification was
// lost (spec.md §4.C periodic reconciliation), and is driven by a
// robfig/cron job in internal/runtime.
func (m *Manager) Reconcile(liveSessionIDs []int64) (invalidated []string, err error) {
	live := make(map[int64]bool, len(liveSessionIDs))
	for _, id := range liveSessionIDs {
		live[id] = true
	}

	known, err := m.sessions.ListValidSessionIDs()
	if err != nil {
		return nil, err
	}

	for _, id := range known {
		if live[id] {
			continue
		}
		boardUUID, err := m.OnLeave(id)
		if err != nil {
			return invalidated, err
		}
		if boardUUID != "" {
			invalidated = append(invalidated, boardUUID)
		}
	}

	if len(invalidated) > 0 {
		logging.Sessions().Warn().Int("count", len(invalidated)).Msg("reconciliation invalidated stale sessions")
	}
	return invalidated, nil
}

// BoardUUIDForSession returns the board owning sessionID, from the in-memory
// fast path populated by OnConnect/OnLeave.
func (m *Manager) BoardUUIDForSession(sessionID int64) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	uuid, ok := m.sessionByID[sessionID]
	return uuid, ok
}
