package repository

import (
	"database/sql"
	"fmt"

	"github.com/iotronic/conductor/internal/apperrors"
	"github.com/iotronic/conductor/internal/models"
)

// SessionRepository persists Session records, enforcing "at most one valid
// Session per board" (spec.md §4.C invariant) via the idx_sessions_board_valid
// partial unique index plus a transactional invalidate-then-insert.
type SessionRepository interface {
	GetValidByBoardUUID(boardUUID string) (*models.Session, error)
	GetBySessionID(sessionID int64) (*models.Session, error)
	// Open invalidates any existing valid session for boardUUID and creates a
	// new valid one, atomically, returning the new session.
	Open(boardUUID string, sessionID int64) (*models.Session, error)
	// Invalidate marks the session owning sessionID (if any) invalid; used on
	// WAMP on_leave notifications. Returns the affected board UUID, or "" if
	// no valid session matched (already invalidated, or unknown session).
	Invalidate(sessionID int64) (string, error)
	ListValidSessionIDs() ([]int64, error)
}

type sessionRepository struct {
	db *sql.DB
}

// NewSessionRepository constructs a Postgres-backed SessionRepository.
func NewSessionRepository(db *sql.DB) SessionRepository {
	return &sessionRepository{db: db}
}

const sessionColumns = `id, session_id, board_uuid, valid, created_at, updated_at`

func scanSession(row interface{ Scan(...interface{}) error }) (*models.Session, error) {
	var s models.Session
	if err := row.Scan(&s.ID, &s.SessionID, &s.BoardUUID, &s.Valid, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sessionRepository) GetValidByBoardUUID(boardUUID string) (*models.Session, error) {
	query := fmt.Sprintf("SELECT %s FROM sessions WHERE board_uuid = $1 AND valid = true", sessionColumns)
	s, err := scanSession(r.db.QueryRow(query, boardUUID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.BoardNotConnected(boardUUID)
		}
		return nil, apperrors.Internal("querying session", err)
	}
	return s, nil
}

func (r *sessionRepository) GetBySessionID(sessionID int64) (*models.Session, error) {
	query := fmt.Sprintf("SELECT %s FROM sessions WHERE session_id = $1 ORDER BY created_at DESC LIMIT 1", sessionColumns)
	s, err := scanSession(r.db.QueryRow(query, sessionID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFound("session", apperrors.CodeBoardNotFound, fmt.Sprintf("%d", sessionID))
		}
		return nil, apperrors.Internal("querying session", err)
	}
	return s, nil
}

// Open implements the invariant from spec.md §4.C: a board connecting a
// second time invalidates its prior session before the new one becomes
// visible, inside a single transaction (default isolation) so no reader ever
// observes two valid sessions for the same board; the partial unique index
// idx_sessions_board_valid rejects a second valid row if two opens race.
func (r *sessionRepository) Open(boardUUID string, sessionID int64) (*models.Session, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, apperrors.Internal("beginning session transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("UPDATE sessions SET valid = false, updated_at = NOW() WHERE board_uuid = $1 AND valid = true", boardUUID); err != nil {
		return nil, apperrors.Internal("invalidating prior session", err)
	}

	var s models.Session
	query := `INSERT INTO sessions (session_id, board_uuid, valid) VALUES ($1, $2, true)
		RETURNING id, session_id, board_uuid, valid, created_at, updated_at`
	if err := tx.QueryRow(query, sessionID, boardUUID).Scan(&s.ID, &s.SessionID, &s.BoardUUID, &s.Valid, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, apperrors.Internal("creating session", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.Internal("committing session transaction", err)
	}
	return &s, nil
}

func (r *sessionRepository) Invalidate(sessionID int64) (string, error) {
	var boardUUID string
	query := `UPDATE sessions SET valid = false, updated_at = NOW()
		WHERE session_id = $1 AND valid = true
		RETURNING board_uuid`
	err := r.db.QueryRow(query, sessionID).Scan(&boardUUID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", apperrors.Internal("invalidating session", err)
	}
	return boardUUID, nil
}

func (r *sessionRepository) ListValidSessionIDs() ([]int64, error) {
	rows, err := r.db.Query("SELECT session_id FROM sessions WHERE valid = true")
	if err != nil {
		return nil, apperrors.Internal("listing valid sessions", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Internal("scanning session id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
