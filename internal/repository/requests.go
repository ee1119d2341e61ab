package repository

import (
	"database/sql"
	"fmt"

	"github.com/iotronic/conductor/internal/apperrors"
	"github.com/iotronic/conductor/internal/models"
)

// RequestRepository persists dispatched-RPC bookkeeping: a Request row per
// device call (or per fan-out parent) plus one Result row per target,
// with an atomically-maintained pending_requests counter (spec.md §4.E).
type RequestRepository interface {
	GetByUUID(uuid string) (*models.Request, error)
	Create(r *models.Request) error
	MarkCompleted(uuid string) error
	// DecrementPending atomically decrements a parent request's
	// pending_requests counter and returns the value after decrement (0 when
	// mainRequestUUID is empty or the counter was already at zero).
	DecrementPending(mainRequestUUID string) (remaining int, err error)

	CreateResult(res *models.Result) error
	GetResult(requestUUID, boardUUID string) (*models.Result, error)
	// SetResult upserts the terminal result for (requestUUID, boardUUID) and
	// reports whether this call produced the first terminal transition (used
	// to make notify_result idempotent under duplicate WAMP deliveries).
	SetResult(requestUUID, boardUUID, result, message string) (firstTerminal bool, err error)
}

type requestRepository struct {
	db *sql.DB
}

// NewRequestRepository constructs a Postgres-backed RequestRepository.
func NewRequestRepository(db *sql.DB) RequestRepository {
	return &requestRepository{db: db}
}

const requestColumns = `id, uuid, destination_uuid, COALESCE(main_request_uuid, ''), pending_requests,
	status, type, action, created_at, updated_at`

func scanRequest(row interface{ Scan(...interface{}) error }) (*models.Request, error) {
	var r models.Request
	if err := row.Scan(&r.ID, &r.UUID, &r.DestinationUUID, &r.MainRequestUUID, &r.PendingRequests,
		&r.Status, &r.Type, &r.Action, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *requestRepository) GetByUUID(uuid string) (*models.Request, error) {
	query := fmt.Sprintf("SELECT %s FROM requests WHERE uuid = $1", requestColumns)
	req, err := scanRequest(r.db.QueryRow(query, uuid))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFound("request", apperrors.CodeRequestNotFound, uuid)
		}
		return nil, apperrors.Internal("querying request", err)
	}
	return req, nil
}

func (r *requestRepository) Create(req *models.Request) error {
	query := `INSERT INTO requests (uuid, destination_uuid, main_request_uuid, pending_requests, status, type, action)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRow(query, req.UUID, req.DestinationUUID, nullString(req.MainRequestUUID),
		req.PendingRequests, req.Status, req.Type, req.Action).
		Scan(&req.ID, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return apperrors.Internal("creating request", err)
	}
	return nil
}

func (r *requestRepository) MarkCompleted(uuid string) error {
	res, err := r.db.Exec("UPDATE requests SET status = $1, updated_at = NOW() WHERE uuid = $2", models.RequestStatusCompleted, uuid)
	if err != nil {
		return apperrors.Internal("marking request completed", err)
	}
	return requireRowsAffected(res, "request", apperrors.CodeRequestNotFound, uuid)
}

// DecrementPending decrements pending_requests by one atomically in a single
// statement so concurrent notify_result calls from different boards never
// race past each other (spec.md §4.E "pending_requests must decrement
// atomically"); when the count reaches zero, a follow-up MarkCompleted
// statement marks the parent COMPLETED.
func (r *requestRepository) DecrementPending(mainRequestUUID string) (int, error) {
	if mainRequestUUID == "" {
		return 0, nil
	}
	query := `UPDATE requests SET pending_requests = pending_requests - 1, updated_at = NOW()
		WHERE uuid = $1 AND pending_requests > 0
		RETURNING pending_requests`
	var remaining int
	err := r.db.QueryRow(query, mainRequestUUID).Scan(&remaining)
	if err != nil {
		if err == sql.ErrNoRows {
			// Already at zero: a duplicate notification. Not an error.
			return 0, nil
		}
		return 0, apperrors.Internal("decrementing pending_requests", err)
	}
	if remaining == 0 {
		if err := r.MarkCompleted(mainRequestUUID); err != nil {
			return remaining, err
		}
	}
	return remaining, nil
}

const resultColumns = `id, request_uuid, board_uuid, result, COALESCE(message, ''), created_at, updated_at`

func scanResult(row interface{ Scan(...interface{}) error }) (*models.Result, error) {
	var res models.Result
	if err := row.Scan(&res.ID, &res.RequestUUID, &res.BoardUUID, &res.Result, &res.Message, &res.CreatedAt, &res.UpdatedAt); err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *requestRepository) CreateResult(res *models.Result) error {
	query := `INSERT INTO results (request_uuid, board_uuid, result, message) VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRow(query, res.RequestUUID, res.BoardUUID, res.Result, nullString(res.Message)).
		Scan(&res.ID, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return apperrors.Internal("creating result", err)
	}
	return nil
}

func (r *requestRepository) GetResult(requestUUID, boardUUID string) (*models.Result, error) {
	query := fmt.Sprintf("SELECT %s FROM results WHERE request_uuid = $1 AND board_uuid = $2", resultColumns)
	res, err := scanResult(r.db.QueryRow(query, requestUUID, boardUUID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFound("result", apperrors.CodeResultNotFound, requestUUID)
		}
		return nil, apperrors.Internal("querying result", err)
	}
	return res, nil
}

// SetResult records a device's outcome for a request. It is idempotent: a
// duplicate terminal notification for a result already in a terminal state
// updates nothing and reports firstTerminal=false, so callers (the
// Dispatcher) never decrement pending_requests twice for one Result.
func (r *requestRepository) SetResult(requestUUID, boardUUID, result, message string) (bool, error) {
	query := `UPDATE results SET result = $1, message = $2, updated_at = NOW()
		WHERE request_uuid = $3 AND board_uuid = $4 AND result = $5
		RETURNING id`
	var id int64
	err := r.db.QueryRow(query, result, nullString(message), requestUUID, boardUUID, models.ResultRunning).Scan(&id)
	if err == nil {
		return models.IsTerminalResult(result), nil
	}
	if err != sql.ErrNoRows {
		return false, apperrors.Internal("updating result", err)
	}

	// No RUNNING row matched: either the result doesn't exist yet (race with
	// CreateResult) or it's already terminal. Disambiguate.
	existing, getErr := r.GetResult(requestUUID, boardUUID)
	if getErr != nil {
		return false, getErr
	}
	if !models.IsTerminalResult(existing.Result) {
		return false, apperrors.Internal("result in unexpected state", nil)
	}
	return false, nil
}
