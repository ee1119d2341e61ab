package repository

import (
	"database/sql"
	"fmt"

	"github.com/iotronic/conductor/internal/apperrors"
	"github.com/iotronic/conductor/internal/models"
)

// AgentRepository persists wamp-agent registration records, enforcing "at
// most one online agent with ragent=true" (spec.md §4.B invariant) by having
// Register demote any existing registration agent inside the same
// transaction that stores the new one.
type AgentRepository interface {
	GetByHostname(hostname string) (*models.Agent, error)
	ListOnline() ([]*models.Agent, error)
	Register(a *models.Agent) error
	Touch(hostname string) error
	SetOnline(hostname string, online bool) error
	Unregister(hostname string) error
	GetRegistrationAgent() (*models.Agent, error)
}

type agentRepository struct {
	db *sql.DB
}

// NewAgentRepository constructs a Postgres-backed AgentRepository.
func NewAgentRepository(db *sql.DB) AgentRepository {
	return &agentRepository{db: db}
}

const agentColumns = `hostname, ws_url, online, ragent, created_at, updated_at`

func scanAgent(row interface{ Scan(...interface{}) error }) (*models.Agent, error) {
	var a models.Agent
	if err := row.Scan(&a.Hostname, &a.WSURL, &a.Online, &a.Ragent, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *agentRepository) GetByHostname(hostname string) (*models.Agent, error) {
	query := fmt.Sprintf("SELECT %s FROM agents WHERE hostname = $1", agentColumns)
	a, err := scanAgent(r.db.QueryRow(query, hostname))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFound("agent", apperrors.CodeBoardNotFound, hostname)
		}
		return nil, apperrors.Internal("querying agent", err)
	}
	return a, nil
}

func (r *agentRepository) ListOnline() ([]*models.Agent, error) {
	query := fmt.Sprintf("SELECT %s FROM agents WHERE online = true", agentColumns)
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, apperrors.Internal("listing online agents", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, apperrors.Internal("scanning agent", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// Register upserts an agent record as online. When ragent is requested, any
// existing registration agent is demoted first inside the same transaction,
// since only one wamp-agent may hold WAMP registration duty at a time.
func (r *agentRepository) Register(a *models.Agent) error {
	tx, err := r.db.Begin()
	if err != nil {
		return apperrors.Internal("beginning agent registration transaction", err)
	}
	defer tx.Rollback()

	if a.Ragent {
		if _, err := tx.Exec("UPDATE agents SET ragent = false, updated_at = NOW() WHERE ragent = true AND hostname != $1", a.Hostname); err != nil {
			return apperrors.Internal("demoting prior registration agent", err)
		}
	}

	query := `INSERT INTO agents (hostname, ws_url, online, ragent)
		VALUES ($1, $2, true, $3)
		ON CONFLICT (hostname) DO UPDATE SET ws_url = EXCLUDED.ws_url, online = true, ragent = EXCLUDED.ragent, updated_at = NOW()
		RETURNING created_at, updated_at`
	if err := tx.QueryRow(query, a.Hostname, a.WSURL, a.Ragent).Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		return apperrors.Internal("registering agent", err)
	}

	return tx.Commit()
}

func (r *agentRepository) Touch(hostname string) error {
	res, err := r.db.Exec("UPDATE agents SET updated_at = NOW() WHERE hostname = $1", hostname)
	if err != nil {
		return apperrors.Internal("touching agent", err)
	}
	return requireRowsAffected(res, "agent", apperrors.CodeBoardNotFound, hostname)
}

func (r *agentRepository) SetOnline(hostname string, online bool) error {
	res, err := r.db.Exec("UPDATE agents SET online = $1, updated_at = NOW() WHERE hostname = $2", online, hostname)
	if err != nil {
		return apperrors.Internal("updating agent online state", err)
	}
	return requireRowsAffected(res, "agent", apperrors.CodeBoardNotFound, hostname)
}

func (r *agentRepository) Unregister(hostname string) error {
	res, err := r.db.Exec("DELETE FROM agents WHERE hostname = $1", hostname)
	if err != nil {
		return apperrors.Internal("unregistering agent", err)
	}
	return requireRowsAffected(res, "agent", apperrors.CodeBoardNotFound, hostname)
}

func (r *agentRepository) GetRegistrationAgent() (*models.Agent, error) {
	query := fmt.Sprintf("SELECT %s FROM agents WHERE ragent = true AND online = true", agentColumns)
	a, err := scanAgent(r.db.QueryRow(query))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NoRegistrationAgent()
		}
		return nil, apperrors.Internal("querying registration agent", err)
	}
	return a, nil
}
