package repository

import (
	"database/sql"

	"github.com/iotronic/conductor/internal/apperrors"
)

// ConductorRepository persists Conductor process self-registration and
// heartbeat records. Supplemented from the original control plane's
// register_conductor/touch_conductor/unregister_conductor (see DESIGN.md).
type ConductorRepository interface {
	Register(hostname string) error
	Touch(hostname string) error
	Unregister(hostname string) error
	ListStale(timeoutSeconds int) ([]string, error)
}

type conductorRepository struct {
	db *sql.DB
}

// NewConductorRepository constructs a Postgres-backed ConductorRepository.
func NewConductorRepository(db *sql.DB) ConductorRepository {
	return &conductorRepository{db: db}
}

func (r *conductorRepository) Register(hostname string) error {
	query := `INSERT INTO conductors (hostname) VALUES ($1)
		ON CONFLICT (hostname) DO UPDATE SET updated_at = NOW()`
	if _, err := r.db.Exec(query, hostname); err != nil {
		return apperrors.Internal("registering conductor", err)
	}
	return nil
}

func (r *conductorRepository) Touch(hostname string) error {
	res, err := r.db.Exec("UPDATE conductors SET updated_at = NOW() WHERE hostname = $1", hostname)
	if err != nil {
		return apperrors.Internal("touching conductor", err)
	}
	return requireRowsAffected(res, "conductor", apperrors.CodeInternal, hostname)
}

func (r *conductorRepository) Unregister(hostname string) error {
	_, err := r.db.Exec("DELETE FROM conductors WHERE hostname = $1", hostname)
	if err != nil {
		return apperrors.Internal("unregistering conductor", err)
	}
	return nil
}

// ListStale returns hostnames of conductors whose heartbeat is older than
// timeoutSeconds, for periodic reaping by another surviving conductor.
func (r *conductorRepository) ListStale(timeoutSeconds int) ([]string, error) {
	query := `SELECT hostname FROM conductors WHERE updated_at < NOW() - ($1 || ' seconds')::interval`
	rows, err := r.db.Query(query, timeoutSeconds)
	if err != nil {
		return nil, apperrors.Internal("listing stale conductors", err)
	}
	defer rows.Close()

	var hosts []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, apperrors.Internal("scanning conductor hostname", err)
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}
