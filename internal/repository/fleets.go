package repository

import (
	"database/sql"
	"fmt"

	"github.com/iotronic/conductor/internal/apperrors"
	"github.com/iotronic/conductor/internal/models"
)

// FleetRepository persists Fleet records, the optional grouping entity
// boards may belong to (spec.md §3).
type FleetRepository interface {
	GetByUUID(uuid string) (*models.Fleet, error)
	List(params ListParams) ([]*models.Fleet, error)
	Create(f *models.Fleet) error
	Destroy(uuid string) error
}

type fleetRepository struct {
	db *sql.DB
}

// NewFleetRepository constructs a Postgres-backed FleetRepository.
func NewFleetRepository(db *sql.DB) FleetRepository {
	return &fleetRepository{db: db}
}

const fleetColumns = `id, uuid, name, COALESCE(project, ''), created_at, updated_at`

func scanFleet(row interface{ Scan(...interface{}) error }) (*models.Fleet, error) {
	var f models.Fleet
	if err := row.Scan(&f.ID, &f.UUID, &f.Name, &f.Project, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *fleetRepository) GetByUUID(uuid string) (*models.Fleet, error) {
	query := fmt.Sprintf("SELECT %s FROM fleets WHERE uuid = $1", fleetColumns)
	f, err := scanFleet(r.db.QueryRow(query, uuid))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFound("fleet", apperrors.CodeFleetNotFound, uuid)
		}
		return nil, apperrors.Internal("querying fleet", err)
	}
	return f, nil
}

func (r *fleetRepository) List(params ListParams) ([]*models.Fleet, error) {
	cur, err := resolveMarker(r.db, "fleets", "uuid", params.sortKey(), params.Marker)
	if err != nil {
		return nil, apperrors.Internal("resolving list marker", err)
	}
	whereFrag, tail, args := paginationClause(cur, params, 0, nil)
	query := fmt.Sprintf("SELECT %s FROM fleets WHERE 1=1%s%s", fleetColumns, whereFrag, tail)
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, apperrors.Internal("listing fleets", err)
	}
	defer rows.Close()

	var fleets []*models.Fleet
	for rows.Next() {
		f, err := scanFleet(rows)
		if err != nil {
			return nil, apperrors.Internal("scanning fleet", err)
		}
		fleets = append(fleets, f)
	}
	return fleets, rows.Err()
}

func (r *fleetRepository) Create(f *models.Fleet) error {
	query := `INSERT INTO fleets (uuid, name, project) VALUES ($1, $2, $3) RETURNING id, created_at, updated_at`
	err := r.db.QueryRow(query, f.UUID, f.Name, nullString(f.Project)).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "fleets_name_key") {
			return apperrors.DuplicateName("fleet")
		}
		return apperrors.Internal("creating fleet", err)
	}
	return nil
}

func (r *fleetRepository) Destroy(uuid string) error {
	res, err := r.db.Exec("DELETE FROM fleets WHERE uuid = $1", uuid)
	if err != nil {
		return apperrors.Internal("deleting fleet", err)
	}
	return requireRowsAffected(res, "fleet", apperrors.CodeFleetNotFound, uuid)
}
