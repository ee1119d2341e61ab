package repository

import (
	"database/sql"
	"fmt"

	"github.com/iotronic/conductor/internal/apperrors"
	"github.com/iotronic/conductor/internal/models"
)

// ServiceRepository persists Service catalog entries and their per-board
// ExposedService bindings (the public-port mapping spec.md §4.D reserves
// ports for).
type ServiceRepository interface {
	GetByUUID(uuid string) (*models.Service, error)
	List(params ListParams) ([]*models.Service, error)
	Create(s *models.Service) error
	Destroy(uuid string) error

	GetExposed(boardUUID, serviceUUID string) (*models.ExposedService, error)
	ListExposedByBoard(boardUUID string) ([]*models.ExposedService, error)
	// ListAllExposed returns every ExposedService row, used to rebuild the
	// proxy allow-list from scratch (spec.md §6 allowlist contract).
	ListAllExposed() ([]*models.ExposedService, error)
	CreateExposed(e *models.ExposedService) error
	DestroyExposed(boardUUID, serviceUUID string) error
	// AllPublicPorts returns every public_port currently bound, so the Port
	// Allocator can exclude them from its free pool at startup.
	AllPublicPorts() ([]int, error)
}

type serviceRepository struct {
	db *sql.DB
}

// NewServiceRepository constructs a Postgres-backed ServiceRepository.
func NewServiceRepository(db *sql.DB) ServiceRepository {
	return &serviceRepository{db: db}
}

const serviceColumns = `id, uuid, name, protocol, port, created_at, updated_at`

func scanService(row interface{ Scan(...interface{}) error }) (*models.Service, error) {
	var s models.Service
	if err := row.Scan(&s.ID, &s.UUID, &s.Name, &s.Protocol, &s.Port, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *serviceRepository) GetByUUID(uuid string) (*models.Service, error) {
	query := fmt.Sprintf("SELECT %s FROM services WHERE uuid = $1", serviceColumns)
	s, err := scanService(r.db.QueryRow(query, uuid))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFound("service", apperrors.CodeServiceNotFound, uuid)
		}
		return nil, apperrors.Internal("querying service", err)
	}
	return s, nil
}

func (r *serviceRepository) List(params ListParams) ([]*models.Service, error) {
	cur, err := resolveMarker(r.db, "services", "uuid", params.sortKey(), params.Marker)
	if err != nil {
		return nil, apperrors.Internal("resolving list marker", err)
	}
	whereFrag, tail, args := paginationClause(cur, params, 0, nil)
	query := fmt.Sprintf("SELECT %s FROM services WHERE 1=1%s%s", serviceColumns, whereFrag, tail)
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, apperrors.Internal("listing services", err)
	}
	defer rows.Close()

	var services []*models.Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, apperrors.Internal("scanning service", err)
		}
		services = append(services, s)
	}
	return services, rows.Err()
}

func (r *serviceRepository) Create(s *models.Service) error {
	query := `INSERT INTO services (uuid, name, protocol, port) VALUES ($1, $2, $3, $4) RETURNING id, created_at, updated_at`
	if err := r.db.QueryRow(query, s.UUID, s.Name, s.Protocol, s.Port).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return apperrors.Internal("creating service", err)
	}
	return nil
}

func (r *serviceRepository) Destroy(uuid string) error {
	res, err := r.db.Exec("DELETE FROM services WHERE uuid = $1", uuid)
	if err != nil {
		return apperrors.Internal("deleting service", err)
	}
	return requireRowsAffected(res, "service", apperrors.CodeServiceNotFound, uuid)
}

const exposedColumns = `id, board_uuid, service_uuid, public_port, created_at`

func scanExposed(row interface{ Scan(...interface{}) error }) (*models.ExposedService, error) {
	var e models.ExposedService
	if err := row.Scan(&e.ID, &e.BoardUUID, &e.ServiceUUID, &e.PublicPort, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *serviceRepository) GetExposed(boardUUID, serviceUUID string) (*models.ExposedService, error) {
	query := fmt.Sprintf("SELECT %s FROM exposed_services WHERE board_uuid = $1 AND service_uuid = $2", exposedColumns)
	e, err := scanExposed(r.db.QueryRow(query, boardUUID, serviceUUID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFound("exposed service", apperrors.CodeServiceNotFound, serviceUUID)
		}
		return nil, apperrors.Internal("querying exposed service", err)
	}
	return e, nil
}

func (r *serviceRepository) ListExposedByBoard(boardUUID string) ([]*models.ExposedService, error) {
	query := fmt.Sprintf("SELECT %s FROM exposed_services WHERE board_uuid = $1", exposedColumns)
	rows, err := r.db.Query(query, boardUUID)
	if err != nil {
		return nil, apperrors.Internal("listing exposed services", err)
	}
	defer rows.Close()

	var exposed []*models.ExposedService
	for rows.Next() {
		e, err := scanExposed(rows)
		if err != nil {
			return nil, apperrors.Internal("scanning exposed service", err)
		}
		exposed = append(exposed, e)
	}
	return exposed, rows.Err()
}

func (r *serviceRepository) ListAllExposed() ([]*models.ExposedService, error) {
	query := fmt.Sprintf("SELECT %s FROM exposed_services", exposedColumns)
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, apperrors.Internal("listing all exposed services", err)
	}
	defer rows.Close()

	var exposed []*models.ExposedService
	for rows.Next() {
		e, err := scanExposed(rows)
		if err != nil {
			return nil, apperrors.Internal("scanning exposed service", err)
		}
		exposed = append(exposed, e)
	}
	return exposed, rows.Err()
}

func (r *serviceRepository) CreateExposed(e *models.ExposedService) error {
	query := `INSERT INTO exposed_services (board_uuid, service_uuid, public_port) VALUES ($1, $2, $3) RETURNING id, created_at`
	err := r.db.QueryRow(query, e.BoardUUID, e.ServiceUUID, e.PublicPort).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "exposed_services_board_uuid_service_uuid_key") {
			return apperrors.ServiceAlreadyExposed(e.BoardUUID, e.ServiceUUID)
		}
		return apperrors.Internal("exposing service", err)
	}
	return nil
}

func (r *serviceRepository) DestroyExposed(boardUUID, serviceUUID string) error {
	res, err := r.db.Exec("DELETE FROM exposed_services WHERE board_uuid = $1 AND service_uuid = $2", boardUUID, serviceUUID)
	if err != nil {
		return apperrors.Internal("removing exposed service", err)
	}
	return requireRowsAffected(res, "exposed service", apperrors.CodeServiceNotFound, serviceUUID)
}

func (r *serviceRepository) AllPublicPorts() ([]int, error) {
	rows, err := r.db.Query("SELECT public_port FROM exposed_services")
	if err != nil {
		return nil, apperrors.Internal("listing public ports", err)
	}
	defer rows.Close()

	var ports []int
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, apperrors.Internal("scanning public port", err)
		}
		ports = append(ports, p)
	}
	return ports, rows.Err()
}
