package repository

import (
	"database/sql"
	"fmt"

	"github.com/iotronic/conductor/internal/apperrors"
	"github.com/iotronic/conductor/internal/models"
)

// WebserviceRepository persists Webservice records and the EnabledWebservice
// that exposes a board's webservice publicly through the proxy/DNS gateway
// (spec.md §4.H). Enforces "at most one enabled webservice per board" and
// "a DNS name is unique within its zone" with DB constraints rather than locks.
type WebserviceRepository interface {
	GetByUUID(uuid string) (*models.Webservice, error)
	ListByBoard(boardUUID string) ([]*models.Webservice, error)
	Create(w *models.Webservice) error
	Destroy(uuid string) error

	GetEnabledByBoard(boardUUID string) (*models.EnabledWebservice, error)
	// ListAllEnabled returns every EnabledWebservice row, used to rebuild the
	// proxy allow-list with webservice http/https ports alongside regular
	// ExposedService bindings (spec.md §6 allowlist contract).
	ListAllEnabled() ([]*models.EnabledWebservice, error)
	DNSAvailable(dns, zone string) (bool, error)
	CreateEnabled(e *models.EnabledWebservice) error
	DestroyEnabled(boardUUID string) error
}

type webserviceRepository struct {
	db *sql.DB
}

// NewWebserviceRepository constructs a Postgres-backed WebserviceRepository.
func NewWebserviceRepository(db *sql.DB) WebserviceRepository {
	return &webserviceRepository{db: db}
}

const webserviceColumns = `id, uuid, name, port, board_uuid, secure, created_at`

func scanWebservice(row interface{ Scan(...interface{}) error }) (*models.Webservice, error) {
	var w models.Webservice
	if err := row.Scan(&w.ID, &w.UUID, &w.Name, &w.Port, &w.BoardUUID, &w.Secure, &w.CreatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *webserviceRepository) GetByUUID(uuid string) (*models.Webservice, error) {
	query := fmt.Sprintf("SELECT %s FROM webservices WHERE uuid = $1", webserviceColumns)
	w, err := scanWebservice(r.db.QueryRow(query, uuid))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFound("webservice", apperrors.CodeWebserviceNotFound, uuid)
		}
		return nil, apperrors.Internal("querying webservice", err)
	}
	return w, nil
}

func (r *webserviceRepository) ListByBoard(boardUUID string) ([]*models.Webservice, error) {
	query := fmt.Sprintf("SELECT %s FROM webservices WHERE board_uuid = $1", webserviceColumns)
	rows, err := r.db.Query(query, boardUUID)
	if err != nil {
		return nil, apperrors.Internal("listing webservices", err)
	}
	defer rows.Close()

	var list []*models.Webservice
	for rows.Next() {
		w, err := scanWebservice(rows)
		if err != nil {
			return nil, apperrors.Internal("scanning webservice", err)
		}
		list = append(list, w)
	}
	return list, rows.Err()
}

func (r *webserviceRepository) Create(w *models.Webservice) error {
	query := `INSERT INTO webservices (uuid, name, port, board_uuid, secure) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`
	if err := r.db.QueryRow(query, w.UUID, w.Name, w.Port, w.BoardUUID, w.Secure).Scan(&w.ID, &w.CreatedAt); err != nil {
		return apperrors.Internal("creating webservice", err)
	}
	return nil
}

func (r *webserviceRepository) Destroy(uuid string) error {
	res, err := r.db.Exec("DELETE FROM webservices WHERE uuid = $1", uuid)
	if err != nil {
		return apperrors.Internal("deleting webservice", err)
	}
	return requireRowsAffected(res, "webservice", apperrors.CodeWebserviceNotFound, uuid)
}

const enabledColumns = `id, board_uuid, COALESCE(http_port, 0), COALESCE(https_port, 0), dns, zone, created_at`

func scanEnabled(row interface{ Scan(...interface{}) error }) (*models.EnabledWebservice, error) {
	var e models.EnabledWebservice
	if err := row.Scan(&e.ID, &e.BoardUUID, &e.HTTPPort, &e.HTTPSPort, &e.DNS, &e.Zone, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *webserviceRepository) GetEnabledByBoard(boardUUID string) (*models.EnabledWebservice, error) {
	query := fmt.Sprintf("SELECT %s FROM enabled_webservices WHERE board_uuid = $1", enabledColumns)
	e, err := scanEnabled(r.db.QueryRow(query, boardUUID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.EnabledWebserviceNotFound(boardUUID)
		}
		return nil, apperrors.Internal("querying enabled webservice", err)
	}
	return e, nil
}

func (r *webserviceRepository) ListAllEnabled() ([]*models.EnabledWebservice, error) {
	query := fmt.Sprintf("SELECT %s FROM enabled_webservices", enabledColumns)
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, apperrors.Internal("listing all enabled webservices", err)
	}
	defer rows.Close()

	var list []*models.EnabledWebservice
	for rows.Next() {
		e, err := scanEnabled(rows)
		if err != nil {
			return nil, apperrors.Internal("scanning enabled webservice", err)
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

func (r *webserviceRepository) DNSAvailable(dns, zone string) (bool, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM enabled_webservices WHERE dns = $1 AND zone = $2", dns, zone).Scan(&count)
	if err != nil {
		return false, apperrors.Internal("checking dns availability", err)
	}
	return count == 0, nil
}

func (r *webserviceRepository) CreateEnabled(e *models.EnabledWebservice) error {
	query := `INSERT INTO enabled_webservices (board_uuid, http_port, https_port, dns, zone)
		VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`
	err := r.db.QueryRow(query, e.BoardUUID, e.HTTPPort, e.HTTPSPort, e.DNS, e.Zone).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "enabled_webservices_board_uuid_key") {
			return apperrors.EnabledWebserviceAlreadyExists(e.BoardUUID)
		}
		if isUniqueViolation(err, "enabled_webservices_dns_zone_key") {
			return apperrors.DnsWebserviceAlreadyExists(e.DNS)
		}
		return apperrors.Internal("enabling webservice", err)
	}
	return nil
}

func (r *webserviceRepository) DestroyEnabled(boardUUID string) error {
	res, err := r.db.Exec("DELETE FROM enabled_webservices WHERE board_uuid = $1", boardUUID)
	if err != nil {
		return apperrors.Internal("disabling webservice", err)
	}
	return requireRowsAffected(res, "enabled webservice", apperrors.CodeEnabledWebserviceNotFound, boardUUID)
}
