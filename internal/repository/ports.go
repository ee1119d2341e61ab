package repository

import (
	"database/sql"
	"fmt"

	"github.com/iotronic/conductor/internal/apperrors"
	"github.com/iotronic/conductor/internal/models"
)

// PortRepository persists Port (virtual network interface) records.
type PortRepository interface {
	GetByUUID(uuid string) (*models.Port, error)
	ListByBoard(boardUUID string) ([]*models.Port, error)
	Create(p *models.Port) error
	Destroy(uuid string) error
}

type portRepository struct {
	db *sql.DB
}

// NewPortRepository constructs a Postgres-backed PortRepository.
func NewPortRepository(db *sql.DB) PortRepository {
	return &portRepository{db: db}
}

const portColumns = `id, uuid, vif_name, mac, COALESCE(ip, ''), COALESCE(network, ''), board_uuid, COALESCE(tcp_port, 0), created_at`

func scanPort(row interface{ Scan(...interface{}) error }) (*models.Port, error) {
	var p models.Port
	if err := row.Scan(&p.ID, &p.UUID, &p.VIFName, &p.MAC, &p.IP, &p.Network, &p.BoardUUID, &p.TCPPort, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *portRepository) GetByUUID(uuid string) (*models.Port, error) {
	query := fmt.Sprintf("SELECT %s FROM ports WHERE uuid = $1", portColumns)
	p, err := scanPort(r.db.QueryRow(query, uuid))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFound("port", apperrors.CodePortNotFound, uuid)
		}
		return nil, apperrors.Internal("querying port", err)
	}
	return p, nil
}

func (r *portRepository) ListByBoard(boardUUID string) ([]*models.Port, error) {
	query := fmt.Sprintf("SELECT %s FROM ports WHERE board_uuid = $1", portColumns)
	rows, err := r.db.Query(query, boardUUID)
	if err != nil {
		return nil, apperrors.Internal("listing ports", err)
	}
	defer rows.Close()

	var ports []*models.Port
	for rows.Next() {
		p, err := scanPort(rows)
		if err != nil {
			return nil, apperrors.Internal("scanning port", err)
		}
		ports = append(ports, p)
	}
	return ports, rows.Err()
}

func (r *portRepository) Create(p *models.Port) error {
	query := `INSERT INTO ports (uuid, vif_name, mac, ip, network, board_uuid, tcp_port)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`
	err := r.db.QueryRow(query, p.UUID, p.VIFName, p.MAC, nullString(p.IP), nullString(p.Network), p.BoardUUID, p.TCPPort).
		Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return apperrors.Internal("creating port", err)
	}
	return nil
}

func (r *portRepository) Destroy(uuid string) error {
	res, err := r.db.Exec("DELETE FROM ports WHERE uuid = $1", uuid)
	if err != nil {
		return apperrors.Internal("deleting port", err)
	}
	return requireRowsAffected(res, "port", apperrors.CodePortNotFound, uuid)
}
