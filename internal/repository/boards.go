package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/iotronic/conductor/internal/apperrors"
	"github.com/iotronic/conductor/internal/models"
)

// BoardRepository persists Board records.
type BoardRepository interface {
	GetByID(id int64) (*models.Board, error)
	GetByUUID(uuid string) (*models.Board, error)
	GetByName(name string) (*models.Board, error)
	GetByCode(code string) (*models.Board, error)
	GetByIdentity(identity string) (*models.Board, error)
	List(params ListParams) ([]*models.Board, error)
	ListByAgent(agent string) ([]*models.Board, error)
	Create(b *models.Board) error
	Update(b *models.Board) error
	UpdateStatus(uuid, status string) error
	UpdateAgent(uuid, agent string) error
	Destroy(uuid string) error
}

type boardRepository struct {
	db *sql.DB
}

// NewBoardRepository constructs a Postgres-backed BoardRepository.
func NewBoardRepository(db *sql.DB) BoardRepository {
	return &boardRepository{db: db}
}

const boardColumns = `id, uuid, name, code, status, COALESCE(agent, ''), COALESCE(fleet_uuid, ''),
	config, extra, COALESCE(lr_version, ''), COALESCE(mac_addr, ''), COALESCE(type, ''),
	created_at, updated_at`

func scanBoard(row interface{ Scan(...interface{}) error }) (*models.Board, error) {
	var b models.Board
	var configRaw, extraRaw []byte
	err := row.Scan(&b.ID, &b.UUID, &b.Name, &b.Code, &b.Status, &b.Agent, &b.FleetUUID,
		&configRaw, &extraRaw, &b.LRVersion, &b.MACAddr, &b.Type, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(configRaw) > 0 {
		if err := json.Unmarshal(configRaw, &b.Config); err != nil {
			return nil, fmt.Errorf("decoding board config: %w", err)
		}
	}
	if len(extraRaw) > 0 {
		if err := json.Unmarshal(extraRaw, &b.Extra); err != nil {
			return nil, fmt.Errorf("decoding board extra: %w", err)
		}
	}
	return &b, nil
}

func (r *boardRepository) getByColumn(column, value string) (*models.Board, error) {
	query := fmt.Sprintf("SELECT %s FROM boards WHERE %s = $1", boardColumns, column)
	b, err := scanBoard(r.db.QueryRow(query, value))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFound("board", apperrors.CodeBoardNotFound, value)
		}
		return nil, apperrors.Internal("querying board", err)
	}
	return b, nil
}

func (r *boardRepository) GetByID(id int64) (*models.Board, error) {
	query := fmt.Sprintf("SELECT %s FROM boards WHERE id = $1", boardColumns)
	b, err := scanBoard(r.db.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFound("board", apperrors.CodeBoardNotFound, fmt.Sprintf("%d", id))
		}
		return nil, apperrors.Internal("querying board", err)
	}
	return b, nil
}

func (r *boardRepository) GetByUUID(uuid string) (*models.Board, error) { return r.getByColumn("uuid", uuid) }
func (r *boardRepository) GetByName(name string) (*models.Board, error) { return r.getByColumn("name", name) }
func (r *boardRepository) GetByCode(code string) (*models.Board, error) { return r.getByColumn("code", code) }

// GetByIdentity resolves a board by UUID or, failing that, by name, per the
// "identity may be an id, uuid or name" convention used throughout spec.md §4.
func (r *boardRepository) GetByIdentity(identity string) (*models.Board, error) {
	b, err := r.GetByUUID(identity)
	if err == nil {
		return b, nil
	}
	if !apperrors.Is(err, apperrors.CodeBoardNotFound) {
		return nil, err
	}
	return r.GetByName(identity)
}

func (r *boardRepository) List(params ListParams) ([]*models.Board, error) {
	var args []interface{}
	where := "WHERE 1=1"
	i := 0
	for _, col := range []string{"status", "agent", "fleet_uuid", "type"} {
		if v, ok := params.Filters[col]; ok && v != "" {
			i++
			where += fmt.Sprintf(" AND %s = $%d", col, i)
			args = append(args, v)
		}
	}

	cur, err := resolveMarker(r.db, "boards", "uuid", params.sortKey(), params.Marker)
	if err != nil {
		return nil, apperrors.Internal("resolving list marker", err)
	}
	whereFrag, tail, args := paginationClause(cur, params, i, args)

	query := fmt.Sprintf("SELECT %s FROM boards %s%s%s", boardColumns, where, whereFrag, tail)
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, apperrors.Internal("listing boards", err)
	}
	defer rows.Close()

	var boards []*models.Board
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, apperrors.Internal("scanning board", err)
		}
		boards = append(boards, b)
	}
	return boards, rows.Err()
}

func (r *boardRepository) ListByAgent(agent string) ([]*models.Board, error) {
	query := fmt.Sprintf("SELECT %s FROM boards WHERE agent = $1", boardColumns)
	rows, err := r.db.Query(query, agent)
	if err != nil {
		return nil, apperrors.Internal("listing boards by agent", err)
	}
	defer rows.Close()

	var boards []*models.Board
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, apperrors.Internal("scanning board", err)
		}
		boards = append(boards, b)
	}
	return boards, rows.Err()
}

func (r *boardRepository) Create(b *models.Board) error {
	configRaw, err := json.Marshal(b.Config)
	if err != nil {
		return apperrors.Internal("encoding board config", err)
	}
	extraRaw, err := json.Marshal(b.Extra)
	if err != nil {
		return apperrors.Internal("encoding board extra", err)
	}

	query := `INSERT INTO boards (uuid, name, code, status, agent, fleet_uuid, config, extra, lr_version, mac_addr, type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`
	err = r.db.QueryRow(query, b.UUID, b.Name, b.Code, b.Status, nullString(b.Agent), nullString(b.FleetUUID),
		configRaw, extraRaw, nullString(b.LRVersion), nullString(b.MACAddr), nullString(b.Type)).
		Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "boards_name_key") {
			return apperrors.BoardNameAlreadyExists(b.Name)
		}
		if isUniqueViolation(err, "boards_code_key") {
			return apperrors.DuplicateCode("board")
		}
		return apperrors.Internal("creating board", err)
	}
	return nil
}

func (r *boardRepository) Update(b *models.Board) error {
	configRaw, err := json.Marshal(b.Config)
	if err != nil {
		return apperrors.Internal("encoding board config", err)
	}
	extraRaw, err := json.Marshal(b.Extra)
	if err != nil {
		return apperrors.Internal("encoding board extra", err)
	}

	query := `UPDATE boards SET name=$1, status=$2, agent=$3, fleet_uuid=$4, config=$5, extra=$6,
		lr_version=$7, mac_addr=$8, type=$9, updated_at=NOW() WHERE uuid=$10`
	res, err := r.db.Exec(query, b.Name, b.Status, nullString(b.Agent), nullString(b.FleetUUID),
		configRaw, extraRaw, nullString(b.LRVersion), nullString(b.MACAddr), nullString(b.Type), b.UUID)
	if err != nil {
		return apperrors.Internal("updating board", err)
	}
	return requireRowsAffected(res, "board", apperrors.CodeBoardNotFound, b.UUID)
}

func (r *boardRepository) UpdateStatus(uuid, status string) error {
	res, err := r.db.Exec("UPDATE boards SET status=$1, updated_at=NOW() WHERE uuid=$2", status, uuid)
	if err != nil {
		return apperrors.Internal("updating board status", err)
	}
	return requireRowsAffected(res, "board", apperrors.CodeBoardNotFound, uuid)
}

func (r *boardRepository) UpdateAgent(uuid, agent string) error {
	res, err := r.db.Exec("UPDATE boards SET agent=$1, updated_at=NOW() WHERE uuid=$2", nullString(agent), uuid)
	if err != nil {
		return apperrors.Internal("updating board agent", err)
	}
	return requireRowsAffected(res, "board", apperrors.CodeBoardNotFound, uuid)
}

// Destroy removes a board. Locations, sessions, exposed services, ports,
// injection_plugins and webservices cascade via FK ON DELETE CASCADE, per
// spec.md §3's "Board.destroy cascades" note.
func (r *boardRepository) Destroy(uuid string) error {
	res, err := r.db.Exec("DELETE FROM boards WHERE uuid=$1", uuid)
	if err != nil {
		return apperrors.Internal("deleting board", err)
	}
	return requireRowsAffected(res, "board", apperrors.CodeBoardNotFound, uuid)
}
