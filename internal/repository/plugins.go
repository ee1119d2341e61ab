package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/iotronic/conductor/internal/apperrors"
	"github.com/iotronic/conductor/internal/models"
)

// PluginRepository persists Plugin records and their per-board injection state.
type PluginRepository interface {
	GetByUUID(uuid string) (*models.Plugin, error)
	GetByName(name string) (*models.Plugin, error)
	List(params ListParams) ([]*models.Plugin, error)
	Create(p *models.Plugin) error
	Update(p *models.Plugin) error
	Destroy(uuid string) error

	GetInjection(boardUUID, pluginUUID string) (*models.InjectionPlugin, error)
	ListInjectionsByBoard(boardUUID string) ([]*models.InjectionPlugin, error)
	UpsertInjection(inj *models.InjectionPlugin) error
	RemoveInjection(boardUUID, pluginUUID string) error
}

type pluginRepository struct {
	db *sql.DB
}

// NewPluginRepository constructs a Postgres-backed PluginRepository.
func NewPluginRepository(db *sql.DB) PluginRepository {
	return &pluginRepository{db: db}
}

const pluginColumns = `id, uuid, name, COALESCE(owner, ''), code, public, callable, parameters, created_at, updated_at`

func scanPlugin(row interface{ Scan(...interface{}) error }) (*models.Plugin, error) {
	var p models.Plugin
	var paramsRaw []byte
	if err := row.Scan(&p.ID, &p.UUID, &p.Name, &p.Owner, &p.Code, &p.Public, &p.Callable, &paramsRaw, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if len(paramsRaw) > 0 {
		if err := json.Unmarshal(paramsRaw, &p.Parameters); err != nil {
			return nil, fmt.Errorf("decoding plugin parameters: %w", err)
		}
	}
	return &p, nil
}

func (r *pluginRepository) GetByUUID(uuid string) (*models.Plugin, error) {
	query := fmt.Sprintf("SELECT %s FROM plugins WHERE uuid = $1", pluginColumns)
	p, err := scanPlugin(r.db.QueryRow(query, uuid))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFound("plugin", apperrors.CodePluginNotFound, uuid)
		}
		return nil, apperrors.Internal("querying plugin", err)
	}
	return p, nil
}

func (r *pluginRepository) GetByName(name string) (*models.Plugin, error) {
	query := fmt.Sprintf("SELECT %s FROM plugins WHERE name = $1", pluginColumns)
	p, err := scanPlugin(r.db.QueryRow(query, name))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFound("plugin", apperrors.CodePluginNotFound, name)
		}
		return nil, apperrors.Internal("querying plugin", err)
	}
	return p, nil
}

func (r *pluginRepository) List(params ListParams) ([]*models.Plugin, error) {
	var args []interface{}
	where := "WHERE 1=1"
	i := 0
	for _, col := range []string{"owner", "public", "callable"} {
		if v, ok := params.Filters[col]; ok && v != "" {
			i++
			where += fmt.Sprintf(" AND %s = $%d", col, i)
			args = append(args, v)
		}
	}
	cur, err := resolveMarker(r.db, "plugins", "uuid", params.sortKey(), params.Marker)
	if err != nil {
		return nil, apperrors.Internal("resolving list marker", err)
	}
	whereFrag, tail, args := paginationClause(cur, params, i, args)

	query := fmt.Sprintf("SELECT %s FROM plugins %s%s%s", pluginColumns, where, whereFrag, tail)
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, apperrors.Internal("listing plugins", err)
	}
	defer rows.Close()

	var plugins []*models.Plugin
	for rows.Next() {
		p, err := scanPlugin(rows)
		if err != nil {
			return nil, apperrors.Internal("scanning plugin", err)
		}
		plugins = append(plugins, p)
	}
	return plugins, rows.Err()
}

func (r *pluginRepository) Create(p *models.Plugin) error {
	paramsRaw, err := json.Marshal(p.Parameters)
	if err != nil {
		return apperrors.Internal("encoding plugin parameters", err)
	}
	query := `INSERT INTO plugins (uuid, name, owner, code, public, callable, parameters)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at, updated_at`
	err = r.db.QueryRow(query, p.UUID, p.Name, nullString(p.Owner), p.Code, p.Public, p.Callable, paramsRaw).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return apperrors.Internal("creating plugin", err)
	}
	return nil
}

func (r *pluginRepository) Update(p *models.Plugin) error {
	paramsRaw, err := json.Marshal(p.Parameters)
	if err != nil {
		return apperrors.Internal("encoding plugin parameters", err)
	}
	res, err := r.db.Exec(`UPDATE plugins SET name=$1, code=$2, public=$3, callable=$4, parameters=$5, updated_at=NOW() WHERE uuid=$6`,
		p.Name, p.Code, p.Public, p.Callable, paramsRaw, p.UUID)
	if err != nil {
		return apperrors.Internal("updating plugin", err)
	}
	return requireRowsAffected(res, "plugin", apperrors.CodePluginNotFound, p.UUID)
}

func (r *pluginRepository) Destroy(uuid string) error {
	res, err := r.db.Exec("DELETE FROM plugins WHERE uuid = $1", uuid)
	if err != nil {
		return apperrors.Internal("deleting plugin", err)
	}
	return requireRowsAffected(res, "plugin", apperrors.CodePluginNotFound, uuid)
}

const injectionColumns = `board_uuid, plugin_uuid, onboot, status, created_at, updated_at`

func scanInjection(row interface{ Scan(...interface{}) error }) (*models.InjectionPlugin, error) {
	var inj models.InjectionPlugin
	if err := row.Scan(&inj.BoardUUID, &inj.PluginUUID, &inj.Onboot, &inj.Status, &inj.CreatedAt, &inj.UpdatedAt); err != nil {
		return nil, err
	}
	return &inj, nil
}

func (r *pluginRepository) GetInjection(boardUUID, pluginUUID string) (*models.InjectionPlugin, error) {
	query := fmt.Sprintf("SELECT %s FROM injection_plugins WHERE board_uuid = $1 AND plugin_uuid = $2", injectionColumns)
	inj, err := scanInjection(r.db.QueryRow(query, boardUUID, pluginUUID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFound("injection", apperrors.CodePluginNotFound, pluginUUID)
		}
		return nil, apperrors.Internal("querying injection", err)
	}
	return inj, nil
}

func (r *pluginRepository) ListInjectionsByBoard(boardUUID string) ([]*models.InjectionPlugin, error) {
	query := fmt.Sprintf("SELECT %s FROM injection_plugins WHERE board_uuid = $1", injectionColumns)
	rows, err := r.db.Query(query, boardUUID)
	if err != nil {
		return nil, apperrors.Internal("listing injections", err)
	}
	defer rows.Close()

	var injections []*models.InjectionPlugin
	for rows.Next() {
		inj, err := scanInjection(rows)
		if err != nil {
			return nil, apperrors.Internal("scanning injection", err)
		}
		injections = append(injections, inj)
	}
	return injections, rows.Err()
}

func (r *pluginRepository) UpsertInjection(inj *models.InjectionPlugin) error {
	query := `INSERT INTO injection_plugins (board_uuid, plugin_uuid, onboot, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (board_uuid, plugin_uuid) DO UPDATE SET onboot = EXCLUDED.onboot, status = EXCLUDED.status, updated_at = NOW()
		RETURNING created_at, updated_at`
	return r.db.QueryRow(query, inj.BoardUUID, inj.PluginUUID, inj.Onboot, inj.Status).Scan(&inj.CreatedAt, &inj.UpdatedAt)
}

func (r *pluginRepository) RemoveInjection(boardUUID, pluginUUID string) error {
	res, err := r.db.Exec("DELETE FROM injection_plugins WHERE board_uuid = $1 AND plugin_uuid = $2", boardUUID, pluginUUID)
	if err != nil {
		return apperrors.Internal("removing injection", err)
	}
	return requireRowsAffected(res, "injection", apperrors.CodePluginNotFound, pluginUUID)
}
