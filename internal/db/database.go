// Package db provides PostgreSQL connection management and schema migration
// for the Conductor.
//
// Ported from the teacher's internal/db package: database/sql plus lib/pq,
// a connection pool sized for a long-lived daemon process, and a Migrate
// method that runs idempotent CREATE TABLE IF NOT EXISTS statements instead
// of a separate migration tool.
package db

import (
	"database/sql"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Config holds database connection settings.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Database wraps a pooled Postgres connection.
type Database struct {
	db *sql.DB
}

func validateConfig(config Config) error {
	if config.Host == "" {
		return fmt.Errorf("database host cannot be empty")
	}
	if net.ParseIP(config.Host) == nil {
		hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-\.]{0,253}[a-zA-Z0-9])?$`)
		if !hostnameRegex.MatchString(config.Host) {
			return fmt.Errorf("invalid database host: %s", config.Host)
		}
	}

	if config.Port == "" {
		return fmt.Errorf("database port cannot be empty")
	}
	port, err := strconv.Atoi(config.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid database port: %s (must be 1-65535)", config.Port)
	}

	if config.User == "" {
		return fmt.Errorf("database user cannot be empty")
	}
	userRegex := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if !userRegex.MatchString(config.User) {
		return fmt.Errorf("invalid database user: %s", config.User)
	}

	if config.DBName == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	dbNameRegex := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if !dbNameRegex.MatchString(config.DBName) {
		return fmt.Errorf("invalid database name: %s", config.DBName)
	}

	validSSLModes := []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
	if config.SSLMode != "" {
		valid := false
		for _, mode := range validSSLModes {
			if config.SSLMode == mode {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid SSL mode: %s (must be one of: %s)", config.SSLMode, strings.Join(validSSLModes, ", "))
		}
	}

	return nil
}

// NewDatabase opens a pooled connection and pings it.
func NewDatabase(config Config) (*Database, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetConnMaxIdleTime(1 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{db: sqlDB}, nil
}

// NewDatabaseForTesting wraps an existing *sql.DB, for use with sqlmock.
func NewDatabaseForTesting(sqlDB *sql.DB) *Database {
	return &Database{db: sqlDB}
}

// Close closes the pool.
func (d *Database) Close() error {
	return d.db.Close()
}

// DB returns the underlying *sql.DB for repositories to build queries against.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Migrate creates the Conductor's schema if it does not already exist.
// Entity shapes follow spec.md §3 ([MODULE] Repository) field lists.
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS fleets (
			id SERIAL PRIMARY KEY,
			uuid VARCHAR(36) UNIQUE NOT NULL,
			name VARCHAR(255) UNIQUE NOT NULL,
			project VARCHAR(255),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS boards (
			id SERIAL PRIMARY KEY,
			uuid VARCHAR(36) UNIQUE NOT NULL,
			name VARCHAR(255) UNIQUE NOT NULL,
			code VARCHAR(255) UNIQUE NOT NULL,
			status VARCHAR(50) NOT NULL DEFAULT 'registered',
			agent VARCHAR(255),
			fleet_uuid VARCHAR(36) REFERENCES fleets(uuid) ON DELETE SET NULL,
			config JSONB DEFAULT '{}',
			extra JSONB DEFAULT '{}',
			lr_version VARCHAR(50),
			mac_addr VARCHAR(64),
			type VARCHAR(50),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_boards_status ON boards(status)`,
		`CREATE INDEX IF NOT EXISTS idx_boards_agent ON boards(agent)`,
		`CREATE INDEX IF NOT EXISTS idx_boards_fleet_uuid ON boards(fleet_uuid)`,

		`CREATE TABLE IF NOT EXISTS board_connectivity (
			board_uuid VARCHAR(36) PRIMARY KEY REFERENCES boards(uuid) ON DELETE CASCADE,
			iface_name VARCHAR(64),
			mobile_mcc VARCHAR(16),
			mobile_mnc VARCHAR(16),
			ip VARCHAR(64),
			type VARCHAR(32)
		)`,

		`CREATE TABLE IF NOT EXISTS locations (
			id SERIAL PRIMARY KEY,
			board_uuid VARCHAR(36) NOT NULL REFERENCES boards(uuid) ON DELETE CASCADE,
			longitude DOUBLE PRECISION,
			latitude DOUBLE PRECISION,
			altitude DOUBLE PRECISION,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_locations_board_uuid ON locations(board_uuid)`,

		`CREATE TABLE IF NOT EXISTS agents (
			hostname VARCHAR(255) PRIMARY KEY,
			ws_url VARCHAR(512) NOT NULL,
			online BOOLEAN NOT NULL DEFAULT false,
			ragent BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_online ON agents(online)`,

		`CREATE TABLE IF NOT EXISTS conductors (
			hostname VARCHAR(255) PRIMARY KEY,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id SERIAL PRIMARY KEY,
			session_id BIGINT NOT NULL,
			board_uuid VARCHAR(36) NOT NULL REFERENCES boards(uuid) ON DELETE CASCADE,
			valid BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_board_valid ON sessions(board_uuid) WHERE valid`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_session_id ON sessions(session_id)`,

		`CREATE TABLE IF NOT EXISTS plugins (
			id SERIAL PRIMARY KEY,
			uuid VARCHAR(36) UNIQUE NOT NULL,
			name VARCHAR(255) NOT NULL,
			owner VARCHAR(255),
			code BYTEA,
			public BOOLEAN NOT NULL DEFAULT false,
			callable BOOLEAN NOT NULL DEFAULT false,
			parameters JSONB DEFAULT '{}',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS injection_plugins (
			board_uuid VARCHAR(36) NOT NULL REFERENCES boards(uuid) ON DELETE CASCADE,
			plugin_uuid VARCHAR(36) NOT NULL REFERENCES plugins(uuid) ON DELETE CASCADE,
			onboot BOOLEAN NOT NULL DEFAULT false,
			status VARCHAR(50) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (board_uuid, plugin_uuid)
		)`,

		`CREATE TABLE IF NOT EXISTS services (
			id SERIAL PRIMARY KEY,
			uuid VARCHAR(36) UNIQUE NOT NULL,
			name VARCHAR(255) NOT NULL,
			protocol VARCHAR(32) NOT NULL,
			port INT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS exposed_services (
			id SERIAL PRIMARY KEY,
			board_uuid VARCHAR(36) NOT NULL REFERENCES boards(uuid) ON DELETE CASCADE,
			service_uuid VARCHAR(36) NOT NULL REFERENCES services(uuid) ON DELETE CASCADE,
			public_port INT UNIQUE NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(board_uuid, service_uuid)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exposed_services_board_uuid ON exposed_services(board_uuid)`,

		`CREATE TABLE IF NOT EXISTS webservices (
			id SERIAL PRIMARY KEY,
			uuid VARCHAR(36) UNIQUE NOT NULL,
			name VARCHAR(255) NOT NULL,
			port INT NOT NULL,
			board_uuid VARCHAR(36) NOT NULL REFERENCES boards(uuid) ON DELETE CASCADE,
			secure BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS enabled_webservices (
			id SERIAL PRIMARY KEY,
			board_uuid VARCHAR(36) UNIQUE NOT NULL REFERENCES boards(uuid) ON DELETE CASCADE,
			http_port INT,
			https_port INT,
			dns VARCHAR(255) NOT NULL,
			zone VARCHAR(255) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(dns, zone)
		)`,

		`CREATE TABLE IF NOT EXISTS ports (
			id SERIAL PRIMARY KEY,
			uuid VARCHAR(36) UNIQUE NOT NULL,
			vif_name VARCHAR(64) NOT NULL,
			mac VARCHAR(64) NOT NULL,
			ip VARCHAR(64),
			network VARCHAR(255),
			board_uuid VARCHAR(36) NOT NULL REFERENCES boards(uuid) ON DELETE CASCADE,
			tcp_port INT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ports_board_uuid ON ports(board_uuid)`,

		`CREATE TABLE IF NOT EXISTS requests (
			id SERIAL PRIMARY KEY,
			uuid VARCHAR(36) UNIQUE NOT NULL,
			destination_uuid VARCHAR(36) NOT NULL,
			main_request_uuid VARCHAR(36) REFERENCES requests(uuid) ON DELETE CASCADE,
			pending_requests INT NOT NULL DEFAULT 0,
			status VARCHAR(50) NOT NULL DEFAULT 'PENDING',
			type VARCHAR(32) NOT NULL,
			action VARCHAR(255) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_main_request_uuid ON requests(main_request_uuid)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_destination_uuid ON requests(destination_uuid)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status)`,

		`CREATE TABLE IF NOT EXISTS results (
			id SERIAL PRIMARY KEY,
			request_uuid VARCHAR(36) NOT NULL REFERENCES requests(uuid) ON DELETE CASCADE,
			board_uuid VARCHAR(36) NOT NULL,
			result VARCHAR(32) NOT NULL DEFAULT 'RUNNING',
			message TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(request_uuid, board_uuid)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_board_uuid ON results(board_uuid)`,
	}

	for _, stmt := range migrations {
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("running migration: %w", err)
		}
	}
	return nil
}
