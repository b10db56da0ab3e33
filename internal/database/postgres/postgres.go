package postgres

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"permission-service/internal/config"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

var DB_Status bool

func ConnectAndCreateDB(cfg config.PostgresConfig) (*sqlx.DB, error) {
	defaultConnStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=postgres sslmode=disable",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password)

	defaultDB, err := sql.Open("postgres", defaultConnStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to default postgres db: %w", err)
	}
	defer defaultDB.Close()

	var exists bool
	checkQuery := `SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)`
	err = defaultDB.QueryRow(checkQuery, cfg.DBname).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check if database exists: %w", err)
	}

	if !exists {
		createQuery := fmt.Sprintf(`CREATE DATABASE "%s"`, cfg.DBname)
		_, err = defaultDB.Exec(createQuery)
		if err != nil {
			return nil, fmt.Errorf("failed to create database %s: %w", cfg.DBname, err)
		}
		log.Printf("Database '%s' created successfully", cfg.DBname)
	}

	targetConnStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.DBname)

	db, err := sqlx.Connect("postgres", targetConnStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to target database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping target database: %w", err)
	}

	if err := EnsureSchema(db); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	DB_Status = true

	return db, nil
}

func RetryConnectOnFailed(wait_amount time.Duration, db **sqlx.DB, cfg config.PostgresConfig) {
	if DB_Status {
		log.Printf("false database lost connnection alert! abort retry")
		return
	}
	cur_db := *db
	if cur_db != nil {
		if err := cur_db.Ping(); err != nil {
			log.Printf("failed to ping target database: %s, retry db connection\n", err)
		}
	}

	newDB, err := ConnectAndCreateDB(cfg)
	if err == nil {
		*db = newDB
		log.Printf("database retry connection successfully\n")
		return
	}
	log.Printf("failed to retry connect database: %s, next retry in %v\n", err, wait_amount)
	time.Sleep(wait_amount)

	RetryConnectOnFailed(wait_amount, db, cfg)
}

// EnsureSchema creates the tables this service owns. The identity subsystem's
// roles/user_roles tables are read-only collaborators and are not created
// here.
func EnsureSchema(db *sqlx.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS permissions (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			category TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS user_permissions (
			id SERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			permission_id INTEGER NOT NULL REFERENCES permissions(id),
			granted_at TIMESTAMPTZ NOT NULL,
			granted_by TEXT NOT NULL,
			reason TEXT,
			expires_at TIMESTAMPTZ,
			revoked_at TIMESTAMPTZ,
			revoked_by TEXT,
			UNIQUE (user_id, permission_id)
		)`,
		`CREATE TABLE IF NOT EXISTS role_permissions (
			id SERIAL PRIMARY KEY,
			role_id TEXT NOT NULL,
			permission_id INTEGER NOT NULL REFERENCES permissions(id),
			granted_at TIMESTAMPTZ NOT NULL,
			granted_by TEXT NOT NULL,
			reason TEXT,
			expires_at TIMESTAMPTZ,
			revoked_at TIMESTAMPTZ,
			revoked_by TEXT,
			UNIQUE (role_id, permission_id)
		)`,
		`CREATE TABLE IF NOT EXISTS permission_audit (
			id BIGSERIAL PRIMARY KEY,
			subject_type TEXT NOT NULL,
			subject_id TEXT NOT NULL,
			permission_name TEXT NOT NULL,
			action TEXT NOT NULL,
			actor TEXT NOT NULL,
			reason TEXT,
			previous_state TEXT NOT NULL DEFAULT '',
			new_state TEXT NOT NULL DEFAULT '',
			correlation_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (correlation_id, subject_type, subject_id, permission_name, action)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_permission_audit_subject
			ON permission_audit (subject_type, subject_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_user_permissions_user
			ON user_permissions (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_role_permissions_role
			ON role_permissions (role_id)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}
