package accounts

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the schema migrations for accounts and departments
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create departments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS departments (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL,
					code VARCHAR(128) NOT NULL,
					name VARCHAR(255) NOT NULL,
					english_name VARCHAR(255) NOT NULL DEFAULT '',
					parent_code VARCHAR(128) NOT NULL DEFAULT '',
					leader_remote_user_id VARCHAR(128) NOT NULL DEFAULT '',
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					UNIQUE(tenant_id, code)
				);
			`,
		},
		{
			Version:     2,
			Description: "Create accounts table",
			SQL: `
				CREATE TABLE IF NOT EXISTS accounts (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL,
					department_id BIGINT REFERENCES departments(id) ON DELETE SET NULL,
					username VARCHAR(255) NOT NULL,
					email VARCHAR(255) NOT NULL,
					name VARCHAR(255) NOT NULL DEFAULT '',
					avatar TEXT NOT NULL DEFAULT '',
					mobile VARCHAR(64) NOT NULL DEFAULT '',
					position VARCHAR(255) NOT NULL DEFAULT '',
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					attributes JSONB NOT NULL DEFAULT '{}',
					last_login_at TIMESTAMP WITH TIME ZONE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					UNIQUE(tenant_id, username)
				);

				CREATE INDEX IF NOT EXISTS idx_accounts_tenant_email ON accounts(tenant_id, email);
			`,
		},
		{
			Version:     3,
			Description: "Unique platform binding per account",
			SQL: `
				CREATE UNIQUE INDEX IF NOT EXISTS ` + bindingIndex + `
					ON accounts ((attributes->'binding'->>'remoteUserId'))
					WHERE attributes->'binding'->>'remoteUserId' IS NOT NULL;
			`,
		},
	}
}

// RunMigrations applies pending migrations, each in its own transaction
func RunMigrations(ctx context.Context, db *sql.DB, logger *logrus.Logger) error {
	if logger == nil {
		logger = logrus.New()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS larkbridge_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM larkbridge_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, m := range GetMigrations() {
		if applied[m.Version] {
			continue
		}
		log := logger.WithField("version", m.Version)
		log.Infof("Running migration: %s", m.Description)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO larkbridge_migrations (version, description) VALUES ($1, $2)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
