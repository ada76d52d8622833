package database

import (
	"context"
	"fmt"
)

// CreateSchema creates the gateway schema: users, sessions and the
// append-only audit trail.
func (db *DB) CreateSchema(ctx context.Context) error {
	db.logger.Info("Creating database schema...")

	if err := db.createExtensions(ctx); err != nil {
		return fmt.Errorf("failed to create extensions: %w", err)
	}

	tables := []string{
		createUsersTable,
		createSessionsTable,
		createAuditRecordsTable,
		createAuditSequencesTable,
	}

	for _, table := range tables {
		if _, err := db.ExecContext(ctx, table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		createUsersIndexes,
		createSessionsIndexes,
		createAuditRecordsIndexes,
	}

	for _, index := range indexes {
		if _, err := db.ExecContext(ctx, index); err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	// Immutability is structural: the trigger makes UPDATE and DELETE on
	// audit_records fail regardless of the caller's SQL.
	if _, err := db.ExecContext(ctx, createAuditImmutabilityTrigger); err != nil {
		return fmt.Errorf("failed to install audit immutability trigger: %w", err)
	}

	db.logger.Info("Database schema created successfully")
	return nil
}

// createExtensions creates required PostgreSQL extensions.
func (db *DB) createExtensions(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`); err != nil {
		return fmt.Errorf("failed to create extension: %w", err)
	}
	return nil
}

// SQL DDL statements for table creation
const (
	createUsersTable = `
		CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			username VARCHAR(50) UNIQUE NOT NULL,
			email VARCHAR(255) UNIQUE NOT NULL,
			password_hash VARCHAR(100) NOT NULL,
			roles TEXT[] NOT NULL,
				assigned_patients TEXT[] NOT NULL DEFAULT '{}',
			mfa_secret VARCHAR(64),
			failed_attempts INTEGER NOT NULL DEFAULT 0,
			locked_until TIMESTAMP WITH TIME ZONE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);`

	createSessionsTable = `
		CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id),
			origin VARCHAR(64) NOT NULL,
			refresh_hash VARCHAR(64) NOT NULL,
			issued_at TIMESTAMP WITH TIME ZONE NOT NULL,
			expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
			last_refresh_at TIMESTAMP WITH TIME ZONE NOT NULL,
			revoked BOOLEAN NOT NULL DEFAULT FALSE
		);`

	createAuditRecordsTable = `
		CREATE TABLE IF NOT EXISTS audit_records (
			id UUID PRIMARY KEY,
			partition VARCHAR(50) NOT NULL,
			seq BIGINT NOT NULL,
			kind VARCHAR(10) NOT NULL,
			ref_id UUID,
			timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
			user_id UUID NOT NULL,
			action VARCHAR(20) NOT NULL,
			resource_type VARCHAR(50) NOT NULL,
			resource_id VARCHAR(100),
			decision VARCHAR(10),
			outcome VARCHAR(30),
			status INTEGER,
			backend VARCHAR(50),
			latency_ms BIGINT,
			detail TEXT,
			UNIQUE (partition, seq)
		);`

	createAuditSequencesTable = `
		CREATE TABLE IF NOT EXISTS audit_sequences (
			partition VARCHAR(50) PRIMARY KEY,
			last_seq BIGINT NOT NULL DEFAULT 0
		);`
)

// SQL DDL statements for index creation
const (
	createUsersIndexes = `
		CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);
		CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);`

	createSessionsIndexes = `
		CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_refresh_hash ON sessions(refresh_hash);
		CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);`

	createAuditRecordsIndexes = `
		CREATE INDEX IF NOT EXISTS idx_audit_records_resource ON audit_records(resource_id, timestamp);
		CREATE INDEX IF NOT EXISTS idx_audit_records_user_id ON audit_records(user_id);
		CREATE INDEX IF NOT EXISTS idx_audit_records_timestamp ON audit_records(timestamp);`
)

const createAuditImmutabilityTrigger = `
	CREATE OR REPLACE FUNCTION reject_audit_mutation() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'audit_records is append-only';
	END;
	$$ LANGUAGE plpgsql;

	DROP TRIGGER IF EXISTS audit_records_immutable ON audit_records;
	CREATE TRIGGER audit_records_immutable
		BEFORE UPDATE OR DELETE ON audit_records
		FOR EACH ROW EXECUTE FUNCTION reject_audit_mutation();`
