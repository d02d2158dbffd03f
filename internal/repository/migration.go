package repository

import (
	"context"
	"fmt"
)

// InitSchema creates extensions, enums, tables and indexes. Every statement
// is idempotent so it runs on each start.
func InitSchema(ctx context.Context, db DBTX) error {
	// 1. Extensions
	// Creating extensions usually requires superuser privileges.
	extensions := []string{
		`CREATE EXTENSION IF NOT EXISTS "pgcrypto";`,
		`CREATE EXTENSION IF NOT EXISTS "citext";`,
	}
	for _, ext := range extensions {
		if _, err := db.Exec(ctx, ext); err != nil {
			return fmt.Errorf("failed to create extension: %w", err)
		}
	}

	// 2. Enums
	enums := []string{
		`DO $$ BEGIN
			CREATE TYPE poll_type AS ENUM ('single', 'multiple', 'party');
		EXCEPTION
			WHEN duplicate_object THEN null;
		END $$;`,
		`DO $$ BEGIN
			CREATE TYPE user_role AS ENUM ('admin', 'student');
		EXCEPTION
			WHEN duplicate_object THEN null;
		END $$;`,
	}
	for _, enum := range enums {
		if _, err := db.Exec(ctx, enum); err != nil {
			return fmt.Errorf("failed to create enum: %w", err)
		}
	}

	// 3. Tables
	// votes carry no voter identity; voter_marks holds who voted where.
	tables := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id            uuid PRIMARY KEY DEFAULT gen_random_uuid(),
			email         citext NOT NULL UNIQUE,
			name          text NOT NULL DEFAULT '',
			password_hash text NOT NULL,
			role          user_role NOT NULL DEFAULT 'student',
			created_at    timestamptz NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS user_sessions (
			id                 uuid PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id            uuid NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			refresh_token_hash text NOT NULL,
			expires_at         timestamptz NOT NULL,
			is_revoked         boolean NOT NULL DEFAULT false,
			created_at         timestamptz NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS invitations (
			id         uuid PRIMARY KEY DEFAULT gen_random_uuid(),
			email      citext NOT NULL,
			token      text NOT NULL UNIQUE,
			used       boolean NOT NULL DEFAULT false,
			created_by uuid REFERENCES users(id) ON DELETE SET NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS polls (
			id          uuid PRIMARY KEY DEFAULT gen_random_uuid(),
			title       text NOT NULL,
			description text NOT NULL DEFAULT '',
			type        poll_type NOT NULL,
			options     jsonb NOT NULL DEFAULT '[]',
			parties     jsonb NOT NULL DEFAULT '[]',
			starts_at   timestamptz NOT NULL,
			ends_at     timestamptz NOT NULL,
			published   boolean NOT NULL DEFAULT false,
			created_at  timestamptz NOT NULL DEFAULT now(),
			CONSTRAINT polls_window_chk CHECK (ends_at > starts_at)
		);`,
		`CREATE TABLE IF NOT EXISTS votes (
			id         uuid PRIMARY KEY DEFAULT gen_random_uuid(),
			poll_id    uuid NOT NULL REFERENCES polls(id) ON DELETE CASCADE,
			option_ids text[] NOT NULL CHECK (cardinality(option_ids) >= 1),
			created_at timestamptz NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS voter_marks (
			poll_id    uuid NOT NULL REFERENCES polls(id) ON DELETE CASCADE,
			user_id    uuid NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at timestamptz NOT NULL DEFAULT now(),
			PRIMARY KEY (poll_id, user_id)
		);`,
	}
	for _, stmt := range tables {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	// 4. Indexes
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_votes_poll_id ON votes (poll_id);`,
		`CREATE INDEX IF NOT EXISTS idx_user_sessions_user_id ON user_sessions (user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_polls_created_at ON polls (created_at DESC);`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}
