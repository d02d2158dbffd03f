package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"univote/config"
	"univote/internal/repository"
	"univote/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DSN builds the connection string from config.
func DSN(cfg *config.Config) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)
}

// Connect opens a pgx pool and pings it.
func Connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	// Connection pool settings
	poolCfg.MaxConns = 20
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := HealthCheck(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func HealthCheck(ctx context.Context, pool *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	return nil
}

// Migrate creates the schema, then applies any .sql files in migrationsDir
// in name order. An empty or missing directory is skipped.
func Migrate(ctx context.Context, pool *pgxpool.Pool, migrationsDir string, l *logger.Logger) error {
	if err := repository.InitSchema(ctx, pool); err != nil {
		return err
	}
	return ApplyRawMigrations(ctx, pool, migrationsDir, l)
}

// ApplyRawMigrations reads .sql files from the migrations directory and executes them.
func ApplyRawMigrations(ctx context.Context, pool *pgxpool.Pool, migrationsDir string, l *logger.Logger) error {
	log := logger.OrNop(l)
	if migrationsDir == "" {
		return nil
	}
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var names []string
	for _, file := range files {
		if !file.IsDir() && filepath.Ext(file.Name()) == ".sql" {
			names = append(names, file.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := os.ReadFile(filepath.Join(migrationsDir, name))
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", name, err)
		}
		log.Infof("Applying migration: %s", name)
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}
	}
	return nil
}

// Tables lists the tables InitSchema creates.
var Tables = []string{"users", "user_sessions", "invitations", "polls", "votes", "voter_marks"}

// TableCount returns the row count of a table from Tables.
func TableCount(ctx context.Context, pool *pgxpool.Pool, table string) (int64, error) {
	known := false
	for _, t := range Tables {
		if t == table {
			known = true
			break
		}
	}
	if !known {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var count int64
	err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
	return count, err
}
