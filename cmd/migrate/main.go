package main

import (
	"context"
	"fmt"
	"os"

	"univote/config"
	"univote/internal/repository"
	"univote/pkg/database"
	"univote/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	flag "github.com/spf13/pflag"
)

const usage = `
UniVote - Database CLI Tool

Usage:
  migrate [command] [flags]

Commands:
  up          Create the schema and apply extra SQL migrations
  status      Show database connection status and row counts
  seed        Create the admin account and the demo polls

Flags:
      --migrations string   Directory of extra .sql files (default "migrations")
      --admin-email string  Admin email for seeding (default "admin@univote.local")
      --admin-pass string   Admin password for seeding (default "Admin@123!")
      --admin-name string   Admin display name (default "Election Admin")
      --fixtures string     YAML file with polls to seed instead of the demo polls
      --no-polls            Seed only the admin account

Examples:
  go run ./cmd/migrate up
  go run ./cmd/migrate seed --fixtures polls.yaml
  go run ./cmd/migrate status
`

func main() {
	defaults := database.DefaultSeedConfig()
	migrationsDir := flag.String("migrations", "migrations", "Directory of extra .sql files")
	adminEmail := flag.String("admin-email", defaults.AdminEmail, "Admin email for seeding")
	adminPass := flag.String("admin-pass", defaults.AdminPassword, "Admin password for seeding")
	adminName := flag.String("admin-name", defaults.AdminName, "Admin display name")
	fixtures := flag.String("fixtures", "", "YAML file with polls to seed")
	noPolls := flag.Bool("no-polls", false, "Seed only the admin account")

	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}
	command := flag.Arg(0)

	cfg := config.LoadConfig()
	l := logger.New(cfg.AppEnv)
	defer l.Sync()

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		l.Errorf("Database connection failed: %v", err)
		os.Exit(1)
	}
	defer pool.Close()

	switch command {
	case "up":
		err = runMigrationsUp(ctx, pool, *migrationsDir, l)
	case "status":
		err = showStatus(ctx, pool, l)
	case "seed":
		err = runSeed(ctx, pool, cfg, &database.SeedConfig{
			AdminEmail:    *adminEmail,
			AdminPassword: *adminPass,
			AdminName:     *adminName,
			DemoPolls:     !*noPolls,
			FixturesFile:  *fixtures,
		}, l)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		l.Errorf("%s failed: %v", command, err)
		os.Exit(1)
	}
}

func runMigrationsUp(ctx context.Context, pool *pgxpool.Pool, migrationsDir string, l *logger.Logger) error {
	l.Infof("Running migrations...")
	if err := database.Migrate(ctx, pool, migrationsDir, l); err != nil {
		return err
	}
	l.Infof("Migrations completed successfully")
	return nil
}

func showStatus(ctx context.Context, pool *pgxpool.Pool, l *logger.Logger) error {
	if err := database.HealthCheck(ctx, pool); err != nil {
		return err
	}
	l.Infof("Database connection: OK")

	for _, table := range database.Tables {
		count, err := database.TableCount(ctx, pool, table)
		if err != nil {
			l.Warnf("Table %-14s unavailable: %v", table, err)
			continue
		}
		l.Infof("Table %-14s %d rows", table, count)
	}
	return nil
}

func runSeed(ctx context.Context, pool *pgxpool.Pool, cfg *config.Config, seedCfg *database.SeedConfig, l *logger.Logger) error {
	if err := repository.InitSchema(ctx, pool); err != nil {
		return err
	}
	repos := repository.NewPostgresRepositories(pool, cfg.DBTimeout)
	result, err := database.Seed(ctx, repos, seedCfg, l)
	if err != nil {
		return err
	}
	l.Infof("Admin user: %s (created: %t)", result.AdminUser.Email, result.AdminCreated)
	l.Infof("Polls seeded: %d", len(result.Polls))
	return nil
}
