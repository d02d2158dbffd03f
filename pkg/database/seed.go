package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"univote/internal/domain/poll"
	"univote/internal/domain/user"
	"univote/internal/repository"
	"univote/internal/services"
	univote_errors "univote/pkg/errors"
	"univote/pkg/logger"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// SeedConfig holds configuration for seeding the database
type SeedConfig struct {
	AdminEmail    string
	AdminPassword string
	AdminName     string
	DemoPolls     bool
	// FixturesFile replaces the built-in demo polls when set.
	FixturesFile string
}

func DefaultSeedConfig() *SeedConfig {
	return &SeedConfig{
		AdminEmail:    "admin@univote.local",
		AdminPassword: "Admin@123!",
		AdminName:     "Election Admin",
		DemoPolls:     true,
	}
}

type SeedResult struct {
	AdminUser    user.User
	AdminCreated bool
	Polls        []poll.Poll
}

// Fixtures is the YAML document accepted by FixturesFile.
type Fixtures struct {
	Polls []PollFixture `yaml:"polls"`
}

type PollFixture struct {
	Title       string        `yaml:"title"`
	Description string        `yaml:"description"`
	Type        poll.Type     `yaml:"type"`
	Options     []poll.Option `yaml:"options"`
	Parties     []poll.Party  `yaml:"parties"`
	// StartsIn and EndsIn are offsets from seeding time, e.g. "0s" and "72h".
	StartsIn  string `yaml:"startsIn"`
	EndsIn    string `yaml:"endsIn"`
	Published bool   `yaml:"published"`
}

// LoadFixtures parses a YAML fixtures file.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	return &f, nil
}

// ToPolls turns fixtures into polls anchored at now.
func (f *Fixtures) ToPolls(now time.Time) ([]poll.Poll, error) {
	out := make([]poll.Poll, 0, len(f.Polls))
	for i, pf := range f.Polls {
		startsIn, err := parseOffset(pf.StartsIn, 0)
		if err != nil {
			return nil, fmt.Errorf("poll %d startsIn: %w", i, err)
		}
		endsIn, err := parseOffset(pf.EndsIn, 7*24*time.Hour)
		if err != nil {
			return nil, fmt.Errorf("poll %d endsIn: %w", i, err)
		}
		p := poll.Poll{
			ID:          uuid.New(),
			Title:       pf.Title,
			Description: pf.Description,
			Type:        pf.Type,
			Options:     pf.Options,
			Parties:     pf.Parties,
			StartsAt:    now.Add(startsIn),
			EndsAt:      now.Add(endsIn),
			Published:   pf.Published,
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("poll %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func parseOffset(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

// DemoPolls returns the two polls a fresh install starts with.
func DemoPolls(now time.Time) []poll.Poll {
	return []poll.Poll{
		{
			ID:          uuid.New(),
			Title:       "Student Representative Council",
			Description: "Elect the SRC President and Deputy President",
			Type:        poll.TypeParty,
			Parties: []poll.Party{
				{
					ID:              uuid.NewString(),
					Name:            "Progressive Students Alliance",
					President:       poll.Candidate{ID: uuid.NewString(), Name: "Alex Johnson"},
					DeputyPresident: poll.Candidate{ID: uuid.NewString(), Name: "Sarah Williams"},
				},
				{
					ID:              uuid.NewString(),
					Name:            "Unity Party",
					President:       poll.Candidate{ID: uuid.NewString(), Name: "Priya Singh"},
					DeputyPresident: poll.Candidate{ID: uuid.NewString(), Name: "Michael Chen"},
				},
			},
			StartsAt: now,
			EndsAt:   now.Add(7 * 24 * time.Hour),
		},
		{
			ID:          uuid.New(),
			Title:       "Cafeteria Menu Additions",
			Description: "Vote on new items to add to the menu",
			Type:        poll.TypeMultiple,
			Options: []poll.Option{
				{ID: uuid.NewString(), Label: "Vegan Bowl"},
				{ID: uuid.NewString(), Label: "Cold Brew Coffee"},
				{ID: uuid.NewString(), Label: "Gluten-free Pasta"},
			},
			StartsAt: now,
			EndsAt:   now.Add(3 * 24 * time.Hour),
		},
	}
}

// Seed ensures the admin account exists and, when the store holds no polls,
// inserts the demo or fixture polls. It is safe to run repeatedly.
func Seed(ctx context.Context, repos *repository.Repositories, cfg *SeedConfig, l *logger.Logger) (*SeedResult, error) {
	log := logger.OrNop(l)
	if cfg == nil {
		cfg = DefaultSeedConfig()
	}
	result := &SeedResult{}

	admin, created, err := ensureAdmin(ctx, repos.Users, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to seed admin user: %w", err)
	}
	result.AdminUser, result.AdminCreated = admin, created

	if !cfg.DemoPolls && cfg.FixturesFile == "" {
		return result, nil
	}
	existing, err := repos.Polls.List(ctx, repository.PollFilter{})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		log.Infof("Polls already exist, skipping poll seed")
		return result, nil
	}

	now := time.Now()
	polls := DemoPolls(now)
	if cfg.FixturesFile != "" {
		fixtures, err := LoadFixtures(cfg.FixturesFile)
		if err != nil {
			return nil, err
		}
		if polls, err = fixtures.ToPolls(now); err != nil {
			return nil, err
		}
	}

	for i := range polls {
		p := polls[i]
		if err := repos.Polls.Create(ctx, &p); err != nil {
			return nil, fmt.Errorf("failed to seed poll %q: %w", p.Title, err)
		}
		result.Polls = append(result.Polls, p)
	}
	log.Infof("Seeded %d polls", len(result.Polls))
	return result, nil
}

func ensureAdmin(ctx context.Context, users repository.UserRepository, cfg *SeedConfig) (user.User, bool, error) {
	existing, err := users.GetUserByEmail(ctx, cfg.AdminEmail)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, univote_errors.ErrNotFound) {
		return user.User{}, false, err
	}

	hash, err := services.HashPassword(cfg.AdminPassword)
	if err != nil {
		return user.User{}, false, err
	}
	u := &user.User{
		ID:           uuid.New(),
		Email:        cfg.AdminEmail,
		Name:         cfg.AdminName,
		PasswordHash: hash,
		Role:         user.RoleAdmin,
	}
	if err := users.Create(ctx, u); err != nil {
		return user.User{}, false, err
	}
	return *u, true, nil
}
