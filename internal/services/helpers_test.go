package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"univote/config"
	"univote/internal/domain/poll"
	"univote/internal/domain/user"
	"univote/internal/mail"
	"univote/internal/otp"
	"univote/internal/repository"
	"univote/pkg/events"

	"github.com/google/uuid"
)

type codeInbox struct {
	mu   sync.Mutex
	last map[string]string
}

func (c *codeInbox) SendVerificationCode(_ context.Context, msg mail.VerificationEmail) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		c.last = make(map[string]string)
	}
	c.last[msg.To] = msg.Code
	return nil
}

func (c *codeInbox) codeFor(email string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last[email]
}

type fixture struct {
	repos   *repository.Repositories
	broker  *events.MemoryBroker
	inbox   *codeInbox
	otp     *otp.Service
	auth    *AuthService
	polls   *PollService
	votes   *VoteService
	results *ResultsService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repos := repository.NewMemoryRepositories()
	broker := events.NewMemoryBroker(nil)
	pub := NewEventPublisher(broker, nil)
	inbox := &codeInbox{}
	otpSvc := otp.NewService(otp.NewMemoryStore(), inbox, otp.Config{}, nil)
	cfg := &config.Config{JWTSecret: "test-secret", JWTExpiryMin: 15, RefreshExpiry: 14}

	results := NewResultsService(repos.Polls, repos.Votes, nil, nil, nil)
	return &fixture{
		repos:   repos,
		broker:  broker,
		inbox:   inbox,
		otp:     otpSvc,
		auth:    NewAuthService(repos.Users, repos.Invitations, nil, cfg, nil),
		polls:   NewPollService(repos.Polls, repos.Votes, nil, pub, nil).WithArchiver(results),
		votes:   NewVoteService(repos.Polls, repos.Votes, otpSvc, pub, nil),
		results: results,
	}
}

func (f *fixture) student(t *testing.T, email string) Caller {
	t.Helper()
	resp, err := f.auth.Register(context.Background(), RegisterInput{Email: email, Name: "Student", Password: "secret123"})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return Caller{UserID: uuid.MustParse(resp.User.ID), SessionID: uuid.MustParse(resp.SessionID), Email: resp.User.Email, Role: resp.User.Role}
}

func adminCaller() Caller {
	return Caller{UserID: uuid.New(), Email: "admin@univote.test", Role: user.RoleAdmin}
}

func (f *fixture) activePoll(t *testing.T, typ poll.Type) poll.Poll {
	t.Helper()
	now := time.Now()
	in := CreatePollInput{
		Title:    "Student council",
		Type:     typ,
		StartsAt: now.Add(-time.Hour),
		EndsAt:   now.Add(time.Hour),
	}
	if typ == poll.TypeParty {
		in.Parties = []poll.Party{
			{ID: "p1", Name: "Blue", President: poll.Candidate{ID: "c1", Name: "Ann"}, DeputyPresident: poll.Candidate{ID: "c2", Name: "Ben"}},
			{ID: "p2", Name: "Green", President: poll.Candidate{ID: "c3", Name: "Cid"}, DeputyPresident: poll.Candidate{ID: "c4", Name: "Dee"}},
		}
	} else {
		in.Options = []poll.Option{{ID: "a", Label: "Alpha"}, {ID: "b", Label: "Beta"}, {ID: "c", Label: "Gamma"}}
	}
	v, err := f.polls.Create(context.Background(), adminCaller(), in)
	if err != nil {
		t.Fatalf("create poll: %v", err)
	}
	return v.Poll
}
