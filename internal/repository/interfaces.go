package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"univote/internal/domain/poll"
	"univote/internal/domain/user"
)

type UserRepository interface {
	Create(ctx context.Context, u *user.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	CountAdmins(ctx context.Context) (int, error)

	CreateSession(ctx context.Context, s *user.UserSession) error
	GetSessionByID(ctx context.Context, sessionID uuid.UUID) (user.UserSession, error)
	UpdateSession(ctx context.Context, s user.UserSession) error
	RevokeSession(ctx context.Context, sessionID uuid.UUID) error
	RevokeAllUserSessions(ctx context.Context, userID uuid.UUID) error
	CleanExpiredSessions(ctx context.Context) error
}

type InvitationRepository interface {
	Create(ctx context.Context, inv *user.Invitation) error
	GetByToken(ctx context.Context, token string) (user.Invitation, error)
	List(ctx context.Context) ([]user.Invitation, error)
	// MarkUsed flips used once; a second call returns ErrAlreadyExists.
	MarkUsed(ctx context.Context, id uuid.UUID) error
}

type PollFilter struct {
	PublishedOnly bool
}

type PollRepository interface {
	Create(ctx context.Context, p *poll.Poll) error
	GetByID(ctx context.Context, id uuid.UUID) (poll.Poll, error)
	// List returns polls newest first.
	List(ctx context.Context, f PollFilter) ([]poll.Poll, error)
	SetPublished(ctx context.Context, id uuid.UUID, published bool) error
	// Close moves endsAt to at, pulling startsAt back if the poll had not started.
	Close(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type VoteRepository interface {
	// InsertVote records the vote and the voter's has-voted marker atomically.
	// It fails with ErrPollClosed when now is past endsAt, and with
	// ErrAlreadyVoted when the marker already exists.
	InsertVote(ctx context.Context, v *poll.Vote, voterID uuid.UUID, now time.Time) error
	HasVoted(ctx context.Context, pollID, voterID uuid.UUID) (bool, error)
	// Selections returns the option ids of every vote on the poll.
	Selections(ctx context.Context, pollID uuid.UUID) ([][]string, error)
}

// Repositories bundles the storage backends the services need.
type Repositories struct {
	Users       UserRepository
	Invitations InvitationRepository
	Polls       PollRepository
	Votes       VoteRepository
}

// NewPostgresRepositories wires every repository to the same pool.
func NewPostgresRepositories(db DBTX, timeout time.Duration) *Repositories {
	return &Repositories{
		Users:       NewUserRepository(db, timeout),
		Invitations: NewInvitationRepository(db, timeout),
		Polls:       NewPollRepository(db, timeout),
		Votes:       NewVoteRepository(db, timeout),
	}
}
