package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"univote/internal/domain/poll"
	"univote/internal/repository"
	univote_errors "univote/pkg/errors"
	"univote/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PollCache is the optional read cache in front of the poll repository.
type PollCache interface {
	GetPoll(ctx context.Context, pollID uuid.UUID) (*poll.Poll, error)
	SetPoll(ctx context.Context, p *poll.Poll) error
	InvalidatePoll(ctx context.Context, pollID uuid.UUID) error
}

// Archiver is told about every poll whose results were just published.
type Archiver interface {
	Archive(ctx context.Context, p poll.Poll) error
}

type PollService struct {
	polls    repository.PollRepository
	votes    repository.VoteRepository
	cache    PollCache
	archiver Archiver
	events   *EventPublisher
	log      *logger.Logger
	now      func() time.Time
}

func NewPollService(polls repository.PollRepository, votes repository.VoteRepository, cache PollCache, events *EventPublisher, log *logger.Logger) *PollService {
	return &PollService{
		polls:  polls,
		votes:  votes,
		cache:  cache,
		events: events,
		log:    logger.OrNop(log),
		now:    time.Now,
	}
}

// WithArchiver attaches the snapshot writer run after a publish.
func (s *PollService) WithArchiver(a Archiver) *PollService {
	s.archiver = a
	return s
}

func (s *PollService) WithClock(now func() time.Time) *PollService {
	s.now = now
	return s
}

type CreatePollInput struct {
	Title       string
	Description string
	Type        poll.Type
	Options     []poll.Option
	Parties     []poll.Party
	StartsAt    time.Time
	EndsAt      time.Time
}

type PollView struct {
	poll.Poll
	Status poll.Status `json:"status"`
}

func (s *PollService) view(p poll.Poll) PollView {
	return PollView{Poll: p, Status: p.StatusAt(s.now())}
}

// Load returns the poll, going through the cache when one is configured.
func (s *PollService) Load(ctx context.Context, id uuid.UUID) (poll.Poll, error) {
	if s.cache != nil {
		cached, err := s.cache.GetPoll(ctx, id)
		if err != nil {
			s.log.WarnCtx(ctx, "poll cache read failed", zap.String("poll_id", id.String()), zap.Error(err))
		} else if cached != nil {
			return *cached, nil
		}
	}
	p, err := s.polls.GetByID(ctx, id)
	if err != nil {
		return poll.Poll{}, err
	}
	if s.cache != nil {
		if err := s.cache.SetPoll(ctx, &p); err != nil {
			s.log.WarnCtx(ctx, "poll cache write failed", zap.String("poll_id", id.String()), zap.Error(err))
		}
	}
	return p, nil
}

func (s *PollService) forget(ctx context.Context, id uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidatePoll(ctx, id); err != nil {
		s.log.WarnCtx(ctx, "poll cache invalidate failed", zap.String("poll_id", id.String()), zap.Error(err))
	}
}

// List returns every poll, newest first. publishedOnly narrows the list to
// polls whose results are public.
func (s *PollService) List(ctx context.Context, publishedOnly bool) ([]PollView, error) {
	polls, err := s.polls.List(ctx, repository.PollFilter{PublishedOnly: publishedOnly})
	if err != nil {
		return nil, err
	}
	out := make([]PollView, 0, len(polls))
	for _, p := range polls {
		out = append(out, s.view(p))
	}
	return out, nil
}

func (s *PollService) Get(ctx context.Context, id uuid.UUID) (PollView, error) {
	p, err := s.Load(ctx, id)
	if err != nil {
		return PollView{}, err
	}
	return s.view(p), nil
}

func (s *PollService) Create(ctx context.Context, caller Caller, in CreatePollInput) (PollView, error) {
	if !caller.IsAdmin() {
		return PollView{}, univote_errors.ErrPermissionDenied
	}
	p := poll.Poll{
		ID:          uuid.New(),
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Type:        in.Type,
		Options:     in.Options,
		Parties:     in.Parties,
		StartsAt:    in.StartsAt,
		EndsAt:      in.EndsAt,
	}
	if err := p.Validate(); err != nil {
		return PollView{}, err
	}
	if err := s.polls.Create(ctx, &p); err != nil {
		return PollView{}, err
	}

	s.log.InfoCtx(ctx, "poll created", zap.String("poll_id", p.ID.String()), zap.String("type", string(p.Type)))
	s.events.PollCreated(ctx, p.ID)
	return s.view(p), nil
}

// SetPublished flips result visibility. Publishing requires a closed poll;
// unpublishing is always allowed.
func (s *PollService) SetPublished(ctx context.Context, caller Caller, id uuid.UUID, published bool) (PollView, error) {
	if !caller.IsAdmin() {
		return PollView{}, univote_errors.ErrPermissionDenied
	}
	p, err := s.polls.GetByID(ctx, id)
	if err != nil {
		return PollView{}, err
	}
	if published && !p.IsClosed(s.now()) {
		return PollView{}, fmt.Errorf("%w: results can only be published after the poll closes", univote_errors.ErrValidation)
	}
	if err := s.polls.SetPublished(ctx, id, published); err != nil {
		return PollView{}, err
	}
	p.Published = published
	s.forget(ctx, id)

	if published && s.archiver != nil {
		if err := s.archiver.Archive(ctx, p); err != nil {
			s.log.WarnCtx(ctx, "results snapshot failed", zap.String("poll_id", id.String()), zap.Error(err))
		}
	}
	s.events.PollPublished(ctx, id, published)
	return s.view(p), nil
}

// Close ends voting now.
func (s *PollService) Close(ctx context.Context, caller Caller, id uuid.UUID) (PollView, error) {
	if !caller.IsAdmin() {
		return PollView{}, univote_errors.ErrPermissionDenied
	}
	p, err := s.polls.GetByID(ctx, id)
	if err != nil {
		return PollView{}, err
	}
	now := s.now()
	if p.IsClosed(now) {
		return PollView{}, fmt.Errorf("%w: poll is already closed", univote_errors.ErrValidation)
	}
	// A poll that has not started is deleted, not closed.
	if !now.After(p.StartsAt) {
		return PollView{}, univote_errors.ErrPollNotStarted
	}
	if err := s.polls.Close(ctx, id, now); err != nil {
		return PollView{}, err
	}
	p.EndsAt = now
	s.forget(ctx, id)

	s.log.InfoCtx(ctx, "poll closed", zap.String("poll_id", id.String()))
	s.events.PollClosed(ctx, id)
	return s.view(p), nil
}

func (s *PollService) Delete(ctx context.Context, caller Caller, id uuid.UUID) error {
	if !caller.IsAdmin() {
		return univote_errors.ErrPermissionDenied
	}
	if err := s.polls.Delete(ctx, id); err != nil {
		return err
	}
	s.forget(ctx, id)

	s.log.InfoCtx(ctx, "poll deleted", zap.String("poll_id", id.String()))
	s.events.PollDeleted(ctx, id)
	return nil
}

func (s *PollService) HasVoted(ctx context.Context, caller Caller, id uuid.UUID) (bool, error) {
	if _, err := s.Load(ctx, id); err != nil {
		return false, err
	}
	return s.votes.HasVoted(ctx, id, caller.UserID)
}
