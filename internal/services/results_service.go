package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"univote/internal/domain/poll"
	"univote/internal/repository"
	"univote/internal/storage"
	univote_errors "univote/pkg/errors"
	"univote/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TallyCache holds recently computed tallies.
type TallyCache interface {
	GetTally(ctx context.Context, pollID uuid.UUID) (map[string]int, error)
	SetTally(ctx context.Context, pollID uuid.UUID, tally map[string]int) error
	InvalidateTally(ctx context.Context, pollID uuid.UUID) error
}

// SnapshotStore archives published results.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, key string, body []byte) error
	LatestSnapshot(ctx context.Context, prefix string) (string, error)
	PresignGet(ctx context.Context, key string) (string, time.Time, error)
}

type ResultsService struct {
	polls     repository.PollRepository
	votes     repository.VoteRepository
	cache     TallyCache
	snapshots SnapshotStore
	log       *logger.Logger
	now       func() time.Time
}

func NewResultsService(polls repository.PollRepository, votes repository.VoteRepository, cache TallyCache, snapshots SnapshotStore, log *logger.Logger) *ResultsService {
	return &ResultsService{
		polls:     polls,
		votes:     votes,
		cache:     cache,
		snapshots: snapshots,
		log:       logger.OrNop(log),
		now:       time.Now,
	}
}

func (s *ResultsService) WithClock(now func() time.Time) *ResultsService {
	s.now = now
	return s
}

type ResultsView struct {
	PollID    string         `json:"poll_id"`
	Status    poll.Status    `json:"status"`
	Published bool           `json:"published"`
	Preview   bool           `json:"preview"`
	Tally     map[string]int `json:"tally"`
	Total     int            `json:"total"`
}

type SnapshotLink struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CanView reports whether caller may see the results of p.
func CanView(caller Caller, p poll.Poll) bool {
	return p.Published || caller.IsAdmin()
}

// Results returns the tally for a poll. Non-admins see published polls only;
// admins see unpublished ones flagged as a preview.
func (s *ResultsService) Results(ctx context.Context, caller Caller, pollID uuid.UUID) (ResultsView, error) {
	p, err := s.polls.GetByID(ctx, pollID)
	if err != nil {
		return ResultsView{}, err
	}
	if !CanView(caller, p) {
		return ResultsView{}, fmt.Errorf("%w: results are not published", univote_errors.ErrPermissionDenied)
	}
	tally, err := s.Tally(ctx, pollID)
	if err != nil {
		return ResultsView{}, err
	}
	return s.view(p, tally), nil
}

func (s *ResultsService) view(p poll.Poll, tally map[string]int) ResultsView {
	total := 0
	for _, n := range tally {
		total += n
	}
	return ResultsView{
		PollID:    p.ID.String(),
		Status:    p.StatusAt(s.now()),
		Published: p.Published,
		Preview:   !p.Published,
		Tally:     tally,
		Total:     total,
	}
}

// Tally recomputes the counts from the stored votes, using the cache when set.
func (s *ResultsService) Tally(ctx context.Context, pollID uuid.UUID) (map[string]int, error) {
	if s.cache != nil {
		cached, err := s.cache.GetTally(ctx, pollID)
		if err != nil {
			s.log.WarnCtx(ctx, "tally cache read failed", zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}
	return s.fresh(ctx, pollID)
}

func (s *ResultsService) fresh(ctx context.Context, pollID uuid.UUID) (map[string]int, error) {
	rows, err := s.votes.Selections(ctx, pollID)
	if err != nil {
		return nil, err
	}
	tally := poll.Tally(rows)
	if s.cache != nil {
		if err := s.cache.SetTally(ctx, pollID, tally); err != nil {
			s.log.WarnCtx(ctx, "tally cache write failed", zap.Error(err))
		}
	}
	return tally, nil
}

// Live returns the visibility-checked view for the relay. The tally is
// always recomputed.
func (s *ResultsService) Live(ctx context.Context, pollID uuid.UUID) (poll.Poll, ResultsView, error) {
	p, err := s.polls.GetByID(ctx, pollID)
	if err != nil {
		return poll.Poll{}, ResultsView{}, err
	}
	tally, err := s.fresh(ctx, pollID)
	if err != nil {
		return poll.Poll{}, ResultsView{}, err
	}
	return p, s.view(p, tally), nil
}

type snapshotDoc struct {
	PollID     string         `json:"poll_id"`
	Title      string         `json:"title"`
	Type       poll.Type      `json:"type"`
	Tally      map[string]int `json:"tally"`
	Total      int            `json:"total"`
	ArchivedAt time.Time      `json:"archived_at"`
}

// Archive writes the current tally of p to object storage.
func (s *ResultsService) Archive(ctx context.Context, p poll.Poll) error {
	if s.snapshots == nil {
		return nil
	}
	tally, err := s.fresh(ctx, p.ID)
	if err != nil {
		return err
	}
	now := s.now()
	v := s.view(p, tally)
	body, err := json.Marshal(snapshotDoc{
		PollID:     p.ID.String(),
		Title:      p.Title,
		Type:       p.Type,
		Tally:      v.Tally,
		Total:      v.Total,
		ArchivedAt: now.UTC(),
	})
	if err != nil {
		return err
	}
	key := storage.SnapshotKey(p.ID, now)
	if err := s.snapshots.PutSnapshot(ctx, key, body); err != nil {
		return err
	}
	s.log.InfoCtx(ctx, "results snapshot archived", zap.String("poll_id", p.ID.String()), zap.String("key", key))
	return nil
}

// SnapshotURL presigns the newest archived snapshot for an admin.
func (s *ResultsService) SnapshotURL(ctx context.Context, caller Caller, pollID uuid.UUID) (SnapshotLink, error) {
	if !caller.IsAdmin() {
		return SnapshotLink{}, univote_errors.ErrPermissionDenied
	}
	if s.snapshots == nil {
		return SnapshotLink{}, fmt.Errorf("%w: snapshot storage is not configured", univote_errors.ErrServiceUnavailable)
	}
	if _, err := s.polls.GetByID(ctx, pollID); err != nil {
		return SnapshotLink{}, err
	}
	key, err := s.snapshots.LatestSnapshot(ctx, storage.SnapshotPrefix(pollID))
	if err != nil {
		if errors.Is(err, storage.ErrNoSnapshot) {
			return SnapshotLink{}, fmt.Errorf("%w: no snapshot archived yet", univote_errors.ErrNotFound)
		}
		return SnapshotLink{}, fmt.Errorf("%w: %v", univote_errors.ErrTransient, err)
	}
	url, expiresAt, err := s.snapshots.PresignGet(ctx, key)
	if err != nil {
		return SnapshotLink{}, fmt.Errorf("%w: %v", univote_errors.ErrTransient, err)
	}
	return SnapshotLink{Key: key, URL: url, ExpiresAt: expiresAt}, nil
}
