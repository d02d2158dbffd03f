package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"univote/internal/domain/poll"
	"univote/internal/domain/vote"
	"univote/internal/otp"
	"univote/internal/repository"
	univote_errors "univote/pkg/errors"
	"univote/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultFlowIdleTTL = 30 * time.Minute

// TallyInvalidator drops a cached tally after a vote lands.
type TallyInvalidator interface {
	InvalidateTally(ctx context.Context, pollID uuid.UUID) error
}

type flowKey struct {
	user, poll uuid.UUID
}

// flowEntry owner fields are fixed at creation. terminal and lastUsed are
// readable without mu so the registry never waits on a busy flow.
type flowEntry struct {
	key      flowKey
	terminal atomic.Bool
	lastUsed atomic.Int64

	mu   sync.Mutex
	flow *vote.Flow
}

func newFlowEntry(f *vote.Flow, now time.Time) *flowEntry {
	e := &flowEntry{key: flowKey{user: f.UserID, poll: f.PollID}, flow: f}
	e.terminal.Store(f.State.Terminal())
	e.touch(now)
	return e
}

func (e *flowEntry) touch(now time.Time) {
	e.lastUsed.Store(now.UnixNano())
}

// VoteService drives vote flows. Flows live in a process-local registry;
// every operation on one flow holds that flow's mutex. s.mu guards the
// registry maps only and is never held while a flow mutex is taken.
type VoteService struct {
	polls   repository.PollRepository
	votes   repository.VoteRepository
	otp     *otp.Service
	tallies TallyInvalidator
	events  *EventPublisher
	log     *logger.Logger
	idleTTL time.Duration
	now     func() time.Time

	mu    sync.Mutex
	flows map[uuid.UUID]*flowEntry
	live  map[flowKey]uuid.UUID
}

func NewVoteService(polls repository.PollRepository, votes repository.VoteRepository, otpSvc *otp.Service, events *EventPublisher, log *logger.Logger) *VoteService {
	return &VoteService{
		polls:   polls,
		votes:   votes,
		otp:     otpSvc,
		events:  events,
		log:     logger.OrNop(log),
		idleTTL: DefaultFlowIdleTTL,
		now:     time.Now,
		flows:   make(map[uuid.UUID]*flowEntry),
		live:    make(map[flowKey]uuid.UUID),
	}
}

func (s *VoteService) WithTallyInvalidator(t TallyInvalidator) *VoteService {
	s.tallies = t
	return s
}

func (s *VoteService) WithClock(now func() time.Time) *VoteService {
	s.now = now
	return s
}

func (s *VoteService) WithIdleTTL(ttl time.Duration) *VoteService {
	if ttl > 0 {
		s.idleTTL = ttl
	}
	return s
}

type FlowView struct {
	ID         string     `json:"id"`
	PollID     string     `json:"poll_id"`
	State      vote.State `json:"state"`
	Selection  []string   `json:"selection"`
	CodeSentAt *time.Time `json:"code_sent_at,omitempty"`
	AbortCause string     `json:"abort_cause,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func toFlowView(f vote.Flow) FlowView {
	v := FlowView{
		ID:         f.ID.String(),
		PollID:     f.PollID.String(),
		State:      f.State,
		Selection:  f.Selection,
		AbortCause: f.AbortCause,
		UpdatedAt:  f.UpdatedAt,
	}
	if v.Selection == nil {
		v.Selection = []string{}
	}
	if !f.CodeSentAt.IsZero() {
		t := f.CodeSentAt
		v.CodeSentAt = &t
	}
	return v
}

// StartFlow opens a ballot for the caller. A live flow for the same poll is
// returned instead of a second one.
func (s *VoteService) StartFlow(ctx context.Context, caller Caller, pollID uuid.UUID) (FlowView, error) {
	p, err := s.polls.GetByID(ctx, pollID)
	if err != nil {
		return FlowView{}, err
	}
	now := s.now()
	if err := p.CheckOpen(now); err != nil {
		return FlowView{}, err
	}
	// Fast path only; InsertVote is the real guard.
	voted, err := s.votes.HasVoted(ctx, pollID, caller.UserID)
	if err != nil {
		return FlowView{}, err
	}
	if voted {
		return FlowView{}, univote_errors.ErrAlreadyVoted
	}

	key := flowKey{user: caller.UserID, poll: pollID}
	for {
		s.mu.Lock()
		if e := s.liveEntry(key); e != nil {
			s.mu.Unlock()
			e.touch(now)
			e.mu.Lock()
			snap := e.flow.Snapshot()
			e.mu.Unlock()
			if !snap.State.Terminal() {
				return toFlowView(snap), nil
			}
			// Finished between the lookup and the lock; terminal is set by now.
			continue
		}
		f := vote.NewFlow(pollID, caller.UserID, caller.Email, now)
		s.flows[f.ID] = newFlowEntry(f, now)
		s.live[key] = f.ID
		snap := f.Snapshot()
		s.mu.Unlock()

		s.log.InfoCtx(ctx, "vote flow started", zap.String("flow_id", f.ID.String()), zap.String("poll_id", pollID.String()))
		return toFlowView(snap), nil
	}
}

// liveEntry returns the caller's non-terminal flow for a poll. s.mu must be held.
func (s *VoteService) liveEntry(key flowKey) *flowEntry {
	id, ok := s.live[key]
	if !ok {
		return nil
	}
	e, ok := s.flows[id]
	if !ok || e.terminal.Load() {
		delete(s.live, key)
		return nil
	}
	return e
}

// withFlow locks the caller's flow and runs fn against it.
func (s *VoteService) withFlow(caller Caller, flowID uuid.UUID, fn func(e *flowEntry) error) (FlowView, error) {
	s.mu.Lock()
	e, ok := s.flows[flowID]
	s.mu.Unlock()
	if !ok || e.key.user != caller.UserID {
		return FlowView{}, fmt.Errorf("%w: vote flow", univote_errors.ErrNotFound)
	}

	e.touch(s.now())
	e.mu.Lock()
	defer e.mu.Unlock()
	err := fn(e)
	if e.flow.State.Terminal() {
		e.terminal.Store(true)
	}
	return toFlowView(e.flow.Snapshot()), err
}

func (s *VoteService) Get(_ context.Context, caller Caller, flowID uuid.UUID) (FlowView, error) {
	return s.withFlow(caller, flowID, func(*flowEntry) error { return nil })
}

func (s *VoteService) Select(ctx context.Context, caller Caller, flowID uuid.UUID, optionIDs []string) (FlowView, error) {
	return s.withFlow(caller, flowID, func(e *flowEntry) error {
		p, err := s.polls.GetByID(ctx, e.flow.PollID)
		if err != nil {
			return err
		}
		return e.flow.Select(p, optionIDs, s.now())
	})
}

func (s *VoteService) Review(ctx context.Context, caller Caller, flowID uuid.UUID) (FlowView, error) {
	return s.withFlow(caller, flowID, func(e *flowEntry) error {
		p, err := s.polls.GetByID(ctx, e.flow.PollID)
		if err != nil {
			return err
		}
		return e.flow.Review(p, s.now())
	})
}

func (s *VoteService) Back(_ context.Context, caller Caller, flowID uuid.UUID) (FlowView, error) {
	return s.withFlow(caller, flowID, func(e *flowEntry) error {
		return e.flow.Back(s.now())
	})
}

// RequestCode issues the OTP for the reviewed ballot.
func (s *VoteService) RequestCode(ctx context.Context, caller Caller, flowID uuid.UUID) (FlowView, error) {
	return s.withFlow(caller, flowID, func(e *flowEntry) error {
		if e.flow.State != vote.StateReviewing {
			return fmt.Errorf("%w: flow is %s", univote_errors.ErrInvalidTransition, e.flow.State)
		}
		p, err := s.polls.GetByID(ctx, e.flow.PollID)
		if err != nil {
			return err
		}
		if _, err := s.otp.Issue(ctx, e.flow.VoterEmail, p.ID, p.Title); err != nil {
			return err
		}
		return e.flow.CodeRequested(s.now())
	})
}

func (s *VoteService) ResendCode(ctx context.Context, caller Caller, flowID uuid.UUID) (FlowView, error) {
	return s.withFlow(caller, flowID, func(e *flowEntry) error {
		if err := e.flow.CanVerify(); err != nil {
			return err
		}
		p, err := s.polls.GetByID(ctx, e.flow.PollID)
		if err != nil {
			return err
		}
		if _, err := s.otp.Reissue(ctx, e.flow.VoterEmail, p.ID, p.Title); err != nil {
			return err
		}
		return e.flow.CodeResent(s.now())
	})
}

// Verify consumes the code. Any failure leaves the flow in Verifying.
func (s *VoteService) Verify(ctx context.Context, caller Caller, flowID uuid.UUID, code string) (FlowView, error) {
	return s.withFlow(caller, flowID, func(e *flowEntry) error {
		if err := e.flow.CanVerify(); err != nil {
			return err
		}
		if err := s.otp.Verify(ctx, e.flow.VoterEmail, code, e.flow.PollID); err != nil {
			return err
		}
		return e.flow.Verified(s.now())
	})
}

// Submit records the ballot. AlreadyVoted and PollClosed abort the flow;
// transient failures leave it in Submitting for a retry.
func (s *VoteService) Submit(ctx context.Context, caller Caller, flowID uuid.UUID) (FlowView, error) {
	var pollID uuid.UUID
	view, err := s.withFlow(caller, flowID, func(e *flowEntry) error {
		if err := e.flow.CanSubmit(); err != nil {
			return err
		}
		pollID = e.flow.PollID
		now := s.now()

		p, err := s.polls.GetByID(ctx, pollID)
		if err != nil {
			if errors.Is(err, univote_errors.ErrNotFound) {
				err = fmt.Errorf("%w: poll was removed", univote_errors.ErrPollClosed)
			}
			e.flow.SubmitFailed(err, now)
			return err
		}
		if p.IsClosed(now) {
			e.flow.SubmitFailed(univote_errors.ErrPollClosed, now)
			return univote_errors.ErrPollClosed
		}

		v := &poll.Vote{PollID: pollID, OptionIDs: e.flow.Selection}
		if err := s.votes.InsertVote(ctx, v, e.flow.UserID, now); err != nil {
			e.flow.SubmitFailed(err, now)
			return err
		}
		return e.flow.Submitted(now)
	})
	if err != nil {
		if pollID != uuid.Nil {
			s.log.WarnCtx(ctx, "vote submit failed",
				zap.String("flow_id", flowID.String()),
				zap.String("state", string(view.State)),
				zap.Error(err),
			)
		}
		return view, err
	}

	s.log.InfoCtx(ctx, "vote recorded", zap.String("poll_id", pollID.String()))
	if s.tallies != nil {
		if err := s.tallies.InvalidateTally(ctx, pollID); err != nil {
			s.log.WarnCtx(ctx, "tally cache invalidate failed", zap.Error(err))
		}
	}
	s.events.VotesChanged(ctx, pollID)
	return view, nil
}

func (s *VoteService) Abort(_ context.Context, caller Caller, flowID uuid.UUID) (FlowView, error) {
	return s.withFlow(caller, flowID, func(e *flowEntry) error {
		return e.flow.Abort("aborted by voter", s.now())
	})
}

// SweepIdle drops flows untouched for longer than the idle TTL and returns
// how many were removed.
func (s *VoteService) SweepIdle() int {
	cutoff := s.now().Add(-s.idleTTL).UnixNano()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.flows {
		if e.lastUsed.Load() >= cutoff {
			continue
		}
		delete(s.flows, id)
		if s.live[e.key] == id {
			delete(s.live, e.key)
		}
		removed++
	}
	return removed
}

// RunSweeper calls SweepIdle on every tick until ctx is done.
func (s *VoteService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.SweepIdle(); n > 0 {
				s.log.Infof("swept %d idle vote flows", n)
			}
		}
	}
}
