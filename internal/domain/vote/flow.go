package vote

import (
	"fmt"
	"time"

	"univote/internal/domain/poll"
	univote_errors "univote/pkg/errors"

	"github.com/google/uuid"
)

// State represents the vote flow step
type State string

const (
	StateSelecting  State = "SELECTING"
	StateReviewing  State = "REVIEWING"
	StateVerifying  State = "VERIFYING"
	StateSubmitting State = "SUBMITTING"
	StateDone       State = "DONE"
	StateAborted    State = "ABORTED"
)

func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// Flow is one voter's walk through a ballot. It holds no IO; the vote
// service drives it and serializes access.
type Flow struct {
	ID         uuid.UUID
	PollID     uuid.UUID
	UserID     uuid.UUID
	VoterEmail string
	State      State
	Selection  []string
	CodeSentAt time.Time
	AbortCause string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func NewFlow(pollID, userID uuid.UUID, voterEmail string, now time.Time) *Flow {
	return &Flow{
		ID:         uuid.New(),
		PollID:     pollID,
		UserID:     userID,
		VoterEmail: voterEmail,
		State:      StateSelecting,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (f *Flow) expect(now time.Time, states ...State) error {
	for _, s := range states {
		if f.State == s {
			f.UpdatedAt = now
			return nil
		}
	}
	return fmt.Errorf("%w: flow is %s", univote_errors.ErrInvalidTransition, f.State)
}

// Select replaces the current selection. Membership and duplicates are
// checked here; cardinality waits for Review so a multiple choice ballot
// can be built up in steps.
func (f *Flow) Select(p poll.Poll, optionIDs []string, now time.Time) error {
	if err := f.expect(now, StateSelecting); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(optionIDs))
	for _, id := range optionIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: option %q selected twice", univote_errors.ErrValidation, id)
		}
		seen[id] = struct{}{}
		if !p.HasChoice(id) {
			return fmt.Errorf("%w: option %q does not belong to this poll", univote_errors.ErrValidation, id)
		}
	}
	f.Selection = append([]string(nil), optionIDs...)
	return nil
}

func (f *Flow) Review(p poll.Poll, now time.Time) error {
	if err := f.expect(now, StateSelecting); err != nil {
		return err
	}
	if err := p.ValidateSelection(f.Selection); err != nil {
		return err
	}
	f.State = StateReviewing
	return nil
}

func (f *Flow) Back(now time.Time) error {
	if err := f.expect(now, StateReviewing); err != nil {
		return err
	}
	f.State = StateSelecting
	return nil
}

// CodeRequested moves Reviewing to Verifying once a code went out.
func (f *Flow) CodeRequested(now time.Time) error {
	if err := f.expect(now, StateReviewing); err != nil {
		return err
	}
	f.State = StateVerifying
	f.CodeSentAt = now
	return nil
}

func (f *Flow) CodeResent(now time.Time) error {
	if err := f.expect(now, StateVerifying); err != nil {
		return err
	}
	f.CodeSentAt = now
	return nil
}

// CanVerify and CanSubmit guard the IO steps before the service runs them.
func (f *Flow) CanVerify() error {
	if f.State != StateVerifying {
		return fmt.Errorf("%w: flow is %s", univote_errors.ErrInvalidTransition, f.State)
	}
	return nil
}

func (f *Flow) CanSubmit() error {
	if f.State != StateSubmitting {
		return fmt.Errorf("%w: flow is %s", univote_errors.ErrInvalidTransition, f.State)
	}
	return nil
}

func (f *Flow) Verified(now time.Time) error {
	if err := f.expect(now, StateVerifying); err != nil {
		return err
	}
	f.State = StateSubmitting
	return nil
}

// SubmitFailed records a failed insert. Terminal errors abort the flow,
// anything else leaves it in Submitting so the caller can retry.
func (f *Flow) SubmitFailed(err error, now time.Time) {
	if f.State != StateSubmitting {
		return
	}
	f.UpdatedAt = now
	if univote_errors.Terminal(err) {
		f.State = StateAborted
		f.AbortCause = err.Error()
	}
}

func (f *Flow) Submitted(now time.Time) error {
	if err := f.expect(now, StateSubmitting); err != nil {
		return err
	}
	f.State = StateDone
	return nil
}

func (f *Flow) Abort(cause string, now time.Time) error {
	if f.State.Terminal() {
		return fmt.Errorf("%w: flow is %s", univote_errors.ErrInvalidTransition, f.State)
	}
	f.State = StateAborted
	f.AbortCause = cause
	f.UpdatedAt = now
	return nil
}

// Snapshot returns a copy safe to hand out after the flow lock is released.
func (f *Flow) Snapshot() Flow {
	c := *f
	c.Selection = append([]string(nil), f.Selection...)
	return c
}
