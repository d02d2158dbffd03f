package vote

import (
	"errors"
	"testing"
	"time"

	"univote/internal/domain/poll"
	univote_errors "univote/pkg/errors"

	"github.com/google/uuid"
)

func testPoll(t poll.Type) poll.Poll {
	now := time.Now()
	return poll.Poll{
		ID:       uuid.New(),
		Title:    "Cafeteria Menu Additions",
		Type:     t,
		Options:  []poll.Option{{ID: "a", Label: "Vegan Bowl"}, {ID: "b", Label: "Cold Brew Coffee"}},
		StartsAt: now.Add(-time.Hour),
		EndsAt:   now.Add(time.Hour),
	}
}

func TestFlowHappyPath(t *testing.T) {
	p := testPoll(poll.TypeMultiple)
	now := time.Now()
	f := NewFlow(p.ID, uuid.New(), "student@uni.edu", now)

	steps := []func() error{
		func() error { return f.Select(p, []string{"a", "b"}, now) },
		func() error { return f.Review(p, now) },
		func() error { return f.CodeRequested(now) },
		func() error { return f.Verified(now) },
		func() error { return f.Submitted(now) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if f.State != StateDone {
		t.Fatalf("State = %s, want DONE", f.State)
	}
}

func TestReviewEnforcesCardinality(t *testing.T) {
	p := testPoll(poll.TypeSingle)
	now := time.Now()
	f := NewFlow(p.ID, uuid.New(), "s@uni.edu", now)

	if err := f.Select(p, []string{"a", "b"}, now); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if err := f.Review(p, now); !errors.Is(err, univote_errors.ErrValidation) {
		t.Fatalf("Review with two picks on single poll = %v, want ErrValidation", err)
	}
	if f.State != StateSelecting {
		t.Fatalf("State = %s, want SELECTING", f.State)
	}
}

func TestSelectRejectsUnknownAndDuplicates(t *testing.T) {
	p := testPoll(poll.TypeMultiple)
	now := time.Now()
	f := NewFlow(p.ID, uuid.New(), "s@uni.edu", now)

	if err := f.Select(p, []string{"zz"}, now); !errors.Is(err, univote_errors.ErrValidation) {
		t.Errorf("unknown id: %v", err)
	}
	if err := f.Select(p, []string{"a", "a"}, now); !errors.Is(err, univote_errors.ErrValidation) {
		t.Errorf("duplicate id: %v", err)
	}
}

func TestBackKeepsSelection(t *testing.T) {
	p := testPoll(poll.TypeSingle)
	now := time.Now()
	f := NewFlow(p.ID, uuid.New(), "s@uni.edu", now)
	_ = f.Select(p, []string{"b"}, now)
	_ = f.Review(p, now)

	if err := f.Back(now); err != nil {
		t.Fatalf("Back: %v", err)
	}
	if f.State != StateSelecting || len(f.Selection) != 1 || f.Selection[0] != "b" {
		t.Fatalf("after Back: state %s selection %v", f.State, f.Selection)
	}
}

func TestOutOfOrderTransitions(t *testing.T) {
	p := testPoll(poll.TypeSingle)
	now := time.Now()
	f := NewFlow(p.ID, uuid.New(), "s@uni.edu", now)

	if err := f.CodeRequested(now); !errors.Is(err, univote_errors.ErrInvalidTransition) {
		t.Errorf("CodeRequested from SELECTING = %v", err)
	}
	if err := f.CanVerify(); !errors.Is(err, univote_errors.ErrInvalidTransition) {
		t.Errorf("CanVerify from SELECTING = %v", err)
	}
	if err := f.CanSubmit(); !errors.Is(err, univote_errors.ErrInvalidTransition) {
		t.Errorf("CanSubmit from SELECTING = %v", err)
	}
	if err := f.CodeResent(now); !errors.Is(err, univote_errors.ErrInvalidTransition) {
		t.Errorf("CodeResent from SELECTING = %v", err)
	}
}

func TestSubmitFailure(t *testing.T) {
	p := testPoll(poll.TypeSingle)
	now := time.Now()

	advance := func() *Flow {
		f := NewFlow(p.ID, uuid.New(), "s@uni.edu", now)
		_ = f.Select(p, []string{"a"}, now)
		_ = f.Review(p, now)
		_ = f.CodeRequested(now)
		_ = f.Verified(now)
		return f
	}

	f := advance()
	f.SubmitFailed(univote_errors.ErrTransient, now)
	if f.State != StateSubmitting {
		t.Fatalf("transient failure moved flow to %s", f.State)
	}

	f.SubmitFailed(univote_errors.ErrAlreadyVoted, now)
	if f.State != StateAborted {
		t.Fatalf("already voted left flow in %s", f.State)
	}

	g := advance()
	g.SubmitFailed(univote_errors.ErrPollClosed, now)
	if g.State != StateAborted {
		t.Fatalf("poll closed left flow in %s", g.State)
	}
}

func TestAbort(t *testing.T) {
	now := time.Now()
	f := NewFlow(uuid.New(), uuid.New(), "s@uni.edu", now)

	if err := f.Abort("cancelled", now); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if err := f.Abort("again", now); !errors.Is(err, univote_errors.ErrInvalidTransition) {
		t.Fatalf("second Abort = %v, want ErrInvalidTransition", err)
	}
}
