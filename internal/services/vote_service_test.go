package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"univote/internal/domain/poll"
	"univote/internal/domain/vote"
	"univote/internal/mail"
	"univote/internal/otp"
	univote_errors "univote/pkg/errors"

	"github.com/google/uuid"
)

func walkToSubmitting(t *testing.T, f *fixture, caller Caller, p poll.Poll, choice ...string) FlowView {
	t.Helper()
	ctx := context.Background()
	flow, err := f.votes.StartFlow(ctx, caller, p.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := uuid.MustParse(flow.ID)
	if _, err := f.votes.Select(ctx, caller, id, choice); err != nil {
		t.Fatalf("select: %v", err)
	}
	if _, err := f.votes.Review(ctx, caller, id); err != nil {
		t.Fatalf("review: %v", err)
	}
	if _, err := f.votes.RequestCode(ctx, caller, id); err != nil {
		t.Fatalf("request code: %v", err)
	}
	code := f.inbox.codeFor(caller.Email)
	if code == "" {
		t.Fatal("no code delivered")
	}
	flow, err = f.votes.Verify(ctx, caller, id, code)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if flow.State != vote.StateSubmitting {
		t.Fatalf("state after verify = %s", flow.State)
	}
	return flow
}

func TestVoteFlowHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.activePoll(t, poll.TypeMultiple)
	alice := f.student(t, "alice@uni.test")

	flow := walkToSubmitting(t, f, alice, p, "a", "c")
	done, err := f.votes.Submit(ctx, alice, uuid.MustParse(flow.ID))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if done.State != vote.StateDone {
		t.Fatalf("state = %s, want DONE", done.State)
	}

	voted, err := f.polls.HasVoted(ctx, alice, p.ID)
	if err != nil || !voted {
		t.Fatalf("has voted = %v, %v", voted, err)
	}
	tally, err := f.results.Tally(ctx, p.ID)
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	if tally["a"] != 1 || tally["c"] != 1 || tally["b"] != 0 {
		t.Fatalf("tally = %v", tally)
	}
}

func TestStartFlowRejectsRepeatVoter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.activePoll(t, poll.TypeSingle)
	bob := f.student(t, "bob@uni.test")

	flow := walkToSubmitting(t, f, bob, p, "b")
	if _, err := f.votes.Submit(ctx, bob, uuid.MustParse(flow.ID)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.votes.StartFlow(ctx, bob, p.ID); !errors.Is(err, univote_errors.ErrAlreadyVoted) {
		t.Fatalf("second start err = %v, want ErrAlreadyVoted", err)
	}
}

func TestStartFlowReusesLiveFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.activePoll(t, poll.TypeSingle)
	carol := f.student(t, "carol@uni.test")

	first, err := f.votes.StartFlow(ctx, carol, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.votes.StartFlow(ctx, carol, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the live flow to be reused")
	}
}

func TestParallelFlowsRecordOneVote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.activePoll(t, poll.TypeSingle)
	dan := f.student(t, "dan@uni.test")

	// Two flows reach Submitting before either submits.
	a := walkToSubmitting(t, f, dan, p, "a")
	b := a
	f.votes.mu.Lock()
	clone := *f.votes.flows[uuid.MustParse(a.ID)].flow
	clone.ID = uuid.New()
	f.votes.flows[clone.ID] = newFlowEntry(&clone, time.Now())
	f.votes.mu.Unlock()
	b.ID = clone.ID.String()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.votes.Submit(ctx, dan, uuid.MustParse(id))
		}(i, id)
	}
	wg.Wait()

	ok, dup := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, univote_errors.ErrAlreadyVoted):
			dup++
		default:
			t.Fatalf("unexpected err: %v", err)
		}
	}
	if ok != 1 || dup != 1 {
		t.Fatalf("ok=%d dup=%d, want 1 and 1", ok, dup)
	}

	loser, _ := f.votes.Get(ctx, dan, uuid.MustParse(b.ID))
	winner, _ := f.votes.Get(ctx, dan, uuid.MustParse(a.ID))
	if !(loser.State == vote.StateAborted || winner.State == vote.StateAborted) {
		t.Fatalf("losing flow should be aborted, got %s and %s", winner.State, loser.State)
	}
	tally, _ := f.results.Tally(ctx, p.ID)
	if tally["a"] != 1 {
		t.Fatalf("tally = %v", tally)
	}
}

func TestSubmitAfterCloseAbortsFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.activePoll(t, poll.TypeSingle)
	erin := f.student(t, "erin@uni.test")

	flow := walkToSubmitting(t, f, erin, p, "a")
	if _, err := f.polls.Close(ctx, adminCaller(), p.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Submit runs strictly after the close.
	f.votes.WithClock(func() time.Time { return time.Now().Add(time.Second) })

	got, err := f.votes.Submit(ctx, erin, uuid.MustParse(flow.ID))
	if !errors.Is(err, univote_errors.ErrPollClosed) {
		t.Fatalf("err = %v, want ErrPollClosed", err)
	}
	if got.State != vote.StateAborted {
		t.Fatalf("state = %s, want ABORTED", got.State)
	}
	tally, _ := f.results.Tally(ctx, p.ID)
	if len(tally) != 0 {
		t.Fatalf("no vote should be stored, tally = %v", tally)
	}
}

func TestWrongCodeKeepsVerifying(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.activePoll(t, poll.TypeParty)
	fay := f.student(t, "fay@uni.test")

	flow, _ := f.votes.StartFlow(ctx, fay, p.ID)
	id := uuid.MustParse(flow.ID)
	if _, err := f.votes.Select(ctx, fay, id, []string{"p2"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.votes.Review(ctx, fay, id); err != nil {
		t.Fatal(err)
	}
	if _, err := f.votes.RequestCode(ctx, fay, id); err != nil {
		t.Fatal(err)
	}

	wrong := "000000"
	if f.inbox.codeFor(fay.Email) == wrong {
		wrong = "111111"
	}
	got, err := f.votes.Verify(ctx, fay, id, wrong)
	if !errors.Is(err, univote_errors.ErrInvalidCode) {
		t.Fatalf("err = %v, want ErrInvalidCode", err)
	}
	if got.State != vote.StateVerifying {
		t.Fatalf("state = %s", got.State)
	}
	if _, err := f.votes.Submit(ctx, fay, id); !errors.Is(err, univote_errors.ErrInvalidTransition) {
		t.Fatalf("submit before verify err = %v", err)
	}

	if _, err := f.votes.ResendCode(ctx, fay, id); !errors.Is(err, univote_errors.ErrRateLimited) {
		t.Fatalf("immediate resend err = %v, want ErrRateLimited", err)
	}
}

func TestReviewEnforcesCardinality(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.activePoll(t, poll.TypeSingle)
	gus := f.student(t, "gus@uni.test")

	flow, _ := f.votes.StartFlow(ctx, gus, p.ID)
	id := uuid.MustParse(flow.ID)
	if _, err := f.votes.Select(ctx, gus, id, []string{"a", "b"}); err != nil {
		t.Fatalf("select: %v", err)
	}
	if _, err := f.votes.Review(ctx, gus, id); !errors.Is(err, univote_errors.ErrValidation) {
		t.Fatalf("review err = %v, want ErrValidation", err)
	}
	if _, err := f.votes.Select(ctx, gus, id, []string{"zzz"}); !errors.Is(err, univote_errors.ErrValidation) {
		t.Fatalf("foreign option err = %v", err)
	}
}

func TestFlowIsPrivateToItsOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.activePoll(t, poll.TypeSingle)
	owner := f.student(t, "hal@uni.test")
	other := f.student(t, "ivy@uni.test")

	flow, _ := f.votes.StartFlow(ctx, owner, p.ID)
	if _, err := f.votes.Abort(ctx, other, uuid.MustParse(flow.ID)); !errors.Is(err, univote_errors.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSweepIdleDropsOldFlows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.activePoll(t, poll.TypeSingle)
	jo := f.student(t, "jo@uni.test")

	if _, err := f.votes.StartFlow(ctx, jo, p.ID); err != nil {
		t.Fatal(err)
	}
	if n := f.votes.SweepIdle(); n != 0 {
		t.Fatalf("fresh flow swept")
	}
	f.votes.WithClock(func() time.Time { return time.Now().Add(DefaultFlowIdleTTL + time.Minute) })
	if n := f.votes.SweepIdle(); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
}

// stallingInbox holds delivery to one address until release is closed.
type stallingInbox struct {
	codeInbox
	stallFor string
	entered  chan struct{}
	release  chan struct{}
}

func (s *stallingInbox) SendVerificationCode(ctx context.Context, msg mail.VerificationEmail) error {
	if msg.To == s.stallFor {
		close(s.entered)
		<-s.release
	}
	return s.codeInbox.SendVerificationCode(ctx, msg)
}

func TestSlowMailDoesNotBlockOtherVoters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.activePoll(t, poll.TypeSingle)
	slow := f.student(t, "slow@uni.test")
	other := f.student(t, "other@uni.test")
	third := f.student(t, "third@uni.test")

	inbox := &stallingInbox{stallFor: slow.Email, entered: make(chan struct{}), release: make(chan struct{})}
	otpSvc := otp.NewService(otp.NewMemoryStore(), inbox, otp.Config{}, nil)
	votes := NewVoteService(f.repos.Polls, f.repos.Votes, otpSvc, nil, nil)

	thirdFlow, err := votes.StartFlow(ctx, third, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	slowFlow, err := votes.StartFlow(ctx, slow, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	slowID := uuid.MustParse(slowFlow.ID)
	if _, err := votes.Select(ctx, slow, slowID, []string{"a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := votes.Review(ctx, slow, slowID); err != nil {
		t.Fatal(err)
	}

	requested := make(chan error, 1)
	go func() {
		_, err := votes.RequestCode(ctx, slow, slowID)
		requested <- err
	}()
	<-inbox.entered

	done := make(chan error, 1)
	go func() {
		if _, err := votes.StartFlow(ctx, other, p.ID); err != nil {
			done <- err
			return
		}
		_, err := votes.Get(ctx, third, uuid.MustParse(thirdFlow.ID))
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("other voters: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("other voters blocked behind a pending email")
	}

	if n := votes.SweepIdle(); n != 0 {
		t.Fatalf("swept %d fresh flows", n)
	}

	close(inbox.release)
	if err := <-requested; err != nil {
		t.Fatalf("request code: %v", err)
	}
	if inbox.codeFor(slow.Email) == "" {
		t.Fatal("code not delivered after release")
	}
}

func TestStartFlowAfterAbortOpensFreshFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.activePoll(t, poll.TypeSingle)
	kim := f.student(t, "kim@uni.test")

	first, err := f.votes.StartFlow(ctx, kim, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.votes.Abort(ctx, kim, uuid.MustParse(first.ID)); err != nil {
		t.Fatal(err)
	}
	second, err := f.votes.StartFlow(ctx, kim, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if second.ID == first.ID || second.State != vote.StateSelecting {
		t.Fatalf("got flow %s in %s, want a fresh selecting flow", second.ID, second.State)
	}
}
