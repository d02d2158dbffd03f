package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"univote/internal/domain/poll"
	univote_errors "univote/pkg/errors"
	"univote/pkg/events"

	"github.com/google/uuid"
)

func TestCreatePollRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	student := f.student(t, "stu@uni.test")
	_, err := f.polls.Create(context.Background(), student, CreatePollInput{Title: "x", Type: poll.TypeSingle})
	if !errors.Is(err, univote_errors.ErrPermissionDenied) {
		t.Fatalf("err = %v", err)
	}
}

func TestCreatePollValidates(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	_, err := f.polls.Create(context.Background(), adminCaller(), CreatePollInput{
		Title:    "Backwards",
		Type:     poll.TypeSingle,
		Options:  []poll.Option{{ID: "a", Label: "A"}},
		StartsAt: now,
		EndsAt:   now.Add(-time.Minute),
	})
	if !errors.Is(err, univote_errors.ErrValidation) {
		t.Fatalf("err = %v", err)
	}
}

func TestPublishOnlyAfterClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := adminCaller()
	p := f.activePoll(t, poll.TypeSingle)

	if _, err := f.polls.SetPublished(ctx, admin, p.ID, true); !errors.Is(err, univote_errors.ErrValidation) {
		t.Fatalf("publish active err = %v", err)
	}
	closed, err := f.polls.Close(ctx, admin, p.ID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.EndsAt.After(time.Now()) {
		t.Fatalf("endsAt not moved: %v", closed.EndsAt)
	}

	f.polls.WithClock(func() time.Time { return time.Now().Add(time.Second) })
	if _, err := f.polls.Close(ctx, admin, p.ID); !errors.Is(err, univote_errors.ErrValidation) {
		t.Fatalf("second close err = %v", err)
	}
	v, err := f.polls.SetPublished(ctx, admin, p.ID, true)
	if err != nil || !v.Published || v.Status != poll.StatusClosed {
		t.Fatalf("publish = %+v, %v", v, err)
	}
	v, err = f.polls.SetPublished(ctx, admin, p.ID, false)
	if err != nil || v.Published {
		t.Fatalf("unpublish = %+v, %v", v, err)
	}
}

func TestCloseUpcomingPollIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	v, err := f.polls.Create(ctx, adminCaller(), CreatePollInput{
		Title:    "Later",
		Type:     poll.TypeSingle,
		Options:  []poll.Option{{ID: "a", Label: "A"}},
		StartsAt: now.Add(time.Hour),
		EndsAt:   now.Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.polls.Close(ctx, adminCaller(), v.ID); !errors.Is(err, univote_errors.ErrPollNotStarted) {
		t.Fatalf("close upcoming = %v, want ErrPollNotStarted", err)
	}
	got, err := f.polls.Get(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.EndsAt.After(got.StartsAt) || got.Status != poll.StatusUpcoming {
		t.Fatalf("poll after rejected close: %v..%v %s", got.StartsAt, got.EndsAt, got.Status)
	}
}

func TestPollMutationsPublishEvents(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []string
	err := f.broker.Subscribe(ctx, events.PollPattern, func(_ context.Context, e events.Event) error {
		mu.Lock()
		got = append(got, e.Type)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	p := f.activePoll(t, poll.TypeSingle)
	if _, err := f.polls.Close(ctx, adminCaller(), p.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.polls.Delete(ctx, adminCaller(), p.ID); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	want := []string{events.TypePollCreated, events.TypePollClosed, events.TypePollDeleted}
	if len(got) != len(want) {
		t.Fatalf("events = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestDeleteRemovesPoll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.activePoll(t, poll.TypeSingle)
	if err := f.polls.Delete(ctx, adminCaller(), p.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.polls.Get(ctx, p.ID); !errors.Is(err, univote_errors.ErrNotFound) {
		t.Fatalf("get after delete err = %v", err)
	}
	if err := f.polls.Delete(ctx, adminCaller(), uuid.New()); !errors.Is(err, univote_errors.ErrNotFound) {
		t.Fatalf("delete unknown err = %v", err)
	}
}
