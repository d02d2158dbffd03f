package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"univote/internal/domain/poll"
	"univote/internal/domain/user"
	univote_errors "univote/pkg/errors"

	"github.com/google/uuid"
)

func seedPoll(t *testing.T, repos *Repositories, start, end time.Time) poll.Poll {
	t.Helper()
	p := poll.Poll{
		Title:    "Cafeteria Menu Additions",
		Type:     poll.TypeMultiple,
		Options:  []poll.Option{{ID: "a", Label: "Vegan Bowl"}, {ID: "b", Label: "Cold Brew Coffee"}},
		StartsAt: start,
		EndsAt:   end,
	}
	if err := repos.Polls.Create(context.Background(), &p); err != nil {
		t.Fatalf("create poll: %v", err)
	}
	return p
}

func TestInsertVoteOncePerVoter(t *testing.T) {
	repos := NewMemoryRepositories()
	ctx := context.Background()
	now := time.Now()
	p := seedPoll(t, repos, now.Add(-time.Hour), now.Add(time.Hour))
	voter := uuid.New()

	if err := repos.Votes.InsertVote(ctx, &poll.Vote{PollID: p.ID, OptionIDs: []string{"a"}}, voter, now); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	err := repos.Votes.InsertVote(ctx, &poll.Vote{PollID: p.ID, OptionIDs: []string{"b"}}, voter, now)
	if !errors.Is(err, univote_errors.ErrAlreadyVoted) {
		t.Fatalf("second vote = %v, want ErrAlreadyVoted", err)
	}

	voted, _ := repos.Votes.HasVoted(ctx, p.ID, voter)
	if !voted {
		t.Fatal("HasVoted = false after vote")
	}
	rows, _ := repos.Votes.Selections(ctx, p.ID)
	if len(rows) != 1 || rows[0][0] != "a" {
		t.Fatalf("Selections = %v", rows)
	}
}

func TestConcurrentDoubleVote(t *testing.T) {
	repos := NewMemoryRepositories()
	ctx := context.Background()
	now := time.Now()
	p := seedPoll(t, repos, now.Add(-time.Hour), now.Add(time.Hour))
	voter := uuid.New()

	var ok, dup int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repos.Votes.InsertVote(ctx, &poll.Vote{PollID: p.ID, OptionIDs: []string{"a"}}, voter, now)
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, univote_errors.ErrAlreadyVoted):
				atomic.AddInt32(&dup, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || dup != 19 {
		t.Fatalf("ok=%d dup=%d, want 1 and 19", ok, dup)
	}
	rows, _ := repos.Votes.Selections(ctx, p.ID)
	if len(rows) != 1 {
		t.Fatalf("%d vote rows stored, want 1", len(rows))
	}
}

func TestInsertVoteAfterClose(t *testing.T) {
	repos := NewMemoryRepositories()
	ctx := context.Background()
	now := time.Now()
	p := seedPoll(t, repos, now.Add(-time.Hour), now.Add(time.Hour))

	if err := repos.Polls.Close(ctx, p.ID, now); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err := repos.Votes.InsertVote(ctx, &poll.Vote{PollID: p.ID, OptionIDs: []string{"a"}}, uuid.New(), now.Add(time.Second))
	if !errors.Is(err, univote_errors.ErrPollClosed) {
		t.Fatalf("vote after close = %v, want ErrPollClosed", err)
	}
	voted, _ := repos.Votes.HasVoted(ctx, p.ID, uuid.New())
	if voted {
		t.Fatal("marker written for rejected vote")
	}
}

func TestCloseUpcomingPoll(t *testing.T) {
	repos := NewMemoryRepositories()
	ctx := context.Background()
	now := time.Now()
	p := seedPoll(t, repos, now.Add(time.Hour), now.Add(2*time.Hour))

	if err := repos.Polls.Close(ctx, p.ID, now); !errors.Is(err, univote_errors.ErrPollNotStarted) {
		t.Fatalf("Close upcoming = %v, want ErrPollNotStarted", err)
	}
	if err := repos.Polls.Close(ctx, p.ID, p.StartsAt); !errors.Is(err, univote_errors.ErrPollNotStarted) {
		t.Fatalf("Close at start = %v, want ErrPollNotStarted", err)
	}
	got, _ := repos.Polls.GetByID(ctx, p.ID)
	if !got.EndsAt.Equal(p.EndsAt) || !got.StartsAt.Equal(p.StartsAt) {
		t.Fatalf("window changed to %v..%v", got.StartsAt, got.EndsAt)
	}
}

func TestCloseActivePollKeepsWindowOrdered(t *testing.T) {
	repos := NewMemoryRepositories()
	ctx := context.Background()
	now := time.Now()
	p := seedPoll(t, repos, now.Add(-time.Hour), now.Add(time.Hour))

	if err := repos.Polls.Close(ctx, p.ID, now); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got, _ := repos.Polls.GetByID(ctx, p.ID)
	if !got.EndsAt.After(got.StartsAt) {
		t.Fatalf("endsAt %v not after startsAt %v", got.EndsAt, got.StartsAt)
	}
	if got.StatusAt(now.Add(time.Second)) != poll.StatusClosed {
		t.Fatalf("status after close = %s", got.StatusAt(now.Add(time.Second)))
	}
	if err := repos.Polls.Close(ctx, uuid.New(), now); !errors.Is(err, univote_errors.ErrNotFound) {
		t.Fatalf("Close missing = %v, want ErrNotFound", err)
	}
}

func TestDeleteCascades(t *testing.T) {
	repos := NewMemoryRepositories()
	ctx := context.Background()
	now := time.Now()
	p := seedPoll(t, repos, now.Add(-time.Hour), now.Add(time.Hour))
	voter := uuid.New()
	_ = repos.Votes.InsertVote(ctx, &poll.Vote{PollID: p.ID, OptionIDs: []string{"a"}}, voter, now)

	if err := repos.Polls.Delete(ctx, p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repos.Polls.GetByID(ctx, p.ID); !errors.Is(err, univote_errors.ErrNotFound) {
		t.Fatalf("GetByID after delete = %v", err)
	}
	if voted, _ := repos.Votes.HasVoted(ctx, p.ID, voter); voted {
		t.Fatal("marker survived poll delete")
	}
	if rows, _ := repos.Votes.Selections(ctx, p.ID); len(rows) != 0 {
		t.Fatalf("votes survived poll delete: %v", rows)
	}
}

func TestListPublishedOnly(t *testing.T) {
	repos := NewMemoryRepositories()
	ctx := context.Background()
	now := time.Now()
	a := seedPoll(t, repos, now.Add(-time.Hour), now.Add(time.Hour))
	seedPoll(t, repos, now.Add(-time.Hour), now.Add(time.Hour))
	_ = repos.Polls.SetPublished(ctx, a.ID, true)

	all, _ := repos.Polls.List(ctx, PollFilter{})
	published, _ := repos.Polls.List(ctx, PollFilter{PublishedOnly: true})
	if len(all) != 2 || len(published) != 1 || published[0].ID != a.ID {
		t.Fatalf("all=%d published=%v", len(all), published)
	}
}

func TestUserEmailUnique(t *testing.T) {
	repos := NewMemoryRepositories()
	ctx := context.Background()

	if err := repos.Users.Create(ctx, &user.User{Email: "Ann@Uni.edu", PasswordHash: "x"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := repos.Users.Create(ctx, &user.User{Email: "ann@uni.edu ", PasswordHash: "y"})
	if !errors.Is(err, univote_errors.ErrAlreadyExists) {
		t.Fatalf("duplicate email = %v, want ErrAlreadyExists", err)
	}
	u, err := repos.Users.GetUserByEmail(ctx, "ANN@uni.edu")
	if err != nil || u.Role != user.RoleStudent {
		t.Fatalf("GetUserByEmail = %+v, %v", u, err)
	}
}

func TestInvitationMarkUsedOnce(t *testing.T) {
	repos := NewMemoryRepositories()
	ctx := context.Background()
	inv := user.Invitation{Email: "driver@uni.edu", Token: "tok"}
	_ = repos.Invitations.Create(ctx, &inv)

	if err := repos.Invitations.MarkUsed(ctx, inv.ID); err != nil {
		t.Fatalf("MarkUsed: %v", err)
	}
	if err := repos.Invitations.MarkUsed(ctx, inv.ID); !errors.Is(err, univote_errors.ErrAlreadyExists) {
		t.Fatalf("second MarkUsed = %v", err)
	}
}
