package poll

import (
	"errors"
	"testing"
	"time"

	univote_errors "univote/pkg/errors"

	"github.com/google/uuid"
)

func singlePoll(start, end time.Time) Poll {
	return Poll{
		ID:       uuid.New(),
		Title:    "Library hours",
		Type:     TypeSingle,
		Options:  []Option{{ID: "o1", Label: "Later"}, {ID: "o2", Label: "Earlier"}},
		StartsAt: start,
		EndsAt:   end,
	}
}

func TestTallyMultipleChoice(t *testing.T) {
	got := Tally([][]string{{"A", "B"}, {"A"}})

	want := map[string]int{"A": 2, "B": 1}
	if !SameTally(got, want) {
		t.Fatalf("Tally() = %v, want %v", got, want)
	}
}

func TestTallyEmpty(t *testing.T) {
	if got := Tally(nil); len(got) != 0 {
		t.Fatalf("Tally(nil) = %v, want empty", got)
	}
}

func TestSameTally(t *testing.T) {
	if SameTally(map[string]int{"A": 1}, map[string]int{"A": 2}) {
		t.Error("different counts reported as equal")
	}
	if SameTally(map[string]int{"A": 1}, map[string]int{"A": 1, "B": 0}) {
		t.Error("different key sets reported as equal")
	}
}

func TestStatusAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := singlePoll(now.Add(-time.Hour), now.Add(time.Hour))

	tests := []struct {
		at   time.Time
		want Status
	}{
		{now.Add(-2 * time.Hour), StatusUpcoming},
		{now, StatusActive},
		{p.EndsAt, StatusActive},
		{p.EndsAt.Add(time.Second), StatusClosed},
	}
	for _, tt := range tests {
		if got := p.StatusAt(tt.at); got != tt.want {
			t.Errorf("StatusAt(%v) = %s, want %s", tt.at, got, tt.want)
		}
	}

	if err := p.CheckOpen(now.Add(2 * time.Hour)); !errors.Is(err, univote_errors.ErrPollClosed) {
		t.Errorf("CheckOpen after end = %v, want ErrPollClosed", err)
	}
	if err := p.CheckOpen(now.Add(-2 * time.Hour)); !errors.Is(err, univote_errors.ErrPollNotStarted) {
		t.Errorf("CheckOpen before start = %v, want ErrPollNotStarted", err)
	}
}

func TestValidate(t *testing.T) {
	now := time.Now()

	ok := singlePoll(now, now.Add(time.Hour))
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	backwards := singlePoll(now, now.Add(-time.Hour))
	if err := backwards.Validate(); !errors.Is(err, univote_errors.ErrValidation) {
		t.Errorf("endsAt before startsAt: got %v", err)
	}

	dup := singlePoll(now, now.Add(time.Hour))
	dup.Options = append(dup.Options, Option{ID: "o1", Label: "Again"})
	if err := dup.Validate(); !errors.Is(err, univote_errors.ErrValidation) {
		t.Errorf("duplicate option id: got %v", err)
	}

	party := Poll{
		Title:    "SRC",
		Type:     TypeParty,
		StartsAt: now,
		EndsAt:   now.Add(time.Hour),
		Parties: []Party{{
			ID:              "p1",
			Name:            "Unity",
			President:       Candidate{ID: "c1", Name: "Priya Singh"},
			DeputyPresident: Candidate{ID: "c2", Name: "Michael Chen"},
		}},
	}
	if err := party.Validate(); err != nil {
		t.Errorf("party poll: %v", err)
	}
	party.Parties[0].DeputyPresident.Name = ""
	if err := party.Validate(); !errors.Is(err, univote_errors.ErrValidation) {
		t.Errorf("party without deputy: got %v", err)
	}
}

func TestValidateSelection(t *testing.T) {
	now := time.Now()
	single := singlePoll(now, now.Add(time.Hour))
	multiple := single
	multiple.Type = TypeMultiple

	tests := []struct {
		name    string
		poll    Poll
		ids     []string
		wantErr bool
	}{
		{"single one", single, []string{"o1"}, false},
		{"single empty", single, nil, true},
		{"single two", single, []string{"o1", "o2"}, true},
		{"single unknown", single, []string{"zz"}, true},
		{"multiple two", multiple, []string{"o1", "o2"}, false},
		{"multiple duplicate", multiple, []string{"o1", "o1"}, true},
		{"multiple empty", multiple, []string{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.poll.ValidateSelection(tt.ids)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateSelection(%v) error = %v, wantErr %v", tt.ids, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, univote_errors.ErrValidation) {
				t.Fatalf("error %v is not a validation error", err)
			}
		})
	}
}
