package poll

import (
	"fmt"
	"strings"
	"time"

	univote_errors "univote/pkg/errors"

	"github.com/google/uuid"
)

// Type is the ballot shape of a poll.
type Type string

const (
	TypeSingle   Type = "single"
	TypeMultiple Type = "multiple"
	TypeParty    Type = "party"
)

func (t Type) Valid() bool {
	switch t {
	case TypeSingle, TypeMultiple, TypeParty:
		return true
	}
	return false
}

// Status is derived from the clock, never stored.
type Status string

const (
	StatusUpcoming Status = "upcoming"
	StatusActive   Status = "active"
	StatusClosed   Status = "closed"
)

// Option represents one entry of the options column
type Option struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
}

// Candidate is a president or deputy president on a party ticket
type Candidate struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Photo string `json:"photo,omitempty" yaml:"photo,omitempty"`
}

// Party represents one entry of the parties column
type Party struct {
	ID              string    `json:"id" yaml:"id"`
	Name            string    `json:"name" yaml:"name"`
	Logo            string    `json:"logo,omitempty" yaml:"logo,omitempty"`
	President       Candidate `json:"president" yaml:"president"`
	DeputyPresident Candidate `json:"deputyPresident" yaml:"deputyPresident"`
}

// Poll represents the polls table
type Poll struct {
	ID          uuid.UUID
	Title       string
	Description string
	Type        Type
	Options     []Option
	Parties     []Party
	StartsAt    time.Time
	EndsAt      time.Time
	Published   bool
	CreatedAt   time.Time
}

// Vote represents the votes table. It carries no voter identity.
type Vote struct {
	ID        uuid.UUID
	PollID    uuid.UUID
	OptionIDs []string
	CreatedAt time.Time
}

// StatusAt returns the lifecycle status of the poll at now.
func (p Poll) StatusAt(now time.Time) Status {
	switch {
	case now.Before(p.StartsAt):
		return StatusUpcoming
	case now.After(p.EndsAt):
		return StatusClosed
	default:
		return StatusActive
	}
}

func (p Poll) IsClosed(now time.Time) bool {
	return p.StatusAt(now) == StatusClosed
}

// CheckOpen returns ErrPollClosed or ErrPollNotStarted when votes cannot be cast at now.
func (p Poll) CheckOpen(now time.Time) error {
	switch p.StatusAt(now) {
	case StatusClosed:
		return univote_errors.ErrPollClosed
	case StatusUpcoming:
		return univote_errors.ErrPollNotStarted
	}
	return nil
}

// ChoiceIDs lists the selectable ids: option ids, or party ids for party polls.
func (p Poll) ChoiceIDs() []string {
	if p.Type == TypeParty {
		ids := make([]string, 0, len(p.Parties))
		for _, party := range p.Parties {
			ids = append(ids, party.ID)
		}
		return ids
	}
	ids := make([]string, 0, len(p.Options))
	for _, o := range p.Options {
		ids = append(ids, o.ID)
	}
	return ids
}

func (p Poll) HasChoice(id string) bool {
	for _, c := range p.ChoiceIDs() {
		if c == id {
			return true
		}
	}
	return false
}

// Validate checks a poll before it is persisted.
func (p Poll) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: title is required", univote_errors.ErrValidation)
	}
	if !p.Type.Valid() {
		return fmt.Errorf("%w: unknown poll type %q", univote_errors.ErrValidation, p.Type)
	}
	if p.StartsAt.IsZero() || p.EndsAt.IsZero() {
		return fmt.Errorf("%w: startsAt and endsAt are required", univote_errors.ErrValidation)
	}
	if !p.EndsAt.After(p.StartsAt) {
		return fmt.Errorf("%w: endsAt must be after startsAt", univote_errors.ErrValidation)
	}

	seen := make(map[string]struct{})
	check := func(id, what string) error {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: %s id is required", univote_errors.ErrValidation, what)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate %s id %q", univote_errors.ErrValidation, what, id)
		}
		seen[id] = struct{}{}
		return nil
	}

	if p.Type == TypeParty {
		if len(p.Parties) == 0 {
			return fmt.Errorf("%w: party polls need at least one party", univote_errors.ErrValidation)
		}
		for _, party := range p.Parties {
			if err := check(party.ID, "party"); err != nil {
				return err
			}
			if strings.TrimSpace(party.Name) == "" || party.President.Name == "" || party.DeputyPresident.Name == "" {
				return fmt.Errorf("%w: party %q needs a name, president and deputy president", univote_errors.ErrValidation, party.ID)
			}
		}
		return nil
	}

	if len(p.Options) == 0 {
		return fmt.Errorf("%w: poll needs at least one option", univote_errors.ErrValidation)
	}
	for _, o := range p.Options {
		if err := check(o.ID, "option"); err != nil {
			return err
		}
		if strings.TrimSpace(o.Label) == "" {
			return fmt.Errorf("%w: option %q needs a label", univote_errors.ErrValidation, o.ID)
		}
	}
	return nil
}

// ValidateSelection enforces the ballot cardinality rule and option membership.
// Single and party polls take exactly one id, multiple polls one or more distinct ids.
func (p Poll) ValidateSelection(optionIDs []string) error {
	if len(optionIDs) == 0 {
		return fmt.Errorf("%w: select at least one option", univote_errors.ErrValidation)
	}
	if p.Type != TypeMultiple && len(optionIDs) != 1 {
		return fmt.Errorf("%w: %s polls take exactly one choice", univote_errors.ErrValidation, p.Type)
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
	return nil
}
