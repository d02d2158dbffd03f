package httpdto

import (
	"time"

	"univote/internal/domain/poll"
)

// CreatePollRequest is used for POST /admin/polls
type CreatePollRequest struct {
	Title       string        `json:"title" binding:"required"`
	Description string        `json:"description"`
	Type        string        `json:"type" binding:"required"`
	Options     []poll.Option `json:"options"`
	Parties     []poll.Party  `json:"parties"`
	StartsAt    time.Time     `json:"startsAt" binding:"required"`
	EndsAt      time.Time     `json:"endsAt" binding:"required"`
}

// PublishRequest is used for PATCH /admin/polls/:id/published
type PublishRequest struct {
	Published *bool `json:"published" binding:"required"`
}

type PollDTO struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Type        string        `json:"type"`
	Options     []poll.Option `json:"options"`
	Parties     []poll.Party  `json:"parties"`
	StartsAt    time.Time     `json:"startsAt"`
	EndsAt      time.Time     `json:"endsAt"`
	Published   bool          `json:"published"`
	Status      string        `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
}

func NewPollDTO(p poll.Poll, status poll.Status) PollDTO {
	dto := PollDTO{
		ID:          p.ID.String(),
		Title:       p.Title,
		Description: p.Description,
		Type:        string(p.Type),
		Options:     p.Options,
		Parties:     p.Parties,
		StartsAt:    p.StartsAt,
		EndsAt:      p.EndsAt,
		Published:   p.Published,
		Status:      string(status),
		CreatedAt:   p.CreatedAt,
	}
	if dto.Options == nil {
		dto.Options = []poll.Option{}
	}
	if dto.Parties == nil {
		dto.Parties = []poll.Party{}
	}
	return dto
}

type HasVotedResponse struct {
	PollID string `json:"poll_id"`
	Voted  bool   `json:"voted"`
}
