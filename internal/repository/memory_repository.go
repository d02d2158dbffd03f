package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"univote/internal/domain/poll"
	"univote/internal/domain/user"
	univote_errors "univote/pkg/errors"

	"github.com/google/uuid"
)

type voterMark struct {
	pollID uuid.UUID
	userID uuid.UUID
}

// memoryDB is the shared state behind the in-memory repositories. One
// mutex covers every table so InsertVote behaves like a transaction.
type memoryDB struct {
	mu          sync.RWMutex
	users       map[uuid.UUID]user.User
	sessions    map[uuid.UUID]user.UserSession
	invitations map[uuid.UUID]user.Invitation
	polls       map[uuid.UUID]poll.Poll
	votes       map[uuid.UUID][]poll.Vote
	marks       map[voterMark]struct{}
	now         func() time.Time
}

// NewMemoryRepositories returns process-local repositories for development and tests.
func NewMemoryRepositories() *Repositories {
	db := &memoryDB{
		users:       make(map[uuid.UUID]user.User),
		sessions:    make(map[uuid.UUID]user.UserSession),
		invitations: make(map[uuid.UUID]user.Invitation),
		polls:       make(map[uuid.UUID]poll.Poll),
		votes:       make(map[uuid.UUID][]poll.Vote),
		marks:       make(map[voterMark]struct{}),
		now:         time.Now,
	}
	return &Repositories{
		Users:       &memoryUsers{db},
		Invitations: &memoryInvitations{db},
		Polls:       &memoryPolls{db},
		Votes:       &memoryVotes{db},
	}
}

type memoryUsers struct{ db *memoryDB }

func (r *memoryUsers) Create(_ context.Context, u *user.User) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	u.Email = user.NormalizeEmail(u.Email)
	for _, existing := range r.db.users {
		if existing.Email == u.Email {
			return univote_errors.ErrAlreadyExists
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = user.RoleStudent
	}
	u.CreatedAt = r.db.now()
	r.db.users[u.ID] = *u
	return nil
}

func (r *memoryUsers) GetUserByID(_ context.Context, id uuid.UUID) (user.User, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	u, ok := r.db.users[id]
	if !ok {
		return user.User{}, univote_errors.ErrNotFound
	}
	return u, nil
}

func (r *memoryUsers) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	email = user.NormalizeEmail(email)
	for _, u := range r.db.users {
		if u.Email == email {
			return u, nil
		}
	}
	return user.User{}, univote_errors.ErrNotFound
}

func (r *memoryUsers) CountAdmins(_ context.Context) (int, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	n := 0
	for _, u := range r.db.users {
		if u.IsAdmin() {
			n++
		}
	}
	return n, nil
}

func (r *memoryUsers) CreateSession(_ context.Context, s *user.UserSession) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.users[s.UserID]; !ok {
		return univote_errors.ErrNotFound
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = r.db.now()
	r.db.sessions[s.ID] = *s
	return nil
}

func (r *memoryUsers) GetSessionByID(_ context.Context, id uuid.UUID) (user.UserSession, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	s, ok := r.db.sessions[id]
	if !ok {
		return user.UserSession{}, univote_errors.ErrNotFound
	}
	return s, nil
}

func (r *memoryUsers) UpdateSession(_ context.Context, s user.UserSession) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.sessions[s.ID]; !ok {
		return univote_errors.ErrNotFound
	}
	r.db.sessions[s.ID] = s
	return nil
}

func (r *memoryUsers) RevokeSession(_ context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.sessions[id]
	if !ok {
		return univote_errors.ErrNotFound
	}
	s.IsRevoked = true
	r.db.sessions[id] = s
	return nil
}

func (r *memoryUsers) RevokeAllUserSessions(_ context.Context, userID uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for id, s := range r.db.sessions {
		if s.UserID == userID {
			s.IsRevoked = true
			r.db.sessions[id] = s
		}
	}
	return nil
}

func (r *memoryUsers) CleanExpiredSessions(_ context.Context) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	now := r.db.now()
	for id, s := range r.db.sessions {
		if !s.Active(now) {
			delete(r.db.sessions, id)
		}
	}
	return nil
}

type memoryInvitations struct{ db *memoryDB }

func (r *memoryInvitations) Create(_ context.Context, inv *user.Invitation) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.invitations {
		if existing.Token == inv.Token {
			return univote_errors.ErrAlreadyExists
		}
	}
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	inv.Email = user.NormalizeEmail(inv.Email)
	inv.CreatedAt = r.db.now()
	r.db.invitations[inv.ID] = *inv
	return nil
}

func (r *memoryInvitations) GetByToken(_ context.Context, token string) (user.Invitation, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	for _, inv := range r.db.invitations {
		if inv.Token == token {
			return inv, nil
		}
	}
	return user.Invitation{}, univote_errors.ErrNotFound
}

func (r *memoryInvitations) List(_ context.Context) ([]user.Invitation, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	out := make([]user.Invitation, 0, len(r.db.invitations))
	for _, inv := range r.db.invitations {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryInvitations) MarkUsed(_ context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	inv, ok := r.db.invitations[id]
	if !ok {
		return univote_errors.ErrNotFound
	}
	if inv.Used {
		return univote_errors.ErrAlreadyExists
	}
	inv.Used = true
	r.db.invitations[id] = inv
	return nil
}

type memoryPolls struct{ db *memoryDB }

func copyPoll(p poll.Poll) poll.Poll {
	p.Options = append([]poll.Option(nil), p.Options...)
	p.Parties = append([]poll.Party(nil), p.Parties...)
	return p
}

func (r *memoryPolls) Create(_ context.Context, p *poll.Poll) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if _, exists := r.db.polls[p.ID]; exists {
		return univote_errors.ErrAlreadyExists
	}
	p.CreatedAt = r.db.now()
	r.db.polls[p.ID] = copyPoll(*p)
	return nil
}

func (r *memoryPolls) GetByID(_ context.Context, id uuid.UUID) (poll.Poll, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	p, ok := r.db.polls[id]
	if !ok {
		return poll.Poll{}, univote_errors.ErrNotFound
	}
	return copyPoll(p), nil
}

func (r *memoryPolls) List(_ context.Context, f PollFilter) ([]poll.Poll, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	out := make([]poll.Poll, 0, len(r.db.polls))
	for _, p := range r.db.polls {
		if f.PublishedOnly && !p.Published {
			continue
		}
		out = append(out, copyPoll(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryPolls) SetPublished(_ context.Context, id uuid.UUID, published bool) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.polls[id]
	if !ok {
		return univote_errors.ErrNotFound
	}
	p.Published = published
	r.db.polls[id] = p
	return nil
}

func (r *memoryPolls) Close(_ context.Context, id uuid.UUID, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.polls[id]
	if !ok {
		return univote_errors.ErrNotFound
	}
	if !at.After(p.StartsAt) {
		return univote_errors.ErrPollNotStarted
	}
	p.EndsAt = at
	r.db.polls[id] = p
	return nil
}

func (r *memoryPolls) Delete(_ context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.polls[id]; !ok {
		return univote_errors.ErrNotFound
	}
	delete(r.db.polls, id)
	delete(r.db.votes, id)
	for m := range r.db.marks {
		if m.pollID == id {
			delete(r.db.marks, m)
		}
	}
	return nil
}

type memoryVotes struct{ db *memoryDB }

func (r *memoryVotes) InsertVote(_ context.Context, v *poll.Vote, voterID uuid.UUID, now time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	p, ok := r.db.polls[v.PollID]
	if !ok {
		return univote_errors.ErrNotFound
	}
	if now.After(p.EndsAt) {
		return univote_errors.ErrPollClosed
	}
	mark := voterMark{pollID: v.PollID, userID: voterID}
	if _, voted := r.db.marks[mark]; voted {
		return univote_errors.ErrAlreadyVoted
	}

	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	v.CreatedAt = r.db.now()
	stored := *v
	stored.OptionIDs = append([]string(nil), v.OptionIDs...)

	r.db.marks[mark] = struct{}{}
	r.db.votes[v.PollID] = append(r.db.votes[v.PollID], stored)
	return nil
}

func (r *memoryVotes) HasVoted(_ context.Context, pollID, voterID uuid.UUID) (bool, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	_, voted := r.db.marks[voterMark{pollID: pollID, userID: voterID}]
	return voted, nil
}

func (r *memoryVotes) Selections(_ context.Context, pollID uuid.UUID) ([][]string, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	votes := r.db.votes[pollID]
	out := make([][]string, 0, len(votes))
	for _, v := range votes {
		out = append(out, append([]string(nil), v.OptionIDs...))
	}
	return out, nil
}
