package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"univote/config"
	"univote/internal/domain/user"
	"univote/internal/redis"
	"univote/internal/repository"
	univote_errors "univote/pkg/errors"
	"univote/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

// SessionCache is the read-through cache the auth middleware hits first.
type SessionCache interface {
	GetSession(ctx context.Context, sessionID uuid.UUID) (*redis.SessionCache, error)
	SetSessionFromEntity(ctx context.Context, session *user.UserSession, u *user.User) error
	InvalidateSession(ctx context.Context, sessionID uuid.UUID) error
}

type AuthService struct {
	userRepo   repository.UserRepository
	inviteRepo repository.InvitationRepository
	cache      SessionCache
	log        *logger.Logger
	jwtSecret  []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewAuthService(userRepo repository.UserRepository, inviteRepo repository.InvitationRepository, cache SessionCache, cfg *config.Config, log *logger.Logger) *AuthService {
	return &AuthService{
		userRepo:   userRepo,
		inviteRepo: inviteRepo,
		cache:      cache,
		log:        logger.OrNop(log),
		jwtSecret:  []byte(cfg.JWTSecret),
		accessTTL:  time.Duration(cfg.JWTExpiryMin) * time.Minute,
		refreshTTL: time.Duration(cfg.RefreshExpiry) * 24 * time.Hour,
	}
}

type RegisterInput struct {
	Email    string
	Name     string
	Password string
}

type InviteRegisterInput struct {
	Token    string
	Name     string
	Password string
}

type LoginInput struct {
	Email    string
	Password string
}

type RefreshInput struct {
	SessionID    string
	RefreshToken string
}

type AuthResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	ExpiresIn    int64    `json:"expires_in"`
	SessionID    string   `json:"session_id"`
	User         UserInfo `json:"user"`
}

type UserInfo struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type InvitationInfo struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	Used      bool      `json:"used"`
	CreatedAt time.Time `json:"created_at"`
}

type AccessClaims struct {
	UserID    string `json:"sub"`
	SessionID string `json:"sid"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (AuthResponse, error) {
	if err := validateCredentials(in.Email, in.Password); err != nil {
		return AuthResponse{}, err
	}
	u, err := s.createUser(ctx, in.Email, in.Name, in.Password, user.RoleStudent)
	if err != nil {
		return AuthResponse{}, err
	}
	return s.startSession(ctx, u)
}

// RegisterWithInvitation creates an account for the invited address and
// burns the invitation.
func (s *AuthService) RegisterWithInvitation(ctx context.Context, in InviteRegisterInput) (AuthResponse, error) {
	if strings.TrimSpace(in.Token) == "" {
		return AuthResponse{}, fmt.Errorf("%w: invitation token is required", univote_errors.ErrValidation)
	}
	inv, err := s.inviteRepo.GetByToken(ctx, in.Token)
	if err != nil {
		if errors.Is(err, univote_errors.ErrNotFound) {
			return AuthResponse{}, fmt.Errorf("%w: invalid or used invitation", univote_errors.ErrValidation)
		}
		return AuthResponse{}, err
	}
	if inv.Used {
		return AuthResponse{}, fmt.Errorf("%w: invalid or used invitation", univote_errors.ErrValidation)
	}
	if err := validateCredentials(inv.Email, in.Password); err != nil {
		return AuthResponse{}, err
	}

	u, err := s.createUser(ctx, inv.Email, in.Name, in.Password, user.RoleStudent)
	if err != nil {
		return AuthResponse{}, err
	}
	if err := s.inviteRepo.MarkUsed(ctx, inv.ID); err != nil {
		s.log.WarnCtx(ctx, "invitation not marked used", zap.String("invitation_id", inv.ID.String()), zap.Error(err))
	}
	return s.startSession(ctx, u)
}

func (s *AuthService) Login(ctx context.Context, in LoginInput) (AuthResponse, error) {
	if in.Email == "" || in.Password == "" {
		return AuthResponse{}, fmt.Errorf("%w: email and password are required", univote_errors.ErrValidation)
	}

	u, err := s.userRepo.GetUserByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, univote_errors.ErrNotFound) {
			return AuthResponse{}, univote_errors.ErrUnauthorized
		}
		return AuthResponse{}, err
	}
	if err := comparePassword(u.PasswordHash, in.Password); err != nil {
		return AuthResponse{}, univote_errors.ErrUnauthorized
	}
	return s.startSession(ctx, u)
}

// Refresh rotates the refresh token. A mismatched token revokes the session.
func (s *AuthService) Refresh(ctx context.Context, in RefreshInput) (AuthResponse, error) {
	if in.SessionID == "" || in.RefreshToken == "" {
		return AuthResponse{}, fmt.Errorf("%w: session_id and refresh_token are required", univote_errors.ErrValidation)
	}
	sessionID, err := uuid.Parse(in.SessionID)
	if err != nil {
		return AuthResponse{}, fmt.Errorf("%w: invalid session id", univote_errors.ErrValidation)
	}

	session, err := s.userRepo.GetSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, univote_errors.ErrNotFound) {
			return AuthResponse{}, univote_errors.ErrUnauthorized
		}
		return AuthResponse{}, err
	}
	if !session.Active(time.Now()) {
		return AuthResponse{}, univote_errors.ErrUnauthorized
	}
	if !s.compareRefreshToken(session.RefreshTokenHash, in.RefreshToken) {
		_ = s.userRepo.RevokeSession(ctx, session.ID)
		s.invalidate(ctx, session.ID)
		return AuthResponse{}, univote_errors.ErrUnauthorized
	}

	u, err := s.userRepo.GetUserByID(ctx, session.UserID)
	if err != nil {
		return AuthResponse{}, err
	}

	newRefresh, err := generateToken(32)
	if err != nil {
		return AuthResponse{}, err
	}
	session.RefreshTokenHash = s.hashRefreshToken(newRefresh)
	session.ExpiresAt = time.Now().Add(s.refreshTTL)
	if err := s.userRepo.UpdateSession(ctx, session); err != nil {
		return AuthResponse{}, err
	}
	s.remember(ctx, &session, &u)

	accessToken, expiresIn, err := s.newAccessToken(u, session.ID)
	if err != nil {
		return AuthResponse{}, err
	}
	return AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: newRefresh,
		ExpiresIn:    expiresIn,
		SessionID:    session.ID.String(),
		User:         toUserInfo(u),
	}, nil
}

func (s *AuthService) Logout(ctx context.Context, sessionID uuid.UUID) error {
	if sessionID == uuid.Nil {
		return fmt.Errorf("%w: session id is required", univote_errors.ErrValidation)
	}
	s.invalidate(ctx, sessionID)
	return s.userRepo.RevokeSession(ctx, sessionID)
}

func (s *AuthService) Me(ctx context.Context, userID uuid.UUID) (UserInfo, error) {
	u, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		return UserInfo{}, err
	}
	return toUserInfo(u), nil
}

// Authenticate turns a bearer token into a Caller. The session is checked
// against the cache first and the database on a miss.
func (s *AuthService) Authenticate(ctx context.Context, token string) (Caller, error) {
	claims, err := s.ParseAccessToken(token)
	if err != nil {
		return Caller{}, err
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return Caller{}, univote_errors.ErrUnauthorized
	}
	sessionID, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return Caller{}, univote_errors.ErrUnauthorized
	}

	if s.cache != nil {
		cached, err := s.cache.GetSession(ctx, sessionID)
		if err != nil {
			s.log.WarnCtx(ctx, "session cache unavailable", zap.Error(err))
		} else if cached != nil {
			if cached.UserID != userID || time.Now().After(cached.ExpiresAt) {
				return Caller{}, univote_errors.ErrUnauthorized
			}
			return Caller{UserID: userID, SessionID: sessionID, Email: cached.Email, Role: cached.Role}, nil
		}
	}

	session, err := s.userRepo.GetSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, univote_errors.ErrNotFound) {
			return Caller{}, univote_errors.ErrUnauthorized
		}
		return Caller{}, err
	}
	if session.UserID != userID || !session.Active(time.Now()) {
		return Caller{}, univote_errors.ErrUnauthorized
	}
	u, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, univote_errors.ErrNotFound) {
			return Caller{}, univote_errors.ErrUnauthorized
		}
		return Caller{}, err
	}
	s.remember(ctx, &session, &u)
	return Caller{UserID: u.ID, SessionID: session.ID, Email: u.Email, Role: u.Role}, nil
}

func (s *AuthService) ParseAccessToken(tokenString string) (AccessClaims, error) {
	if tokenString == "" {
		return AccessClaims{}, univote_errors.ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, univote_errors.ErrUnauthorized
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return AccessClaims{}, univote_errors.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return AccessClaims{}, univote_errors.ErrUnauthorized
	}
	return *claims, nil
}

func (s *AuthService) CreateInvitation(ctx context.Context, caller Caller, email string) (InvitationInfo, error) {
	if !caller.IsAdmin() {
		return InvitationInfo{}, univote_errors.ErrPermissionDenied
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return InvitationInfo{}, fmt.Errorf("%w: invalid email", univote_errors.ErrValidation)
	}
	inv := &user.Invitation{
		Email:     email,
		Token:     uuid.NewString(),
		CreatedBy: caller.UserID,
	}
	if err := s.inviteRepo.Create(ctx, inv); err != nil {
		return InvitationInfo{}, err
	}
	return toInvitationInfo(*inv), nil
}

func (s *AuthService) ListInvitations(ctx context.Context, caller Caller) ([]InvitationInfo, error) {
	if !caller.IsAdmin() {
		return nil, univote_errors.ErrPermissionDenied
	}
	invs, err := s.inviteRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]InvitationInfo, 0, len(invs))
	for _, inv := range invs {
		out = append(out, toInvitationInfo(inv))
	}
	return out, nil
}

// GetInvitation lets the invite page show the address before sign-up.
func (s *AuthService) GetInvitation(ctx context.Context, token string) (InvitationInfo, error) {
	inv, err := s.inviteRepo.GetByToken(ctx, token)
	if err != nil {
		return InvitationInfo{}, err
	}
	info := toInvitationInfo(inv)
	info.Token = ""
	return info, nil
}

func (s *AuthService) createUser(ctx context.Context, email, name, password, role string) (user.User, error) {
	hash, err := hashPassword(password)
	if err != nil {
		return user.User{}, err
	}
	if strings.TrimSpace(name) == "" {
		name = strings.Split(email, "@")[0]
	}
	u := &user.User{
		ID:           uuid.New(),
		Email:        user.NormalizeEmail(email),
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		Role:         role,
	}
	if err := s.userRepo.Create(ctx, u); err != nil {
		return user.User{}, err
	}
	return *u, nil
}

func (s *AuthService) startSession(ctx context.Context, u user.User) (AuthResponse, error) {
	refreshToken, err := generateToken(32)
	if err != nil {
		return AuthResponse{}, err
	}
	session := &user.UserSession{
		ID:               uuid.New(),
		UserID:           u.ID,
		RefreshTokenHash: s.hashRefreshToken(refreshToken),
		ExpiresAt:        time.Now().Add(s.refreshTTL),
	}
	if err := s.userRepo.CreateSession(ctx, session); err != nil {
		return AuthResponse{}, err
	}
	s.remember(ctx, session, &u)

	accessToken, expiresIn, err := s.newAccessToken(u, session.ID)
	if err != nil {
		return AuthResponse{}, err
	}
	return AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    expiresIn,
		SessionID:    session.ID.String(),
		User:         toUserInfo(u),
	}, nil
}

func (s *AuthService) remember(ctx context.Context, session *user.UserSession, u *user.User) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetSessionFromEntity(ctx, session, u); err != nil {
		s.log.WarnCtx(ctx, "session cache write failed", zap.Error(err))
	}
}

func (s *AuthService) invalidate(ctx context.Context, sessionID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateSession(ctx, sessionID); err != nil {
		s.log.WarnCtx(ctx, "session cache invalidate failed", zap.Error(err))
	}
}

func (s *AuthService) newAccessToken(u user.User, sessionID uuid.UUID) (string, int64, error) {
	now := time.Now()
	expiresAt := now.Add(s.accessTTL)

	claims := AccessClaims{
		UserID:    u.ID.String(),
		SessionID: sessionID.String(),
		Email:     u.Email,
		Role:      u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(s.accessTTL.Seconds()), nil
}

func (s *AuthService) hashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *AuthService) compareRefreshToken(hash, token string) bool {
	computed := s.hashRefreshToken(token)
	return subtle.ConstantTimeCompare([]byte(hash), []byte(computed)) == 1
}

func validateCredentials(email, password string) error {
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("%w: invalid email", univote_errors.ErrValidation)
	}
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", univote_errors.ErrValidation, minPasswordLength)
	}
	return nil
}

// HashPassword is exported for seeding.
func HashPassword(password string) (string, error) {
	return hashPassword(password)
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func comparePassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

func generateToken(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func toUserInfo(u user.User) UserInfo {
	return UserInfo{
		ID:        u.ID.String(),
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

func toInvitationInfo(inv user.Invitation) InvitationInfo {
	return InvitationInfo{
		ID:        inv.ID.String(),
		Email:     inv.Email,
		Token:     inv.Token,
		Used:      inv.Used,
		CreatedAt: inv.CreatedAt,
	}
}
