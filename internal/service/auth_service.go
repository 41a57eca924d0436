package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/TWRT/taskboard/internal/models"
	"github.com/TWRT/taskboard/internal/repository"
)

const (
	tokenIssuer       = "taskboard"
	minPasswordLength = 6
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUnauthenticated    = errors.New("not signed in")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", minPasswordLength)
)

// AuthService is the identity provider: it registers users, checks their
// passwords and issues the bearer tokens every other call is scoped by.
type AuthService struct {
	userRepo *repository.UserRepository
	secret   []byte
	ttl      time.Duration
	cost     int
	logger   *slog.Logger
	now      func() time.Time
}

func NewAuthService(userRepo *repository.UserRepository, secret string, ttl time.Duration, logger *slog.Logger) *AuthService {
	return &AuthService{
		userRepo: userRepo,
		secret:   []byte(secret),
		ttl:      ttl,
		cost:     bcrypt.DefaultCost,
		logger:   logger,
		now:      time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *AuthService) Register(ctx context.Context, email, password, displayName string) (models.User, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return models.User{}, fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	if len(password) < minPasswordLength {
		return models.User{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName, _, _ = strings.Cut(email, "@")
	}

	rec := &repository.UserRecord{
		User: models.User{
			UID:         uuid.NewString(),
			DisplayName: displayName,
			Email:       email,
			CreatedAt:   models.Millis(s.now()),
		},
		PasswordHash: string(hash),
	}
	if err := s.userRepo.Create(ctx, rec); err != nil {
		return models.User{}, err
	}

	s.logger.Info("user registered", slog.String("uid", rec.UID))
	return rec.User, nil
}

// Login checks the password and returns a signed token for the user. An
// unknown email and a wrong password fail the same way.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, models.User, error) {
	rec, err := s.userRepo.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, repository.ErrNotFound) {
		return "", models.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return "", models.User{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)); err != nil {
		s.logger.Info("failed sign-in", slog.String("uid", rec.UID))
		return "", models.User{}, ErrInvalidCredentials
	}

	token, err := s.IssueToken(rec.UID)
	if err != nil {
		return "", models.User{}, err
	}
	return token, rec.User, nil
}

// IssueToken signs an HS256 token whose subject is uid.
func (s *AuthService) IssueToken(uid string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   uid,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses token and returns the user it was issued to.
func (s *AuthService) Verify(ctx context.Context, token string) (models.User, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return models.User{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	rec, err := s.userRepo.GetByID(ctx, claims.Subject)
	if errors.Is(err, repository.ErrNotFound) {
		return models.User{}, fmt.Errorf("%w: unknown user", ErrUnauthenticated)
	}
	if err != nil {
		return models.User{}, err
	}
	return rec.User, nil
}
