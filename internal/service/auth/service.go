package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/mailing-scheduler/pkg/auth"
	apperrors "github.com/jwalitptl/mailing-scheduler/pkg/errors"
	"github.com/jwalitptl/mailing-scheduler/pkg/logger"
	"github.com/jwalitptl/mailing-scheduler/pkg/security"
	"github.com/jwalitptl/mailing-scheduler/pkg/validator"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

const (
	maxLoginAttempts = 5
	lockoutDuration  = 15 * time.Minute
)

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type TokenResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Credentials is the single back-office operator account.
type Credentials struct {
	Username     string
	PasswordHash string
}

type Service struct {
	creds    Credentials
	hasher   security.PasswordHasher
	jwtSvc   auth.JWTService
	attempts *cache.Cache
	logger   *logger.Logger
}

func NewService(creds Credentials, hasher security.PasswordHasher, jwtSvc auth.JWTService, logger *logger.Logger) *Service {
	return &Service{
		creds:    creds,
		hasher:   hasher,
		jwtSvc:   jwtSvc,
		attempts: cache.New(lockoutDuration, 2*lockoutDuration),
		logger:   logger,
	}
}

func (s *Service) Login(ctx context.Context, req *LoginRequest) (*TokenResponse, error) {
	if err := validator.Validate(req); err != nil {
		return nil, err
	}

	if n, ok := s.attempts.Get(req.Username); ok && n.(int) >= maxLoginAttempts {
		return nil, apperrors.Unauthorized(errors.New("account is locked, please try again later"))
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(s.creds.Username)) == 1
	passErr := s.hasher.Compare(s.creds.PasswordHash, req.Password)
	if !userOK || passErr != nil {
		s.recordFailure(req.Username)
		s.logger.Warn("Admin login failed", "username", req.Username)
		return nil, apperrors.Unauthorized(ErrInvalidCredentials)
	}
	s.attempts.Delete(req.Username)

	token, expires, err := s.jwtSvc.GenerateAccessToken(s.creds.Username)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	s.logger.Info("Admin logged in", "username", s.creds.Username)
	return &TokenResponse{AccessToken: token, ExpiresAt: expires}, nil
}

func (s *Service) recordFailure(username string) {
	if err := s.attempts.Add(username, 1, cache.DefaultExpiration); err != nil {
		// Increment keeps the original expiry, so the lockout window starts at the first failure.
		_ = s.attempts.Increment(username, 1)
	}
}
