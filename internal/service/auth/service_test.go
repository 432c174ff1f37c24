package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jwalitptl/mailing-scheduler/pkg/auth"
	apperrors "github.com/jwalitptl/mailing-scheduler/pkg/errors"
	"github.com/jwalitptl/mailing-scheduler/pkg/logger"
	"github.com/jwalitptl/mailing-scheduler/pkg/security"
)

func newService(t *testing.T) (*Service, auth.JWTService) {
	t.Helper()
	hasher := security.NewBcryptHasher(bcrypt.MinCost)
	hash, err := hasher.Hash("correct-horse")
	require.NoError(t, err)
	jwtSvc, err := auth.NewJWTService("secret", time.Hour)
	require.NoError(t, err)
	return NewService(Credentials{Username: "admin", PasswordHash: hash}, hasher, jwtSvc, logger.Nop()), jwtSvc
}

func TestLogin(t *testing.T) {
	svc, jwtSvc := newService(t)

	tokens, err := svc.Login(context.Background(), &LoginRequest{Username: "admin", Password: "correct-horse"})
	require.NoError(t, err)
	claims, err := jwtSvc.ValidateToken(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Login(context.Background(), &LoginRequest{Username: "admin", Password: "wrong"})
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized))

	_, err = svc.Login(context.Background(), &LoginRequest{Username: "root", Password: "correct-horse"})
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized))

	_, err = svc.Login(context.Background(), &LoginRequest{Username: "admin"})
	assert.True(t, apperrors.Is(err, apperrors.ErrBadRequest))
}

func TestLoginLocksAfterRepeatedFailures(t *testing.T) {
	svc, _ := newService(t)
	for i := 0; i < maxLoginAttempts; i++ {
		_, _ = svc.Login(context.Background(), &LoginRequest{Username: "admin", Password: "wrong"})
	}

	_, err := svc.Login(context.Background(), &LoginRequest{Username: "admin", Password: "correct-horse"})
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized))
}
