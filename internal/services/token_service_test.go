package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rajinweb/contract-esign/internal/apperrors"
	"github.com/rajinweb/contract-esign/internal/config"
	"github.com/rajinweb/contract-esign/internal/db/models"
)

func TestIssueAndVerifySession(t *testing.T) {
	e := newEnv()

	token, err := e.tokens.IssueSession("owner-1", "owner@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	ownerID, err := e.tokens.VerifySession(token)
	require.NoError(t, err)
	require.Equal(t, "owner-1", ownerID)
}

func TestVerifySession_RejectsForeignSecret(t *testing.T) {
	e := newEnv()
	other := NewTokenService(e.docs, config.SecurityConfig{
		JWTSecret:      "different-secret",
		SessionTimeout: time.Hour,
	}, zap.NewNop())

	token, err := other.IssueSession("owner-1", "owner@example.com")
	require.NoError(t, err)

	_, err = e.tokens.VerifySession(token)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeInvalidSigningLink, appErr.Code)
}

func TestVerifySession_RejectsExpired(t *testing.T) {
	e := newEnv()
	shortLived := NewTokenService(e.docs, config.SecurityConfig{
		JWTSecret:      "test-secret",
		SessionTimeout: -time.Minute,
	}, zap.NewNop())

	token, err := shortLived.IssueSession("owner-1", "owner@example.com")
	require.NoError(t, err)

	_, err = e.tokens.VerifySession(token)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeInvalidSigningLink, appErr.Code)
}

func TestSession_MissingSecretIsConfigurationError(t *testing.T) {
	e := newEnv()
	unconfigured := NewTokenService(e.docs, config.SecurityConfig{}, zap.NewNop())

	_, err := unconfigured.IssueSession("owner-1", "owner@example.com")
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeConfigMissing, appErr.Code)
}

func TestResolveSigningToken(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	doc := e.newSentDocument(t, models.ModeSequential, twoSigners())

	resolved, recipient, err := e.tokens.ResolveSigningToken(ctx, doc.Recipients[1].SigningToken)
	require.NoError(t, err)
	require.Equal(t, doc.ID, resolved.ID)
	require.Equal(t, doc.Recipients[1].ID, recipient.ID)

	_, _, err = e.tokens.ResolveSigningToken(ctx, "no-such-token")
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeNotFound, appErr.Code)

	_, _, err = e.tokens.ResolveSigningToken(ctx, "")
	require.Error(t, err)
}
