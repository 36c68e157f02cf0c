package services

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rajinweb/contract-esign/internal/apperrors"
	"github.com/rajinweb/contract-esign/internal/config"
	"github.com/rajinweb/contract-esign/internal/db/models"
	"github.com/rajinweb/contract-esign/internal/repository"
)

// TokenService covers both sides of identity: owner sessions are stateless
// JWTs, signing links are opaque random tokens persisted on the recipient so
// they survive restarts and can be revoked per recipient.
type TokenService struct {
	docs       repository.DocumentRepository
	secret     []byte
	sessionTTL time.Duration
	logger     *zap.Logger
}

func NewTokenService(docs repository.DocumentRepository, cfg config.SecurityConfig, logger *zap.Logger) *TokenService {
	return &TokenService{
		docs:       docs,
		secret:     []byte(cfg.JWTSecret),
		sessionTTL: cfg.SessionTimeout,
		logger:     logger.With(zap.String("service", "token_service")),
	}
}

// IssueSession mints an owner session token.
func (ts *TokenService) IssueSession(ownerID, ownerEmail string) (string, error) {
	if len(ts.secret) == 0 {
		return "", apperrors.Configuration("jwt secret is not configured")
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   ownerID,
		Audience:  jwt.ClaimStrings{ownerEmail},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ts.sessionTTL)),
		ID:        uuid.New().String(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(ts.secret)
}

// VerifySession resolves a session token to the owner identity.
func (ts *TokenService) VerifySession(tokenString string) (string, error) {
	if len(ts.secret) == 0 {
		return "", apperrors.Configuration("jwt secret is not configured")
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return ts.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", apperrors.InvalidLink("invalid or expired session")
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", apperrors.InvalidLink("invalid session claims")
	}
	return claims.Subject, nil
}

// NewSigningToken issues a fresh opaque signing-link token.
func (ts *TokenService) NewSigningToken() string {
	return uuid.New().String()
}

// ResolveSigningToken maps a signing token to its (document, recipient) pair.
// The token must resolve to exactly one recipient on exactly one document.
func (ts *TokenService) ResolveSigningToken(ctx context.Context, token string) (*models.Document, *models.Recipient, error) {
	doc, err := ts.docs.GetBySigningToken(ctx, token)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil, apperrors.NotFound("unknown signing link")
		}
		return nil, nil, err
	}

	recipient := doc.RecipientByToken(token)
	if recipient == nil {
		return nil, nil, apperrors.NotFound("unknown signing link")
	}
	return doc, recipient, nil
}
