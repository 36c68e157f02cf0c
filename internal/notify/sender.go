package notify

import (
	"context"

	"go.uber.org/zap"
)

// Sender delivers signing requests and rejection notices. Best-effort by
// contract: a delivery failure must never roll back the signing action that
// triggered it.
type Sender interface {
	SendSigningRequest(ctx context.Context, recipientEmail, recipientName, documentID, documentName, signingToken string) error
	SendRejectionNotice(ctx context.Context, ownerEmail, documentName, recipientEmail string) error
}

// LogSender records deliveries to the log instead of an outbound channel.
// The production mail transport lives outside this service.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger.With(zap.String("sender", "log"))}
}

func (s *LogSender) SendSigningRequest(_ context.Context, recipientEmail, recipientName, documentID, documentName, signingToken string) error {
	s.logger.Info("Signing request dispatched",
		zap.String("recipient", recipientEmail),
		zap.String("recipient_name", recipientName),
		zap.String("document_id", documentID),
		zap.String("document_name", documentName),
		zap.String("token_prefix", tokenPrefix(signingToken)))
	return nil
}

func (s *LogSender) SendRejectionNotice(_ context.Context, ownerEmail, documentName, recipientEmail string) error {
	s.logger.Info("Rejection notice dispatched",
		zap.String("owner", ownerEmail),
		zap.String("document_name", documentName),
		zap.String("recipient", recipientEmail))
	return nil
}

func tokenPrefix(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}
