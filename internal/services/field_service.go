package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/rajinweb/contract-esign/internal/db/models"
	"github.com/rajinweb/contract-esign/internal/repository"
)

// FieldSubmission is one field value as submitted by a recipient.
type FieldSubmission struct {
	ID    string `json:"id" binding:"required"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// FieldService commits per-field signed values. Each commitment carries a
// value hash, a field hash chaining the identifier to the value, and a
// payload hash binding document, version, recipient and field together.
type FieldService struct {
	records repository.FieldRecordRepository
	logger  *zap.Logger
}

func NewFieldService(records repository.FieldRecordRepository, logger *zap.Logger) *FieldService {
	return &FieldService{
		records: records,
		logger:  logger.With(zap.String("service", "field_service")),
	}
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// CanonicalValue normalizes a submitted value so the same input always hashes
// to the same commitment: trimmed, with CRLF folded to LF.
func CanonicalValue(value string) string {
	return strings.TrimSpace(strings.ReplaceAll(value, "\r\n", "\n"))
}

func isImageValued(fieldType string) bool {
	switch strings.ToLower(fieldType) {
	case "signature", "initials", "image", "stamp":
		return true
	}
	return false
}

// HashSubmission computes the per-field hashes and the digest over the whole
// set of fields signed in one action. The signing event stores this digest and
// the commitment store reuses the same per-field hashes, so ledger and
// commitments are provably consistent.
func (fs *FieldService) HashSubmission(fields []FieldSubmission) (string, map[string]string) {
	fieldHashes := make(map[string]string, len(fields))
	parts := make([]string, 0, len(fields))

	for _, f := range fields {
		value := CanonicalValue(f.Value)
		fieldHashes[f.ID] = hashString(f.ID + ":" + value)
		parts = append(parts, f.ID+":"+hashString(value))
	}
	sort.Strings(parts)

	return hashString(strings.Join(parts, "|")), fieldHashes
}

// Commit persists one record per field. Insert-if-absent: a retried request
// cannot overwrite a previously committed value; the duplicate is dropped.
func (fs *FieldService) Commit(ctx context.Context, documentID string, version int, recipientID string, fields []FieldSubmission, eventFieldHashes map[string]string) ([]models.SignedFieldRecord, error) {
	records := make([]models.SignedFieldRecord, 0, len(fields))

	for _, f := range fields {
		value := CanonicalValue(f.Value)
		valueHash := hashString(value)

		fieldHash, ok := eventFieldHashes[f.ID]
		if !ok {
			fieldHash = hashString(f.ID + ":" + value)
		}

		record := models.SignedFieldRecord{
			DocumentID:     documentID,
			Version:        version,
			RecipientID:    recipientID,
			FieldID:        f.ID,
			FieldType:      f.Type,
			Value:          value,
			FieldValueHash: valueHash,
			FieldHash:      fieldHash,
			PayloadHash: hashString(fmt.Sprintf("%s|%d|%s|%s|%s",
				documentID, version, recipientID, f.ID, valueHash)),
		}
		if isImageValued(f.Type) {
			record.SignatureImageHash = valueHash
		}
		records = append(records, record)
	}

	if err := fs.records.Insert(ctx, records); err != nil {
		return nil, err
	}

	fs.logger.Info("Field commitments persisted",
		zap.String("doc_id", documentID),
		zap.Int("version", version),
		zap.String("recipient_id", recipientID),
		zap.Int("fields", len(records)))
	return records, nil
}

// Rollback removes the commitments written for one action. Only valid as
// compensation inside the same failed request.
func (fs *FieldService) Rollback(ctx context.Context, documentID string, version int, recipientID string) error {
	return fs.records.DeleteForAction(ctx, documentID, version, recipientID)
}
