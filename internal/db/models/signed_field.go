package models

import "gorm.io/gorm"

// SignedFieldRecord commits one field value per (document, version, recipient,
// field). Write-once: a retried request that carries a different value for an
// already-committed key is dropped, not applied.
type SignedFieldRecord struct {
	gorm.Model
	DocumentID  string `gorm:"not null;uniqueIndex:idx_field_commitment"`
	Version     int    `gorm:"not null;uniqueIndex:idx_field_commitment"`
	RecipientID string `gorm:"not null;uniqueIndex:idx_field_commitment"`
	FieldID     string `gorm:"not null;uniqueIndex:idx_field_commitment"`
	FieldType   string `gorm:"not null"`
	// Value is the plaintext as submitted, normalized to a canonical string.
	Value          string `gorm:"not null"`
	FieldValueHash string `gorm:"not null"`
	// FieldHash chains the field identifier to its value. Reused from the
	// corresponding signing event when available, else recomputed.
	FieldHash string `gorm:"not null"`
	// PayloadHash binds document, version, recipient and field together.
	PayloadHash        string `gorm:"not null"`
	SignatureImageHash string
}
