package models

import (
	"time"

	"gorm.io/gorm"
)

type EventAction string

const (
	ActionSent     EventAction = "sent"
	ActionViewed   EventAction = "viewed"
	ActionSigned   EventAction = "signed"
	ActionApproved EventAction = "approved"
	ActionRejected EventAction = "rejected"
	ActionExpired  EventAction = "expired"
)

// SigningEvent is one immutable ledger entry. The ledger is the source of
// truth for reconstructing who signed what, from where, independent of the
// mutable recipient and version state.
type SigningEvent struct {
	gorm.Model
	DocumentID      string      `gorm:"index;not null"`
	RecipientID     string      `gorm:"index;not null"`
	Action          EventAction `gorm:"not null"`
	BaseVersion     int         `gorm:"not null"`
	Version         int         `gorm:"not null"`
	SigningOrder    int
	ClientTimestamp *time.Time
	ServerTimestamp time.Time `gorm:"not null"`
	Evidence        Evidence  `gorm:"type:jsonb;serializer:json"`
	// FieldsDigest hashes the set of fields submitted in this action; the
	// commitment store reuses the per-field hashes so the two are provably
	// consistent.
	FieldsDigest string
	FieldHashes  map[string]string `gorm:"type:jsonb;serializer:json"`
}
