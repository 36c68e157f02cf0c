package models

import (
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

type SigningMode string

const (
	ModeSequential SigningMode = "sequential"
	ModeParallel   SigningMode = "parallel"
)

type DocumentStatus string

const (
	StatusDraft          DocumentStatus = "draft"
	StatusSent           DocumentStatus = "sent"
	StatusInProgress     DocumentStatus = "in_progress"
	StatusCompleted      DocumentStatus = "completed"
	StatusRejected       DocumentStatus = "rejected"
	StatusExpired        DocumentStatus = "expired"
	StatusVoided         DocumentStatus = "voided"
	StatusCancelled      DocumentStatus = "cancelled"
	StatusDeliveryFailed DocumentStatus = "delivery_failed"
)

type VersionLabel string

const (
	LabelOriginal    VersionLabel = "original"
	LabelPrepared    VersionLabel = "prepared"
	LabelSignedFinal VersionLabel = "signed_final"

	signedLabelPrefix = "signed"
)

// SignedByOrderLabel builds the label for a version produced by the signer
// at the given sequence order.
func SignedByOrderLabel(order int) VersionLabel {
	return VersionLabel("signed_by_order_" + strconv.Itoa(order))
}

// IsSigned reports whether the label marks a post-signature version.
func (l VersionLabel) IsSigned() bool {
	return strings.HasPrefix(string(l), signedLabelPrefix)
}

type RecipientRole string

const (
	RoleSigner   RecipientRole = "signer"
	RoleApprover RecipientRole = "approver"
	RoleViewer   RecipientRole = "viewer"
)

type RecipientStatus string

const (
	RecipientPending        RecipientStatus = "pending"
	RecipientSent           RecipientStatus = "sent"
	RecipientViewed         RecipientStatus = "viewed"
	RecipientSigned         RecipientStatus = "signed"
	RecipientApproved       RecipientStatus = "approved"
	RecipientRejected       RecipientStatus = "rejected"
	RecipientExpired        RecipientStatus = "expired"
	RecipientDeliveryFailed RecipientStatus = "delivery_failed"
)

// Completed reports whether the recipient finished their part of the workflow.
// Rejected and expired are terminal but not completed: they keep occupying
// their order slot in sequential mode.
func (s RecipientStatus) Completed() bool {
	return s == RecipientSigned || s == RecipientApproved
}

// Terminal reports whether no further action is accepted from the recipient.
func (s RecipientStatus) Terminal() bool {
	return s.Completed() || s == RecipientRejected || s == RecipientExpired
}

// Field is one placed form field of a prepared version. Only versions labeled
// "prepared" carry fields; signed versions freeze content, not layout.
type Field struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Label       string  `json:"label,omitempty"`
	RecipientID string  `json:"recipientId,omitempty"`
	Page        int     `json:"page"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Required    bool    `json:"required"`
}

// Version is one immutable entry in the document's content chain. It is never
// mutated after creation except to attach SignedBy once a signing action
// completes against it.
type Version struct {
	Version            int          `json:"version"`
	Label              VersionLabel `json:"label"`
	DerivedFromVersion *int         `json:"derivedFromVersion,omitempty"`
	Hash               string       `json:"hash"`
	HashAlgorithm      string       `json:"hashAlgorithm"`
	Size               int64        `json:"size"`
	MimeType           string       `json:"mimeType"`
	StorageKey         string       `json:"storageKey"`
	Locked             bool         `json:"locked"`
	ChangeLog          string       `json:"changeLog,omitempty"`
	ExpiresAt          *time.Time   `json:"expiresAt,omitempty"`
	Fields             []Field      `json:"fields,omitempty"`
	SignedBy           []string     `json:"signedBy,omitempty"`
	CreatedAt          time.Time    `json:"createdAt"`
}

// Evidence is the device/geo/consent snapshot captured with a recipient action.
type Evidence struct {
	IPAddress       string `json:"ipAddress,omitempty"`
	UserAgent       string `json:"userAgent,omitempty"`
	Device          string `json:"device,omitempty"`
	Geolocation     string `json:"geolocation,omitempty"`
	ConsentGranted  bool   `json:"consentGranted"`
	ConsentText     string `json:"consentText,omitempty"`
	ClientTimestamp string `json:"clientTimestamp,omitempty"`
}

// Recipient is one party to the signing transaction. Created at send time,
// mutated only by the recipient's own actions or by expiry, never deleted.
type Recipient struct {
	ID                     string          `json:"id"`
	Name                   string          `json:"name"`
	Email                  string          `json:"email"`
	Role                   RecipientRole   `json:"role"`
	Order                  int             `json:"order"`
	Status                 RecipientStatus `json:"status"`
	SignedVersion          *int            `json:"signedVersion,omitempty"`
	SigningToken           string          `json:"signingToken,omitempty"`
	RequireLocationConsent bool            `json:"requireLocationConsent,omitempty"`
	SentAt                 *time.Time      `json:"sentAt,omitempty"`
	ViewedAt               *time.Time      `json:"viewedAt,omitempty"`
	SignedAt               *time.Time      `json:"signedAt,omitempty"`
	RejectedAt             *time.Time      `json:"rejectedAt,omitempty"`
	Evidence               Evidence        `json:"evidence,omitempty"`
}

// Document is the aggregate root of one signing transaction. The version
// chain and recipient list are embedded and written back with the root as a
// single unit; signing events and field records live in their own tables.
type Document struct {
	ID                    string      `gorm:"primaryKey"`
	OwnerID               string      `gorm:"index;not null"`
	OwnerEmail            string
	Name                  string      `gorm:"not null"`
	SigningMode           SigningMode `gorm:"not null;default:'sequential'"`
	CurrentVersion        int         `gorm:"not null;default:0"`
	Status                DocumentStatus `gorm:"not null;default:'draft'"`
	CompletedAt           *time.Time
	FinalizedAt           *time.Time
	ExpiresAt             *time.Time
	DerivedFromDocumentID *string
	DerivedFromVersion    *int
	// AggregateRev guards the load-mutate-save cycle; incremented on every
	// save and checked with a conditional update.
	AggregateRev int64       `gorm:"not null;default:0"`
	Versions     []Version   `gorm:"type:jsonb;serializer:json"`
	Recipients   []Recipient `gorm:"type:jsonb;serializer:json"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    gorm.DeletedAt `gorm:"index"`
}

// Terminal reports whether the document refuses further signing actions.
func (d *Document) Terminal() bool {
	switch d.Status {
	case StatusCompleted, StatusVoided, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// DeriveEligible reports whether a finished document may seed a new one.
func (d *Document) DeriveEligible() bool {
	switch d.Status {
	case StatusCompleted, StatusVoided, StatusRejected:
		return true
	}
	return false
}

func (d *Document) VersionByNumber(n int) *Version {
	for i := range d.Versions {
		if d.Versions[i].Version == n {
			return &d.Versions[i]
		}
	}
	return nil
}

func (d *Document) LatestVersion() *Version {
	return d.VersionByNumber(d.CurrentVersion)
}

// LastPreparedVersion returns the most recent version carrying a field layout.
func (d *Document) LastPreparedVersion() *Version {
	var found *Version
	for i := range d.Versions {
		if d.Versions[i].Label == LabelPrepared {
			found = &d.Versions[i]
		}
	}
	return found
}

func (d *Document) RecipientByID(id string) *Recipient {
	for i := range d.Recipients {
		if d.Recipients[i].ID == id {
			return &d.Recipients[i]
		}
	}
	return nil
}

func (d *Document) RecipientByToken(token string) *Recipient {
	if token == "" {
		return nil
	}
	for i := range d.Recipients {
		if d.Recipients[i].SigningToken == token {
			return &d.Recipients[i]
		}
	}
	return nil
}

// NextSequentialOrder returns the lowest order among non-viewer recipients
// that have not completed. Rejected and expired recipients still count as
// remaining, so a rejection blocks the chain rather than skipping the slot.
func (d *Document) NextSequentialOrder() (int, bool) {
	next := 0
	found := false
	for i := range d.Recipients {
		r := &d.Recipients[i]
		if r.Role == RoleViewer || r.Status.Completed() {
			continue
		}
		if !found || r.Order < next {
			next = r.Order
			found = true
		}
	}
	return next, found
}

// MaxSignedVersion returns the highest signedVersion across recipients, and
// whether any recipient has one at all.
func (d *Document) MaxSignedVersion() (int, bool) {
	max := 0
	found := false
	for i := range d.Recipients {
		if sv := d.Recipients[i].SignedVersion; sv != nil {
			if !found || *sv > max {
				max = *sv
			}
			found = true
		}
	}
	return max, found
}

// SignedByUpTo lists signer ids whose signedVersion is at or below the given
// version number, in recipient order.
func (d *Document) SignedByUpTo(version int) []string {
	var ids []string
	for i := range d.Recipients {
		r := &d.Recipients[i]
		if r.Role != RoleSigner || r.SignedVersion == nil {
			continue
		}
		if *r.SignedVersion <= version {
			ids = append(ids, r.ID)
		}
	}
	return ids
}
