package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/rajinweb/contract-esign/internal/apperrors"
	"github.com/rajinweb/contract-esign/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentRepository owns the load-mutate-save cycle of the document
// aggregate. Save validates invariants and uses the aggregate revision as an
// optimistic token, so two racing writers cannot silently lose an update.
type DocumentRepository interface {
	Create(ctx context.Context, doc *models.Document) error
	GetByID(ctx context.Context, id string) (*models.Document, error)
	// GetBySigningToken resolves a token to the single document holding a
	// recipient with that token.
	GetBySigningToken(ctx context.Context, token string) (*models.Document, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.Document, error)
	Save(ctx context.Context, doc *models.Document) error
	SoftDelete(ctx context.Context, id string) error
}

// EventRepository is the append-only signing event ledger.
type EventRepository interface {
	Append(ctx context.Context, event *models.SigningEvent) error
	ListByDocument(ctx context.Context, documentID string) ([]models.SigningEvent, error)
}

// FieldRecordRepository persists signed-field commitments with
// insert-if-absent semantics.
type FieldRecordRepository interface {
	Insert(ctx context.Context, records []models.SignedFieldRecord) error
	List(ctx context.Context, documentID string, version int) ([]models.SignedFieldRecord, error)
	// DeleteForAction compensates a failed signing action within the same
	// request. Never used for post-commit revision.
	DeleteForAction(ctx context.Context, documentID string, version int, recipientID string) error
}

type GormDocumentRepository struct {
	db *gorm.DB
}

func NewGormDocumentRepository(db *gorm.DB) *GormDocumentRepository {
	return &GormDocumentRepository{db: db}
}

func (r *GormDocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	if err := models.CheckInvariants(doc); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(doc).Error
}

func (r *GormDocumentRepository) GetByID(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	if err := r.db.WithContext(ctx).First(&doc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

func (r *GormDocumentRepository) GetBySigningToken(ctx context.Context, token string) (*models.Document, error) {
	if token == "" {
		return nil, apperrors.ErrNotFound
	}
	var docs []models.Document
	err := r.db.WithContext(ctx).
		Where("recipients @> ?", fmt.Sprintf(`[{"signingToken":%q}]`, token)).
		Limit(2).
		Find(&docs).Error
	if err != nil {
		return nil, err
	}
	// The token must resolve to exactly one recipient on exactly one document.
	if len(docs) != 1 {
		return nil, apperrors.ErrNotFound
	}
	return &docs[0], nil
}

func (r *GormDocumentRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.Document, error) {
	var docs []models.Document
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&docs).Error
	return docs, err
}

func (r *GormDocumentRepository) Save(ctx context.Context, doc *models.Document) error {
	if err := models.CheckInvariants(doc); err != nil {
		return err
	}

	rev := doc.AggregateRev
	doc.AggregateRev = rev + 1

	res := r.db.WithContext(ctx).
		Model(&models.Document{}).
		Where("id = ? AND aggregate_rev = ?", doc.ID, rev).
		Select("*").
		Omit("id", "created_at").
		Updates(doc)
	if res.Error != nil {
		doc.AggregateRev = rev
		return res.Error
	}
	if res.RowsAffected == 0 {
		doc.AggregateRev = rev
		return fmt.Errorf("document %s: %w", doc.ID, apperrors.ErrWriteConflict)
	}
	return nil
}

func (r *GormDocumentRepository) SoftDelete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&models.Document{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

type GormEventRepository struct {
	db *gorm.DB
}

func NewGormEventRepository(db *gorm.DB) *GormEventRepository {
	return &GormEventRepository{db: db}
}

func (r *GormEventRepository) Append(ctx context.Context, event *models.SigningEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *GormEventRepository) ListByDocument(ctx context.Context, documentID string) ([]models.SigningEvent, error) {
	var events []models.SigningEvent
	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("id ASC").
		Find(&events).Error
	return events, err
}

type GormFieldRecordRepository struct {
	db *gorm.DB
}

func NewGormFieldRecordRepository(db *gorm.DB) *GormFieldRecordRepository {
	return &GormFieldRecordRepository{db: db}
}

func (r *GormFieldRecordRepository) Insert(ctx context.Context, records []models.SignedFieldRecord) error {
	if len(records) == 0 {
		return nil
	}
	// ON CONFLICT DO NOTHING: a retried request never overwrites a value
	// already committed under the same (document, version, recipient, field).
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&records).Error
}

func (r *GormFieldRecordRepository) List(ctx context.Context, documentID string, version int) ([]models.SignedFieldRecord, error) {
	var records []models.SignedFieldRecord
	err := r.db.WithContext(ctx).
		Where("document_id = ? AND version = ?", documentID, version).
		Order("field_id ASC").
		Find(&records).Error
	return records, err
}

func (r *GormFieldRecordRepository) DeleteForAction(ctx context.Context, documentID string, version int, recipientID string) error {
	return r.db.WithContext(ctx).
		Unscoped().
		Where("document_id = ? AND version = ? AND recipient_id = ?", documentID, version, recipientID).
		Delete(&models.SignedFieldRecord{}).Error
}
