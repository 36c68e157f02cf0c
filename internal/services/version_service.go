package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rajinweb/contract-esign/internal/apperrors"
	"github.com/rajinweb/contract-esign/internal/blob"
	"github.com/rajinweb/contract-esign/internal/db/models"
	"github.com/rajinweb/contract-esign/internal/repository"
	"github.com/rajinweb/contract-esign/pkg/metrics"
)

// VersionService manages the append-only content chain of a document. It
// mutates the aggregate in memory; callers persist through the repository so
// the chain push and the currentVersion advance commit as one write.
type VersionService struct {
	docs    repository.DocumentRepository
	blobs   blob.Store
	bucket  string
	logger  *zap.Logger
	metrics *metrics.MetricsCollector
}

func NewVersionService(docs repository.DocumentRepository, blobs blob.Store, bucket string, logger *zap.Logger, collector *metrics.MetricsCollector) *VersionService {
	return &VersionService{
		docs:    docs,
		blobs:   blobs,
		bucket:  bucket,
		logger:  logger.With(zap.String("service", "version_service")),
		metrics: collector,
	}
}

// blobKey is deterministic and digest-independent: a retried write lands on
// the same object instead of leaking orphans.
func blobKey(documentID string, version int) string {
	return fmt.Sprintf("%s/v%d", documentID, version)
}

// GetDocument loads a document after checking ownership. Unknown ids and
// foreign documents look the same to the caller.
func (vs *VersionService) GetDocument(ctx context.Context, documentID, ownerID string) (*models.Document, error) {
	doc, err := vs.docs.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("document not found")
		}
		return nil, err
	}
	if doc.OwnerID != ownerID {
		return nil, apperrors.NotFound("document not found")
	}
	return doc, nil
}

// ListDocuments returns the owner's documents, newest first.
func (vs *VersionService) ListDocuments(ctx context.Context, ownerID string) ([]models.Document, error) {
	return vs.docs.ListByOwner(ctx, ownerID)
}

// CreateDocument builds a new draft aggregate with version 0 as the original
// content and persists it.
func (vs *VersionService) CreateDocument(ctx context.Context, ownerID, ownerEmail, name string, mode models.SigningMode, content io.Reader, mimeType string) (*models.Document, error) {
	doc := &models.Document{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		OwnerEmail:  ownerEmail,
		Name:        name,
		SigningMode: mode,
		Status:      models.StatusDraft,
	}

	version, err := vs.writeVersion(ctx, doc.ID, 0, nil, models.LabelOriginal, content, mimeType, true, "initial upload", nil)
	if err != nil {
		return nil, err
	}
	doc.Versions = []models.Version{*version}
	doc.CurrentVersion = 0

	if err := vs.docs.Create(ctx, doc); err != nil {
		return nil, err
	}

	vs.metrics.IncrementCounter("documents_created", nil)
	vs.logger.Info("Document created",
		zap.String("doc_id", doc.ID),
		zap.String("owner_id", ownerID),
		zap.String("hash", version.Hash))
	return doc, nil
}

// AddVersion streams new content into the store and appends the next version
// to the chain, advancing currentVersion in memory. The digest completes
// before the blob write is acknowledged, so the recorded hash always matches
// the bytes actually stored.
func (vs *VersionService) AddVersion(ctx context.Context, doc *models.Document, label models.VersionLabel, content io.Reader, mimeType string, lock bool, changeLog string, fields []models.Field) (*models.Version, error) {
	if label != models.LabelPrepared && len(fields) > 0 {
		return nil, apperrors.Validation("field layout is only valid on a prepared version")
	}

	next := doc.CurrentVersion + 1
	parent := doc.CurrentVersion

	version, err := vs.writeVersion(ctx, doc.ID, next, &parent, label, content, mimeType, lock, changeLog, fields)
	if err != nil {
		return nil, err
	}

	doc.Versions = append(doc.Versions, *version)
	doc.CurrentVersion = next

	vs.metrics.IncrementCounter("versions_added", map[string]string{"label": string(label)})
	return doc.LatestVersion(), nil
}

// AddCopiedVersion appends a version whose content is a copy of the current
// one. Used for signed versions, which freeze content rather than alter it.
func (vs *VersionService) AddCopiedVersion(ctx context.Context, doc *models.Document, label models.VersionLabel, changeLog string) (*models.Version, error) {
	base := doc.LatestVersion()
	if base == nil {
		return nil, apperrors.Validation("document has no content version")
	}

	next := doc.CurrentVersion + 1
	parent := doc.CurrentVersion

	if err := vs.blobs.Copy(ctx, vs.bucket, base.StorageKey, vs.bucket, blobKey(doc.ID, next)); err != nil {
		return nil, err
	}

	doc.Versions = append(doc.Versions, models.Version{
		Version:            next,
		Label:              label,
		DerivedFromVersion: &parent,
		Hash:               base.Hash,
		HashAlgorithm:      base.HashAlgorithm,
		Size:               base.Size,
		MimeType:           base.MimeType,
		StorageKey:         blobKey(doc.ID, next),
		Locked:             true,
		ChangeLog:          changeLog,
		// The deadline rides along so expiry checks against the latest
		// version keep working after a signature copies the content.
		ExpiresAt: base.ExpiresAt,
		CreatedAt: time.Now(),
	})
	doc.CurrentVersion = next

	vs.metrics.IncrementCounter("versions_added", map[string]string{"label": string(label)})
	return doc.LatestVersion(), nil
}

func (vs *VersionService) writeVersion(ctx context.Context, docID string, number int, parent *int, label models.VersionLabel, content io.Reader, mimeType string, lock bool, changeLog string, fields []models.Field) (*models.Version, error) {
	start := time.Now()

	digest := blob.NewDigestReader(content)
	key := blobKey(docID, number)
	if err := vs.blobs.Put(ctx, vs.bucket, key, digest, mimeType); err != nil {
		return nil, err
	}

	version := &models.Version{
		Version:            number,
		Label:              label,
		DerivedFromVersion: parent,
		Hash:               digest.Sum(),
		HashAlgorithm:      blob.AlgorithmSHA256,
		Size:               digest.Size(),
		MimeType:           mimeType,
		StorageKey:         key,
		Locked:             lock,
		ChangeLog:          changeLog,
		Fields:             fields,
		CreatedAt:          time.Now(),
	}

	vs.metrics.ObserveLatency("version_write", time.Since(start))
	vs.metrics.ObserveSize("version_size", float64(version.Size))
	return version, nil
}

// PrepareDocument appends a prepared version carrying the editable field
// layout. With no new content the current bytes are carried forward; either
// way the chain advances and the field layout lives only on this version.
func (vs *VersionService) PrepareDocument(ctx context.Context, documentID, ownerID string, content io.Reader, mimeType string, fields []models.Field) (*models.Document, error) {
	doc, err := vs.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != ownerID {
		return nil, apperrors.NotFound("document not found")
	}
	if doc.Terminal() {
		return nil, apperrors.Conflict(apperrors.CodeDocumentTerminal, "document is already finalized")
	}

	if content != nil {
		if _, err := vs.AddVersion(ctx, doc, models.LabelPrepared, content, mimeType, false, "field layout update", fields); err != nil {
			return nil, err
		}
	} else {
		base := doc.LatestVersion()
		if base == nil {
			return nil, apperrors.Validation("document has no content version")
		}
		next := doc.CurrentVersion + 1
		parent := doc.CurrentVersion
		if err := vs.blobs.Copy(ctx, vs.bucket, base.StorageKey, vs.bucket, blobKey(doc.ID, next)); err != nil {
			return nil, err
		}
		doc.Versions = append(doc.Versions, models.Version{
			Version:            next,
			Label:              models.LabelPrepared,
			DerivedFromVersion: &parent,
			Hash:               base.Hash,
			HashAlgorithm:      base.HashAlgorithm,
			Size:               base.Size,
			MimeType:           base.MimeType,
			StorageKey:         blobKey(doc.ID, next),
			Locked:             false,
			ChangeLog:          "field layout update",
			Fields:             fields,
			CreatedAt:          time.Now(),
		})
		doc.CurrentVersion = next
		vs.metrics.IncrementCounter("versions_added", map[string]string{"label": string(models.LabelPrepared)})
	}

	if err := vs.docs.Save(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// VerifyIntegrity re-streams the stored blob and compares the recomputed
// digest with the recorded one. Tamper detection only, not a hot path.
func (vs *VersionService) VerifyIntegrity(ctx context.Context, documentID string, versionNumber int) (bool, error) {
	doc, err := vs.docs.GetByID(ctx, documentID)
	if err != nil {
		return false, err
	}
	version := doc.VersionByNumber(versionNumber)
	if version == nil {
		return false, apperrors.NotFound(fmt.Sprintf("version %d not found", versionNumber))
	}

	reader, err := vs.blobs.Get(ctx, vs.bucket, version.StorageKey)
	if err != nil {
		return false, err
	}
	defer reader.Close()

	digest := blob.NewDigestReader(reader)
	if _, err := io.Copy(io.Discard, digest); err != nil {
		return false, apperrors.Storage("re-streaming stored blob", err)
	}

	ok := digest.Sum() == version.Hash
	vs.metrics.IncrementCounter("integrity_checks", map[string]string{"ok": fmt.Sprintf("%t", ok)})
	if !ok {
		vs.logger.Error("Content digest mismatch",
			zap.String("doc_id", documentID),
			zap.Int("version", versionNumber),
			zap.String("recorded", version.Hash),
			zap.String("recomputed", digest.Sum()))
	}
	return ok, nil
}

// DeriveDocument clones a finished document into a fresh one: version 0 is a
// locked copy of the source's latest content, version 1 a prepared copy
// carrying the source's last editable field layout, and every recipient is
// reset to pending with a new signing token. The source is never mutated.
func (vs *VersionService) DeriveDocument(ctx context.Context, sourceID, ownerID string, tokens *TokenService) (*models.Document, error) {
	source, err := vs.GetDocument(ctx, sourceID, ownerID)
	if err != nil {
		return nil, err
	}
	if !source.DeriveEligible() {
		return nil, apperrors.Conflict(apperrors.CodeDocumentTerminal,
			fmt.Sprintf("document in status %q cannot be derived", source.Status))
	}

	base := source.LatestVersion()
	if base == nil {
		return nil, apperrors.Validation("source document has no content version")
	}

	var layout []models.Field
	if prepared := source.LastPreparedVersion(); prepared != nil {
		layout = append(layout, prepared.Fields...)
	}

	srcVersion := source.CurrentVersion
	doc := &models.Document{
		ID:                    uuid.New().String(),
		OwnerID:               ownerID,
		OwnerEmail:            source.OwnerEmail,
		Name:                  source.Name,
		SigningMode:           source.SigningMode,
		Status:                models.StatusDraft,
		DerivedFromDocumentID: &source.ID,
		DerivedFromVersion:    &srcVersion,
	}

	for _, key := range []string{blobKey(doc.ID, 0), blobKey(doc.ID, 1)} {
		if err := vs.blobs.Copy(ctx, vs.bucket, base.StorageKey, vs.bucket, key); err != nil {
			return nil, err
		}
	}

	zero := 0
	doc.Versions = []models.Version{
		{
			Version:       0,
			Label:         models.LabelOriginal,
			Hash:          base.Hash,
			HashAlgorithm: base.HashAlgorithm,
			Size:          base.Size,
			MimeType:      base.MimeType,
			StorageKey:    blobKey(doc.ID, 0),
			Locked:        true,
			ChangeLog:     "derived from " + source.ID,
			CreatedAt:     time.Now(),
		},
		{
			Version:            1,
			Label:              models.LabelPrepared,
			DerivedFromVersion: &zero,
			Hash:               base.Hash,
			HashAlgorithm:      base.HashAlgorithm,
			Size:               base.Size,
			MimeType:           base.MimeType,
			StorageKey:         blobKey(doc.ID, 1),
			Locked:             false,
			Fields:             layout,
			CreatedAt:          time.Now(),
		},
	}
	doc.CurrentVersion = 1

	for i := range source.Recipients {
		src := &source.Recipients[i]
		doc.Recipients = append(doc.Recipients, models.Recipient{
			ID:                     uuid.New().String(),
			Name:                   src.Name,
			Email:                  src.Email,
			Role:                   src.Role,
			Order:                  src.Order,
			Status:                 models.RecipientPending,
			SigningToken:           tokens.NewSigningToken(),
			RequireLocationConsent: src.RequireLocationConsent,
		})
	}

	if err := vs.docs.Create(ctx, doc); err != nil {
		return nil, err
	}

	vs.metrics.IncrementCounter("documents_derived", nil)
	vs.logger.Info("Document derived",
		zap.String("source_id", source.ID),
		zap.String("doc_id", doc.ID),
		zap.Int("source_version", srcVersion))
	return doc, nil
}
