package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rajinweb/contract-esign/internal/apperrors"
	"github.com/rajinweb/contract-esign/internal/db/models"
	"github.com/rajinweb/contract-esign/internal/notify"
	"github.com/rajinweb/contract-esign/internal/repository"
	"github.com/rajinweb/contract-esign/pkg/metrics"
)

// RecipientInput describes one party added at send time.
type RecipientInput struct {
	Name                   string               `json:"name" binding:"required"`
	Email                  string               `json:"email" binding:"required,email"`
	Role                   models.RecipientRole `json:"role" binding:"required"`
	Order                  int                  `json:"order"`
	RequireLocationConsent bool                 `json:"requireLocationConsent"`
}

// ActionRequest is an inbound recipient action resolved by signing token.
type ActionRequest struct {
	Token       string
	RecipientID string
	Action      models.EventAction
	Fields      []FieldSubmission
	Evidence    models.Evidence
}

// ActionResult reports the aggregate state after an accepted action.
type ActionResult struct {
	Document      *models.Document
	Recipient     *models.Recipient
	Version       *models.Version
	AlreadySigned bool
}

// SigningService drives the per-recipient state machine and orchestrates the
// version chain, commitment store, event ledger and status derivation around
// each action. Handlers stay thin; every guard rule lives here.
type SigningService struct {
	docs     repository.DocumentRepository
	events   repository.EventRepository
	fields   *FieldService
	versions *VersionService
	tokens   *TokenService
	notifier notify.Sender
	logger   *zap.Logger
	metrics  *metrics.MetricsCollector

	requireApproverCompletion bool
	linkExpiry                time.Duration
	now                       func() time.Time
}

func NewSigningService(
	docs repository.DocumentRepository,
	events repository.EventRepository,
	fields *FieldService,
	versions *VersionService,
	tokens *TokenService,
	notifier notify.Sender,
	linkExpiry time.Duration,
	requireApproverCompletion bool,
	logger *zap.Logger,
	collector *metrics.MetricsCollector,
) *SigningService {
	return &SigningService{
		docs:                      docs,
		events:                    events,
		fields:                    fields,
		versions:                  versions,
		tokens:                    tokens,
		notifier:                  notifier,
		logger:                    logger.With(zap.String("service", "signing_service")),
		metrics:                   collector,
		requireApproverCompletion: requireApproverCompletion,
		linkExpiry:                linkExpiry,
		now:                       time.Now,
	}
}

// Send attaches recipients to a prepared document, issues signing tokens and
// dispatches the first round of signing requests.
func (ss *SigningService) Send(ctx context.Context, documentID, ownerID string, inputs []RecipientInput, expiresAt *time.Time) (*models.Document, error) {
	doc, err := ss.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != ownerID {
		return nil, apperrors.NotFound("document not found")
	}
	if doc.Terminal() {
		return nil, apperrors.Conflict(apperrors.CodeDocumentTerminal, "document is already finalized")
	}
	if doc.LastPreparedVersion() == nil {
		return nil, apperrors.Validation("document has no prepared version")
	}
	if len(inputs) == 0 {
		return nil, apperrors.Validation("at least one recipient is required")
	}

	for _, in := range inputs {
		switch in.Role {
		case models.RoleSigner, models.RoleApprover, models.RoleViewer:
		default:
			return nil, apperrors.Validation(fmt.Sprintf("unknown recipient role %q", in.Role))
		}
		doc.Recipients = append(doc.Recipients, models.Recipient{
			ID:                     ss.tokens.NewSigningToken(),
			Name:                   in.Name,
			Email:                  in.Email,
			Role:                   in.Role,
			Order:                  in.Order,
			Status:                 models.RecipientPending,
			SigningToken:           ss.tokens.NewSigningToken(),
			RequireLocationConsent: in.RequireLocationConsent,
		})
	}

	// A send without an explicit deadline gets the configured default window.
	if expiresAt == nil && ss.linkExpiry > 0 {
		deadline := ss.now().Add(ss.linkExpiry)
		expiresAt = &deadline
	}
	doc.ExpiresAt = expiresAt
	if v := doc.LatestVersion(); v != nil {
		v.ExpiresAt = expiresAt
	}

	events := ss.dispatchRound(ctx, doc)

	doc.Status = models.DeriveStatus(doc, ss.requireApproverCompletion, ss.now())
	if err := ss.docs.Save(ctx, doc); err != nil {
		return nil, ss.saveError(err)
	}
	ss.appendEvents(ctx, doc, events)

	ss.metrics.IncrementCounter("documents_sent", nil)
	ss.logger.Info("Document sent",
		zap.String("doc_id", doc.ID),
		zap.Int("recipients", len(inputs)),
		zap.String("mode", string(doc.SigningMode)))
	return doc, nil
}

// dispatchRound moves the currently eligible recipients forward and notifies
// them. In sequential mode that is the lowest remaining order; in parallel
// mode, everyone. Viewers are always notified immediately. A recipient who
// opened their link before their turn keeps the viewed status and is notified
// once their turn comes up. The built sent events are returned for the caller
// to append once the aggregate save commits.
func (ss *SigningService) dispatchRound(ctx context.Context, doc *models.Document) []*models.SigningEvent {
	nextOrder, hasNext := doc.NextSequentialOrder()

	var events []*models.SigningEvent
	for i := range doc.Recipients {
		r := &doc.Recipients[i]
		// SentAt marks that this recipient was already notified.
		if r.SentAt != nil {
			continue
		}
		if r.Status != models.RecipientPending && r.Status != models.RecipientViewed {
			continue
		}
		if doc.SigningMode == models.ModeSequential && r.Role != models.RoleViewer {
			if !hasNext || r.Order != nextOrder {
				continue
			}
		}

		now := ss.now()
		if r.Status == models.RecipientPending {
			r.Status = models.RecipientSent
		}
		r.SentAt = &now
		events = append(events, ss.buildEvent(doc, r, models.ActionSent, doc.CurrentVersion, doc.CurrentVersion, models.Evidence{}, "", nil))

		// Best-effort: a notification failure never rolls back the action.
		if err := ss.notifier.SendSigningRequest(ctx, r.Email, r.Name, doc.ID, doc.Name, r.SigningToken); err != nil {
			ss.logger.Warn("Signing request notification failed",
				zap.String("doc_id", doc.ID),
				zap.String("recipient_id", r.ID),
				zap.Error(err))
		}
		ss.metrics.IncrementCounter("signing_requests_sent", nil)
	}
	return events
}

// View handles a document fetch through a signing link and flips the
// recipient to viewed. Replays on terminal recipients are no-ops.
func (ss *SigningService) View(ctx context.Context, token string, evidence models.Evidence) (*ActionResult, error) {
	doc, recipient, err := ss.tokens.ResolveSigningToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if err := ss.enforceExpiry(ctx, doc, recipient); err != nil {
		return nil, err
	}

	if recipient.Status == models.RecipientSent || recipient.Status == models.RecipientPending {
		now := ss.now()
		recipient.Status = models.RecipientViewed
		recipient.ViewedAt = &now
		recipient.Evidence = evidence
		event := ss.buildEvent(doc, recipient, models.ActionViewed, doc.CurrentVersion, doc.CurrentVersion, evidence, "", nil)

		doc.Status = models.DeriveStatus(doc, ss.requireApproverCompletion, ss.now())
		if err := ss.docs.Save(ctx, doc); err != nil {
			return nil, ss.saveError(err)
		}
		ss.appendEvents(ctx, doc, []*models.SigningEvent{event})
	}

	return &ActionResult{Document: doc, Recipient: recipient, Version: doc.LatestVersion()}, nil
}

// Do dispatches a recipient action to the matching transition.
func (ss *SigningService) Do(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	switch req.Action {
	case models.ActionSigned, models.ActionApproved:
		return ss.complete(ctx, req)
	case models.ActionRejected:
		return ss.reject(ctx, req)
	default:
		return nil, apperrors.Validation(fmt.Sprintf("unsupported action %q", req.Action))
	}
}

// complete executes a signed or approved transition with the full guard
// chain. On success a signer produces a new chained version; an approver only
// records the approval, since the content does not change hands.
func (ss *SigningService) complete(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	start := ss.now()

	doc, recipient, err := ss.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	// Replaying a consumed link after a successful signature is a no-op
	// success, so already-signed clients are not broken by a refresh.
	if recipient.Status == models.RecipientSigned || recipient.Status == models.RecipientApproved {
		return &ActionResult{Document: doc, Recipient: recipient, Version: doc.LatestVersion(), AlreadySigned: true}, nil
	}
	if recipient.Status == models.RecipientRejected || recipient.Status == models.RecipientExpired {
		return nil, apperrors.InvalidLink("signing link is no longer usable")
	}
	if doc.Terminal() {
		return nil, apperrors.Conflict(apperrors.CodeDocumentTerminal,
			fmt.Sprintf("document is already %s", doc.Status))
	}
	if err := ss.enforceExpiry(ctx, doc, recipient); err != nil {
		return nil, err
	}
	if doc.SigningMode == models.ModeSequential {
		if next, ok := doc.NextSequentialOrder(); ok && recipient.Order != next {
			return nil, apperrors.OutOfTurn(
				fmt.Sprintf("recipient order %d is not next in sequence", recipient.Order))
		}
	}
	switch {
	case recipient.Role == models.RoleSigner && req.Action != models.ActionSigned:
		return nil, apperrors.RoleMismatch("a signer can only sign or reject")
	case recipient.Role == models.RoleApprover && req.Action != models.ActionApproved:
		return nil, apperrors.RoleMismatch("an approver can only approve or reject")
	case recipient.Role == models.RoleViewer:
		return nil, apperrors.RoleMismatch("a viewer cannot act on the document")
	}
	if recipient.RequireLocationConsent && !req.Evidence.ConsentGranted {
		return nil, apperrors.ConsentRequired("location consent is required for this recipient")
	}

	fieldsDigest, fieldHashes := ss.fields.HashSubmission(req.Fields)
	baseVersion := doc.CurrentVersion
	actedVersion := baseVersion
	now := ss.now()

	if recipient.Role == models.RoleSigner {
		label := models.SignedByOrderLabel(recipient.Order)
		if ss.lastSignerStanding(doc, recipient) {
			label = models.LabelSignedFinal
		}
		version, err := ss.versions.AddCopiedVersion(ctx, doc, label,
			fmt.Sprintf("signed by %s", recipient.Email))
		if err != nil {
			return nil, err
		}

		actedVersion = version.Version
		recipient.Status = models.RecipientSigned
		recipient.SignedVersion = &version.Version
		recipient.SignedAt = &now
		version.SignedBy = doc.SignedByUpTo(version.Version)
	} else {
		recipient.Status = models.RecipientApproved
		recipient.SignedAt = &now
	}
	recipient.Evidence = req.Evidence

	if len(req.Fields) > 0 {
		if _, err := ss.fields.Commit(ctx, doc.ID, actedVersion, recipient.ID, req.Fields, fieldHashes); err != nil {
			return nil, err
		}
	}

	events := []*models.SigningEvent{
		ss.buildEvent(doc, recipient, req.Action, baseVersion, actedVersion, req.Evidence, fieldsDigest, fieldHashes),
	}
	if doc.SigningMode == models.ModeSequential {
		events = append(events, ss.dispatchRound(ctx, doc)...)
	}

	if models.AllParticipantsDone(doc) && doc.CompletedAt == nil {
		doc.CompletedAt = &now
	}

	doc.Status = models.DeriveStatus(doc, ss.requireApproverCompletion, ss.now())
	if err := ss.docs.Save(ctx, doc); err != nil {
		if len(req.Fields) > 0 {
			if rbErr := ss.fields.Rollback(ctx, doc.ID, actedVersion, recipient.ID); rbErr != nil {
				ss.logger.Error("Field commitment rollback failed",
					zap.String("doc_id", doc.ID),
					zap.Error(rbErr))
			}
		}
		return nil, ss.saveError(err)
	}
	ss.appendEvents(ctx, doc, events)

	ss.metrics.IncrementCounter("signing_actions", map[string]string{"action": string(req.Action)})
	ss.metrics.ObserveLatency("signing_action", time.Since(start))
	ss.logger.Info("Recipient action completed",
		zap.String("doc_id", doc.ID),
		zap.String("recipient_id", recipient.ID),
		zap.String("action", string(req.Action)),
		zap.Int("base_version", baseVersion),
		zap.Int("version", actedVersion),
		zap.String("status", string(doc.Status)))

	return &ActionResult{Document: doc, Recipient: recipient, Version: doc.VersionByNumber(actedVersion)}, nil
}

// reject records a rejection. No version is created; sequential order is not
// enforced, a recipient may decline before their turn comes up.
func (ss *SigningService) reject(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	doc, recipient, err := ss.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	if recipient.Status.Terminal() {
		return nil, apperrors.InvalidLink("signing link is no longer usable")
	}
	if doc.Terminal() {
		return nil, apperrors.Conflict(apperrors.CodeDocumentTerminal,
			fmt.Sprintf("document is already %s", doc.Status))
	}
	if err := ss.enforceExpiry(ctx, doc, recipient); err != nil {
		return nil, err
	}
	if recipient.Role == models.RoleViewer {
		return nil, apperrors.RoleMismatch("a viewer cannot act on the document")
	}

	now := ss.now()
	recipient.Status = models.RecipientRejected
	recipient.RejectedAt = &now
	recipient.Evidence = req.Evidence

	event := ss.buildEvent(doc, recipient, models.ActionRejected, doc.CurrentVersion, doc.CurrentVersion, req.Evidence, "", nil)

	if err := ss.notifier.SendRejectionNotice(ctx, doc.OwnerEmail, doc.Name, recipient.Email); err != nil {
		ss.logger.Warn("Rejection notice failed",
			zap.String("doc_id", doc.ID),
			zap.Error(err))
	}

	doc.Status = models.DeriveStatus(doc, ss.requireApproverCompletion, ss.now())
	if err := ss.docs.Save(ctx, doc); err != nil {
		return nil, ss.saveError(err)
	}
	ss.appendEvents(ctx, doc, []*models.SigningEvent{event})

	ss.metrics.IncrementCounter("signing_actions", map[string]string{"action": "rejected"})
	ss.logger.Info("Recipient rejected document",
		zap.String("doc_id", doc.ID),
		zap.String("recipient_id", recipient.ID))
	return &ActionResult{Document: doc, Recipient: recipient, Version: doc.LatestVersion()}, nil
}

// Void marks a document voided by its owner. Sticky: derivation is the only
// way to resume work on the content afterwards.
func (ss *SigningService) Void(ctx context.Context, documentID, ownerID string) (*models.Document, error) {
	doc, err := ss.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != ownerID {
		return nil, apperrors.NotFound("document not found")
	}
	if doc.Status == models.StatusCompleted {
		return nil, apperrors.Conflict(apperrors.CodeDocumentTerminal, "completed documents cannot be voided")
	}

	doc.Status = models.StatusVoided
	if err := ss.docs.Save(ctx, doc); err != nil {
		return nil, ss.saveError(err)
	}
	ss.logger.Info("Document voided", zap.String("doc_id", doc.ID))
	return doc, nil
}

// DeleteDocument soft-deletes a document. Nothing is ever hard-deleted
// outside an explicit retention purge.
func (ss *SigningService) DeleteDocument(ctx context.Context, documentID, ownerID string) error {
	doc, err := ss.docs.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.OwnerID != ownerID {
		return apperrors.NotFound("document not found")
	}
	if err := ss.docs.SoftDelete(ctx, documentID); err != nil {
		return err
	}
	ss.logger.Info("Document soft-deleted", zap.String("doc_id", documentID))
	return nil
}

// ListEvents replays the audit ledger for a document in append order.
func (ss *SigningService) ListEvents(ctx context.Context, documentID, ownerID string) ([]models.SigningEvent, error) {
	doc, err := ss.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != ownerID {
		return nil, apperrors.NotFound("document not found")
	}
	return ss.events.ListByDocument(ctx, documentID)
}

func (ss *SigningService) resolve(ctx context.Context, req ActionRequest) (*models.Document, *models.Recipient, error) {
	doc, recipient, err := ss.tokens.ResolveSigningToken(ctx, req.Token)
	if err != nil {
		return nil, nil, err
	}
	if req.RecipientID != "" && req.RecipientID != recipient.ID {
		return nil, nil, apperrors.NotFound("recipient does not match signing link")
	}
	return doc, recipient, nil
}

// enforceExpiry applies lazy expiry: deadlines are data, checked at the start
// of each action. An expired link forces the recipient to expired and the
// transition is persisted before the refusal is returned.
func (ss *SigningService) enforceExpiry(ctx context.Context, doc *models.Document, recipient *models.Recipient) error {
	now := ss.now()

	expired := doc.ExpiresAt != nil && doc.ExpiresAt.Before(now)
	if v := doc.LatestVersion(); !expired && v != nil && v.ExpiresAt != nil && v.ExpiresAt.Before(now) {
		expired = true
	}
	if !expired {
		return nil
	}

	if !recipient.Status.Terminal() {
		recipient.Status = models.RecipientExpired
		event := ss.buildEvent(doc, recipient, models.ActionExpired, doc.CurrentVersion, doc.CurrentVersion, models.Evidence{}, "", nil)
		doc.Status = models.DeriveStatus(doc, ss.requireApproverCompletion, now)
		if err := ss.docs.Save(ctx, doc); err != nil {
			ss.logger.Error("Persisting lazy expiry failed",
				zap.String("doc_id", doc.ID),
				zap.Error(err))
		} else {
			ss.appendEvents(ctx, doc, []*models.SigningEvent{event})
		}
	}
	return apperrors.LinkExpired("signing link has expired")
}

// lastSignerStanding reports whether the acting signer's signature is the
// final participant action, in which case their version closes the chain as
// signed_final. Pending approvers keep the chain open.
func (ss *SigningService) lastSignerStanding(doc *models.Document, acting *models.Recipient) bool {
	for i := range doc.Recipients {
		r := &doc.Recipients[i]
		switch r.Role {
		case models.RoleSigner:
			if r.ID != acting.ID && r.Status != models.RecipientSigned {
				return false
			}
		case models.RoleApprover:
			if r.Status != models.RecipientApproved {
				return false
			}
		}
	}
	return true
}

// buildEvent constructs a ledger entry for a transition. Nothing is appended
// here: callers hold the built events until the aggregate save commits, so a
// failed save leaves no ledger trace for a transition that never happened.
func (ss *SigningService) buildEvent(doc *models.Document, recipient *models.Recipient, action models.EventAction, baseVersion, version int, evidence models.Evidence, fieldsDigest string, fieldHashes map[string]string) *models.SigningEvent {
	event := &models.SigningEvent{
		DocumentID:      doc.ID,
		RecipientID:     recipient.ID,
		Action:          action,
		BaseVersion:     baseVersion,
		Version:         version,
		SigningOrder:    recipient.Order,
		ServerTimestamp: ss.now(),
		Evidence:        evidence,
		FieldsDigest:    fieldsDigest,
		FieldHashes:     fieldHashes,
	}
	if evidence.ClientTimestamp != "" {
		if ts, err := time.Parse(time.RFC3339, evidence.ClientTimestamp); err == nil {
			event.ClientTimestamp = &ts
		}
	}
	return event
}

// appendEvents records the built ledger entries after the aggregate save has
// committed. The transitions are already durable at this point, so a ledger
// failure is surfaced loudly but does not abort the action.
func (ss *SigningService) appendEvents(ctx context.Context, doc *models.Document, events []*models.SigningEvent) {
	for _, event := range events {
		if err := ss.events.Append(ctx, event); err != nil {
			ss.logger.Error("Appending signing event failed",
				zap.String("doc_id", doc.ID),
				zap.String("action", string(event.Action)),
				zap.Error(err))
		}
	}
}

func (ss *SigningService) saveError(err error) error {
	if errors.Is(err, apperrors.ErrWriteConflict) {
		return apperrors.Conflict(apperrors.CodeWriteConflict, "document was modified concurrently, retry the action")
	}
	if errors.Is(err, apperrors.ErrInvariant) {
		return apperrors.Conflict(apperrors.CodeWriteConflict, "aggregate failed consistency checks")
	}
	return err
}
