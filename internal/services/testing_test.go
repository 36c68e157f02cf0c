package services

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rajinweb/contract-esign/internal/apperrors"
	"github.com/rajinweb/contract-esign/internal/blob"
	"github.com/rajinweb/contract-esign/internal/config"
	"github.com/rajinweb/contract-esign/internal/db/models"
	"github.com/rajinweb/contract-esign/pkg/metrics"
)

// mockDocRepo behaves like the gorm repository: reads hand out copies, saves
// validate invariants and bump the aggregate revision.
type mockDocRepo struct {
	mu   sync.Mutex
	docs map[string]*models.Document
	// failNextSave simulates a storage failure on the next Save call.
	failNextSave bool
}

func newMockDocRepo() *mockDocRepo {
	return &mockDocRepo{docs: make(map[string]*models.Document)}
}

func cloneDoc(doc *models.Document) *models.Document {
	raw, _ := json.Marshal(doc)
	var out models.Document
	_ = json.Unmarshal(raw, &out)
	return &out
}

func (m *mockDocRepo) Create(_ context.Context, doc *models.Document) error {
	if err := models.CheckInvariants(doc); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = cloneDoc(doc)
	return nil
}

func (m *mockDocRepo) GetByID(_ context.Context, id string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return cloneDoc(doc), nil
}

func (m *mockDocRepo) GetBySigningToken(_ context.Context, token string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *models.Document
	for _, doc := range m.docs {
		if doc.RecipientByToken(token) != nil {
			if found != nil {
				return nil, apperrors.ErrNotFound
			}
			found = doc
		}
	}
	if found == nil {
		return nil, apperrors.ErrNotFound
	}
	return cloneDoc(found), nil
}

func (m *mockDocRepo) ListByOwner(_ context.Context, ownerID string) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Document
	for _, doc := range m.docs {
		if doc.OwnerID == ownerID {
			out = append(out, *cloneDoc(doc))
		}
	}
	return out, nil
}

func (m *mockDocRepo) Save(_ context.Context, doc *models.Document) error {
	if err := models.CheckInvariants(doc); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNextSave {
		m.failNextSave = false
		return apperrors.ErrWriteConflict
	}
	current, ok := m.docs[doc.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if current.AggregateRev != doc.AggregateRev {
		return apperrors.ErrWriteConflict
	}
	doc.AggregateRev++
	m.docs[doc.ID] = cloneDoc(doc)
	return nil
}

func (m *mockDocRepo) SoftDelete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.docs, id)
	return nil
}

type mockEventRepo struct {
	mu     sync.Mutex
	events []models.SigningEvent
}

func (m *mockEventRepo) Append(_ context.Context, event *models.SigningEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = uint(len(m.events) + 1)
	m.events = append(m.events, *event)
	return nil
}

func (m *mockEventRepo) ListByDocument(_ context.Context, documentID string) ([]models.SigningEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SigningEvent
	for _, e := range m.events {
		if e.DocumentID == documentID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fieldKey struct {
	doc       string
	version   int
	recipient string
	field     string
}

type mockFieldRepo struct {
	mu      sync.Mutex
	records map[fieldKey]models.SignedFieldRecord
}

func newMockFieldRepo() *mockFieldRepo {
	return &mockFieldRepo{records: make(map[fieldKey]models.SignedFieldRecord)}
}

func (m *mockFieldRepo) Insert(_ context.Context, records []models.SignedFieldRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		key := fieldKey{r.DocumentID, r.Version, r.RecipientID, r.FieldID}
		if _, exists := m.records[key]; exists {
			continue
		}
		m.records[key] = r
	}
	return nil
}

func (m *mockFieldRepo) List(_ context.Context, documentID string, version int) ([]models.SignedFieldRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SignedFieldRecord
	for _, r := range m.records {
		if r.DocumentID == documentID && r.Version == version {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockFieldRepo) DeleteForAction(_ context.Context, documentID string, version int, recipientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.records {
		if key.doc == documentID && key.version == version && key.recipient == recipientID {
			delete(m.records, key)
		}
	}
	return nil
}

type sentNotice struct {
	kind  string
	email string
	token string
}

type mockNotifier struct {
	mu      sync.Mutex
	notices []sentNotice
}

func (m *mockNotifier) SendSigningRequest(_ context.Context, recipientEmail, _, _, _, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, sentNotice{kind: "signing_request", email: recipientEmail, token: token})
	return nil
}

func (m *mockNotifier) SendRejectionNotice(_ context.Context, ownerEmail, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, sentNotice{kind: "rejection", email: ownerEmail})
	return nil
}

func (m *mockNotifier) byKind(kind string) []sentNotice {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentNotice
	for _, n := range m.notices {
		if n.kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// env bundles the wired services around in-memory fakes.
type env struct {
	docs     *mockDocRepo
	events   *mockEventRepo
	fields   *mockFieldRepo
	notifier *mockNotifier
	store    *blob.MemoryStore

	tokens   *TokenService
	versions *VersionService
	fieldSvc *FieldService
	signing  *SigningService
}

// testLinkExpiry matches the configured default signing window.
const testLinkExpiry = 14 * 24 * time.Hour

func newEnv() *env {
	log := zap.NewNop()
	collector := metrics.NewMetricsCollector()

	e := &env{
		docs:     newMockDocRepo(),
		events:   &mockEventRepo{},
		fields:   newMockFieldRepo(),
		notifier: &mockNotifier{},
		store:    blob.NewMemoryStore(),
	}

	e.tokens = NewTokenService(e.docs, config.SecurityConfig{
		JWTSecret:      "test-secret",
		SessionTimeout: time.Hour,
	}, log)
	e.versions = NewVersionService(e.docs, e.store, "documents", log, collector)
	e.fieldSvc = NewFieldService(e.fields, log)
	e.signing = NewSigningService(e.docs, e.events, e.fieldSvc, e.versions, e.tokens, e.notifier, testLinkExpiry, false, log, collector)

	return e
}

// newSentDocument creates a prepared document and sends it to the given
// recipients, returning the saved aggregate.
func (e *env) newSentDocument(t *testing.T, mode models.SigningMode, inputs []RecipientInput) *models.Document {
	t.Helper()
	ctx := context.Background()

	doc, err := e.versions.CreateDocument(ctx, "owner-1", "owner@example.com", "Master Service Agreement",
		mode, bytes.NewReader([]byte("%PDF-1.7 test content")), "application/pdf")
	if err != nil {
		t.Fatalf("create document: %v", err)
	}

	doc, err = e.versions.PrepareDocument(ctx, doc.ID, "owner-1", nil, "", []models.Field{
		{ID: "f1", Type: "text", Label: "Full name", Page: 1, Required: true},
		{ID: "f2", Type: "signature", Label: "Signature", Page: 1, Required: true},
	})
	if err != nil {
		t.Fatalf("prepare document: %v", err)
	}

	doc, err = e.signing.Send(ctx, doc.ID, "owner-1", inputs, nil)
	if err != nil {
		t.Fatalf("send document: %v", err)
	}
	return doc
}

func bytesReader(s string) *bytes.Reader {
	return bytes.NewReader([]byte(s))
}

func twoSigners() []RecipientInput {
	return []RecipientInput{
		{Name: "Alice Signer", Email: "alice@example.com", Role: models.RoleSigner, Order: 1},
		{Name: "Bob Signer", Email: "bob@example.com", Role: models.RoleSigner, Order: 2},
	}
}
