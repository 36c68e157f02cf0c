package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rajinweb/contract-esign/internal/apperrors"
	"github.com/rajinweb/contract-esign/internal/blob"
	"github.com/rajinweb/contract-esign/internal/db/models"
)

func TestCreateDocument_OriginalVersionLockedAndHashed(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	content := []byte("%PDF-1.7 the original bytes")
	doc, err := e.versions.CreateDocument(ctx, "owner-1", "owner@example.com", "Lease Agreement",
		models.ModeSequential, bytesReader(string(content)), "application/pdf")
	require.NoError(t, err)

	require.Equal(t, models.StatusDraft, doc.Status)
	require.Equal(t, 0, doc.CurrentVersion)
	require.Len(t, doc.Versions, 1)

	v0 := doc.VersionByNumber(0)
	require.Equal(t, models.LabelOriginal, v0.Label)
	require.True(t, v0.Locked)
	require.Equal(t, blob.HashBytes(content), v0.Hash)
	require.Equal(t, blob.AlgorithmSHA256, v0.HashAlgorithm)
	require.Equal(t, int64(len(content)), v0.Size)
	require.Nil(t, v0.DerivedFromVersion)
}

func TestPrepareDocument_CarriesContentForward(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	doc, err := e.versions.CreateDocument(ctx, "owner-1", "owner@example.com", "Lease Agreement",
		models.ModeSequential, bytesReader("original"), "application/pdf")
	require.NoError(t, err)

	fields := []models.Field{{ID: "f1", Type: "signature", Page: 1, Required: true}}
	doc, err = e.versions.PrepareDocument(ctx, doc.ID, "owner-1", nil, "", fields)
	require.NoError(t, err)

	require.Equal(t, 1, doc.CurrentVersion)
	v1 := doc.VersionByNumber(1)
	require.Equal(t, models.LabelPrepared, v1.Label)
	require.False(t, v1.Locked)
	require.Len(t, v1.Fields, 1)
	// No new content: same hash, new storage key.
	require.Equal(t, doc.VersionByNumber(0).Hash, v1.Hash)
	require.NotEqual(t, doc.VersionByNumber(0).StorageKey, v1.StorageKey)
	require.NotNil(t, v1.DerivedFromVersion)
	require.Equal(t, 0, *v1.DerivedFromVersion)
}

func TestAddVersion_FieldsOnlyOnPrepared(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	doc, err := e.versions.CreateDocument(ctx, "owner-1", "owner@example.com", "NDA",
		models.ModeSequential, bytesReader("original"), "application/pdf")
	require.NoError(t, err)

	_, err = e.versions.AddVersion(ctx, doc, models.LabelOriginal, bytesReader("more"),
		"application/pdf", true, "", []models.Field{{ID: "f1", Type: "text"}})
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeValidationFailed, appErr.Code)
}

func TestVerifyIntegrity_DetectsTamperedBlob(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	doc, err := e.versions.CreateDocument(ctx, "owner-1", "owner@example.com", "NDA",
		models.ModeSequential, bytesReader("trusted content"), "application/pdf")
	require.NoError(t, err)

	ok, err := e.versions.VerifyIntegrity(ctx, doc.ID, 0)
	require.NoError(t, err)
	require.True(t, ok)

	// Overwrite the stored blob behind the aggregate's back.
	key := doc.VersionByNumber(0).StorageKey
	require.NoError(t, e.store.Put(ctx, "documents", key, bytesReader("tampered"), "application/pdf"))

	ok, err = e.versions.VerifyIntegrity(ctx, doc.ID, 0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyIntegrity_UnknownVersion(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	doc, err := e.versions.CreateDocument(ctx, "owner-1", "owner@example.com", "NDA",
		models.ModeSequential, bytesReader("content"), "application/pdf")
	require.NoError(t, err)

	_, err = e.versions.VerifyIntegrity(ctx, doc.ID, 7)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeNotFound, appErr.Code)
}

func TestAddCopiedVersion_CarriesDeadline(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	doc := e.newSentDocument(t, models.ModeSequential, twoSigners())

	base := doc.LatestVersion()
	require.NotNil(t, base.ExpiresAt)
	deadline := *base.ExpiresAt

	// A signed copy keeps the signing window of the version it froze, so
	// version-level expiry checks stay in force down the chain.
	v, err := e.versions.AddCopiedVersion(ctx, doc, models.SignedByOrderLabel(1), "signed by alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, v.ExpiresAt)
	require.True(t, deadline.Equal(*v.ExpiresAt))
}

func TestGetDocument_ForeignOwnerLooksLikeMissing(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	doc, err := e.versions.CreateDocument(ctx, "owner-1", "owner@example.com", "NDA",
		models.ModeSequential, bytesReader("content"), "application/pdf")
	require.NoError(t, err)

	_, err = e.versions.GetDocument(ctx, doc.ID, "owner-2")
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeNotFound, appErr.Code)
}

func TestDeriveDocument_ClonesFinishedDocument(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	source := e.newSentDocument(t, models.ModeSequential, twoSigners())

	// Finish the source first.
	for _, i := range []int{0, 1} {
		_, err := e.signing.Do(ctx, ActionRequest{
			Token:  source.Recipients[i].SigningToken,
			Action: models.ActionSigned,
			Fields: signerFields(),
		})
		require.NoError(t, err)
	}

	derived, err := e.versions.DeriveDocument(ctx, source.ID, "owner-1", e.tokens)
	require.NoError(t, err)

	require.NotEqual(t, source.ID, derived.ID)
	require.Equal(t, models.StatusDraft, derived.Status)
	require.NotNil(t, derived.DerivedFromDocumentID)
	require.Equal(t, source.ID, *derived.DerivedFromDocumentID)
	require.NotNil(t, derived.DerivedFromVersion)
	require.Equal(t, 3, *derived.DerivedFromVersion)

	// Fresh chain: locked original plus editable prepared copy.
	require.Equal(t, 1, derived.CurrentVersion)
	require.Len(t, derived.Versions, 2)
	require.Equal(t, models.LabelOriginal, derived.Versions[0].Label)
	require.True(t, derived.Versions[0].Locked)
	require.Equal(t, models.LabelPrepared, derived.Versions[1].Label)
	require.False(t, derived.Versions[1].Locked)
	require.NotEmpty(t, derived.Versions[1].Fields)

	// Recipients reset with fresh tokens; no signing state carries over.
	source, err = e.docs.GetByID(ctx, source.ID)
	require.NoError(t, err)
	require.Len(t, derived.Recipients, len(source.Recipients))
	for i, r := range derived.Recipients {
		require.Equal(t, models.RecipientPending, r.Status)
		require.Nil(t, r.SignedVersion)
		require.NotEqual(t, source.Recipients[i].SigningToken, r.SigningToken)
		require.Equal(t, source.Recipients[i].Email, r.Email)
	}

	// The derived content is a real copy with the source's final digest.
	ok, err := e.versions.VerifyIntegrity(ctx, derived.ID, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, source.LatestVersion().Hash, derived.Versions[0].Hash)
}

func TestDeriveDocument_RefusedWhileInFlight(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	source := e.newSentDocument(t, models.ModeSequential, twoSigners())

	_, err := e.versions.DeriveDocument(ctx, source.ID, "owner-1", e.tokens)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeDocumentTerminal, appErr.Code)
}
