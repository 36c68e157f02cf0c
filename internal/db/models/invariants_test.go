package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rajinweb/contract-esign/internal/apperrors"
)

func validAggregate() *Document {
	two := 2
	return &Document{
		ID:             "doc-1",
		CurrentVersion: 2,
		Status:         StatusInProgress,
		Versions: []Version{
			{Version: 0, Label: LabelOriginal, Locked: true},
			{Version: 1, Label: LabelPrepared, Fields: []Field{{ID: "f1", Type: "text"}}},
			{Version: 2, Label: SignedByOrderLabel(1), Locked: true, SignedBy: []string{"rcpt-1"}},
		},
		Recipients: []Recipient{
			{ID: "rcpt-1", Role: RoleSigner, Order: 1, Status: RecipientSigned, SignedVersion: &two},
			{ID: "rcpt-2", Role: RoleSigner, Order: 2, Status: RecipientSent},
		},
	}
}

func TestCheckInvariants_ValidAggregate(t *testing.T) {
	require.NoError(t, CheckInvariants(validAggregate()))
}

func TestCheckInvariants_CurrentVersionBehindSignature(t *testing.T) {
	d := validAggregate()
	d.CurrentVersion = 1

	err := CheckInvariants(d)
	require.Error(t, err)
	require.True(t, errors.Is(err, apperrors.ErrInvariant))
}

func TestCheckInvariants_FieldsOutsidePreparedVersion(t *testing.T) {
	d := validAggregate()
	d.Versions[0].Fields = []Field{{ID: "f1", Type: "text"}}

	err := CheckInvariants(d)
	require.Error(t, err)
	require.True(t, errors.Is(err, apperrors.ErrInvariant))
}

func TestCheckInvariants_SignedByChainMismatch(t *testing.T) {
	d := validAggregate()
	d.Versions[2].SignedBy = nil

	err := CheckInvariants(d)
	require.Error(t, err)
	require.True(t, errors.Is(err, apperrors.ErrInvariant))
}

func TestCheckInvariants_SignedVersionWithoutSignedStatus(t *testing.T) {
	d := validAggregate()
	one := 1
	d.Recipients[1].SignedVersion = &one

	err := CheckInvariants(d)
	require.Error(t, err)
	require.True(t, errors.Is(err, apperrors.ErrInvariant))
}

func TestCheckInvariants_SignedStatusWithoutVersion(t *testing.T) {
	d := validAggregate()
	d.Recipients[0].SignedVersion = nil

	err := CheckInvariants(d)
	require.Error(t, err)
	require.True(t, errors.Is(err, apperrors.ErrInvariant))
}
