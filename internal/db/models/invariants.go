package models

import (
	"fmt"

	"github.com/rajinweb/contract-esign/internal/apperrors"
)

// CheckInvariants validates the cross-entity consistency rules of a document
// aggregate. The repository runs it before every save; a violation rejects
// the whole write, nothing is partially applied.
func CheckInvariants(d *Document) error {
	// currentVersion must track the furthest signature in the chain.
	if max, ok := d.MaxSignedVersion(); ok && d.CurrentVersion != max {
		return fmt.Errorf("%w: currentVersion=%d but max signedVersion=%d",
			apperrors.ErrInvariant, d.CurrentVersion, max)
	}

	for i := range d.Versions {
		v := &d.Versions[i]

		// Field layout is only meaningful pre-signing.
		if v.Label != LabelPrepared && len(v.Fields) > 0 {
			return fmt.Errorf("%w: version %d labeled %q carries %d fields",
				apperrors.ErrInvariant, v.Version, v.Label, len(v.Fields))
		}

		// A signed version's signedBy chain must match exactly who had
		// signed by that point.
		if v.Label.IsSigned() {
			expected := d.SignedByUpTo(v.Version)
			if len(v.SignedBy) != len(expected) {
				return fmt.Errorf("%w: version %d signedBy has %d entries, expected %d",
					apperrors.ErrInvariant, v.Version, len(v.SignedBy), len(expected))
			}
		}
	}

	// signedVersion is set if and only if the recipient signed.
	for i := range d.Recipients {
		r := &d.Recipients[i]
		if (r.SignedVersion != nil) != (r.Status == RecipientSigned) {
			return fmt.Errorf("%w: recipient %s status=%s signedVersion set=%t",
				apperrors.ErrInvariant, r.ID, r.Status, r.SignedVersion != nil)
		}
	}

	return nil
}
