package models

import "time"

// DeriveStatus recomputes the document-level status from the recipient set,
// version chain and completion timestamps. Pure: the caller assigns the
// result. Rules are ordered; the first match wins, so completion evidence is
// never downgraded and voided/cancelled are never resurrected.
func DeriveStatus(d *Document, requireApproverCompletion bool, now time.Time) DocumentStatus {
	// Rule 1: voided and cancelled are sticky.
	if d.Status == StatusVoided || d.Status == StatusCancelled {
		return d.Status
	}

	// Rule 2: completion evidence.
	if hasCompletionEvidence(d, requireApproverCompletion) {
		return StatusCompleted
	}

	// Rule 3: nothing has been sent yet.
	if allPending(d) {
		return StatusDraft
	}

	// Rule 4: delivery failure surfaces before progress states.
	for i := range d.Recipients {
		if d.Recipients[i].Status == RecipientDeliveryFailed {
			return StatusDeliveryFailed
		}
	}

	// Rule 5: any participating recipient rejected.
	for i := range d.Recipients {
		r := &d.Recipients[i]
		if r.Role != RoleViewer && r.Status == RecipientRejected {
			return StatusRejected
		}
	}

	// Rule 6: document-level expiry.
	if d.ExpiresAt != nil && d.ExpiresAt.Before(now) {
		return StatusExpired
	}

	// Rule 7: every signer signed and every approver approved.
	if AllParticipantsDone(d) {
		return StatusCompleted
	}

	// Rules 8-9: partial progress.
	completed, remaining := 0, 0
	anyActive := false
	for i := range d.Recipients {
		r := &d.Recipients[i]
		if r.Role == RoleViewer {
			continue
		}
		if r.Status.Completed() {
			completed++
		} else {
			remaining++
		}
		if r.Status == RecipientSent || r.Status == RecipientViewed {
			anyActive = true
		}
	}
	if completed > 0 && remaining > 0 {
		return StatusInProgress
	}
	if anyActive {
		return StatusSent
	}

	// Rule 10: fallback, leave the status as it stands.
	return d.Status
}

func hasCompletionEvidence(d *Document, requireApproverCompletion bool) bool {
	for i := range d.Versions {
		if d.Versions[i].Label == LabelSignedFinal {
			return true
		}
	}
	if d.CompletedAt != nil || d.FinalizedAt != nil {
		return true
	}
	if requireApproverCompletion {
		return AllParticipantsDone(d)
	}
	return false
}

func allPending(d *Document) bool {
	for i := range d.Recipients {
		if d.Recipients[i].Status != RecipientPending {
			return false
		}
	}
	return true
}

// AllParticipantsDone reports whether every signer has signed (with a bound
// version) and every approver has approved. False when there are no
// participants at all.
func AllParticipantsDone(d *Document) bool {
	signers, approvers := 0, 0
	for i := range d.Recipients {
		r := &d.Recipients[i]
		switch r.Role {
		case RoleSigner:
			signers++
			if r.Status != RecipientSigned || r.SignedVersion == nil {
				return false
			}
		case RoleApprover:
			approvers++
			if r.Status != RecipientApproved {
				return false
			}
		}
	}
	return signers+approvers > 0
}
