package services

import (
	"github.com/prudhvinik1/hnnp-cloud/internal/models"
)

const (
	msgDuplicate  = "duplicate presence event in same time_slot"
	msgSuspicious = "suspicious presence event"
)

type FusionConfig struct {
	DuplicateSuppressSeconds int64
	ImpossibleTravelSeconds  int64
	HardenedMode             bool
}

// FusionInput describes the report being decided.
type FusionInput struct {
	OrgID      string
	DeviceID   string
	ReceiverID string
	Timestamp  int64
	TimeSlot   uint32
}

type FusionDecision struct {
	Reject              *PresenceError
	SuspiciousDuplicate bool
	Flags               models.FlagSet
}

// Suspicious is the hardened-mode predicate.
func (d FusionDecision) Suspicious() bool {
	return d.SuspiciousDuplicate || !d.Flags.Empty()
}

// EvaluateFusion decides a report against the accepted history of the same
// org. It has no side effects; base carries flags raised by earlier checks.
func EvaluateFusion(history []*models.PresenceEvent, in FusionInput, cfg FusionConfig, base models.FlagSet) FusionDecision {
	d := FusionDecision{Flags: base}

	var sameSlot, lastSeen *models.PresenceEvent
	for _, e := range history {
		if e.OrgID != in.OrgID || e.DeviceID != in.DeviceID {
			continue
		}
		if lastSeen == nil || e.Timestamp > lastSeen.Timestamp {
			lastSeen = e
		}
		if e.ReceiverID == in.ReceiverID && e.TimeSlot == in.TimeSlot {
			if sameSlot == nil || e.Timestamp > sameSlot.Timestamp {
				sameSlot = e
			}
		}
	}

	if sameSlot != nil {
		if in.Timestamp-sameSlot.Timestamp < cfg.DuplicateSuppressSeconds {
			d.Reject = newPresenceError(KindReplay, models.AuthIgnoredDuplicate, msgDuplicate)
			return d
		}
		d.SuspiciousDuplicate = true
		d.Flags = d.Flags.With(models.FlagDuplicateSameSlot)
	}

	if lastSeen != nil && lastSeen.ReceiverID != in.ReceiverID {
		delta := in.Timestamp - lastSeen.Timestamp
		if delta >= 0 && delta < cfg.ImpossibleTravelSeconds {
			d.Flags = d.Flags.With(models.FlagImpossibleMovement)
		}
	}

	if cfg.HardenedMode && d.Suspicious() {
		d.Reject = newPresenceError(KindReplay, models.AuthRejectedSuspicious, msgSuspicious)
	}
	return d
}
