package services

import (
	"time"

	"github.com/prudhvinik1/hnnp-cloud/internal/models"
)

// SlotSeconds is the token rotation period.
const SlotSeconds = 15

func SlotAt(t time.Time) uint32 {
	return uint32(t.Unix() / SlotSeconds)
}

type TimeWindow struct {
	MaxSkewSeconds int64
	MaxDriftSlots  int64
}

// Check validates the claimed timestamp and slot against server time.
func (w TimeWindow) Check(now time.Time, timestamp int64, timeSlot uint32) *PresenceError {
	serverTime := now.Unix()
	if abs64(serverTime-timestamp) > w.MaxSkewSeconds {
		return newPresenceError(KindTemporal, models.AuthRejectedWindow, "timestamp skew too large")
	}

	serverSlot := serverTime / SlotSeconds
	if abs64(serverSlot-int64(timeSlot)) > w.MaxDriftSlots {
		return newPresenceError(KindTemporal, models.AuthRejectedWindow, "time_slot outside allowed drift window")
	}
	return nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
