package services

import (
	"testing"
	"time"

	"github.com/prudhvinik1/hnnp-cloud/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeWindow_Check(t *testing.T) {
	w := TimeWindow{MaxSkewSeconds: 120, MaxDriftSlots: 1}
	now := time.Unix(1_700_000_100, 0)
	slot := SlotAt(now)

	tests := []struct {
		name      string
		timestamp int64
		slot      uint32
		wantMsg   string
	}{
		{"exact", now.Unix(), slot, ""},
		{"skew at limit", now.Unix() - 120, slot, ""},
		{"skew too large", now.Unix() - 121, slot, "timestamp skew too large"},
		{"future skew too large", now.Unix() + 121, slot, "timestamp skew too large"},
		{"one slot behind", now.Unix(), slot - 1, ""},
		{"one slot ahead", now.Unix(), slot + 1, ""},
		{"two slots behind", now.Unix(), slot - 2, "time_slot outside allowed drift window"},
		{"replayed much later", now.Unix(), slot - 100, "time_slot outside allowed drift window"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			perr := w.Check(now, tt.timestamp, tt.slot)

			if tt.wantMsg == "" {
				assert.Nil(t, perr)
				return
			}
			require.NotNil(t, perr)
			assert.Equal(t, tt.wantMsg, perr.Message)
			assert.Equal(t, KindTemporal, perr.Kind)
			assert.Equal(t, models.AuthRejectedWindow, perr.Reason)
			assert.Equal(t, 400, perr.Kind.HTTPStatus())
		})
	}
}

func TestSlotAt(t *testing.T) {
	assert.Equal(t, uint32(113333340), SlotAt(time.Unix(1_700_000_100, 0)))
	assert.Equal(t, uint32(113333340), SlotAt(time.Unix(1_700_000_114, 0)))
	assert.Equal(t, uint32(113333341), SlotAt(time.Unix(1_700_000_115, 0)))
}
