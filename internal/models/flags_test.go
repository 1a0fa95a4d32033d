package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagSet_WithAndHas(t *testing.T) {
	s := NewFlagSet(FlagImpossibleMovement)

	assert.True(t, s.Has(FlagImpossibleMovement))
	assert.False(t, s.Has(FlagDuplicateSameSlot))
	assert.False(t, s.Empty())

	s = s.With(FlagDuplicateSameSlot)
	assert.Equal(t, []string{"duplicate_same_slot", "impossible_movement"}, s.Strings())
}

func TestFlagSet_JSON(t *testing.T) {
	s := NewFlagSet(FlagLocalBeaconNonceMismatch, FlagImpossibleMovement)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `["local_beacon_nonce_mismatch","impossible_movement"]`, string(data))

	var back FlagSet
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, s, back)

	err = json.Unmarshal([]byte(`["teleported"]`), &back)
	assert.Error(t, err, "unknown names are not part of the closed set")
}

func TestFlagSet_EmptyMarshalsToEmptyArray(t *testing.T) {
	data, err := json.Marshal(FlagSet(0))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}
