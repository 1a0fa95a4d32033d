package models

import (
	"encoding/json"
	"fmt"
)

// SuspiciousFlag is one member of the closed set of anomaly markers a
// presence event can carry.
type SuspiciousFlag uint8

const (
	FlagLocalBeaconNonceMismatch SuspiciousFlag = 1 << iota
	FlagDuplicateSameSlot
	FlagImpossibleMovement
)

var allFlags = []SuspiciousFlag{
	FlagLocalBeaconNonceMismatch,
	FlagDuplicateSameSlot,
	FlagImpossibleMovement,
}

func (f SuspiciousFlag) String() string {
	switch f {
	case FlagLocalBeaconNonceMismatch:
		return "local_beacon_nonce_mismatch"
	case FlagDuplicateSameSlot:
		return "duplicate_same_slot"
	case FlagImpossibleMovement:
		return "impossible_movement"
	}
	return fmt.Sprintf("flag(%d)", uint8(f))
}

// ParseSuspiciousFlag maps a wire name back to its flag.
func ParseSuspiciousFlag(name string) (SuspiciousFlag, bool) {
	for _, f := range allFlags {
		if f.String() == name {
			return f, true
		}
	}
	return 0, false
}

// FlagSet is a bit set of SuspiciousFlag values. It marshals to a JSON
// array of flag names in a fixed order.
type FlagSet uint8

func NewFlagSet(flags ...SuspiciousFlag) FlagSet {
	var s FlagSet
	for _, f := range flags {
		s = s.With(f)
	}
	return s
}

func (s FlagSet) With(f SuspiciousFlag) FlagSet {
	return s | FlagSet(f)
}

func (s FlagSet) Has(f SuspiciousFlag) bool {
	return s&FlagSet(f) != 0
}

func (s FlagSet) Empty() bool {
	return s == 0
}

func (s FlagSet) Strings() []string {
	out := make([]string, 0, len(allFlags))
	for _, f := range allFlags {
		if s.Has(f) {
			out = append(out, f.String())
		}
	}
	return out
}

func (s FlagSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

func (s *FlagSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	var out FlagSet
	for _, n := range names {
		f, ok := ParseSuspiciousFlag(n)
		if !ok {
			return fmt.Errorf("unknown suspicious flag %q", n)
		}
		out = out.With(f)
	}
	*s = out
	return nil
}
