package types

import "testing"

func TestCapNameRoundTrip(t *testing.T) {
	for name, bit := range CapMap {
		if got := CapName(bit); got != name {
			t.Errorf("CapName(%d) = %q, want %q", bit, got, name)
		}
	}
	if got := CapName(62); got != "" {
		t.Errorf("CapName(62) = %q, want empty", got)
	}
}
