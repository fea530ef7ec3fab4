package log

import "testing"

func TestEnumStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{DirectionIn.String(), "IN"},
		{DirectionOut.String(), "OUT"},
		{Direction(9).String(), "UNKNOWN"},
		{LayerRegistry.String(), "REGISTRY"},
		{CategoryTimer.String(), "TIMER"},
		{RoleClient.String(), "CLIENT"},
		{MessageTypeNotification.String(), "NOTIFICATION"},
		{StateEntitySubscription.String(), "SUBSCRIPTION"},
		{ControlMsgClose.String(), "CLOSE"},
		{TimerCancelled.String(), "CANCELLED"},
		{TimerAction(99).String(), "UNKNOWN"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestParseLayerAndCategory(t *testing.T) {
	for l := LayerTransport; l <= LayerRegistry; l++ {
		got, ok := ParseLayer(l.String())
		if !ok || got != l {
			t.Errorf("ParseLayer(%q) = %v, %v", l.String(), got, ok)
		}
	}
	for c := CategoryMessage; c <= CategoryTimer; c++ {
		got, ok := ParseCategory(c.String())
		if !ok || got != c {
			t.Errorf("ParseCategory(%q) = %v, %v", c.String(), got, ok)
		}
	}
	if _, ok := ParseLayer("NOPE"); ok {
		t.Error("ParseLayer accepted an unknown name")
	}
	if _, ok := ParseCategory(""); ok {
		t.Error("ParseCategory accepted an empty name")
	}
}
