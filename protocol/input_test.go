package protocol

import "testing"

func TestDigitalInputMergePrefersEdges(t *testing.T) {
	cases := []struct {
		a, b, want DigitalInput
	}{
		{NotPressed, ContinuePress, ContinuePress},
		{ContinuePress, StartPress, StartPress},
		{StartPress, ContinuePress, StartPress},
		{ContinuePress, ReleasePress, ReleasePress},
		{ReleasePress, ContinuePress, ReleasePress},
		{StartPress, ReleasePress, ReleasePress},
		{NotPressed, NotPressed, NotPressed},
	}
	for _, c := range cases {
		if got := c.a.Merge(c.b); got != c.want {
			t.Fatalf("%s.Merge(%s) = %s, want %s", c.a, c.b, got, c.want)
		}
	}
}

func TestDigitalInputIsPressed(t *testing.T) {
	if !StartPress.IsPressed() || !ContinuePress.IsPressed() {
		t.Fatalf("start/continue should count as pressed")
	}
	if NotPressed.IsPressed() || ReleasePress.IsPressed() {
		t.Fatalf("not/release should not count as pressed")
	}
	if DigitalInput(9).Valid() {
		t.Fatalf("out of range value reported valid")
	}
}
