package result

import "testing"

func TestHandledCarriesValue(t *testing.T) {
	r := Handled(42)
	if !r.IsHandled() {
		t.Fatalf("expected handled")
	}
	if r.Value() != 42 {
		t.Fatalf("got %v, want 42", r.Value())
	}
}

func TestHandledWithoutValue(t *testing.T) {
	r := Handled()
	if !r.IsHandled() || r.Value() != nil {
		t.Fatalf("expected empty Handled()")
	}
}

func TestReplayIsNotHandledOrErr(t *testing.T) {
	r := Replay()
	if !r.IsReplay() || r.IsHandled() || r.IsErr() {
		t.Fatalf("expected pure replay state")
	}
}

func TestErrCarriesKindAndMessage(t *testing.T) {
	r := Err(BadLink, "seq mismatch: got %d want %d", 3, 2)
	if !r.IsErr() {
		t.Fatalf("expected error result")
	}
	if r.Error().Kind != BadLink {
		t.Fatalf("got kind %v, want BadLink", r.Error().Kind)
	}
	want := "BAD_LINK: seq mismatch: got 3 want 2"
	if r.Error().Error() != want {
		t.Fatalf("got %q, want %q", r.Error().Error(), want)
	}
}

func TestStringRendersEachStatus(t *testing.T) {
	cases := []struct {
		name string
		r    Result
	}{
		{"handled", Handled("x")},
		{"replay", Replay()},
		{"err", Err(BadHash, "boom")},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if tt.r.String() == "" {
				t.Fatalf("empty string for %s", tt.name)
			}
		})
	}
}
