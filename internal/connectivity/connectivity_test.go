package connectivity

import "testing"

func TestAvailable(t *testing.T) {
	tests := []struct {
		online bool
		owner  string
		want   bool
	}{
		{true, "u1", true},
		{true, "", false},
		{false, "u1", false},
	}
	for _, tt := range tests {
		owner, ok := Available(NewSwitch(tt.online, tt.owner))
		if ok != tt.want {
			t.Errorf("Available(%v, %q) = %v, want %v", tt.online, tt.owner, ok, tt.want)
		}
		if ok && owner != tt.owner {
			t.Errorf("owner = %q", owner)
		}
	}

	if _, ok := Available(nil); ok {
		t.Error("nil oracle should be unavailable")
	}
}

func TestSwitch_listeners(t *testing.T) {
	s := NewSwitch(false, "u1")

	var transitions []State
	unsubscribe := s.OnChange(func(prev, next State) {
		transitions = append(transitions, next)
	})

	s.SetOnline(true)
	s.SetOnline(true) // no change, no notification
	s.SetOwner("")

	if len(transitions) != 2 {
		t.Fatalf("got %d transitions, want 2", len(transitions))
	}
	if !transitions[0].Available() || transitions[1].Available() {
		t.Errorf("transitions = %+v", transitions)
	}

	unsubscribe()
	s.SetOwner("u2")
	if len(transitions) != 2 {
		t.Error("listener called after unsubscribe")
	}
	if s.State() != (State{Online: true, OwnerID: "u2"}) {
		t.Errorf("State() = %+v", s.State())
	}
}
