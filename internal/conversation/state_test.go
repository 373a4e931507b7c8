package conversation

import (
	"testing"
)

func seeded(n int) State {
	s := New("c1", ModeDirect, NewMessage(SenderUser, "m0"))
	for i := 1; i < n; i++ {
		s = s.Append(NewMessage("sales_manager", "m"+string(rune('0'+i))))
	}
	return s
}

func TestNewAssignsID(t *testing.T) {
	s := New("", ModeAsync, NewMessage(SenderUser, "hi"))
	if s.ID == "" {
		t.Fatal("New() left ID empty")
	}
	if s.Mode != ModeAsync {
		t.Errorf("Mode = %q, want %q", s.Mode, ModeAsync)
	}
	if len(s.History) != 1 {
		t.Errorf("len(History) = %d, want 1", len(s.History))
	}
}

func TestAppendDoesNotAlias(t *testing.T) {
	base := seeded(3)
	a := base.Append(NewMessage(SenderSupervisor, "a"))
	b := base.Append(NewMessage(SenderSupervisor, "b"))

	if len(base.History) != 3 {
		t.Fatalf("base history mutated: len = %d", len(base.History))
	}
	if got := a.History[3].Content; got != "a" {
		t.Errorf("a.History[3] = %q, want %q", got, "a")
	}
	if got := b.History[3].Content; got != "b" {
		t.Errorf("b.History[3] = %q, want %q", got, "b")
	}
}

func TestWindow(t *testing.T) {
	s := seeded(8)

	tests := []struct {
		name  string
		n     int
		want  int
		first string
	}{
		{name: "default window", n: 5, want: 5, first: "m3"},
		{name: "larger than history", n: 20, want: 8, first: "m0"},
		{name: "zero means all", n: 0, want: 8, first: "m0"},
		{name: "single", n: 1, want: 1, first: "m7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Window(tt.n)
			if len(got) != tt.want {
				t.Fatalf("Window(%d) len = %d, want %d", tt.n, len(got), tt.want)
			}
			if got[0].Content != tt.first {
				t.Errorf("Window(%d)[0] = %q, want %q", tt.n, got[0].Content, tt.first)
			}
		})
	}
}

func TestWindowIsReadOnlyView(t *testing.T) {
	s := seeded(8)
	view := s.Window(5)
	view[0].Content = "tampered"

	if len(s.History) != 8 {
		t.Fatalf("history length changed to %d", len(s.History))
	}
	for _, m := range s.History {
		if m.Content == "tampered" {
			t.Fatal("Window() exposed the underlying history")
		}
	}
}

func TestWindowLargerIsSuperset(t *testing.T) {
	s := seeded(9)
	for n := 1; n < 9; n++ {
		small, large := s.Window(n), s.Window(n+1)
		if len(large) < len(small) {
			t.Fatalf("Window(%d) shorter than Window(%d)", n+1, n)
		}
		offset := len(large) - len(small)
		for i := range small {
			if small[i] != large[i+offset] {
				t.Errorf("Window(%d)[%d] not present in Window(%d)", n, i, n+1)
			}
		}
	}
}

func TestLastAndFinished(t *testing.T) {
	var empty State
	if _, ok := empty.Last(); ok {
		t.Error("Last() on empty state reported ok")
	}

	s := seeded(2).WithNext(Finish)
	last, ok := s.Last()
	if !ok || last.Content != "m1" {
		t.Errorf("Last() = %+v, %v; want m1", last, ok)
	}
	if !s.Finished() {
		t.Error("Finished() = false after WithNext(Finish)")
	}
}

func TestParseHandoff(t *testing.T) {
	tests := []struct {
		content string
		want    string
		ok      bool
	}{
		{content: HandoffMarker("diagnostic") + " please check logs", want: "diagnostic", ok: true},
		{content: "escalating [[route: technical_support ]] now", want: "technical_support", ok: true},
		{content: "no marker here", ok: false},
		{content: "[[route:]]", ok: false},
		{content: "[[route:a]] then [[route:b]]", want: "a", ok: true},
	}

	for _, tt := range tests {
		got, ok := ParseHandoff(tt.content)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseHandoff(%q) = %q, %v; want %q, %v", tt.content, got, ok, tt.want, tt.ok)
		}
	}
}
