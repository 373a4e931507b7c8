package termination

import (
	"testing"

	"github.com/nugget/switchboard/internal/conversation"
)

type fakeRegistry map[string]string

func (f fakeRegistry) Len() int { return len(f) }

func (f fakeRegistry) Declined(m conversation.Message) bool {
	s, ok := f[m.Sender]
	return ok && m.Content == s
}

var threeHandlers = fakeRegistry{
	"customer_support":  "NOT_ME",
	"sales_manager":     "NOT_ME",
	"technical_support": "NOT_ME",
}

func msg(sender, content string) conversation.Message {
	return conversation.Message{Sender: sender, Content: content}
}

func TestTally(t *testing.T) {
	tests := []struct {
		name    string
		history []conversation.Message
		want    int
	}{
		{
			name:    "no declines",
			history: []conversation.Message{msg("user", "hello")},
			want:    0,
		},
		{
			name: "one decline",
			history: []conversation.Message{
				msg("user", "write me a python script"),
				msg("sales_manager", "NOT_ME"),
			},
			want: 1,
		},
		{
			name: "supervisor text matching sentinel ignored",
			history: []conversation.Message{
				msg("user", "NOT_ME"),
				msg("supervisor", "NOT_ME"),
			},
			want: 0,
		},
		{
			name: "unregistered sender ignored",
			history: []conversation.Message{
				msg("ghost", "NOT_ME"),
			},
			want: 0,
		},
		{
			name: "casing must match",
			history: []conversation.Message{
				msg("sales_manager", "not_me"),
				msg("technical_support", "NOT_ME."),
			},
			want: 0,
		},
		{
			name: "all declined",
			history: []conversation.Message{
				msg("user", "q"),
				msg("customer_support", "NOT_ME"),
				msg("sales_manager", "NOT_ME"),
				msg("technical_support", "NOT_ME"),
			},
			want: 3,
		},
		{
			name: "repeat declines count once",
			history: []conversation.Message{
				msg("user", "q"),
				msg("technical_support", "NOT_ME"),
				msg("technical_support", "NOT_ME"),
				msg("sales_manager", "NOT_ME"),
			},
			want: 2,
		},
		{
			name: "every handler twice",
			history: []conversation.Message{
				msg("customer_support", "NOT_ME"),
				msg("sales_manager", "NOT_ME"),
				msg("technical_support", "NOT_ME"),
				msg("technical_support", "NOT_ME"),
				msg("customer_support", "NOT_ME"),
			},
			want: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Tally(threeHandlers, tt.history); got != tt.want {
				t.Errorf("Tally() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestExhausted_RepeatDecline(t *testing.T) {
	h := []conversation.Message{
		msg("user", "q"),
		msg("technical_support", "NOT_ME"),
		msg("technical_support", "NOT_ME"),
		msg("sales_manager", "NOT_ME"),
	}
	if Exhausted(threeHandlers, h) {
		t.Error("Exhausted() = true but customer_support never declined")
	}
}

func TestExhaustedAndMaxSteps(t *testing.T) {
	h := []conversation.Message{
		msg("customer_support", "NOT_ME"),
		msg("sales_manager", "NOT_ME"),
	}
	if Exhausted(threeHandlers, h) {
		t.Error("Exhausted() = true with two of three declines")
	}
	h = append(h, msg("technical_support", "NOT_ME"))
	if !Exhausted(threeHandlers, h) {
		t.Error("Exhausted() = false with all three declines")
	}
	if got := MaxSteps(threeHandlers); got != 4 {
		t.Errorf("MaxSteps() = %d, want 4", got)
	}
}

func TestMachineTransitions(t *testing.T) {
	m := NewMachine()
	if m.Phase() != PhaseRouting {
		t.Fatalf("initial phase = %s, want routing", m.Phase())
	}
	if err := m.Handled(); err == nil {
		t.Error("Handled() from routing should fail")
	}
	if err := m.Routed(); err != nil {
		t.Fatalf("Routed(): %v", err)
	}
	if err := m.Finish(ReasonAnswer); err == nil {
		t.Error("Finish() from delegated should fail")
	}
	if err := m.Handled(); err != nil {
		t.Fatalf("Handled(): %v", err)
	}
	if err := m.Finish(ReasonAnswer); err != nil {
		t.Fatalf("Finish(): %v", err)
	}
	if m.Phase() != PhaseFinished || m.Reason() != ReasonAnswer {
		t.Errorf("got %s/%s, want finished/Answer", m.Phase(), m.Reason())
	}
	if m.Steps() != 2 {
		t.Errorf("Steps() = %d, want 2", m.Steps())
	}
	if err := m.Routed(); err == nil {
		t.Error("Routed() after finish should fail")
	}
}

func TestMachinePinned(t *testing.T) {
	m := NewMachine()
	if err := m.Pinned(); err != nil {
		t.Fatalf("Pinned(): %v", err)
	}
	if m.Phase() != PhaseDelegated {
		t.Errorf("phase = %s, want delegated", m.Phase())
	}
	if err := m.Pinned(); err == nil {
		t.Error("second Pinned() should fail")
	}
}
