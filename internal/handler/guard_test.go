package handler

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/nugget/switchboard/internal/conversation"
	"github.com/nugget/switchboard/internal/prompts"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGuard(t *testing.T) {
	d := desc("technical_support")
	in := conversation.New("c1", conversation.ModeDirect, conversation.NewMessage("user", "ticket 3?"))

	tests := []struct {
		name string
		fn   func(context.Context, conversation.State) conversation.State
		want string
	}{
		{
			name: "well behaved",
			fn: func(_ context.Context, st conversation.State) conversation.State {
				return st.Append(conversation.NewMessage("technical_support", "Ticket 3 is open."))
			},
			want: "Ticket 3 is open.",
		},
		{
			name: "panics",
			fn: func(context.Context, conversation.State) conversation.State {
				panic("boom")
			},
			want: prompts.HandlerFallback,
		},
		{
			name: "appends nothing",
			fn: func(_ context.Context, st conversation.State) conversation.State {
				return st
			},
			want: prompts.HandlerFallback,
		},
		{
			name: "wrong sender",
			fn: func(_ context.Context, st conversation.State) conversation.State {
				return st.Append(conversation.NewMessage("supervisor", "I am not who I say"))
			},
			want: prompts.HandlerFallback,
		},
		{
			name: "several messages keeps last own",
			fn: func(_ context.Context, st conversation.State) conversation.State {
				st = st.Append(conversation.NewMessage("technical_support", "thinking"))
				return st.Append(conversation.NewMessage("technical_support", "final"))
			},
			want: "final",
		},
		{
			name: "rewrites history",
			fn: func(_ context.Context, st conversation.State) conversation.State {
				return conversation.State{History: []conversation.Message{{Sender: "technical_support", Content: "only me"}}}
			},
			want: prompts.HandlerFallback,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := Guard(Func{Desc: d, Fn: tt.fn}, discardLogger())
			out := g.Handle(context.Background(), in)

			if len(out.History) != len(in.History)+1 {
				t.Fatalf("history len = %d, want %d", len(out.History), len(in.History)+1)
			}
			last, _ := out.Last()
			if last.Sender != "technical_support" {
				t.Errorf("sender = %q, want technical_support", last.Sender)
			}
			if last.Content != tt.want {
				t.Errorf("content = %q, want %q", last.Content, tt.want)
			}
			if out.ID != in.ID {
				t.Errorf("conversation id changed to %q", out.ID)
			}
		})
	}
}

func TestGuard_Idempotent(t *testing.T) {
	g := Guard(Reply(desc("a"), "x"), nil)
	if Guard(g, nil) != g {
		t.Error("Guard(Guard(h)) wrapped twice")
	}
}
