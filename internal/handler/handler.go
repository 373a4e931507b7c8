// Package handler defines the contract every specialized support handler
// fulfils, the immutable registry the supervisor routes over, and the
// LLM-backed handlers that ship with switchboard.
package handler

import (
	"context"

	"github.com/nugget/switchboard/internal/conversation"
)

// ID names a handler. It is also the sender of every message the
// handler appends.
type ID string

// DefaultSentinel is the decline reply used when a handler does not
// configure its own.
const DefaultSentinel = "NOT_ME"

// Descriptor is the routing-facing description of a handler.
type Descriptor struct {
	ID               ID     `json:"id"`
	Description      string `json:"description"`
	DeclinedSentinel string `json:"declined_sentinel"`
}

// Handler processes a conversation it was routed to.
//
// Handle appends exactly one message authored by Descriptor().ID. To
// decline, the content is exactly the descriptor's sentinel. Handle
// never panics and never returns an error: an internal fault becomes an
// appended message.
type Handler interface {
	Descriptor() Descriptor
	Handle(ctx context.Context, st conversation.State) conversation.State
}

// Func adapts a plain function into a Handler.
type Func struct {
	Desc Descriptor
	Fn   func(ctx context.Context, st conversation.State) conversation.State
}

// Descriptor implements Handler.
func (f Func) Descriptor() Descriptor { return f.Desc }

// Handle implements Handler.
func (f Func) Handle(ctx context.Context, st conversation.State) conversation.State {
	return f.Fn(ctx, st)
}

// Reply returns a Func that always answers with content.
func Reply(d Descriptor, content string) Func {
	return Func{Desc: d, Fn: func(_ context.Context, st conversation.State) conversation.State {
		return st.Append(conversation.NewMessage(string(d.ID), content))
	}}
}
