package handler

import (
	"errors"
	"fmt"

	"github.com/nugget/switchboard/internal/conversation"
)

// Registry is the fixed set of handlers a supervisor can route to. It is
// built once and never modified, so it is safe to share between
// concurrent conversations.
type Registry struct {
	order    []ID
	handlers map[ID]Handler
	descs    map[ID]Descriptor
}

// NewRegistry validates and indexes hs in the given order.
func NewRegistry(hs ...Handler) (*Registry, error) {
	r := &Registry{
		handlers: make(map[ID]Handler, len(hs)),
		descs:    make(map[ID]Descriptor, len(hs)),
	}
	for _, h := range hs {
		if h == nil {
			return nil, errors.New("nil handler")
		}
		d := h.Descriptor()
		switch string(d.ID) {
		case "":
			return nil, errors.New("handler with empty id")
		case conversation.SenderUser, conversation.SenderSupervisor, conversation.Finish:
			return nil, fmt.Errorf("handler id %q is reserved", d.ID)
		}
		if d.DeclinedSentinel == "" {
			return nil, fmt.Errorf("handler %q has no declined sentinel", d.ID)
		}
		if _, dup := r.handlers[d.ID]; dup {
			return nil, fmt.Errorf("duplicate handler id %q", d.ID)
		}
		r.order = append(r.order, d.ID)
		r.handlers[d.ID] = h
		r.descs[d.ID] = d
	}
	return r, nil
}

// Lookup returns the handler registered under id.
func (r *Registry) Lookup(id ID) (Handler, bool) {
	h, ok := r.handlers[id]
	return h, ok
}

// Has reports whether id is registered.
func (r *Registry) Has(id ID) bool {
	_, ok := r.handlers[id]
	return ok
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	return len(r.order)
}

// IDs returns the handler ids in registration order.
func (r *Registry) IDs() []ID {
	out := make([]ID, len(r.order))
	copy(out, r.order)
	return out
}

// Descriptors returns the handler descriptors in registration order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.descs[id])
	}
	return out
}

// Options returns the routing targets the classifier may choose from:
// every handler id followed by FINISH.
func (r *Registry) Options() []string {
	out := make([]string, 0, len(r.order)+1)
	for _, id := range r.order {
		out = append(out, string(id))
	}
	return append(out, conversation.Finish)
}

// Declined reports whether m is a decline: authored by a registered
// handler with content exactly equal to that handler's sentinel.
// Supervisor and user messages never count.
func (r *Registry) Declined(m conversation.Message) bool {
	d, ok := r.descs[ID(m.Sender)]
	return ok && m.Content == d.DeclinedSentinel
}
