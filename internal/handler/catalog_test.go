package handler

import (
	"strings"
	"testing"
)

func TestBuiltinProfiles(t *testing.T) {
	profiles := BuiltinProfiles()

	want := []ID{CustomerSupport, SalesManager, TechnicalSupport, Diagnostic}
	if len(profiles) != len(want) {
		t.Fatalf("profiles = %d, want %d", len(profiles), len(want))
	}
	known := make(map[ID]bool)
	for i, p := range profiles {
		if p.ID != want[i] {
			t.Errorf("profile %d = %q, want %q", i, p.ID, want[i])
		}
		if p.Description == "" || p.Prompt == "" {
			t.Errorf("%s: missing description or prompt", p.ID)
		}
		if strings.Contains(p.Prompt, DefaultSentinel) {
			t.Errorf("%s: prompt hardcodes the sentinel", p.ID)
		}
		known[p.ID] = true
	}
	for _, p := range profiles {
		for _, peer := range p.HandsOffTo {
			if !known[peer] || peer == p.ID {
				t.Errorf("%s: bad handoff peer %q", p.ID, peer)
			}
		}
	}
}

func TestCatalogBuild(t *testing.T) {
	c := Catalog{
		LLM:          &mockLLM{},
		Tools:        ticketTools(),
		DefaultModel: "gpt-4o-mini",
		Overrides: map[ID]Override{
			Diagnostic:   {Disabled: true},
			SalesManager: {Model: "llama3", Sentinel: "PASS"},
		},
		Logger: discardLogger(),
	}

	hs := c.Build(BuiltinProfiles())
	if len(hs) != 3 {
		t.Fatalf("handlers = %d, want 3", len(hs))
	}

	reg, err := NewRegistry(hs...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if reg.Has(Diagnostic) {
		t.Error("disabled handler registered")
	}

	h, _ := reg.Lookup(SalesManager)
	sales := h.(*Agent)
	if sales.model != "llama3" || sales.Descriptor().DeclinedSentinel != "PASS" {
		t.Errorf("sales override not applied: model=%q sentinel=%q", sales.model, sales.Descriptor().DeclinedSentinel)
	}

	h, _ = reg.Lookup(TechnicalSupport)
	tech := h.(*Agent)
	if tech.model != "gpt-4o-mini" {
		t.Errorf("tech model = %q", tech.model)
	}
	if len(tech.peers) != 1 || tech.peers[0] != CustomerSupport {
		t.Errorf("tech peers = %v, want disabled diagnostic dropped", tech.peers)
	}
	if names := tech.tools.AllToolNames(); len(names) != 1 || names[0] != "get_ticket_state" {
		t.Errorf("tech tools = %v", names)
	}
}
