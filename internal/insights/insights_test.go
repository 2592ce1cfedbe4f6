package insights

import (
	"context"
	"strings"
	"testing"

	"atelierdesk/internal/domain"
)

func TestDisabledServiceAnswersPlaceholder(t *testing.T) {
	s, err := New(context.Background(), "", "", 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Enabled() {
		t.Fatalf("service without an API key must be disabled")
	}
	text, current := s.Generate(context.Background(), nil, domain.Taxonomy{})
	if text != Placeholder {
		t.Fatalf("expected placeholder, got %q", text)
	}
	if !current {
		t.Fatalf("lone request must be current")
	}
}

func TestDisabledServiceDefaults(t *testing.T) {
	s, err := New(context.Background(), "", "", 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.model != "gemini-2.0-flash" {
		t.Fatalf("model default %q", s.model)
	}
	if s.maxOrders != 50 {
		t.Fatalf("maxOrders default %d", s.maxOrders)
	}
}

func TestStaleGenerationDetected(t *testing.T) {
	s, err := New(context.Background(), "", "", 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	first := s.gen.Add(1)
	s.gen.Add(1) // a newer request was issued meanwhile
	if first == s.gen.Load() {
		t.Fatalf("expected the first generation to be stale")
	}
	_, current := s.Generate(context.Background(), nil, domain.Taxonomy{})
	if !current {
		t.Fatalf("the newest request must be current")
	}
}

func TestBuildPrompt(t *testing.T) {
	tax := domain.Taxonomy{
		Stages:  []domain.Stage{{Name: "Sketching", Percent: 25}},
		Sources: []domain.Source{{Name: "Skeb", FeePercent: 10}},
	}
	orders := []domain.Order{
		{Title: "Cover Art", Amount: 1000, Deadline: "2024-07-01", Stage: "Sketching", Source: "Skeb", Priority: domain.PriorityHigh},
		{Title: "Dropped", Amount: 50, Deadline: "2024-08-01"},
	}
	prompt, err := buildPrompt(orders, tax, 1)
	if err != nil {
		t.Fatalf("build prompt: %v", err)
	}
	if !strings.Contains(prompt, `"title":"Cover Art"`) {
		t.Fatalf("order subset missing from prompt:\n%s", prompt)
	}
	if !strings.Contains(prompt, `"net":900`) {
		t.Fatalf("net amount missing from prompt:\n%s", prompt)
	}
	if strings.Contains(prompt, "Dropped") {
		t.Fatalf("max orders cap not applied:\n%s", prompt)
	}
	if !strings.Contains(prompt, "freelance illustrator") {
		t.Fatalf("instruction text missing:\n%s", prompt)
	}
}
