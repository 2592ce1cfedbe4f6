// Package insights asks a generative-AI collaborator for a short narrative
// reading of the order book. Any failure degrades to a fixed placeholder;
// nothing here is ever fatal to the caller.
package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"google.golang.org/genai"

	"atelierdesk/internal/domain"
	"atelierdesk/internal/views"
)

// Placeholder is returned whenever generation is unavailable or fails.
const Placeholder = "Insights are currently unavailable. Your orders are safe; try again in a moment."

type Service struct {
	client    *genai.Client
	model     string
	maxOrders int

	// gen guards against a late-resolving older request overwriting a
	// newer result: only the latest issued generation is current.
	gen atomic.Uint64
}

// New builds the service. An empty API key yields a disabled service that
// always answers with the placeholder.
func New(ctx context.Context, apiKey, model string, maxOrders int) (*Service, error) {
	s := &Service{model: model, maxOrders: maxOrders}
	if s.model == "" {
		s.model = "gemini-2.0-flash"
	}
	if s.maxOrders <= 0 {
		s.maxOrders = 50
	}
	if apiKey == "" {
		return s, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	s.client = client
	return s, nil
}

// Enabled reports whether a client is configured.
func (s *Service) Enabled() bool { return s.client != nil }

// Generate produces insights text for the given state. The second return
// is false when a newer request was issued while this one was in flight;
// stale results must not be persisted.
func (s *Service) Generate(ctx context.Context, orders []domain.Order, tax domain.Taxonomy) (string, bool) {
	gen := s.gen.Add(1)
	text := s.generate(ctx, orders, tax)
	return text, gen == s.gen.Load()
}

func (s *Service) generate(ctx context.Context, orders []domain.Order, tax domain.Taxonomy) string {
	if s.client == nil {
		return Placeholder
	}
	prompt, err := buildPrompt(orders, tax, s.maxOrders)
	if err != nil {
		return Placeholder
	}
	resp, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(prompt), nil)
	if err != nil {
		return Placeholder
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return Placeholder
	}
	return text
}

// promptOrder is the serialized subset of an order shared with the model.
type promptOrder struct {
	Title      string  `json:"title"`
	Amount     int64   `json:"amount"`
	Net        float64 `json:"net"`
	Deadline   string  `json:"deadline"`
	Stage      string  `json:"stage"`
	Completion int     `json:"completion"`
	Source     string  `json:"source"`
	Priority   string  `json:"priority"`
}

func buildPrompt(orders []domain.Order, tax domain.Taxonomy, maxOrders int) (string, error) {
	subset := make([]promptOrder, 0, len(orders))
	for _, o := range orders {
		if len(subset) >= maxOrders {
			break
		}
		subset = append(subset, promptOrder{
			Title:      o.Title,
			Amount:     o.Amount,
			Net:        views.NetAmount(o, tax),
			Deadline:   o.Deadline,
			Stage:      o.Stage,
			Completion: views.Completion(o, tax),
			Source:     o.Source,
			Priority:   o.Priority,
		})
	}
	data, err := json.Marshal(subset)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString("You advise a freelance illustrator on their commission workload.\n")
	sb.WriteString("Here are the current orders as JSON:\n\n")
	sb.Write(data)
	sb.WriteString("\n\nIn at most five short sentences of plain text, highlight:\n")
	sb.WriteString("- deadlines at risk in the next two weeks\n")
	sb.WriteString("- which source channels earn the best net amounts\n")
	sb.WriteString("- one concrete suggestion for what to work on next\n")
	sb.WriteString("Do not return JSON or markdown, just the sentences.\n")
	return sb.String(), nil
}
