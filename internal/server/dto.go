package server

import (
	"atelierdesk/internal/domain"
	"atelierdesk/internal/views"
)

// Request payloads

type CreateOrderRequest struct {
	Title       string `json:"title"`
	Amount      int64  `json:"amount" minimum:"0"`
	Deadline    string `json:"deadline" format:"date"`
	Stage       string `json:"stage,omitempty"`
	Source      string `json:"source,omitempty"`
	Priority    string `json:"priority,omitempty" enum:"low,normal,high,"`
	PersonCount string `json:"person_count,omitempty"`
	ArtType     string `json:"art_type,omitempty"`
	Nature      string `json:"nature,omitempty" enum:"personal,commercial,"`
	Notes       string `json:"notes,omitempty"`
}

type UpdateOrderRequest struct {
	Title       *string  `json:"title,omitempty"`
	Amount      *int64   `json:"amount,omitempty" minimum:"0"`
	Deadline    *string  `json:"deadline,omitempty" format:"date"`
	Stage       *string  `json:"stage,omitempty"`
	Source      *string  `json:"source,omitempty"`
	Priority    *string  `json:"priority,omitempty" enum:"low,normal,high"`
	PersonCount *string  `json:"person_count,omitempty"`
	ArtType     *string  `json:"art_type,omitempty"`
	Nature      *string  `json:"nature,omitempty" enum:"personal,commercial"`
	Notes       *string  `json:"notes,omitempty"`
	HoursSpent  *float64 `json:"hours_spent,omitempty"`
}

type ImportRequest struct {
	Mode       string             `json:"mode,omitempty" enum:"replace,append,merge,"`
	Candidates []domain.Candidate `json:"candidates"`
}

type LoginRequest struct {
	AccessKey string `json:"access_key"`
}

// Response payloads

type OrderResponse struct {
	domain.Order
	Net        float64 `json:"net"`
	Completion int     `json:"completion"`
}

type TaxonomyApplyResponse struct {
	Taxonomy domain.Taxonomy `json:"taxonomy"`
	Cascaded int             `json:"cascaded"`
}

type InsightsResponse struct {
	Text string `json:"text"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

func orderResponse(o domain.Order, tax domain.Taxonomy) OrderResponse {
	return OrderResponse{
		Order:      o,
		Net:        views.NetAmount(o, tax),
		Completion: views.Completion(o, tax),
	}
}

func mapOrders(orders []domain.Order, tax domain.Taxonomy) []OrderResponse {
	res := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		res = append(res, orderResponse(o, tax))
	}
	return res
}
