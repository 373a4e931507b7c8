// Package crm provides REST clients for the CRM backend and for the
// diagnostic services (knowledge base search, log aggregation) the
// support handlers consult.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/switchboard/internal/httpkit"
)

// ErrNotFound is returned when the CRM has no record for the requested id.
var ErrNotFound = errors.New("not found")

// Client is a CRM REST API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a CRM client. baseURL includes the API prefix, for
// example http://localhost:3000/api.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(10*time.Second),
			httpkit.WithBearerToken(apiKey),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
	}
}

// Ticket is a support ticket as returned by the CRM.
type Ticket struct {
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
	AssignedTo  string `json:"assigned_to,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// TicketUpdate is the PATCH body for a ticket status change.
type TicketUpdate struct {
	Status    string `json:"status"`
	Notes     string `json:"notes,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

// Opportunity is a sales opportunity.
type Opportunity struct {
	ID          string  `json:"id,omitempty"`
	Name        string  `json:"name"`
	Company     string  `json:"company,omitempty"`
	Commercial  string  `json:"commercial,omitempty"`
	Amount      float64 `json:"amount,omitempty"`
	Priority    string  `json:"priority,omitempty"`
	Status      string  `json:"status,omitempty"`
	Notes       string  `json:"notes,omitempty"`
	CreatedAt   string  `json:"created_at,omitempty"`
	UpdatedAt   string  `json:"updated_at,omitempty"`
	ResolvedAt  string  `json:"resolved_at,omitempty"`
	Description string  `json:"description,omitempty"`
}

// Customer is a CRM customer record.
type Customer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Company string `json:"company,omitempty"`
	Status  string `json:"status,omitempty"`
}

// Interaction is one entry of a customer's history.
type Interaction struct {
	Date    string `json:"date"`
	Kind    string `json:"kind"`
	Summary string `json:"summary"`
}

// GetTicket fetches a ticket by id.
func (c *Client) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	var t Ticket
	if err := c.do(ctx, http.MethodGet, "/tickets/"+url.PathEscape(id), nil, &t); err != nil {
		return nil, err
	}
	if t.ID == "" {
		t.ID = id
	}
	return &t, nil
}

// UpdateTicketStatus changes a ticket's status.
func (c *Client) UpdateTicketStatus(ctx context.Context, id string, u TicketUpdate) error {
	if u.UpdatedAt == "" {
		u.UpdatedAt = time.Now().Format(time.RFC3339)
	}
	return c.do(ctx, http.MethodPatch, "/tickets/"+url.PathEscape(id), u, nil)
}

// GetOpportunity fetches an opportunity by id.
func (c *Client) GetOpportunity(ctx context.Context, id string) (*Opportunity, error) {
	var o Opportunity
	if err := c.do(ctx, http.MethodGet, "/opportunities/"+url.PathEscape(id), nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// CreateOpportunity creates an opportunity and returns the stored record.
func (c *Client) CreateOpportunity(ctx context.Context, o Opportunity) (*Opportunity, error) {
	var out Opportunity
	if err := c.do(ctx, http.MethodPost, "/opportunities", o, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FindCustomer looks a customer up by name.
func (c *Client) FindCustomer(ctx context.Context, name string) (*Customer, error) {
	var found []Customer
	if err := c.do(ctx, http.MethodGet, "/customers?name="+url.QueryEscape(name), nil, &found); err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("customer %q: %w", name, ErrNotFound)
	}
	return &found[0], nil
}

// CustomerHistory returns the interaction history of a customer.
func (c *Client) CustomerHistory(ctx context.Context, id string) ([]Interaction, error) {
	var h []Interaction
	if err := c.do(ctx, http.MethodGet, "/customers/"+url.PathEscape(id)+"/history", nil, &h); err != nil {
		return nil, err
	}
	return h, nil
}

// Ping checks that the CRM API answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, data, result any) error {
	var body *bytes.Reader
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal data: %w", err)
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("API error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
