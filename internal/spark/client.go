// Package spark is a minimal Cisco Spark / Webex REST client covering the
// operations bongbot needs: people, messages (with file attachment),
// memberships and webhooks.
package spark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/martiert/bongbot/internal/config"
)

// DefaultBaseURL is the public Webex API endpoint.
const DefaultBaseURL = "https://webexapis.com/v1"

// membershipPageSize is the page size for membership listings. Rooms larger
// than this are not paged.
const membershipPageSize = 1000

// APIError is a non-2xx response from the platform.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("spark: api returned %d: %s", e.Status, e.Body)
}

// Client talks to the chat platform's REST API.
type Client struct {
	baseURL string
	token   config.Secret
	client  *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint (for testing).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client authenticating with the given bot token.
// The token is stored as a Secret and will appear as [REDACTED] in logs.
func NewClient(token config.Secret, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Me returns the bot's own identity.
func (c *Client) Me(ctx context.Context) (Person, error) {
	var p Person
	err := c.get(ctx, "/people/me", nil, &p)
	return p, err
}

// GetPerson looks up a person by id.
func (c *Client) GetPerson(ctx context.Context, id string) (Person, error) {
	var p Person
	err := c.get(ctx, "/people/"+url.PathEscape(id), nil, &p)
	return p, err
}

// ListPeopleByEmail looks up people by email address.
func (c *Client) ListPeopleByEmail(ctx context.Context, email string) ([]Person, error) {
	var list listResponse[Person]
	err := c.get(ctx, "/people", url.Values{"email": {email}}, &list)
	return list.Items, err
}

// GetMessage fetches a message by id. Webhook notifications only carry the
// message id, not its text.
func (c *Client) GetMessage(ctx context.Context, id string) (Message, error) {
	var m Message
	err := c.get(ctx, "/messages/"+url.PathEscape(id), nil, &m)
	return m, err
}

// SendText sends a markdown direct message to a person by id.
func (c *Client) SendText(ctx context.Context, personID, markdown string) error {
	body := map[string]string{
		"toPersonId": personID,
		"markdown":   markdown,
	}
	return c.post(ctx, "/messages", body, nil)
}

// SendToEmail sends a markdown direct message to a person by email.
func (c *Client) SendToEmail(ctx context.Context, email, markdown string) error {
	body := map[string]string{
		"toPersonEmail": email,
		"markdown":      markdown,
	}
	return c.post(ctx, "/messages", body, nil)
}

// SendFile sends a direct message with an attached file.
func (c *Client) SendFile(ctx context.Context, personID, markdown, filename string, file []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("toPersonId", personID); err != nil {
		return fmt.Errorf("spark: build multipart: %w", err)
	}
	if markdown != "" {
		if err := w.WriteField("markdown", markdown); err != nil {
			return fmt.Errorf("spark: build multipart: %w", err)
		}
	}
	part, err := w.CreateFormFile("files", filename)
	if err != nil {
		return fmt.Errorf("spark: build multipart: %w", err)
	}
	if _, err := part.Write(file); err != nil {
		return fmt.Errorf("spark: build multipart: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("spark: build multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", &buf)
	if err != nil {
		return fmt.Errorf("spark: create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(req, nil)
}

// ListMemberships returns the memberships of a room.
func (c *Client) ListMemberships(ctx context.Context, roomID string) ([]Membership, error) {
	var list listResponse[Membership]
	query := url.Values{
		"roomId": {roomID},
		"max":    {strconv.Itoa(membershipPageSize)},
	}
	err := c.get(ctx, "/memberships", query, &list)
	return list.Items, err
}

// RoomEmails returns the email addresses of everyone in a room.
func (c *Client) RoomEmails(ctx context.Context, roomID string) ([]string, error) {
	members, err := c.ListMemberships(ctx, roomID)
	if err != nil {
		return nil, err
	}
	emails := make([]string, 0, len(members))
	for _, m := range members {
		emails = append(emails, m.PersonEmail)
	}
	return emails, nil
}

// CreateMembership adds a person to a room by email.
func (c *Client) CreateMembership(ctx context.Context, roomID, email string) (Membership, error) {
	body := map[string]string{
		"roomId":      roomID,
		"personEmail": email,
	}
	var m Membership
	err := c.post(ctx, "/memberships", body, &m)
	return m, err
}

// DeleteMembership removes a membership by id.
func (c *Client) DeleteMembership(ctx context.Context, id string) error {
	return c.delete(ctx, "/memberships/"+url.PathEscape(id))
}

// CreateWebhook registers an event callback.
func (c *Client) CreateWebhook(ctx context.Context, name, targetURL, resource, event string) (Webhook, error) {
	body := map[string]string{
		"name":      name,
		"targetUrl": targetURL,
		"resource":  resource,
		"event":     event,
	}
	var h Webhook
	err := c.post(ctx, "/webhooks", body, &h)
	return h, err
}

// ListWebhooks returns the bot's registered webhooks.
func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	var list listResponse[Webhook]
	err := c.get(ctx, "/webhooks", nil, &list)
	return list.Items, err
}

// DeleteWebhook removes a webhook by id.
func (c *Client) DeleteWebhook(ctx context.Context, id string) error {
	return c.delete(ctx, "/webhooks/"+url.PathEscape(id))
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("spark: create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("spark: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("spark: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("spark: create request: %w", err)
	}
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token.Value())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("spark: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Bounded read; platform error bodies are small JSON documents.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn("spark api error",
			"method", req.Method,
			"path", req.URL.Path,
			"status", resp.StatusCode,
		)
		return &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	if out == nil {
		// Drain body to allow connection reuse
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("spark: decode response: %w", err)
	}
	return nil
}
