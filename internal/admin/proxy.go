package admin

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
)

const maxProxyBody = 1 << 20

// Proxy forwards platform callbacks addressed to child instances. The
// children listen on loopback only; the admin bot is the single public
// endpoint and routes by port number in the path.
type Proxy struct {
	client *http.Client
	logger *slog.Logger
}

// ProxyOption configures a Proxy.
type ProxyOption func(*Proxy)

// WithProxyLogger sets the logger.
func WithProxyLogger(logger *slog.Logger) ProxyOption {
	return func(p *Proxy) {
		p.logger = logger
	}
}

// WithProxyClient sets the HTTP client used for forwarding.
func WithProxyClient(client *http.Client) ProxyOption {
	return func(p *Proxy) {
		p.client = client
	}
}

// NewProxy creates a proxy for loopback child instances.
func NewProxy(opts ...ProxyOption) *Proxy {
	p := &Proxy{
		client: &http.Client{Timeout: 30 * time.Second},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Mount attaches the forwarding routes to the router.
// Middlewares (rate limiting) apply to the validate route only, webhook
// deliveries are not throttled.
func (p *Proxy) Mount(r chi.Router, middlewares ...func(http.Handler) http.Handler) {
	r.Post("/{child}", p.handleWebhook)
	r.With(middlewares...).Get("/{child}/validate/{entry}", p.handleValidate)
}

// handleWebhook relays a webhook delivery to the child on the addressed
// port. Only the status code travels back to the platform.
func (p *Proxy) handleWebhook(w http.ResponseWriter, r *http.Request) {
	port, ok := childPort(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxProxyBody))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	resp, err := p.client.Post(
		fmt.Sprintf("http://127.0.0.1:%s/", port),
		"application/json",
		bytes.NewReader(body))
	if err != nil {
		p.logger.Warn("forwarding webhook failed", "port", port, "error", err)
		http.Error(w, "instance unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	w.WriteHeader(resp.StatusCode)
}

// handleValidate relays a redemption scan to the child and returns the
// child's result page as-is.
func (p *Proxy) handleValidate(w http.ResponseWriter, r *http.Request) {
	port, ok := childPort(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	entry := chi.URLParam(r, "entry")

	resp, err := p.client.Get(fmt.Sprintf(
		"http://127.0.0.1:%s/validate/%s", port, url.PathEscape(entry)))
	if err != nil {
		p.logger.Warn("forwarding validation failed", "port", port, "error", err)
		http.Error(w, "instance unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// childPort extracts the addressed child port. Anything but a plain
// number is rejected so the proxy can never be steered off loopback.
func childPort(r *http.Request) (string, bool) {
	child := chi.URLParam(r, "child")
	if child == "" {
		return "", false
	}
	for _, c := range child {
		if c < '0' || c > '9' {
			return "", false
		}
	}
	return child, true
}
