// Package bot runs the webhook-event server a bot instance is built on:
// it receives platform notifications over HTTP, resolves them to messages
// or memberships, and dispatches them to registered command listeners.
package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/martiert/bongbot/internal/config"
	"github.com/martiert/bongbot/internal/spark"
)

// Webhook names. The platform echoes the name back in every notification
// and dispatch happens on it.
const (
	hookMessageCreated    = "message created"
	hookMembershipCreated = "room created"
)

// maxSeenMessages bounds the message dedupe set.
const maxSeenMessages = 1024

// MessageHandler handles one incoming chat message.
type MessageHandler func(ctx context.Context, msg spark.Message)

// MembershipHandler handles the bot being added to a room.
// actor is the person who added the bot.
type MembershipHandler func(ctx context.Context, roomID, membershipID string, actor spark.Person)

// API is the subset of the platform client the server needs.
type API interface {
	Me(ctx context.Context) (spark.Person, error)
	GetMessage(ctx context.Context, id string) (spark.Message, error)
	GetPerson(ctx context.Context, id string) (spark.Person, error)
	CreateWebhook(ctx context.Context, name, targetURL, resource, event string) (spark.Webhook, error)
	ListWebhooks(ctx context.Context) ([]spark.Webhook, error)
	DeleteWebhook(ctx context.Context, id string) error
}

type listener struct {
	re *regexp.Regexp
	fn MessageHandler
}

// Server receives platform webhooks and dispatches chat commands.
type Server struct {
	cfg        config.Bot
	api        API
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger

	mu             sync.Mutex
	listeners      []listener
	defaultMessage MessageHandler
	onMembership   MembershipHandler
	selfID         string
	seen           map[string]struct{}
	seenOrder      []string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a bot server bound to 127.0.0.1:cfg.Port.
// The public webhook URL in cfg is expected to be routed there (directly or
// through the admin proxy).
func NewServer(cfg config.Bot, api API, opts ...ServerOption) *Server {
	router := chi.NewRouter()
	s := &Server{
		cfg:    cfg,
		api:    api,
		router: router,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: slog.Default(),
		seen:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	router.Post("/", s.handleWebhook)
	return s
}

// Router exposes the underlying router so callers can mount additional
// routes (the validate endpoint, the admin proxy).
func (s *Server) Router() chi.Router {
	return s.router
}

// Listen registers fn for messages whose lowercased text matches pattern.
// Commands are registered as anchored patterns like "^bong$".
// Safe to call after the server has started; the party command activates
// further listeners at runtime.
func (s *Server) Listen(pattern string, fn MessageHandler) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("bot: compile listener %q: %w", pattern, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener{re: re, fn: fn})
	return nil
}

// OnDefaultMessage registers fn for messages matching no listener.
func (s *Server) OnDefaultMessage(fn MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultMessage = fn
}

// OnMembershipCreated registers fn for the bot being added to a room.
func (s *Server) OnMembershipCreated(fn MembershipHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMembership = fn
}

// Setup prepares the bot towards the platform: removes stale webhooks from
// a previous run, resolves the bot's own identity, and registers the
// webhooks this instance needs.
func (s *Server) Setup(ctx context.Context) error {
	if err := s.Cleanup(ctx); err != nil {
		return err
	}

	me, err := s.api.Me(ctx)
	if err != nil {
		return fmt.Errorf("bot: resolve own identity: %w", err)
	}
	s.mu.Lock()
	s.selfID = me.ID
	membership := s.onMembership != nil
	s.mu.Unlock()

	if _, err := s.api.CreateWebhook(ctx, hookMessageCreated, s.cfg.Webhook, "messages", "created"); err != nil {
		return fmt.Errorf("bot: register message webhook: %w", err)
	}
	if membership {
		if _, err := s.api.CreateWebhook(ctx, hookMembershipCreated, s.cfg.Webhook, "memberships", "created"); err != nil {
			return fmt.Errorf("bot: register membership webhook: %w", err)
		}
	}
	return nil
}

// Cleanup removes every webhook registered for the bot's token.
func (s *Server) Cleanup(ctx context.Context) error {
	hooks, err := s.api.ListWebhooks(ctx)
	if err != nil {
		return fmt.Errorf("bot: list webhooks: %w", err)
	}
	for _, hook := range hooks {
		if err := s.api.DeleteWebhook(ctx, hook.ID); err != nil {
			return fmt.Errorf("bot: delete webhook %q: %w", hook.ID, err)
		}
	}
	return nil
}

// Start starts the HTTP server. Blocks until Shutdown.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// webhookEnvelope is a platform event notification.
type webhookEnvelope struct {
	Name     string `json:"name"`
	Resource string `json:"resource"`
	Event    string `json:"event"`
	ActorID  string `json:"actorId"`
	Data     struct {
		ID          string `json:"id"`
		RoomID      string `json:"roomId"`
		PersonID    string `json:"personId"`
		PersonEmail string `json:"personEmail"`
	} `json:"data"`
}

// handleWebhook is the POST / receiver. It answers 200 as soon as the
// notification is parsed; the slow platform lookups run in the background
// so a stalled handler cannot make the platform re-deliver.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var env webhookEnvelope
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&env); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)

	ctx := context.WithoutCancel(r.Context())
	switch env.Name {
	case hookMessageCreated:
		go s.messageCreated(ctx, env)
	case hookMembershipCreated:
		go s.membershipCreated(ctx, env)
	default:
		s.logger.Debug("unhandled webhook", "name", env.Name)
	}
}

func (s *Server) messageCreated(ctx context.Context, env webhookEnvelope) {
	s.mu.Lock()
	self := s.selfID
	s.mu.Unlock()

	// Our own messages trigger webhooks too.
	if env.Data.PersonID == self {
		return
	}

	msg, err := s.api.GetMessage(ctx, env.Data.ID)
	if err != nil {
		s.logger.Error("fetch message failed", "id", env.Data.ID, "error", err)
		return
	}

	if !s.markSeen(msg.ID) {
		return
	}

	text := strings.ToLower(msg.Text)

	s.mu.Lock()
	var matched []MessageHandler
	for _, l := range s.listeners {
		if l.re.MatchString(text) {
			matched = append(matched, l.fn)
		}
	}
	fallback := s.defaultMessage
	s.mu.Unlock()

	if len(matched) == 0 {
		if fallback != nil {
			fallback(ctx, msg)
		}
		return
	}
	for _, fn := range matched {
		fn(ctx, msg)
	}
}

func (s *Server) membershipCreated(ctx context.Context, env webhookEnvelope) {
	s.mu.Lock()
	self := s.selfID
	fn := s.onMembership
	s.mu.Unlock()

	// Only the bot's own membership matters: someone added it to a room.
	if fn == nil || env.Data.PersonID != self {
		return
	}

	actor, err := s.api.GetPerson(ctx, env.ActorID)
	if err != nil {
		s.logger.Error("fetch actor failed", "id", env.ActorID, "error", err)
		return
	}

	fn(ctx, env.Data.RoomID, env.Data.ID, actor)
}

// markSeen records a message id, returning false for duplicates.
// The platform may deliver a webhook more than once.
func (s *Server) markSeen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	s.seenOrder = append(s.seenOrder, id)

	if len(s.seenOrder) > maxSeenMessages {
		oldest := s.seenOrder[0]
		s.seenOrder = s.seenOrder[1:]
		delete(s.seen, oldest)
	}
	return true
}
