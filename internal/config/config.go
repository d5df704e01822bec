package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// Bot identifies one bot instance towards the chat platform.
type Bot struct {
	// Token is the bot's API access token.
	Token Secret `json:"token"`
	// Webhook is the public base URL the platform delivers events to.
	// The validate endpoint lives under it.
	Webhook string `json:"webhook"`
	// Port is the local port the bot's HTTP server binds to.
	Port int `json:"port"`
}

// Bongs configures token issuance for one event.
type Bongs struct {
	// Room is the chat room the event runs in.
	Room string `json:"room"`
	// WelcomeMessage is sent to every room member when the event starts.
	WelcomeMessage string `json:"welcome_message"`
	// Limit is the number of bongs one person may receive. 0 means unlimited.
	Limit int `json:"limit,omitempty"`
	// Background is an optional image path composited behind the QR code.
	Background string `json:"background,omitempty"`
}

// Draw configures the prize draw.
type Draw struct {
	// Rooms lists the rooms a person must be member of to be eligible.
	Rooms []string `json:"rooms"`
	// Exclude lists email patterns never eligible to win.
	Exclude []string `json:"exclude,omitempty"`
}

// Event is the full configuration document for one event-bot instance.
type Event struct {
	Bot            Bot      `json:"bot"`
	Administrators []string `json:"administrators"`
	Ignore         []string `json:"ignore,omitempty"`
	Bongs          Bongs    `json:"bongs"`
	Draw           *Draw    `json:"draw,omitempty"`
}

// Child identifies one pre-provisioned child bot account.
type Child struct {
	Token Secret `json:"token"`
	Email string `json:"email"`
}

// Admin is the configuration document for the admin bot.
type Admin struct {
	Bot Bot `json:"bot"`
	// Children are the bot accounts the provisioning pool hands out.
	Children []Child `json:"children"`
	// MaxDurationHours is how long an event instance lives before teardown.
	MaxDurationHours int `json:"max-duration"`
	// BaseConfig is the template each child's event config starts from.
	BaseConfig Event `json:"baseconfig"`
}

// Validate checks that an event config is complete enough to run a bot.
func (e *Event) Validate() error {
	if e.Bot.Token.IsEmpty() {
		return fmt.Errorf("config: bot token is required")
	}
	if e.Bot.Webhook == "" {
		return fmt.Errorf("config: bot webhook is required")
	}
	if e.Bot.Port <= 0 || e.Bot.Port > 65535 {
		return fmt.Errorf("config: bot port %d is invalid", e.Bot.Port)
	}
	if e.Bongs.Room == "" {
		return fmt.Errorf("config: bongs room is required")
	}
	if e.Bongs.Limit < 0 {
		return fmt.Errorf("config: bongs limit must not be negative")
	}
	if e.Draw != nil && len(e.Draw.Rooms) == 0 {
		return fmt.Errorf("config: draw is configured without rooms")
	}
	return nil
}

// Validate checks that an admin config is complete enough to run.
func (a *Admin) Validate() error {
	if a.Bot.Token.IsEmpty() {
		return fmt.Errorf("config: bot token is required")
	}
	if a.Bot.Webhook == "" {
		return fmt.Errorf("config: bot webhook is required")
	}
	if a.Bot.Port <= 0 || a.Bot.Port > 65535 {
		return fmt.Errorf("config: bot port %d is invalid", a.Bot.Port)
	}
	if len(a.Children) == 0 {
		return fmt.Errorf("config: at least one child is required")
	}
	for i, c := range a.Children {
		if c.Token.IsEmpty() {
			return fmt.Errorf("config: child %d has no token", i)
		}
		if c.Email == "" {
			return fmt.Errorf("config: child %d has no email", i)
		}
	}
	if a.MaxDurationHours <= 0 {
		return fmt.Errorf("config: max-duration must be positive")
	}
	return nil
}

// Clone returns a deep copy of the event config.
// The provisioning pool hands every reservation its own copy so dialogue
// answers never leak into the shared template.
func (e Event) Clone() Event {
	out := e
	out.Administrators = append([]string(nil), e.Administrators...)
	out.Ignore = append([]string(nil), e.Ignore...)
	if e.Draw != nil {
		d := Draw{
			Rooms:   append([]string(nil), e.Draw.Rooms...),
			Exclude: append([]string(nil), e.Draw.Exclude...),
		}
		out.Draw = &d
	}
	return out
}

// LoadEvent reads and validates an event config from path.
func LoadEvent(path string) (Event, error) {
	var cfg Event
	if err := loadJSON(path, &cfg); err != nil {
		return Event{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Event{}, err
	}
	return cfg, nil
}

// LoadAdmin reads and validates an admin config from path.
func LoadAdmin(path string) (Admin, error) {
	var cfg Admin
	if err := loadJSON(path, &cfg); err != nil {
		return Admin{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Admin{}, err
	}
	return cfg, nil
}

// SaveEventTo writes an event config to path atomically.
func SaveEventTo(cfg Event, path string) error {
	return writeJSONAtomic(path, cfg)
}

func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %q: %w", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode config %q: %w", path, err)
	}
	return nil
}
