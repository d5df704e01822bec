// Package party orchestrates one event: the chat commands, the bong
// lifecycle, and the redemption endpoint.
package party

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/martiert/bongbot/internal/bot"
	"github.com/martiert/bongbot/internal/config"
	"github.com/martiert/bongbot/internal/eligibility"
	"github.com/martiert/bongbot/internal/ledger"
	"github.com/martiert/bongbot/internal/pattern"
	"github.com/martiert/bongbot/internal/spark"
)

// Fixed chat replies.
const (
	quotaMessage    = "You have already received all your bongs"
	bongMessage     = "Here is your new bong, show this to the bartender when you want a new drink"
	apologyMessage  = "I'm sorry, something went wrong when trying to send the bong. Please try again"
	doneMessage     = "Done sending notifications"
	noWinnerMessage = "No non-excluded people have completed the challenge."

	welcomeTemplate = `%s
<br/>
<br/>
To get something to drink, write **bong** to me and show the QR code in the bar!
<br/>
<br/>
**Do not scan the QR code yourself.**
<br/>
It is a one time code, and you will not get a drink for it after it has been used!
`
)

// Messenger delivers chat messages.
type Messenger interface {
	SendText(ctx context.Context, personID, markdown string) error
	SendToEmail(ctx context.Context, email, markdown string) error
	SendFile(ctx context.Context, personID, markdown, filename string, file []byte) error
}

// Directory looks people up by email.
type Directory interface {
	ListPeopleByEmail(ctx context.Context, email string) ([]spark.Person, error)
}

// Roster looks up room membership.
type Roster interface {
	RoomEmails(ctx context.Context, roomID string) ([]string, error)
}

// Renderer renders a redemption URL as an image.
type Renderer interface {
	Render(url string) ([]byte, error)
}

// Registrar activates chat command listeners.
type Registrar interface {
	Listen(pattern string, fn bot.MessageHandler) error
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	Messenger Messenger
	Directory Directory
	Roster    Roster
	Renderer  Renderer
}

// Controller handles the chat commands and the redemption callback for one
// event. All token state lives in the ledger; the controller adds quota
// gating, delivery, and per-person serialization on top.
type Controller struct {
	cfg      config.Event
	admins   *pattern.List
	ignore   *pattern.List
	exclude  *pattern.List
	ledger   *ledger.Ledger
	resolver *eligibility.Resolver
	deps     Deps
	logger   *slog.Logger

	// validateURL is the base the token id is appended to inside the QR.
	validateURL string

	// intn picks the draw winner; injectable for tests.
	intn func(n int) int

	registrar    Registrar
	activateOnce sync.Once

	// personLocks serialize issue/redeem sequences per person so a slow
	// duplicate webhook cannot double-issue past the quota.
	mu          sync.Mutex
	personLocks map[string]*sync.Mutex
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithIntN sets the random picker (for testing).
func WithIntN(intn func(n int) int) Option {
	return func(c *Controller) { c.intn = intn }
}

// New creates a Controller for the given event config.
func New(cfg config.Event, lgr *ledger.Ledger, deps Deps, opts ...Option) (*Controller, error) {
	admins, err := pattern.Compile(cfg.Administrators)
	if err != nil {
		return nil, fmt.Errorf("party: administrators: %w", err)
	}
	ignore, err := pattern.Compile(cfg.Ignore)
	if err != nil {
		return nil, fmt.Errorf("party: ignore: %w", err)
	}
	var exclude *pattern.List
	if cfg.Draw != nil {
		exclude, err = pattern.Compile(cfg.Draw.Exclude)
		if err != nil {
			return nil, fmt.Errorf("party: draw exclude: %w", err)
		}
	}

	c := &Controller{
		cfg:         cfg,
		admins:      admins,
		ignore:      ignore,
		exclude:     exclude,
		ledger:      lgr,
		resolver:    eligibility.NewResolver(deps.Roster),
		deps:        deps,
		logger:      slog.Default(),
		validateURL: cfg.Bot.Webhook + "/validate",
		intn:        rand.Intn,
		personLocks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Register wires the controller's initial chat commands into the server.
// bong and count stay inactive until the party command has run.
func (c *Controller) Register(reg Registrar) error {
	c.registrar = reg

	if err := reg.Listen("^party!$", c.HandleParty); err != nil {
		return err
	}
	if c.cfg.Draw != nil {
		if err := reg.Listen("^draw$", c.HandleDraw); err != nil {
			return err
		}
	}
	return nil
}

// lockPerson acquires the per-person mutex and returns its unlock.
func (c *Controller) lockPerson(personID string) func() {
	c.mu.Lock()
	l, ok := c.personLocks[personID]
	if !ok {
		l = &sync.Mutex{}
		c.personLocks[personID] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// allowed reports whether the sender is an administrator.
// Non-admin senders of admin commands are silently ignored.
func (c *Controller) allowed(email string) bool {
	return c.admins.Match(email)
}

// HandleParty starts the event: it activates the bong and count commands
// and welcomes everyone in the room.
func (c *Controller) HandleParty(ctx context.Context, msg spark.Message) {
	if !c.allowed(msg.PersonEmail) {
		return
	}

	var activateErr error
	c.activateOnce.Do(func() {
		if err := c.registrar.Listen("^bong$", c.HandleBong); err != nil {
			activateErr = err
			return
		}
		activateErr = c.registrar.Listen("^count$", c.HandleCount)
	})
	if activateErr != nil {
		c.logger.Error("activate commands failed", "error", activateErr)
		return
	}

	members, err := c.deps.Roster.RoomEmails(ctx, c.cfg.Bongs.Room)
	if err != nil {
		c.logger.Error("fetch room members failed", "room", c.cfg.Bongs.Room, "error", err)
		return
	}

	welcome := fmt.Sprintf(welcomeTemplate, c.cfg.Bongs.WelcomeMessage)
	for _, email := range members {
		if c.ignore.Match(email) {
			continue
		}
		if err := c.deps.Messenger.SendToEmail(ctx, email, welcome); err != nil {
			c.logger.Warn("welcome delivery failed", "email", email, "error", err)
		}
	}

	if err := c.deps.Messenger.SendText(ctx, msg.PersonID, doneMessage); err != nil {
		c.logger.Warn("confirmation delivery failed", "error", err)
	}
}

// HandleBong issues the sender their next bong, quota permitting.
func (c *Controller) HandleBong(ctx context.Context, msg spark.Message) {
	unlock := c.lockPerson(msg.PersonID)
	defer unlock()

	if c.ledger.HasReachedQuota(msg.PersonID, c.cfg.Bongs.Limit) {
		if err := c.deps.Messenger.SendText(ctx, msg.PersonID, quotaMessage); err != nil {
			c.logger.Warn("quota notice delivery failed", "error", err)
		}
		return
	}

	if err := c.deliver(ctx, msg.PersonID); err != nil {
		c.logger.Error("bong delivery failed", "person", msg.PersonID, "error", err)
	}
}

// deliver issues a token, renders it, and sends it to its owner.
// On failure the counter increment is rolled back and the undelivered
// token revoked, then the owner gets an apology.
// Callers hold the person lock.
func (c *Controller) deliver(ctx context.Context, personID string) error {
	id := c.ledger.Issue(personID)

	fail := func(err error) error {
		c.ledger.Revoke(id)
		c.ledger.RollbackIssue(personID)
		if sendErr := c.deps.Messenger.SendText(ctx, personID, apologyMessage); sendErr != nil {
			c.logger.Warn("apology delivery failed", "error", sendErr)
		}
		return err
	}

	img, err := c.deps.Renderer.Render(c.validateURL + "/" + id)
	if err != nil {
		return fail(fmt.Errorf("render bong: %w", err))
	}

	if err := c.deps.Messenger.SendFile(ctx, personID, bongMessage, "bong.png", img); err != nil {
		return fail(fmt.Errorf("send bong: %w", err))
	}
	return nil
}

// HandleCount replies with the total number of validated bongs.
func (c *Controller) HandleCount(ctx context.Context, msg spark.Message) {
	if !c.allowed(msg.PersonEmail) {
		return
	}

	reply := fmt.Sprintf("There have been a total of %d bongs validated", c.ledger.RedeemedCount())
	if err := c.deps.Messenger.SendText(ctx, msg.PersonID, reply); err != nil {
		c.logger.Warn("count reply delivery failed", "error", err)
	}
}

// HandleDraw picks a winner uniformly at random among the people present
// in every draw room, minus the excluded set.
func (c *Controller) HandleDraw(ctx context.Context, msg spark.Message) {
	if !c.allowed(msg.PersonEmail) {
		return
	}
	if c.cfg.Draw == nil {
		return
	}

	eligible, err := c.resolver.Eligible(ctx, c.cfg.Draw.Rooms, c.exclude)
	if err != nil {
		c.logger.Error("eligibility computation failed", "error", err)
		return
	}

	if len(eligible) == 0 {
		if err := c.deps.Messenger.SendText(ctx, msg.PersonID, noWinnerMessage); err != nil {
			c.logger.Warn("draw reply delivery failed", "error", err)
		}
		return
	}

	winner := eligible[c.intn(len(eligible))]

	name, email := winner, winner
	if people, err := c.deps.Directory.ListPeopleByEmail(ctx, winner); err != nil {
		c.logger.Warn("winner lookup failed", "email", winner, "error", err)
	} else if len(people) > 0 {
		name = people[0].DisplayName
		if e := people[0].Email(); e != "" {
			email = e
		}
	}

	announce := fmt.Sprintf("The winner is %s (%s)", name, email)
	if err := c.deps.Messenger.SendText(ctx, msg.PersonID, announce); err != nil {
		c.logger.Warn("winner announcement delivery failed", "error", err)
	}

	congrats := fmt.Sprintf("Congratulations %s! You won", name)
	if err := c.deps.Messenger.SendToEmail(ctx, email, congrats); err != nil {
		c.logger.Warn("winner congratulation delivery failed", "error", err)
	}
}
