package admin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/martiert/bongbot/internal/config"
	"github.com/martiert/bongbot/internal/spark"
)

const (
	busyMessage = "Please finish your current instance creation before trying to create a new instance"

	capacityMessage = "Sorry! I have no more capacity at this point. You can host your own instance by using https://github.com/martiert/bongbot"

	createdMessage = "Your instance is created. It will be automatically deleted in %d hours"

	launchFailedMessage = "Something went wrong starting your instance. Please try again later"
)

// Messenger sends direct messages to people.
type Messenger interface {
	SendText(ctx context.Context, personID, markdown string) error
}

// Rooms adds bot accounts to event rooms.
type Rooms interface {
	CreateMembership(ctx context.Context, roomID, email string) (spark.Membership, error)
}

// Starter launches child bot processes.
type Starter interface {
	Launch(cfg config.Event, owner string) (Process, error)
}

// Controller runs the instance creation dialogue. Adding the admin bot to
// a room reserves a child slot and starts the question sequence; once the
// dialogue completes the child instance is launched and supervised.
type Controller struct {
	cfg        config.Admin
	pool       *Pool
	launcher   Starter
	supervisor *Supervisor
	messenger  Messenger
	rooms      Rooms
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	mu    sync.Mutex
	slot  *Slot
	state State
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithControllerLogger sets the logger.
func WithControllerLogger(logger *slog.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = logger
	}
}

// NewController creates the dialogue controller.
func NewController(cfg config.Admin, pool *Pool, launcher Starter, supervisor *Supervisor, messenger Messenger, rooms Rooms, opts ...ControllerOption) *Controller {
	c := &Controller{
		cfg:        cfg,
		pool:       pool,
		launcher:   launcher,
		supervisor: supervisor,
		messenger:  messenger,
		rooms:      rooms,
		logger:     slog.Default(),
		sessions:   make(map[string]*session),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HandleMembershipCreated starts a new creation dialogue for the person
// who added the bot to a room. A person can only build one instance at a
// time, and an exhausted pool turns the request away.
func (c *Controller) HandleMembershipCreated(ctx context.Context, roomID, membershipID string, actor spark.Person) {
	c.mu.Lock()
	if _, ok := c.sessions[actor.ID]; ok {
		c.mu.Unlock()
		c.send(ctx, actor.ID, busyMessage)
		return
	}

	slot := c.pool.Reserve()
	if slot == nil {
		c.mu.Unlock()
		c.logger.Info("instance request turned away, pool exhausted", "person", actor.Email())
		c.send(ctx, actor.ID, capacityMessage)
		return
	}

	slot.Config.Bongs.Room = roomID
	slot.Config.Administrators = append([]string(nil), actor.Emails...)
	slot.OwnerEmail = actor.Email()
	slot.RequesterMembershipID = membershipID

	sess := &session{slot: slot, state: StateLimit}
	c.sessions[actor.ID] = sess
	c.mu.Unlock()

	c.logger.Info("instance creation started",
		"person", actor.Email(), "room", roomID, "port", slot.Port)
	c.send(ctx, actor.ID, sess.state.Question())
}

// HandleMessage feeds a direct message into the sender's dialogue, if one
// is running. Messages from people without a session are ignored.
func (c *Controller) HandleMessage(ctx context.Context, msg spark.Message) {
	c.mu.Lock()
	sess, ok := c.sessions[msg.PersonID]
	c.mu.Unlock()
	if !ok {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	// A message racing the launch can grab the session pointer before the
	// finished dialogue is dropped from the map. Answering it again would
	// launch the same slot twice.
	if sess.state.Done() {
		return
	}

	next, err := sess.state.Answer(&sess.slot.Config, msg.Text)
	if err != nil {
		c.send(ctx, msg.PersonID, err.Error())
		c.send(ctx, msg.PersonID, sess.state.Question())
		return
	}
	sess.state = next

	if next.Done() {
		c.finalize(ctx, msg.PersonID, sess)
		return
	}
	c.send(ctx, msg.PersonID, next.Question())
}

// finalize launches the configured child and hands it to the supervisor.
func (c *Controller) finalize(ctx context.Context, personID string, sess *session) {
	slot := sess.slot
	defer c.endSession(personID)

	proc, err := c.launcher.Launch(slot.Config, slot.OwnerEmail)
	if err != nil {
		c.logger.Error("launching child instance failed",
			"person", slot.OwnerEmail, "port", slot.Port, "error", err)
		c.send(ctx, personID, launchFailedMessage)
		c.pool.Release(slot.Token)
		return
	}

	membershipIDs := []string{slot.RequesterMembershipID}
	membership, err := c.rooms.CreateMembership(ctx, slot.Config.Bongs.Room, slot.Email)
	if err != nil {
		c.logger.Warn("adding child bot to event room failed",
			"room", slot.Config.Bongs.Room, "email", slot.Email, "error", err)
	} else {
		membershipIDs = append([]string{membership.ID}, membershipIDs...)
	}

	c.send(ctx, personID, fmt.Sprintf(createdMessage, c.cfg.MaxDurationHours))

	duration := time.Duration(c.cfg.MaxDurationHours) * time.Hour
	c.supervisor.Watch(proc, slot, duration, membershipIDs)

	c.logger.Info("instance created",
		"person", slot.OwnerEmail, "port", slot.Port, "duration", duration)
}

func (c *Controller) endSession(personID string) {
	c.mu.Lock()
	delete(c.sessions, personID)
	c.mu.Unlock()
}

func (c *Controller) send(ctx context.Context, personID, text string) {
	if err := c.messenger.SendText(ctx, personID, text); err != nil {
		c.logger.Error("sending message failed", "person", personID, "error", err)
	}
}
