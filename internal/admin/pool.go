package admin

import (
	"fmt"
	"sync"

	"github.com/martiert/bongbot/internal/config"
)

// Slot is one pre-provisioned child bot account.
// Reservation is exclusive: at most one event owns a slot at a time.
type Slot struct {
	// Token identifies the child bot account and keys the slot.
	Token config.Secret
	// Email is the child bot's account email, used to join it to the
	// event room.
	Email string
	// Port is the child's local HTTP port; the admin proxies to it.
	Port int

	// Config is the event config under construction for the current
	// reservation. Reset from the template on every reservation.
	Config config.Event

	// OwnerEmail is the requester's email for the current reservation.
	OwnerEmail string
	// RequesterMembershipID is the membership that added the admin bot
	// to the event room; removed again at teardown.
	RequesterMembershipID string

	// template is the pristine per-slot config, bot section filled in.
	template config.Event
	inUse    bool
}

// Pool hands out child slots.
type Pool struct {
	mu    sync.Mutex
	slots []*Slot
}

// NewPool builds the pool from the admin config: one slot per configured
// child, ports allocated sequentially after the admin's own port, webhooks
// routed through the admin proxy.
func NewPool(cfg config.Admin) *Pool {
	p := &Pool{}
	for i, child := range cfg.Children {
		port := cfg.Bot.Port + 1 + i
		template := cfg.BaseConfig.Clone()
		template.Bot = config.Bot{
			Token:   child.Token,
			Webhook: fmt.Sprintf("%s/%d", cfg.Bot.Webhook, port),
			Port:    port,
		}
		p.slots = append(p.slots, &Slot{
			Token:    child.Token,
			Email:    child.Email,
			Port:     port,
			template: template,
		})
	}
	return p
}

// Reserve returns the first free slot, marked in use, with a fresh config
// built from the slot's template. Returns nil when every slot is taken.
func (p *Pool) Reserve() *Slot {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, slot := range p.slots {
		if slot.inUse {
			continue
		}
		slot.inUse = true
		slot.Config = slot.template.Clone()
		slot.OwnerEmail = ""
		slot.RequesterMembershipID = ""
		return slot
	}
	return nil
}

// Release marks the slot owned by token as free again.
// Only the timeout supervisor calls this.
func (p *Pool) Release(token config.Secret) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, slot := range p.slots {
		if slot.Token == token {
			slot.inUse = false
			return
		}
	}
}

// Free returns the number of unreserved slots.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	free := 0
	for _, slot := range p.slots {
		if !slot.inUse {
			free++
		}
	}
	return free
}
