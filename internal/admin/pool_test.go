package admin

import (
	"sync"
	"testing"

	"github.com/martiert/bongbot/internal/config"
)

func testAdminConfig(children int) config.Admin {
	cfg := config.Admin{
		Bot: config.Bot{
			Token:   "admin-token",
			Webhook: "https://bot.example.com",
			Port:    8000,
		},
		MaxDurationHours: 12,
		BaseConfig: config.Event{
			Bot: config.Bot{},
			Bongs: config.Bongs{
				WelcomeMessage: "welcome",
			},
		},
	}
	for i := 0; i < children; i++ {
		cfg.Children = append(cfg.Children, config.Child{
			Token: config.Secret("child-token-" + string(rune('a'+i))),
			Email: "child" + string(rune('a'+i)) + "@bots.example.com",
		})
	}
	return cfg
}

func TestPoolSlotLayout(t *testing.T) {
	pool := NewPool(testAdminConfig(2))

	first := pool.Reserve()
	second := pool.Reserve()
	if first == nil || second == nil {
		t.Fatal("expected two slots")
	}

	if first.Port != 8001 || second.Port != 8002 {
		t.Errorf("ports = %d, %d, want 8001, 8002", first.Port, second.Port)
	}
	if got := first.Config.Bot.Webhook; got != "https://bot.example.com/8001" {
		t.Errorf("webhook = %q", got)
	}
	if got := first.Config.Bot.Port; got != 8001 {
		t.Errorf("config port = %d", got)
	}
	if got := first.Config.Bot.Token; got != "child-token-a" {
		t.Errorf("config token = %q", got.Value())
	}
	if got := first.Config.Bongs.WelcomeMessage; got != "welcome" {
		t.Errorf("base config not inherited, welcome = %q", got)
	}
}

func TestPoolExhaustion(t *testing.T) {
	pool := NewPool(testAdminConfig(1))

	slot := pool.Reserve()
	if slot == nil {
		t.Fatal("expected a slot")
	}
	if pool.Reserve() != nil {
		t.Error("reserved an in-use slot")
	}

	pool.Release(slot.Token)
	if pool.Reserve() == nil {
		t.Error("released slot not reservable")
	}
}

func TestPoolReserveResetsConfig(t *testing.T) {
	pool := NewPool(testAdminConfig(1))

	slot := pool.Reserve()
	slot.Config.Bongs.Room = "room-1"
	slot.Config.Administrators = append(slot.Config.Administrators, "owner@example.com")
	slot.OwnerEmail = "owner@example.com"
	pool.Release(slot.Token)

	slot = pool.Reserve()
	if slot.Config.Bongs.Room != "" {
		t.Errorf("room leaked into new reservation: %q", slot.Config.Bongs.Room)
	}
	if len(slot.Config.Administrators) != 0 {
		t.Errorf("administrators leaked: %v", slot.Config.Administrators)
	}
	if slot.OwnerEmail != "" {
		t.Errorf("owner leaked: %q", slot.OwnerEmail)
	}
}

func TestPoolConcurrentReserve(t *testing.T) {
	const slots = 4
	pool := NewPool(testAdminConfig(slots))

	var mu sync.Mutex
	seen := make(map[int]bool)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot := pool.Reserve()
			if slot == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[slot.Port] {
				t.Errorf("slot on port %d reserved twice", slot.Port)
			}
			seen[slot.Port] = true
		}()
	}
	wg.Wait()

	if len(seen) != slots {
		t.Errorf("reserved %d distinct slots, want %d", len(seen), slots)
	}
	if pool.Free() != 0 {
		t.Errorf("Free() = %d, want 0", pool.Free())
	}
}
