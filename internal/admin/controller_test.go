package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/martiert/bongbot/internal/config"
	"github.com/martiert/bongbot/internal/spark"
)

type sentMessage struct {
	personID string
	text     string
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (m *fakeMessenger) SendText(_ context.Context, personID, markdown string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{personID, markdown})
	return nil
}

func (m *fakeMessenger) last() sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMessage{}
	}
	return m.sent[len(m.sent)-1]
}

type fakeRooms struct {
	mu      sync.Mutex
	created []spark.Membership
	err     error
}

func (r *fakeRooms) CreateMembership(_ context.Context, roomID, email string) (spark.Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return spark.Membership{}, r.err
	}
	m := spark.Membership{
		ID:          fmt.Sprintf("membership-%d", len(r.created)+1),
		RoomID:      roomID,
		PersonEmail: email,
	}
	r.created = append(r.created, m)
	return m, nil
}

type fakeStarter struct {
	mu       sync.Mutex
	launched []config.Event
	owners   []string
	err      error
}

func (s *fakeStarter) Launch(cfg config.Event, owner string) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.launched = append(s.launched, cfg)
	s.owners = append(s.owners, owner)
	return newFakeProcess(), nil
}

type adminFixture struct {
	cfg        config.Admin
	pool       *Pool
	starter    *fakeStarter
	supervisor *Supervisor
	messenger  *fakeMessenger
	rooms      *fakeRooms
	clock      *manualClock
	ctrl       *Controller
}

func newAdminFixture(t *testing.T, children int) *adminFixture {
	t.Helper()
	f := &adminFixture{
		cfg:       testAdminConfig(children),
		starter:   &fakeStarter{},
		messenger: &fakeMessenger{},
		rooms:     &fakeRooms{},
		clock:     &manualClock{},
	}
	f.pool = NewPool(f.cfg)
	f.supervisor = NewSupervisor(&fakeMemberships{}, f.pool, WithAfterFunc(f.clock.afterFunc))
	f.ctrl = NewController(f.cfg, f.pool, f.starter, f.supervisor, f.messenger, f.rooms)
	return f
}

var requester = spark.Person{
	ID:     "person-1",
	Emails: []string{"owner@example.com", "owner@work.example.com"},
}

func (f *adminFixture) message(text string) spark.Message {
	return spark.Message{
		ID:       "msg",
		PersonID: requester.ID,
		Text:     text,
	}
}

func TestInstanceCreationFlow(t *testing.T) {
	f := newAdminFixture(t, 1)
	ctx := context.Background()

	f.ctrl.HandleMembershipCreated(ctx, "room-1", "membership-req", requester)
	if got := f.messenger.last().text; got != limitQuestion {
		t.Fatalf("first question = %q", got)
	}

	f.ctrl.HandleMessage(ctx, f.message("5"))
	if got := f.messenger.last().text; got != welcomeQuestion {
		t.Fatalf("second question = %q", got)
	}

	f.ctrl.HandleMessage(ctx, f.message("Free drinks!"))
	f.ctrl.HandleMessage(ctx, f.message("cohost@example.com"))
	f.ctrl.HandleMessage(ctx, f.message("None"))

	if len(f.starter.launched) != 1 {
		t.Fatalf("launched %d instances, want 1", len(f.starter.launched))
	}
	launched := f.starter.launched[0]
	if launched.Bongs.Room != "room-1" {
		t.Errorf("room = %q", launched.Bongs.Room)
	}
	if launched.Bongs.Limit != 5 {
		t.Errorf("limit = %d", launched.Bongs.Limit)
	}
	if launched.Bongs.WelcomeMessage != "Free drinks!" {
		t.Errorf("welcome = %q", launched.Bongs.WelcomeMessage)
	}
	wantAdmins := []string{"owner@example.com", "owner@work.example.com", "cohost@example.com"}
	if len(launched.Administrators) != len(wantAdmins) {
		t.Errorf("administrators = %v, want %v", launched.Administrators, wantAdmins)
	}
	if f.starter.owners[0] != "owner@example.com" {
		t.Errorf("owner = %q", f.starter.owners[0])
	}

	if len(f.rooms.created) != 1 || f.rooms.created[0].PersonEmail != f.pool.slots[0].Email {
		t.Errorf("child bot not added to room: %v", f.rooms.created)
	}

	want := fmt.Sprintf(createdMessage, f.cfg.MaxDurationHours)
	if got := f.messenger.last().text; got != want {
		t.Errorf("confirmation = %q, want %q", got, want)
	}

	if f.supervisor.Active() != 1 {
		t.Error("instance not supervised")
	}

	// The dialogue is over, further messages are ignored.
	before := len(f.messenger.sent)
	f.ctrl.HandleMessage(ctx, f.message("hello?"))
	if len(f.messenger.sent) != before {
		t.Error("finished session still answering")
	}
}

func TestInstanceCreationBusy(t *testing.T) {
	f := newAdminFixture(t, 2)
	ctx := context.Background()

	f.ctrl.HandleMembershipCreated(ctx, "room-1", "m-1", requester)
	f.ctrl.HandleMembershipCreated(ctx, "room-2", "m-2", requester)

	if got := f.messenger.last().text; got != busyMessage {
		t.Errorf("response = %q, want busy message", got)
	}
	if f.pool.Free() != 1 {
		t.Errorf("Free() = %d, want 1", f.pool.Free())
	}
}

func TestInstanceCreationCapacity(t *testing.T) {
	f := newAdminFixture(t, 1)
	ctx := context.Background()

	f.ctrl.HandleMembershipCreated(ctx, "room-1", "m-1", requester)
	other := spark.Person{ID: "person-2", Emails: []string{"other@example.com"}}
	f.ctrl.HandleMembershipCreated(ctx, "room-2", "m-2", other)

	got := f.messenger.last()
	if got.personID != other.ID || !strings.Contains(got.text, "no more capacity") {
		t.Errorf("response = %+v, want capacity message", got)
	}
}

func TestInstanceCreationBadAnswerRepeatsQuestion(t *testing.T) {
	f := newAdminFixture(t, 1)
	ctx := context.Background()

	f.ctrl.HandleMembershipCreated(ctx, "room-1", "m-1", requester)
	f.ctrl.HandleMessage(ctx, f.message("lots"))

	sent := f.messenger.sent
	if len(sent) != 3 {
		t.Fatalf("sent %d messages, want 3", len(sent))
	}
	if sent[1].text != "'lots' is not a digit" {
		t.Errorf("error = %q", sent[1].text)
	}
	if sent[2].text != limitQuestion {
		t.Errorf("repeat = %q", sent[2].text)
	}
}

func TestInstanceCreationLaunchFailure(t *testing.T) {
	f := newAdminFixture(t, 1)
	f.starter.err = errors.New("no such binary")
	ctx := context.Background()

	f.ctrl.HandleMembershipCreated(ctx, "room-1", "m-1", requester)
	for _, answer := range []string{"0", "hi", "None", "None"} {
		f.ctrl.HandleMessage(ctx, f.message(answer))
	}

	if got := f.messenger.last().text; got != launchFailedMessage {
		t.Errorf("response = %q", got)
	}
	if f.pool.Free() != 1 {
		t.Error("slot not released after failed launch")
	}
	if f.supervisor.Active() != 0 {
		t.Error("failed launch supervised")
	}

	// The person can start over.
	f.ctrl.HandleMembershipCreated(ctx, "room-1", "m-2", requester)
	if got := f.messenger.last().text; got != limitQuestion {
		t.Errorf("retry response = %q", got)
	}
}

// blockingStarter holds every Launch until release is closed, so tests can
// deliver messages while a launch is still in flight.
type blockingStarter struct {
	started chan struct{}
	release chan struct{}

	mu       sync.Mutex
	launches int
}

func (s *blockingStarter) Launch(cfg config.Event, owner string) (Process, error) {
	s.started <- struct{}{}
	<-s.release
	s.mu.Lock()
	s.launches++
	s.mu.Unlock()
	return newFakeProcess(), nil
}

func (s *blockingStarter) launchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launches
}

func TestInstanceCreationMessageDuringLaunchDoesNotRelaunch(t *testing.T) {
	f := newAdminFixture(t, 1)
	starter := &blockingStarter{
		started: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
	ctrl := NewController(f.cfg, f.pool, starter, f.supervisor, f.messenger, f.rooms)
	ctx := context.Background()

	ctrl.HandleMembershipCreated(ctx, "room-1", "m-1", requester)
	for _, answer := range []string{"0", "hi", "None"} {
		ctrl.HandleMessage(ctx, f.message(answer))
	}

	final := make(chan struct{})
	go func() {
		ctrl.HandleMessage(ctx, f.message("None"))
		close(final)
	}()
	<-starter.started

	// A follow-up message arrives while the launch is still running. It
	// must not re-enter the finished dialogue once the launch completes.
	straggler := make(chan struct{})
	go func() {
		ctrl.HandleMessage(ctx, f.message("thanks!"))
		close(straggler)
	}()
	time.Sleep(50 * time.Millisecond)

	close(starter.release)
	<-final
	<-straggler

	if got := starter.launchCount(); got != 1 {
		t.Fatalf("launched %d times, want 1", got)
	}
	if got := len(f.rooms.created); got != 1 {
		t.Errorf("created %d memberships, want 1", got)
	}
	if f.supervisor.Active() != 1 {
		t.Errorf("Active() = %d, want 1", f.supervisor.Active())
	}
	want := fmt.Sprintf(createdMessage, f.cfg.MaxDurationHours)
	if got := f.messenger.last().text; got != want {
		t.Errorf("last message = %q, want %q", got, want)
	}
}

func TestInstanceCreationRoomJoinFailureStillLaunches(t *testing.T) {
	f := newAdminFixture(t, 1)
	f.rooms.err = errors.New("room gone")
	ctx := context.Background()

	f.ctrl.HandleMembershipCreated(ctx, "room-1", "m-1", requester)
	for _, answer := range []string{"0", "hi", "None", "None"} {
		f.ctrl.HandleMessage(ctx, f.message(answer))
	}

	if len(f.starter.launched) != 1 {
		t.Fatal("instance not launched")
	}
	want := fmt.Sprintf(createdMessage, f.cfg.MaxDurationHours)
	if got := f.messenger.last().text; got != want {
		t.Errorf("confirmation = %q", got)
	}
	if f.supervisor.Active() != 1 {
		t.Error("instance not supervised")
	}
}
