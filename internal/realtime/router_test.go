package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/veritas-maps/veritas/internal/coordination"
	"github.com/veritas-maps/veritas/internal/locks"
	"github.com/veritas-maps/veritas/internal/presence"
	"github.com/veritas-maps/veritas/internal/projects"
	"github.com/veritas-maps/veritas/internal/sessions"
)

type sequenceIDGenerator struct {
	next int
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("id-%d", g.next), nil
}

type routerFixture struct {
	router   *Router
	registry *presence.Registry
	hub      *Hub
	locks    *locks.Manager
	sessions *sessions.Service
	projects *projects.Service
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:veritas_realtime_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&sessions.SessionRecord{}, &projects.Project{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := func() time.Time { return time.Unix(1700000600, 0).UTC() }
	sessionService, err := sessions.NewService(sessions.ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &sequenceIDGenerator{},
	})
	if err != nil {
		t.Fatalf("failed to construct session service: %v", err)
	}
	projectService, err := projects.NewService(projects.ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to construct project service: %v", err)
	}
	lockManager, err := locks.NewManager(locks.ManagerConfig{Store: coordination.NewMemoryStore()})
	if err != nil {
		t.Fatalf("failed to construct lock manager: %v", err)
	}

	registry := presence.NewRegistry()
	hub := NewHub()
	router, err := NewRouter(RouterConfig{
		Locks:    lockManager,
		Sessions: sessionService,
		Projects: projectService,
		Registry: registry,
		Hub:      hub,
	})
	if err != nil {
		t.Fatalf("failed to construct router: %v", err)
	}

	return &routerFixture{
		router:   router,
		registry: registry,
		hub:      hub,
		locks:    lockManager,
		sessions: sessionService,
		projects: projectService,
	}
}

func (f *routerFixture) connect(t *testing.T, connectionID, userID string) *fakeSubscriber {
	t.Helper()
	subscriber := newFakeSubscriber(connectionID, userID)
	if err := f.router.Connect(subscriber); err != nil {
		t.Fatalf("failed to connect %s: %v", connectionID, err)
	}
	return subscriber
}

func (f *routerFixture) send(t *testing.T, subscriber *fakeSubscriber, eventType string, payload any) {
	t.Helper()
	envelope, err := NewEnvelope(eventType, payload)
	if err != nil {
		t.Fatalf("failed to build %s envelope: %v", eventType, err)
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("failed to encode %s envelope: %v", eventType, err)
	}
	f.router.HandleMessage(context.Background(), subscriber, raw)
}

func (f *routerFixture) seedProject(t *testing.T, projectID string, collaborators ...string) {
	t.Helper()
	if _, err := f.projects.Create(context.Background(), projectID, "owner-1", "Claim map", false, collaborators); err != nil {
		t.Fatalf("failed to seed project: %v", err)
	}
}

func decodePayload(t *testing.T, envelope Envelope, target any) {
	t.Helper()
	if err := json.Unmarshal(envelope.Payload, target); err != nil {
		t.Fatalf("failed to decode %s payload: %v", envelope.Type, err)
	}
}

func TestConnectConfirmsRegistration(t *testing.T) {
	fixture := newRouterFixture(t)
	subscriber := fixture.connect(t, "conn-1", "user-1")

	envelope := subscriber.lastOfType(t, EventConnected)
	var payload ConnectedPayload
	decodePayload(t, envelope, &payload)
	if payload.ConnectionID != "conn-1" || payload.UserID != "user-1" {
		t.Fatalf("unexpected connected payload %#v", payload)
	}
	if fixture.registry.Size() != 1 {
		t.Fatalf("expected one registered connection, got %d", fixture.registry.Size())
	}
}

func TestJoinProjectRepliesWithMembersAndNotifiesRoom(t *testing.T) {
	fixture := newRouterFixture(t)
	fixture.seedProject(t, "project-1", "user-1", "user-2")
	alice := fixture.connect(t, "conn-a", "user-1")
	bob := fixture.connect(t, "conn-b", "user-2")

	fixture.send(t, alice, EventJoinProject, JoinProjectPayload{ProjectID: "project-1"})
	fixture.send(t, bob, EventJoinProject, JoinProjectPayload{ProjectID: "project-1"})

	var joined ProjectJoinedPayload
	decodePayload(t, bob.lastOfType(t, EventProjectJoined), &joined)
	if len(joined.Members) != 2 {
		t.Fatalf("expected both members in reply, got %v", joined.Members)
	}

	var announcement ProjectPresencePayload
	decodePayload(t, alice.lastOfType(t, EventUserJoinedProject), &announcement)
	if announcement.UserID != "user-2" {
		t.Fatalf("expected user-2 join announcement, got %#v", announcement)
	}
	if bob.countOfType(EventUserJoinedProject) != 0 {
		t.Fatalf("expected join broadcast to exclude the joiner")
	}
}

func TestJoinProjectDeniesStrangers(t *testing.T) {
	fixture := newRouterFixture(t)
	fixture.seedProject(t, "project-1")
	stranger := fixture.connect(t, "conn-s", "stranger")

	fixture.send(t, stranger, EventJoinProject, JoinProjectPayload{ProjectID: "project-1"})

	var failure ErrorPayload
	decodePayload(t, stranger.lastOfType(t, EventError), &failure)
	if failure.Code != ErrorCodeAccessDenied || failure.Event != EventJoinProject {
		t.Fatalf("expected access_denied for join_project, got %#v", failure)
	}
}

func TestJoinProjectUnknownProject(t *testing.T) {
	fixture := newRouterFixture(t)
	subscriber := fixture.connect(t, "conn-1", "user-1")

	fixture.send(t, subscriber, EventJoinProject, JoinProjectPayload{ProjectID: "missing"})

	var failure ErrorPayload
	decodePayload(t, subscriber.lastOfType(t, EventError), &failure)
	if failure.Code != ErrorCodeNotFound {
		t.Fatalf("expected not_found, got %#v", failure)
	}
}

func TestSwitchingProjectsAnnouncesLeaveToOldRoom(t *testing.T) {
	fixture := newRouterFixture(t)
	fixture.seedProject(t, "project-1", "user-1", "user-2")
	fixture.seedProject(t, "project-2", "user-2")
	watcher := fixture.connect(t, "conn-w", "user-1")
	mover := fixture.connect(t, "conn-m", "user-2")

	fixture.send(t, watcher, EventJoinProject, JoinProjectPayload{ProjectID: "project-1"})
	fixture.send(t, mover, EventJoinProject, JoinProjectPayload{ProjectID: "project-1"})
	fixture.send(t, mover, EventJoinProject, JoinProjectPayload{ProjectID: "project-2"})

	var left ProjectPresencePayload
	decodePayload(t, watcher.lastOfType(t, EventUserLeftProject), &left)
	if left.UserID != "user-2" || left.ProjectID != "project-1" {
		t.Fatalf("expected leave announcement in old room, got %#v", left)
	}
	if members := fixture.registry.ProjectMembers("project-1"); len(members) != 1 {
		t.Fatalf("expected only watcher in project-1, got %v", members)
	}
}

func TestClaimEditLockFlow(t *testing.T) {
	fixture := newRouterFixture(t)
	fixture.seedProject(t, "project-1", "user-1", "user-2")
	alice := fixture.connect(t, "conn-a", "user-1")
	bob := fixture.connect(t, "conn-b", "user-2")
	fixture.send(t, alice, EventJoinProject, JoinProjectPayload{ProjectID: "project-1"})
	fixture.send(t, bob, EventJoinProject, JoinProjectPayload{ProjectID: "project-1"})

	fixture.send(t, alice, EventClaimEditStart, ClaimEditStartPayload{ClaimID: "claim-7"})
	alice.lastOfType(t, EventClaimEditLockAcquired)
	var started ClaimEditStartedPayload
	decodePayload(t, bob.lastOfType(t, EventClaimEditStarted), &started)
	if started.UserID != "user-1" || started.ClaimID != "claim-7" {
		t.Fatalf("unexpected edit start announcement %#v", started)
	}

	// The second writer gets a conflict naming the current editor and no
	// broadcast reaches the room.
	fixture.send(t, bob, EventClaimEditStart, ClaimEditStartPayload{ClaimID: "claim-7"})
	var conflict ClaimEditConflictPayload
	decodePayload(t, bob.lastOfType(t, EventClaimEditConflict), &conflict)
	if conflict.CurrentEditor != "user-1" {
		t.Fatalf("expected conflict to name user-1, got %#v", conflict)
	}
	if alice.countOfType(EventClaimEditStarted) != 0 {
		t.Fatalf("expected no edit_started broadcast for a refused start")
	}

	// Deltas from the non-holder are refused; deltas from the holder fan out.
	fixture.send(t, bob, EventClaimEditUpdate, ClaimEditUpdatePayload{ClaimID: "claim-7", Delta: json.RawMessage(`{"text":"hijack"}`)})
	if bob.countOfType(EventClaimEditConflict) != 2 {
		t.Fatalf("expected delta from non-holder to conflict, got %v", bob.typesReceived())
	}
	fixture.send(t, alice, EventClaimEditUpdate, ClaimEditUpdatePayload{ClaimID: "claim-7", Delta: json.RawMessage(`{"text":"new"}`)})
	var delta ClaimEditUpdatePayload
	decodePayload(t, bob.lastOfType(t, EventClaimEditUpdate), &delta)
	if delta.UserID != "user-1" || string(delta.Delta) != `{"text":"new"}` {
		t.Fatalf("unexpected delta broadcast %#v", delta)
	}

	// Ending the edit releases the lock so the second writer can acquire it.
	fixture.send(t, alice, EventClaimEditEnd, ClaimEditEndPayload{ClaimID: "claim-7", Saved: false})
	alice.lastOfType(t, EventClaimEditLockReleased)
	var ended ClaimEditEndedPayload
	decodePayload(t, bob.lastOfType(t, EventClaimEditEnded), &ended)
	if ended.Saved {
		t.Fatalf("expected saved=false in teardown broadcast")
	}

	fixture.send(t, bob, EventClaimEditStart, ClaimEditStartPayload{ClaimID: "claim-7"})
	bob.lastOfType(t, EventClaimEditLockAcquired)
}

func TestClaimEditEndRecordsChangeWhenSaved(t *testing.T) {
	fixture := newRouterFixture(t)
	fixture.seedProject(t, "project-1", "user-1")
	alice := fixture.connect(t, "conn-a", "user-1")
	fixture.send(t, alice, EventJoinProject, JoinProjectPayload{ProjectID: "project-1"})

	created, err := fixture.sessions.JoinProject(context.Background(), "project-1", "user-1")
	if err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}
	fixture.send(t, alice, EventJoinSession, JoinSessionPayload{SessionID: created.ID.String()})

	fixture.send(t, alice, EventClaimEditStart, ClaimEditStartPayload{ClaimID: "claim-7"})
	fixture.send(t, alice, EventClaimEditEnd, ClaimEditEndPayload{ClaimID: "claim-7", Saved: true})

	session, err := fixture.sessions.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("failed to load session: %v", err)
	}
	if len(session.Changes) != 1 {
		t.Fatalf("expected one change log entry, got %d", len(session.Changes))
	}
	if session.Changes[0].Entity.ID != "claim-7" || session.Changes[0].Synchronized {
		t.Fatalf("unexpected change entry %#v", session.Changes[0])
	}
}

func TestJoinSessionRepliesWithSnapshot(t *testing.T) {
	fixture := newRouterFixture(t)
	fixture.seedProject(t, "project-1", "user-1", "user-2")
	alice := fixture.connect(t, "conn-a", "user-1")
	bob := fixture.connect(t, "conn-b", "user-2")

	created, err := fixture.sessions.JoinProject(context.Background(), "project-1", "user-1")
	if err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}
	fixture.send(t, alice, EventJoinSession, JoinSessionPayload{SessionID: created.ID.String()})
	fixture.send(t, bob, EventJoinSession, JoinSessionPayload{SessionID: created.ID.String()})

	var joined SessionJoinedPayload
	decodePayload(t, bob.lastOfType(t, EventSessionJoined), &joined)
	var snapshot struct {
		Status       string `json:"status"`
		Participants []struct {
			UserID   string `json:"user_id"`
			IsActive bool   `json:"is_active"`
		} `json:"participants"`
	}
	if err := json.Unmarshal(joined.Snapshot, &snapshot); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if snapshot.Status != "active" || len(snapshot.Participants) != 2 {
		t.Fatalf("unexpected snapshot %#v", snapshot)
	}

	var announcement SessionPresencePayload
	decodePayload(t, alice.lastOfType(t, EventUserJoinedSession), &announcement)
	if announcement.UserID != "user-2" {
		t.Fatalf("expected user-2 session join announcement, got %#v", announcement)
	}
}

func TestJoinSessionDeniedWithoutProjectAccess(t *testing.T) {
	fixture := newRouterFixture(t)
	fixture.seedProject(t, "project-1", "user-1")
	stranger := fixture.connect(t, "conn-s", "stranger")

	created, err := fixture.sessions.JoinProject(context.Background(), "project-1", "user-1")
	if err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}
	fixture.send(t, stranger, EventJoinSession, JoinSessionPayload{SessionID: created.ID.String()})

	var failure ErrorPayload
	decodePayload(t, stranger.lastOfType(t, EventError), &failure)
	if failure.Code != ErrorCodeAccessDenied {
		t.Fatalf("expected access_denied, got %#v", failure)
	}
}

func TestSessionChatTrimsAndIncludesSender(t *testing.T) {
	fixture := newRouterFixture(t)
	fixture.seedProject(t, "project-1", "user-1", "user-2")
	alice := fixture.connect(t, "conn-a", "user-1")
	bob := fixture.connect(t, "conn-b", "user-2")

	created, err := fixture.sessions.JoinProject(context.Background(), "project-1", "user-1")
	if err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}
	fixture.send(t, alice, EventJoinSession, JoinSessionPayload{SessionID: created.ID.String()})
	fixture.send(t, bob, EventJoinSession, JoinSessionPayload{SessionID: created.ID.String()})

	fixture.send(t, alice, EventSessionChat, SessionChatPayload{Text: "  hello  "})

	for _, subscriber := range []*fakeSubscriber{alice, bob} {
		var message SessionChatPayload
		decodePayload(t, subscriber.lastOfType(t, EventSessionChat), &message)
		if message.Text != "hello" {
			t.Fatalf("subscriber %s: expected trimmed broadcast, got %q", subscriber.id, message.Text)
		}
		if message.UserID != "user-1" || message.MessageID == "" {
			t.Fatalf("subscriber %s: unexpected chat payload %#v", subscriber.id, message)
		}
	}

	session, err := fixture.sessions.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("failed to load session: %v", err)
	}
	if len(session.Comm.Chat) != 1 || session.Comm.Chat[0].Text != "hello" {
		t.Fatalf("expected durable trimmed chat entry, got %#v", session.Comm.Chat)
	}
}

func TestSessionChatDropsEmptyMessages(t *testing.T) {
	fixture := newRouterFixture(t)
	fixture.seedProject(t, "project-1", "user-1")
	alice := fixture.connect(t, "conn-a", "user-1")

	created, err := fixture.sessions.JoinProject(context.Background(), "project-1", "user-1")
	if err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}
	fixture.send(t, alice, EventJoinSession, JoinSessionPayload{SessionID: created.ID.String()})

	before := alice.countOfType(EventSessionChat)
	fixture.send(t, alice, EventSessionChat, SessionChatPayload{Text: "   "})

	var failure ErrorPayload
	decodePayload(t, alice.lastOfType(t, EventError), &failure)
	if failure.Code != ErrorCodeInvalidPayload {
		t.Fatalf("expected invalid_payload for blank chat, got %#v", failure)
	}
	if alice.countOfType(EventSessionChat) != before {
		t.Fatalf("expected no chat broadcast for blank message")
	}
}

func TestScreenShareLifecycle(t *testing.T) {
	fixture := newRouterFixture(t)
	fixture.seedProject(t, "project-1", "user-1", "user-2")
	alice := fixture.connect(t, "conn-a", "user-1")
	bob := fixture.connect(t, "conn-b", "user-2")

	created, err := fixture.sessions.JoinProject(context.Background(), "project-1", "user-1")
	if err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}
	fixture.send(t, alice, EventJoinSession, JoinSessionPayload{SessionID: created.ID.String()})
	fixture.send(t, bob, EventJoinSession, JoinSessionPayload{SessionID: created.ID.String()})

	fixture.send(t, alice, EventScreenShareStart, nil)
	var started ScreenSharePayload
	decodePayload(t, bob.lastOfType(t, EventScreenShareStarted), &started)
	if started.UserID != "user-1" {
		t.Fatalf("expected user-1 as presenter, got %#v", started)
	}

	// A non-presenter cannot end the share.
	fixture.send(t, bob, EventScreenShareEnd, nil)
	var failure ErrorPayload
	decodePayload(t, bob.lastOfType(t, EventError), &failure)
	if failure.Code != ErrorCodeAccessDenied {
		t.Fatalf("expected access_denied for non-presenter end, got %#v", failure)
	}

	fixture.send(t, alice, EventScreenShareEnd, nil)
	bob.lastOfType(t, EventScreenShareEnded)
}

func TestDisconnectRunsFullCleanup(t *testing.T) {
	fixture := newRouterFixture(t)
	fixture.seedProject(t, "project-1", "user-1", "user-2")
	alice := fixture.connect(t, "conn-a", "user-1")
	bob := fixture.connect(t, "conn-b", "user-2")
	fixture.send(t, alice, EventJoinProject, JoinProjectPayload{ProjectID: "project-1"})
	fixture.send(t, bob, EventJoinProject, JoinProjectPayload{ProjectID: "project-1"})

	created, err := fixture.sessions.JoinProject(context.Background(), "project-1", "user-1")
	if err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}
	fixture.send(t, alice, EventJoinSession, JoinSessionPayload{SessionID: created.ID.String()})
	fixture.send(t, bob, EventJoinSession, JoinSessionPayload{SessionID: created.ID.String()})
	fixture.send(t, alice, EventClaimEditStart, ClaimEditStartPayload{ClaimID: "claim-7"})

	fixture.router.Disconnect(context.Background(), "conn-a")

	// Lock released: the other member can acquire it immediately.
	fixture.send(t, bob, EventClaimEditStart, ClaimEditStartPayload{ClaimID: "claim-7"})
	bob.lastOfType(t, EventClaimEditLockAcquired)

	var leftSession SessionPresencePayload
	decodePayload(t, bob.lastOfType(t, EventUserLeftSession), &leftSession)
	if leftSession.UserID != "user-1" {
		t.Fatalf("expected session leave announcement, got %#v", leftSession)
	}
	var leftProject ProjectPresencePayload
	decodePayload(t, bob.lastOfType(t, EventUserLeftProject), &leftProject)
	if leftProject.UserID != "user-1" {
		t.Fatalf("expected project leave announcement, got %#v", leftProject)
	}

	session, err := fixture.sessions.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("failed to load session: %v", err)
	}
	participant, found := session.FindParticipant("user-1")
	if !found || participant.IsActive {
		t.Fatalf("expected deactivated participant, got %#v", participant)
	}
	if fixture.registry.Size() != 1 {
		t.Fatalf("expected only one remaining connection, got %d", fixture.registry.Size())
	}
}

type failingSessionStore struct{}

var errStoreDown = errors.New("store down")

func (failingSessionStore) Get(context.Context, sessions.SessionID) (*sessions.Session, error) {
	return nil, errStoreDown
}
func (failingSessionStore) JoinSession(context.Context, sessions.SessionID, sessions.UserID, sessions.ParticipantRole) (*sessions.Session, error) {
	return nil, errStoreDown
}
func (failingSessionStore) AppendChat(context.Context, sessions.SessionID, sessions.UserID, string) (sessions.ChatMessage, error) {
	return sessions.ChatMessage{}, errStoreDown
}
func (failingSessionStore) RecordChange(context.Context, sessions.SessionID, sessions.UserID, sessions.ChangeType, sessions.ChangeEntity, json.RawMessage, json.RawMessage) (*sessions.Session, error) {
	return nil, errStoreDown
}
func (failingSessionStore) StartScreenShare(context.Context, sessions.SessionID, sessions.UserID) (*sessions.Session, error) {
	return nil, errStoreDown
}
func (failingSessionStore) EndScreenShare(context.Context, sessions.SessionID, sessions.UserID) (*sessions.Session, error) {
	return nil, errStoreDown
}
func (failingSessionStore) DeactivateParticipant(context.Context, sessions.SessionID, sessions.UserID) (*sessions.Session, error) {
	return nil, errStoreDown
}

func TestDisconnectCleanupStepsAreIndependent(t *testing.T) {
	// A failing session store must not prevent lock release or the
	// project-room leave announcement.
	store := coordination.NewMemoryStore()
	lockManager, err := locks.NewManager(locks.ManagerConfig{Store: store})
	if err != nil {
		t.Fatalf("failed to construct lock manager: %v", err)
	}
	registry := presence.NewRegistry()
	hub := NewHub()
	router, err := NewRouter(RouterConfig{
		Locks:    lockManager,
		Sessions: failingSessionStore{},
		Projects: alwaysAllow{},
		Registry: registry,
		Hub:      hub,
	})
	if err != nil {
		t.Fatalf("failed to construct router: %v", err)
	}

	victim := newFakeSubscriber("conn-v", "user-1")
	watcher := newFakeSubscriber("conn-w", "user-2")
	if err := router.Connect(victim); err != nil {
		t.Fatalf("failed to connect victim: %v", err)
	}
	if err := router.Connect(watcher); err != nil {
		t.Fatalf("failed to connect watcher: %v", err)
	}

	ctx := context.Background()
	for _, connectionID := range []string{"conn-v", "conn-w"} {
		if err := registry.SetProjectRoom(connectionID, "project-1"); err != nil {
			t.Fatalf("failed to seed project room: %v", err)
		}
	}
	hub.Join(ProjectRoom("project-1"), victim)
	hub.Join(ProjectRoom("project-1"), watcher)
	if err := registry.SetSessionRoom("conn-v", "session-1"); err != nil {
		t.Fatalf("failed to seed session room: %v", err)
	}
	if !lockManager.Acquire(ctx, ClaimLockResource("claim-1"), "user-1") {
		t.Fatalf("failed to seed lock")
	}
	if err := registry.TrackLock("conn-v", ClaimLockResource("claim-1")); err != nil {
		t.Fatalf("failed to track lock: %v", err)
	}

	router.Disconnect(ctx, "conn-v")

	if _, held := lockManager.Inspect(ctx, ClaimLockResource("claim-1")); held {
		t.Fatalf("expected lock released despite session store failure")
	}
	var leftProject ProjectPresencePayload
	decodePayload(t, watcher.lastOfType(t, EventUserLeftProject), &leftProject)
	if leftProject.UserID != "user-1" {
		t.Fatalf("expected project leave announcement, got %#v", leftProject)
	}
	if _, found := registry.Get("conn-v"); found {
		t.Fatalf("expected connection entry dropped")
	}
}

type alwaysAllow struct{}

func (alwaysAllow) CanAccess(context.Context, string, string) (bool, error) { return true, nil }
