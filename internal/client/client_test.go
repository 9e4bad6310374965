package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"palaver/internal/channel"
	"palaver/internal/config"
	"palaver/internal/models"
	"palaver/internal/notify"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	readCh    chan models.Envelope
	writeCh   chan models.Outbound
	closeCh   chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		readCh:  make(chan models.Envelope, 10),
		writeCh: make(chan models.Outbound, 10),
		closeCh: make(chan struct{}),
	}
}

func (f *fakeConn) ReadJSON(v any) error {
	select {
	case env := <-f.readCh:
		if ptr, ok := v.(*models.Envelope); ok {
			*ptr = env
		}
		return nil
	case <-f.closeCh:
		return errors.New("connection closed")
	}
}

func (f *fakeConn) WriteJSON(v any) error {
	if ev, ok := v.(models.Outbound); ok {
		f.writeCh <- ev
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closeCh) })
	return nil
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (channel.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

type grantedPermissions struct{}

func (grantedPermissions) Status() notify.PermissionStatus { return notify.PermissionGranted }

func (grantedPermissions) Request(ctx context.Context) (notify.PermissionStatus, error) {
	return notify.PermissionGranted, nil
}

type recordingScheduler struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (r *recordingScheduler) Schedule(alert notify.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *recordingScheduler) scheduled() []notify.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

func signToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func testAPIServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/messages/conversations", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]models.Conversation{
			{ID: "c1", Participants: []models.User{{ID: "u1"}, {ID: "u2", Username: "ada"}}},
			{ID: "c2", Participants: []models.User{{ID: "u1"}, {ID: "u3", Username: "bob"}}},
		})
	})
	mux.HandleFunc("GET /api/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]models.Message{
			{ID: "m1", ConversationID: r.PathValue("id"), SenderID: "u2", Content: "hello"},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, dialer *fakeDialer, sched *recordingScheduler) *Client {
	t.Helper()
	return newTestClientWithPermissions(t, dialer, sched, grantedPermissions{})
}

func newTestClientWithPermissions(t *testing.T, dialer *fakeDialer, sched *recordingScheduler, perms notify.Permissions) *Client {
	t.Helper()
	srv := testAPIServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	c, err := New(ctx, Options{
		Config: &config.Config{
			SocketURL:   "ws://test/socket",
			APIBaseURL:  srv.URL,
			DialTimeout: time.Second,
		},
		Permissions: perms,
		Scheduler:   sched,
		Dialer:      dialer,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func expectWrite(t *testing.T, conn *fakeConn, event string) models.Outbound {
	t.Helper()
	select {
	case ev := <-conn.writeCh:
		require.Equal(t, event, ev.Event)
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for %s", event)
		return models.Outbound{}
	}
}

func push(t *testing.T, conn *fakeConn, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	conn.readCh <- models.Envelope{Event: event, Data: data}
}

func TestClient_SignInAnnouncesIdentity(t *testing.T) {
	dialer := &fakeDialer{}
	c := newTestClient(t, dialer, &recordingScheduler{})

	require.NoError(t, c.SignIn(context.Background(), signToken(t, "u1")))

	ev := expectWrite(t, dialer.conn(0), models.EventJoin)
	require.Equal(t, "u1", ev.Data)
}

func TestClient_MessageForOpenConversation(t *testing.T) {
	dialer := &fakeDialer{}
	sched := &recordingScheduler{}
	c := newTestClient(t, dialer, sched)

	require.NoError(t, c.SignIn(context.Background(), signToken(t, "u1")))
	conn := dialer.conn(0)
	expectWrite(t, conn, models.EventJoin)

	require.NoError(t, c.Hydrate(context.Background()))
	conversations := c.Conversations()
	require.Len(t, conversations, 2)

	require.NoError(t, c.OpenConversation(context.Background(), conversations[0]))
	expectWrite(t, conn, models.EventAddUserToList)
	expectWrite(t, conn, models.EventJoinChat)
	require.Len(t, c.Messages(), 1)

	push(t, conn, models.EventNewMessage, models.NewMessageEvent{
		Message:      models.Message{ID: "m2", ConversationID: "c1", SenderID: "u2", Content: "still there?"},
		Conversation: conversations[0],
	})

	require.Eventually(t, func() bool { return len(c.Messages()) == 2 }, time.Second, 10*time.Millisecond)
	require.Empty(t, sched.scheduled(), "the Active Chat must not notify")
}

func TestClient_MessageForBackgroundConversation(t *testing.T) {
	dialer := &fakeDialer{}
	sched := &recordingScheduler{}
	c := newTestClient(t, dialer, sched)

	require.NoError(t, c.SignIn(context.Background(), signToken(t, "u1")))
	conn := dialer.conn(0)
	expectWrite(t, conn, models.EventJoin)

	require.NoError(t, c.Hydrate(context.Background()))
	conversations := c.Conversations()

	// c1 is open; a push for c2 notifies and hoists c2 to the front.
	require.NoError(t, c.OpenConversation(context.Background(), conversations[0]))
	push(t, conn, models.EventNewMessage, models.NewMessageEvent{
		Message:      models.Message{ID: "m9", ConversationID: "c2", SenderID: "u3", Content: "ping"},
		Conversation: conversations[1],
	})

	require.Eventually(t, func() bool { return len(sched.scheduled()) == 1 }, time.Second, 10*time.Millisecond)
	alert := sched.scheduled()[0]
	require.Equal(t, "bob", alert.Title)
	require.Equal(t, "ping", alert.Body)
	require.Equal(t, "c2", c.Conversations()[0].ID)
	require.Len(t, c.Messages(), 1, "background traffic must not touch the open chat")
}

type stallingPermissions struct {
	release chan struct{}
}

func (p stallingPermissions) Status() notify.PermissionStatus {
	return notify.PermissionUndetermined
}

func (p stallingPermissions) Request(ctx context.Context) (notify.PermissionStatus, error) {
	<-p.release
	return notify.PermissionGranted, nil
}

func TestClient_PermissionPromptDoesNotStallChannel(t *testing.T) {
	dialer := &fakeDialer{}
	sched := &recordingScheduler{}
	perms := stallingPermissions{release: make(chan struct{})}
	c := newTestClientWithPermissions(t, dialer, sched, perms)

	require.NoError(t, c.SignIn(context.Background(), signToken(t, "u1")))
	conn := dialer.conn(0)
	expectWrite(t, conn, models.EventJoin)

	require.NoError(t, c.Hydrate(context.Background()))
	conversations := c.Conversations()
	require.NoError(t, c.OpenConversation(context.Background(), conversations[0]))

	// A background-conversation push hangs on the permission prompt;
	// inbound traffic behind it must keep flowing.
	push(t, conn, models.EventNewMessage, models.NewMessageEvent{
		Message:      models.Message{ID: "m8", ConversationID: "c2", SenderID: "u3", Content: "psst"},
		Conversation: conversations[1],
	})
	push(t, conn, models.EventNewMessage, models.NewMessageEvent{
		Message:      models.Message{ID: "m9", ConversationID: "c1", SenderID: "u2", Content: "hello?"},
		Conversation: conversations[0],
	})

	require.Eventually(t, func() bool { return len(c.Messages()) == 2 }, time.Second, 10*time.Millisecond,
		"a suspended prompt must not block the read loop")
	push(t, conn, models.EventUserTyping, models.TypingEvent{UserID: "u2"})
	require.Eventually(t, c.RemoteTyping, time.Second, 10*time.Millisecond)

	// Releasing the prompt lets the pending alert through.
	close(perms.release)
	require.Eventually(t, func() bool { return len(sched.scheduled()) == 1 }, time.Second, 10*time.Millisecond)
}

func TestClient_RemoteTypingIndicator(t *testing.T) {
	dialer := &fakeDialer{}
	c := newTestClient(t, dialer, &recordingScheduler{})

	require.NoError(t, c.SignIn(context.Background(), signToken(t, "u1")))
	conn := dialer.conn(0)
	expectWrite(t, conn, models.EventJoin)

	require.NoError(t, c.Hydrate(context.Background()))
	require.NoError(t, c.OpenConversation(context.Background(), c.Conversations()[0]))

	push(t, conn, models.EventUserTyping, models.TypingEvent{UserID: "u2"})
	require.Eventually(t, c.RemoteTyping, time.Second, 10*time.Millisecond)

	push(t, conn, models.EventUserStopTyping, models.StopTypingEvent{UserID: "u2"})
	require.Eventually(t, func() bool { return !c.RemoteTyping() }, time.Second, 10*time.Millisecond)
}

func TestClient_SignOutQuiesces(t *testing.T) {
	dialer := &fakeDialer{}
	c := newTestClient(t, dialer, &recordingScheduler{})

	require.NoError(t, c.SignIn(context.Background(), signToken(t, "u1")))
	expectWrite(t, dialer.conn(0), models.EventJoin)
	require.NoError(t, c.Hydrate(context.Background()))

	c.SignOut()

	require.Empty(t, c.Conversations())
	require.Empty(t, c.Messages())
	require.False(t, c.RemoteTyping())
}

func TestClient_AlertInteractionToIntent(t *testing.T) {
	dialer := &fakeDialer{}
	c := newTestClient(t, dialer, &recordingScheduler{})

	require.NoError(t, c.SignIn(context.Background(), signToken(t, "u1")))
	expectWrite(t, dialer.conn(0), models.EventJoin)

	err := c.HandleAlertInteraction(context.Background(), notify.Payload{
		ConversationID: "c1",
		Participants:   []models.User{{ID: "u1"}, {ID: "u2"}},
	})
	require.NoError(t, err)

	intent, ok := c.ConsumeIntent()
	require.True(t, ok)
	require.Equal(t, notify.IntentOpenConversation, intent.Kind)
	require.Equal(t, "c1", intent.ConversationID)
	require.False(t, intent.BestEffort, "session is ready, so resolution is live")
}
