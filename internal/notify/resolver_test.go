package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"palaver/internal/models"

	"github.com/stretchr/testify/require"
)

type fakeLookupAPI struct {
	mu        sync.Mutex
	posts     map[string]models.Post
	users     map[string]models.User
	postCalls int
	userCalls int
}

func (f *fakeLookupAPI) Post(ctx context.Context, id string) (models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postCalls++
	post, ok := f.posts[id]
	if !ok {
		return models.Post{}, models.ErrNotFound
	}
	return post, nil
}

func (f *fakeLookupAPI) User(ctx context.Context, id string) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userCalls++
	user, ok := f.users[id]
	if !ok {
		return models.User{}, models.ErrNotFound
	}
	return user, nil
}

type fakeReady struct {
	ch chan struct{}
}

func newFakeReady(ready bool) *fakeReady {
	f := &fakeReady{ch: make(chan struct{})}
	if ready {
		close(f.ch)
	}
	return f
}

func (f *fakeReady) Ready() <-chan struct{} { return f.ch }

type recordingActive struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingActive) SetActive(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, conversationID)
}

func (r *recordingActive) set() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ids
}

func newTestResolver(t *testing.T, api *fakeLookupAPI, ready *fakeReady, active *recordingActive, grace time.Duration) *Resolver {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewResolver(ctx, ResolverConfig{
		API:         api,
		Ready:       ready,
		Active:      active,
		GraceWindow: grace,
	})
}

func TestResolver_PostInteraction(t *testing.T) {
	api := &fakeLookupAPI{posts: map[string]models.Post{"p1": {ID: "p1", Caption: "sunset"}}}
	r := newTestResolver(t, api, newFakeReady(true), &recordingActive{}, 0)

	require.NoError(t, r.Resolve(context.Background(), Payload{PostID: "p1"}))
	require.Equal(t, StateDelivered, r.State())

	intent, ok := r.Consume()
	require.True(t, ok)
	require.Equal(t, IntentOpenPost, intent.Kind)
	require.NotNil(t, intent.Post)
	require.Equal(t, "p1", intent.Post.ID)

	// Consumption is exactly-once.
	_, ok = r.Consume()
	require.False(t, ok)
	require.Equal(t, StateIdle, r.State())
}

func TestResolver_DeletedPostDroppedSilently(t *testing.T) {
	api := &fakeLookupAPI{}
	r := newTestResolver(t, api, newFakeReady(true), &recordingActive{}, 0)

	require.NoError(t, r.Resolve(context.Background(), Payload{PostID: "gone"}))
	require.Equal(t, StateIdle, r.State(), "a failed lookup must return to Idle")

	_, ok := r.Consume()
	require.False(t, ok)
}

func TestResolver_FollowInteraction(t *testing.T) {
	api := &fakeLookupAPI{users: map[string]models.User{"u2": {ID: "u2", Username: "ada"}}}
	r := newTestResolver(t, api, newFakeReady(true), &recordingActive{}, 0)

	require.NoError(t, r.Resolve(context.Background(), Payload{Type: "follow", UserID: "u2"}))

	intent, ok := r.Consume()
	require.True(t, ok)
	require.Equal(t, IntentOpenProfile, intent.Kind)
	require.NotNil(t, intent.User)
	require.Equal(t, "ada", intent.User.Username)
}

func TestResolver_ConversationWithReadySession(t *testing.T) {
	active := &recordingActive{}
	r := newTestResolver(t, &fakeLookupAPI{}, newFakeReady(true), active, 0)

	payload := Payload{
		ConversationID: "c1",
		Participants:   []models.User{{ID: "u1"}, {ID: "u2"}},
	}
	require.NoError(t, r.Resolve(context.Background(), payload))

	intent, ok := r.Consume()
	require.True(t, ok)
	require.Equal(t, IntentOpenConversation, intent.Kind)
	require.Equal(t, "c1", intent.ConversationID)
	require.Len(t, intent.Participants, 2)
	require.False(t, intent.BestEffort)
	require.Equal(t, []string{"c1"}, active.set(), "the target chat becomes the Active Chat")
}

func TestResolver_ConversationWaitsForSession(t *testing.T) {
	active := &recordingActive{}
	ready := newFakeReady(false)
	r := newTestResolver(t, &fakeLookupAPI{}, ready, active, time.Second)

	// Session becomes ready shortly after the cold-start interaction.
	go func() {
		time.Sleep(30 * time.Millisecond)
		close(ready.ch)
	}()

	require.NoError(t, r.Resolve(context.Background(), Payload{ConversationID: "c1"}))

	intent, ok := r.Consume()
	require.True(t, ok)
	require.False(t, intent.BestEffort, "readiness inside the grace window is a full resolution")
}

func TestResolver_GraceWindowExpiry(t *testing.T) {
	active := &recordingActive{}
	r := newTestResolver(t, &fakeLookupAPI{}, newFakeReady(false), active, 30*time.Millisecond)

	require.NoError(t, r.Resolve(context.Background(), Payload{ConversationID: "c1"}))

	intent, ok := r.Consume()
	require.True(t, ok)
	require.True(t, intent.BestEffort, "post-grace resolution carries the best-effort mark")
	require.Equal(t, "c1", intent.ConversationID)
	require.Equal(t, []string{"c1"}, active.set())
}

func TestResolver_BusyWhileUnconsumed(t *testing.T) {
	api := &fakeLookupAPI{posts: map[string]models.Post{"p1": {ID: "p1"}}}
	r := newTestResolver(t, api, newFakeReady(true), &recordingActive{}, 0)

	require.NoError(t, r.Resolve(context.Background(), Payload{PostID: "p1"}))
	require.ErrorIs(t, r.Resolve(context.Background(), Payload{PostID: "p1"}), ErrBusy)

	_, ok := r.Consume()
	require.True(t, ok)

	// After consumption the resolver accepts interactions again.
	require.NoError(t, r.Resolve(context.Background(), Payload{PostID: "p1"}))
}

func TestResolver_UnrecognizedPayloadDropped(t *testing.T) {
	r := newTestResolver(t, &fakeLookupAPI{}, newFakeReady(true), &recordingActive{}, 0)

	require.NoError(t, r.Resolve(context.Background(), Payload{Type: "like"}))
	require.Equal(t, StateIdle, r.State())
	_, ok := r.Consume()
	require.False(t, ok)
}

func TestResolver_LookupsAreCached(t *testing.T) {
	api := &fakeLookupAPI{posts: map[string]models.Post{"p1": {ID: "p1"}}}
	r := newTestResolver(t, api, newFakeReady(true), &recordingActive{}, 0)

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Resolve(context.Background(), Payload{PostID: "p1"}))
		_, ok := r.Consume()
		require.True(t, ok)
	}
	require.Equal(t, 1, api.postCalls, "repeat interactions must hit the cache")
}

func TestResolver_CancelledWait(t *testing.T) {
	r := newTestResolver(t, &fakeLookupAPI{}, newFakeReady(false), &recordingActive{}, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := r.Resolve(ctx, Payload{ConversationID: "c1"})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StateIdle, r.State())
}
