package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"palaver/internal/models"

	"github.com/c-pro/geche"
)

const (
	// DefaultGraceWindow bridges the race between an OS cold-start
	// interaction and the in-process session bootstrap.
	DefaultGraceWindow = 3000 * time.Millisecond

	defaultLookupTTL = 5 * time.Minute
)

// ErrBusy is returned when an interaction arrives while a previous one
// is still being resolved or awaiting consumption.
var ErrBusy = errors.New("notify: resolution already in progress")

type State int

const (
	StateIdle State = iota
	StateResolving
	StateDelivered
)

type IntentKind string

const (
	IntentOpenConversation IntentKind = "open-conversation"
	IntentOpenPost         IntentKind = "open-post"
	IntentOpenProfile      IntentKind = "open-profile"
)

// Intent is the resolved navigation target for a delivered alert the
// user interacted with. It is consumed exactly once by the UI layer.
type Intent struct {
	Kind           IntentKind
	ConversationID string
	Participants   []models.User
	Post           *models.Post
	User           *models.User

	// BestEffort marks an open-conversation intent built from payload
	// data alone because the session did not become ready within the
	// grace window; the UI may want to re-verify against the server.
	BestEffort bool
}

type lookupAPI interface {
	Post(ctx context.Context, id string) (models.Post, error)
	User(ctx context.Context, id string) (models.User, error)
}

type readiness interface {
	Ready() <-chan struct{}
}

type activeSetter interface {
	SetActive(conversationID string)
}

type ResolverConfig struct {
	API    lookupAPI
	Ready  readiness
	Active activeSetter

	GraceWindow time.Duration
	LookupTTL   time.Duration
	Logger      *slog.Logger
}

// Resolver turns a delivered-alert interaction into a navigation
// intent: Idle -> Resolving -> Delivered, with Delivered consumed
// exactly once. Entity lookups suspend on network I/O and go through a
// TTL cache; a failed lookup drops the interaction silently, since the
// referenced entity may simply have been deleted.
type Resolver struct {
	cfg ResolverConfig
	log *slog.Logger

	posts geche.Geche[string, models.Post]
	users geche.Geche[string, models.User]

	mu     sync.Mutex
	state  State
	intent *Intent
}

// NewResolver creates a resolver. ctx bounds the lifetime of the
// lookup cache janitors.
func NewResolver(ctx context.Context, cfg ResolverConfig) *Resolver {
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = DefaultGraceWindow
	}
	if cfg.LookupTTL <= 0 {
		cfg.LookupTTL = defaultLookupTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Resolver{
		cfg:   cfg,
		log:   cfg.Logger.With("component", "resolver"),
		posts: geche.NewMapTTLCache[string, models.Post](ctx, cfg.LookupTTL, time.Minute),
		users: geche.NewMapTTLCache[string, models.User](ctx, cfg.LookupTTL, time.Minute),
	}
}

// State returns the current resolution state.
func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Resolve processes one alert interaction. A nil error with no
// delivered intent means the interaction was dropped silently (entity
// gone, unrecognized payload).
func (r *Resolver) Resolve(ctx context.Context, p Payload) error {
	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return ErrBusy
	}
	r.state = StateResolving
	r.mu.Unlock()

	switch {
	case p.PostID != "":
		return r.resolvePost(ctx, p.PostID)
	case p.Type == "follow" && p.UserID != "":
		return r.resolveProfile(ctx, p.UserID)
	case p.ConversationID != "":
		return r.resolveConversation(ctx, p)
	default:
		r.log.Debug("unrecognized alert payload dropped")
		r.reset()
		return nil
	}
}

// Consume hands the delivered intent to the UI exactly once and
// returns the resolver to Idle.
func (r *Resolver) Consume() (*Intent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateDelivered {
		return nil, false
	}
	intent := r.intent
	r.intent = nil
	r.state = StateIdle
	return intent, true
}

func (r *Resolver) resolvePost(ctx context.Context, id string) error {
	post, err := r.lookupPost(ctx, id)
	if err != nil {
		r.log.Debug("post lookup failed, interaction dropped", "post_id", id, "error", err)
		r.reset()
		return nil
	}
	r.deliver(&Intent{Kind: IntentOpenPost, Post: &post})
	return nil
}

func (r *Resolver) resolveProfile(ctx context.Context, id string) error {
	user, err := r.lookupUser(ctx, id)
	if err != nil {
		r.log.Debug("profile lookup failed, interaction dropped", "user_id", id, "error", err)
		r.reset()
		return nil
	}
	r.deliver(&Intent{Kind: IntentOpenProfile, User: &user})
	return nil
}

// resolveConversation waits up to the grace window for the session to
// become ready (a cold-start interaction can beat the session
// bootstrap), resolving immediately if it already is. On expiry it
// proceeds best-effort from the payload data alone.
func (r *Resolver) resolveConversation(ctx context.Context, p Payload) error {
	live := true
	select {
	case <-r.cfg.Ready.Ready():
	case <-time.After(r.cfg.GraceWindow):
		live = false
		r.log.Debug("grace window elapsed, proceeding best-effort", "conversation_id", p.ConversationID)
	case <-ctx.Done():
		r.reset()
		return ctx.Err()
	}

	r.cfg.Active.SetActive(p.ConversationID)
	r.deliver(&Intent{
		Kind:           IntentOpenConversation,
		ConversationID: p.ConversationID,
		Participants:   p.Participants,
		BestEffort:     !live,
	})
	return nil
}

func (r *Resolver) lookupPost(ctx context.Context, id string) (models.Post, error) {
	if post, err := r.posts.Get(id); err == nil {
		return post, nil
	}
	post, err := r.cfg.API.Post(ctx, id)
	if err != nil {
		return models.Post{}, err
	}
	r.posts.Set(id, post)
	return post, nil
}

func (r *Resolver) lookupUser(ctx context.Context, id string) (models.User, error) {
	if user, err := r.users.Get(id); err == nil {
		return user, nil
	}
	user, err := r.cfg.API.User(ctx, id)
	if err != nil {
		return models.User{}, err
	}
	r.users.Set(id, user)
	return user, nil
}

func (r *Resolver) deliver(intent *Intent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intent = intent
	r.state = StateDelivered
}

func (r *Resolver) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intent = nil
	r.state = StateIdle
}
