package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"palaver/internal/api"
	"palaver/internal/channel"
	"palaver/internal/config"
	"palaver/internal/inbox"
	"palaver/internal/models"
	"palaver/internal/notify"
	"palaver/internal/presence"
	"palaver/internal/session"
	"palaver/internal/storage"
	"palaver/internal/typing"
)

// Callbacks are the hooks for events consumed by external
// collaborators (auth, profile, post screens). Nil entries drop their
// event.
type Callbacks struct {
	UserUpdated    func(models.UserUpdatedEvent)
	UserFollowed   func(models.UserFollowedEvent)
	UserUnfollowed func(models.UserUnfollowedEvent)
	PostDeleted    func(models.PostDeletedEvent)
	PostUpdated    func(models.PostUpdatedEvent)
	RemoteTyping   func(typing bool)
}

type Options struct {
	Config      *config.Config
	Permissions notify.Permissions
	Scheduler   notify.Scheduler
	Callbacks   Callbacks
	Logger      *slog.Logger

	// Dialer overrides the websocket dialer. Tests inject fakes here.
	Dialer channel.Dialer
}

// Client is the assembled real-time core: one session, one channel,
// and the components that keep local conversation state and
// notifications consistent with server pushes.
type Client struct {
	log *slog.Logger

	session    *session.Store
	manager    *channel.Manager
	tracker    *presence.Tracker
	typing     *typing.Coalescer
	inbox      *inbox.Inbox
	dispatcher *notify.Dispatcher
	resolver   *notify.Resolver
	api        *api.Client
	snapshot   *storage.Snapshot
}

// New assembles the core. ctx bounds background lifetimes (permission
// prompts triggered by pushes, lookup cache janitors); cancel it on
// application shutdown.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.Config == nil {
		return nil, errors.New("client: config is required")
	}
	if opts.Permissions == nil || opts.Scheduler == nil {
		return nil, errors.New("client: notification collaborators are required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	c := &Client{log: log}
	c.session = session.NewStore()
	c.api = api.NewClient(opts.Config.APIBaseURL, c.session)

	if opts.Config.SnapshotFile != "" {
		snap, err := storage.NewSnapshot(opts.Config.SnapshotFile)
		if err != nil {
			return nil, fmt.Errorf("client: %w", err)
		}
		c.snapshot = snap
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = channel.WebsocketDialer{Timeout: opts.Config.DialTimeout}
	}

	// Handlers close over c; the remaining fields are set before
	// Connect, and no event can arrive earlier.
	c.manager = channel.NewManager(channel.Config{
		URL:    opts.Config.SocketURL,
		Dialer: dialer,
		Logger: log,
		Handlers: channel.Handlers{
			NewMessage: func(ev models.NewMessageEvent) {
				c.inbox.ApplyNewMessage(ev)
				// The dispatcher may suspend on the OS permission
				// prompt; that must never stall the read loop.
				go c.dispatcher.HandleNewMessage(ctx, ev)
			},
			UserTyping: func(ev models.TypingEvent) {
				c.typing.RemoteTypingStarted(ev.UserID)
			},
			UserStopTyping: func(ev models.StopTypingEvent) {
				c.typing.RemoteTypingStopped(ev.UserID)
			},
			UserUpdated:    opts.Callbacks.UserUpdated,
			UserFollowed:   opts.Callbacks.UserFollowed,
			UserUnfollowed: opts.Callbacks.UserUnfollowed,
			PostDeleted:    opts.Callbacks.PostDeleted,
			PostUpdated:    opts.Callbacks.PostUpdated,
		},
	})

	c.tracker = presence.NewTracker(c.manager, log)
	c.typing = typing.New(typing.Config{
		Emitter:  c.manager,
		OnChange: opts.Callbacks.RemoteTyping,
		Logger:   log,
	})
	if c.snapshot != nil {
		c.inbox = inbox.New(c.api, c.tracker, c.snapshot, log)
	} else {
		c.inbox = inbox.New(c.api, c.tracker, nil, log)
	}
	c.dispatcher = notify.NewDispatcher(c.tracker, opts.Permissions, opts.Scheduler, log)
	c.resolver = notify.NewResolver(ctx, notify.ResolverConfig{
		API:    c.api,
		Ready:  c.session,
		Active: c.tracker,
		Logger: log,
	})

	c.inbox.SeedFromSnapshot()
	return c, nil
}

// SignIn installs the session identity and brings up the channel for
// it. Any channel for a previous identity is torn down first.
func (c *Client) SignIn(ctx context.Context, token string) error {
	identity, err := c.session.Set(token)
	if err != nil {
		return err
	}

	c.tracker.SetIdentity(identity.UserID)
	c.typing.SetIdentity(identity.UserID)

	if err := c.manager.Connect(ctx, identity); err != nil {
		return fmt.Errorf("client: %w", err)
	}
	return nil
}

// SignOut tears down the channel and clears every component's state.
// Presence and typing calls afterwards are silent no-ops.
func (c *Client) SignOut() {
	c.manager.Disconnect()
	c.session.Clear()
	c.tracker.Reset()
	c.typing.Close()
	c.inbox.Reset()
}

// Hydrate seeds the conversation list over REST. Errors propagate so
// the UI can decide between retry and empty state.
func (c *Client) Hydrate(ctx context.Context) error {
	return c.inbox.HydrateConversations(ctx)
}

// OpenConversation marks the conversation as the Active Chat, scopes
// the typing coalescer to it, announces presence, and fetches history.
func (c *Client) OpenConversation(ctx context.Context, conv models.Conversation) error {
	c.tracker.SetActive(conv.ID)
	c.typing.SetOpenConversation(&conv)
	if err := c.manager.Emit(models.JoinChat(conv.ID)); err != nil {
		c.log.Debug("joinChat signal dropped", "conversation_id", conv.ID, "error", err)
	}
	return c.inbox.OpenConversation(ctx, conv.ID)
}

// CloseConversation clears the Active Chat when the user navigates
// away from the chat screen.
func (c *Client) CloseConversation() {
	if active := c.tracker.Active(); active != "" {
		if err := c.manager.Emit(models.LeaveChat(active)); err != nil {
			c.log.Debug("leaveChat signal dropped", "conversation_id", active, "error", err)
		}
	}
	c.tracker.SetActive("")
	c.typing.SetOpenConversation(nil)
	c.inbox.CloseConversation()
}

// TextChanged reports a local composer mutation to the typing
// coalescer.
func (c *Client) TextChanged() {
	c.typing.LocalTextChanged()
}

// HandleAlertInteraction resolves a delivered-alert interaction into a
// pending navigation intent.
func (c *Client) HandleAlertInteraction(ctx context.Context, p notify.Payload) error {
	return c.resolver.Resolve(ctx, p)
}

// ConsumeIntent hands the pending navigation intent to the UI exactly
// once.
func (c *Client) ConsumeIntent() (*notify.Intent, bool) {
	return c.resolver.Consume()
}

// Conversations returns the current conversation list.
func (c *Client) Conversations() []models.Conversation {
	return c.inbox.Conversations()
}

// Messages returns the open conversation's message sequence.
func (c *Client) Messages() []models.Message {
	return c.inbox.Messages()
}

// RemoteTyping reports the typing indicator of the open conversation.
func (c *Client) RemoteTyping() bool {
	return c.typing.Typing()
}

// Close releases all resources. The client is unusable afterwards.
func (c *Client) Close() error {
	c.manager.Disconnect()
	c.typing.Close()
	if c.snapshot != nil {
		return c.snapshot.Close()
	}
	return nil
}
