// Package conversation owns the in-memory chat state. The Controller is
// an explicit finite-state machine (IDLE -> STREAMING -> IDLE) that turns
// one submitted question into a rendered assistant reply: it prefers the
// incremental SSE delivery and falls back to a single-shot request when
// the transport fails without a terminal event.
package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docchat/internal/api"
)

// Role of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation history. ID is a stable local
// identifier assigned at creation; reconciliation always uses it, never
// the list position. MessageID is the server-issued identifier, set once
// on completion.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Citations []api.Citation
	MessageID string
	Failed    bool
	Time      time.Time
}

// State is the controller's FSM state.
type State int

const (
	StateIdle State = iota
	StateStreaming
)

// Stream is the live streaming connection the controller consumes.
type Stream interface {
	Events() <-chan api.Event
	Close()
}

// Gateway is the backend surface the controller needs.
type Gateway interface {
	Chat(ctx context.Context, req api.ChatRequest) (*api.ChatResponse, error)
	OpenChatStream(ctx context.Context, message string, sections []string, topK int, conversationID string) (Stream, error)
}

// NoticeLevel classifies a transient user notification.
type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeError
)

// Notice is a transient user-visible notification.
type Notice struct {
	Level NoticeLevel
	Text  string
}

// UpdateKind identifies what changed.
type UpdateKind int

const (
	// MessagesUpdated means the message list changed; re-render from
	// Messages().
	MessagesUpdated UpdateKind = iota
	// NoticePosted carries a transient notification.
	NoticePosted
	// StateChanged carries the new FSM state.
	StateChanged
	// SessionExpired fires after the post-401 delay; the UI navigates to
	// the login screen.
	SessionExpired
)

// Update is one change event delivered to the UI.
type Update struct {
	Kind   UpdateKind
	Notice Notice
	State  State
}

var (
	// ErrEmptyMessage is returned when the trimmed input is empty.
	ErrEmptyMessage = errors.New("conversation: empty message")
	// ErrStreamActive is returned when a send is attempted while a
	// stream is already open. One send at a time.
	ErrStreamActive = errors.New("conversation: stream already active")
)

// Notification texts, kind-dependent per the error taxonomy.
const (
	noticeRateLimited    = "Rate limit exceeded. Please wait a moment and try again."
	noticeSessionExpired = "Session expired. Please log in again."
	noticeSendFailed     = "Failed to send message. Please try again."
	noticeResponseFailed = "Failed to get response. Please try again."
	noticeGenericError   = "An error occurred"
)

const defaultExpiryDelay = 2 * time.Second

// Controller orchestrates one conversation.
type Controller struct {
	mu             sync.Mutex
	gw             Gateway
	logger         *zap.Logger
	conversationID string
	topK           int
	historyLimit   int
	expiryDelay    time.Duration
	sections       []string
	state          State
	messages       []Message
	stream         Stream
	updates        chan Update
}

// Option configures a Controller.
type Option func(*Controller)

// WithTopK sets the retrieval depth per question.
func WithTopK(k int) Option {
	return func(c *Controller) { c.topK = k }
}

// WithHistoryLimit bounds the message list.
func WithHistoryLimit(n int) Option {
	return func(c *Controller) { c.historyLimit = n }
}

// WithExpiryDelay overrides the delay between a 401 notice and the
// SessionExpired event.
func WithExpiryDelay(d time.Duration) Option {
	return func(c *Controller) { c.expiryDelay = d }
}

// WithLogger sets the controller logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// New creates a controller with a fresh conversation identifier. The
// identifier is generated once and never changes for the lifetime of the
// controller.
func New(gw Gateway, opts ...Option) *Controller {
	c := &Controller{
		gw:             gw,
		logger:         zap.NewNop(),
		conversationID: uuid.NewString(),
		topK:           5,
		historyLimit:   50,
		expiryDelay:    defaultExpiryDelay,
		updates:        make(chan Update, 64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ConversationID returns the per-run conversation identifier.
func (c *Controller) ConversationID() string { return c.conversationID }

// Updates returns the change-event channel the UI drains.
func (c *Controller) Updates() <-chan Update { return c.updates }

// State returns the current FSM state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Messages returns a snapshot of the message list.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// SetSections sets the section filter applied to subsequent sends.
func (c *Controller) SetSections(sections []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sections = append([]string(nil), sections...)
}

// Sections returns the active section filter.
func (c *Controller) Sections() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sections...)
}

// Send submits one question. It appends the user message and an empty
// assistant placeholder, then opens the stream. Send returns an error
// only for guard violations (empty input, stream already active);
// network failures surface as notices through the update channel.
func (c *Controller) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.state == StateStreaming {
		c.mu.Unlock()
		return ErrStreamActive
	}

	now := time.Now()
	placeholder := Message{ID: uuid.NewString(), Role: RoleAssistant, Time: now}
	c.messages = append(c.messages,
		Message{ID: uuid.NewString(), Role: RoleUser, Content: text, Time: now},
		placeholder,
	)
	c.truncateLocked()
	c.state = StateStreaming
	sections := append([]string(nil), c.sections...)
	c.mu.Unlock()

	c.post(Update{Kind: StateChanged, State: StateStreaming})
	c.post(Update{Kind: MessagesUpdated})

	stream, err := c.gw.OpenChatStream(ctx, text, sections, c.topK, c.conversationID)
	if err != nil {
		if api.StatusOf(err) != 0 {
			// The backend answered with a structured failure; a retry on
			// the non-streaming path would hit the same wall.
			c.logger.Warn("stream open rejected", zap.Error(err))
			c.failSend(placeholder.ID, err, noticeSendFailed)
			return nil
		}
		// Transport never connected: fall back to the single-shot call.
		c.logger.Info("stream open failed, falling back", zap.Error(err))
		go c.fallback(ctx, text, placeholder.ID)
		return nil
	}

	c.mu.Lock()
	if c.state != StateStreaming {
		// Stopped while the connection was being opened.
		c.mu.Unlock()
		stream.Close()
		return nil
	}
	c.stream = stream
	c.mu.Unlock()

	go c.consume(ctx, stream, text, placeholder.ID)
	return nil
}

// Stop closes the live stream, if any, keeping whatever content has
// accumulated so far. Idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stream != nil {
		c.stream.Close()
		c.stream = nil
	}
	changed := c.state != StateIdle
	c.state = StateIdle
	c.mu.Unlock()

	if changed {
		c.post(Update{Kind: StateChanged, State: StateIdle})
	}
}

// consume applies stream events in arrival order until a terminal event
// or a transport failure.
func (c *Controller) consume(ctx context.Context, stream Stream, text, placeholderID string) {
	for ev := range stream.Events() {
		switch ev.Kind {
		case api.EventToken:
			c.appendContent(placeholderID, ev.Token)

		case api.EventDone:
			c.complete(placeholderID, ev.MessageID, ev.Citations)
			c.closeStream()
			c.setIdle()
			return

		case api.EventError:
			msg := ev.Message
			if msg == "" {
				msg = noticeGenericError
			}
			c.post(Update{Kind: NoticePosted, Notice: Notice{Level: NoticeError, Text: msg}})
			c.markFailed(placeholderID)
			c.closeStream()
			c.setIdle()
			return

		case api.EventDisconnect:
			c.logger.Info("stream disconnected, falling back", zap.Error(ev.Err))
			c.closeStream()
			c.fallback(ctx, text, placeholderID)
			return
		}
	}
	// Channel closed without a terminal event: the stream was stopped
	// locally and Stop already restored IDLE.
}

// fallback issues the single blocking request carrying the same message,
// top-K, and conversation identifier. Exactly one fallback per send.
func (c *Controller) fallback(ctx context.Context, text, placeholderID string) {
	resp, err := c.gw.Chat(ctx, api.ChatRequest{
		Message:        text,
		TopK:           c.topK,
		ConversationID: c.conversationID,
	})
	if err != nil {
		c.logger.Warn("fallback request failed", zap.Error(err))
		c.failSend(placeholderID, err, noticeResponseFailed)
		return
	}

	c.mu.Lock()
	if m := c.findLocked(placeholderID); m != nil {
		m.Content = resp.Answer
		m.MessageID = resp.MessageID
		m.Citations = resp.Citations
	}
	c.state = StateIdle
	c.mu.Unlock()

	c.post(Update{Kind: MessagesUpdated})
	c.post(Update{Kind: StateChanged, State: StateIdle})
}

// failSend removes the placeholder, posts the kind-dependent notice, and
// returns to IDLE. A 401 additionally schedules the delayed
// session-expired event; the placeholder removal is immediate.
func (c *Controller) failSend(placeholderID string, err error, genericText string) {
	c.mu.Lock()
	for i := range c.messages {
		if c.messages[i].ID == placeholderID {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			break
		}
	}
	c.state = StateIdle
	c.mu.Unlock()

	text := genericText
	switch {
	case api.IsRateLimited(err):
		text = noticeRateLimited
	case api.IsUnauthorized(err):
		text = noticeSessionExpired
		time.AfterFunc(c.expiryDelay, func() {
			c.post(Update{Kind: SessionExpired})
		})
	}

	c.post(Update{Kind: MessagesUpdated})
	c.post(Update{Kind: NoticePosted, Notice: Notice{Level: NoticeError, Text: text}})
	c.post(Update{Kind: StateChanged, State: StateIdle})
}

func (c *Controller) appendContent(id, fragment string) {
	c.mu.Lock()
	if m := c.findLocked(id); m != nil {
		m.Content += fragment
	}
	c.mu.Unlock()
	c.post(Update{Kind: MessagesUpdated})
}

func (c *Controller) complete(id, messageID string, citations []api.Citation) {
	c.mu.Lock()
	if m := c.findLocked(id); m != nil {
		m.MessageID = messageID
		m.Citations = citations
	}
	c.mu.Unlock()
	c.post(Update{Kind: MessagesUpdated})
}

func (c *Controller) markFailed(id string) {
	c.mu.Lock()
	if m := c.findLocked(id); m != nil {
		m.Failed = true
	}
	c.mu.Unlock()
	c.post(Update{Kind: MessagesUpdated})
}

func (c *Controller) findLocked(id string) *Message {
	for i := range c.messages {
		if c.messages[i].ID == id {
			return &c.messages[i]
		}
	}
	return nil
}

// truncateLocked drops the oldest entries beyond the history limit,
// preserving the relative order of the retained tail.
func (c *Controller) truncateLocked() {
	if len(c.messages) <= c.historyLimit {
		return
	}
	tail := c.messages[len(c.messages)-c.historyLimit:]
	c.messages = append([]Message(nil), tail...)
}

func (c *Controller) closeStream() {
	c.mu.Lock()
	if c.stream != nil {
		c.stream.Close()
		c.stream = nil
	}
	c.mu.Unlock()
}

func (c *Controller) setIdle() {
	c.mu.Lock()
	changed := c.state != StateIdle
	c.state = StateIdle
	c.mu.Unlock()
	if changed {
		c.post(Update{Kind: StateChanged, State: StateIdle})
	}
}

// post delivers an update without ever blocking the event handlers. A
// full channel drops the update; the UI re-reads full snapshots so a
// dropped MessagesUpdated only delays a render.
func (c *Controller) post(u Update) {
	select {
	case c.updates <- u:
	default:
		c.logger.Debug("update channel full, dropped", zap.Int("kind", int(u.Kind)))
	}
}
