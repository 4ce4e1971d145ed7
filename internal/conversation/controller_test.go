package conversation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/api"
	"docchat/internal/conversation"
)

// fakeStream is a scriptable stream. Tests push events; Close closes
// the channel the way a torn-down connection would.
type fakeStream struct {
	events    chan api.Event
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan api.Event, 16)}
}

func (s *fakeStream) Events() <-chan api.Event { return s.events }

func (s *fakeStream) Close() {
	s.closeOnce.Do(func() { close(s.events) })
}

func (s *fakeStream) push(ev api.Event) { s.events <- ev }

type openCall struct {
	message        string
	sections       []string
	topK           int
	conversationID string
}

// fakeGateway records calls and returns scripted results.
type fakeGateway struct {
	mu        sync.Mutex
	stream    *fakeStream
	openErr   error
	chatResp  *api.ChatResponse
	chatErr   error
	openCalls []openCall
	chatCalls []api.ChatRequest
}

func (g *fakeGateway) OpenChatStream(ctx context.Context, message string, sections []string, topK int, conversationID string) (conversation.Stream, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.openCalls = append(g.openCalls, openCall{message, sections, topK, conversationID})
	if g.openErr != nil {
		return nil, g.openErr
	}
	return g.stream, nil
}

func (g *fakeGateway) Chat(ctx context.Context, req api.ChatRequest) (*api.ChatResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chatCalls = append(g.chatCalls, req)
	if g.chatErr != nil {
		return nil, g.chatErr
	}
	return g.chatResp, nil
}

func (g *fakeGateway) chatCallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.chatCalls)
}

// recorder drains the controller's update channel so posts are never
// dropped, and remembers which kinds arrived.
type recorder struct {
	mu      sync.Mutex
	kinds   []conversation.UpdateKind
	stop    chan struct{}
	stopped chan struct{}
}

func record(t *testing.T, c *conversation.Controller) *recorder {
	t.Helper()
	r := &recorder{stop: make(chan struct{}), stopped: make(chan struct{})}
	go func() {
		defer close(r.stopped)
		for {
			select {
			case u := <-c.Updates():
				r.mu.Lock()
				r.kinds = append(r.kinds, u.Kind)
				r.mu.Unlock()
			case <-r.stop:
				return
			}
		}
	}()
	t.Cleanup(func() {
		close(r.stop)
		<-r.stopped
	})
	return r
}

func (r *recorder) saw(kind conversation.UpdateKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 5*time.Millisecond, msg)
}

func TestSend_AppendsUserAndPlaceholderBeforeDelivery(t *testing.T) {
	gw := &fakeGateway{stream: newFakeStream()}
	c := conversation.New(gw)
	record(t, c)

	require.NoError(t, c.Send(context.Background(), "  What was net income?  "))

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, conversation.RoleUser, msgs[0].Role)
	assert.Equal(t, "What was net income?", msgs[0].Content, "input is trimmed before append")
	assert.Equal(t, conversation.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "", msgs[1].Content)
	assert.NotEmpty(t, msgs[0].ID)
	assert.NotEqual(t, msgs[0].ID, msgs[1].ID)
	assert.Equal(t, conversation.StateStreaming, c.State())

	c.Stop()
}

func TestSend_TokensAccumulateAndDoneCompletes(t *testing.T) {
	stream := newFakeStream()
	gw := &fakeGateway{stream: stream}
	c := conversation.New(gw)
	record(t, c)

	require.NoError(t, c.Send(context.Background(), "net income?"))

	stream.push(api.Event{Kind: api.EventToken, Token: "Net income was "})
	stream.push(api.Event{Kind: api.EventToken, Token: "$2.1B."})
	stream.push(api.Event{Kind: api.EventDone, MessageID: "srv-1", Citations: []api.Citation{
		{PageNumber: 45, SectionName: "Financial Statements"},
	}})

	eventually(t, func() bool { return c.State() == conversation.StateIdle }, "controller returns to idle after done")

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	reply := msgs[1]
	assert.Equal(t, "Net income was $2.1B.", reply.Content)
	assert.Equal(t, "srv-1", reply.MessageID)
	assert.False(t, reply.Failed)
	if diff := cmp.Diff([]api.Citation{{PageNumber: 45, SectionName: "Financial Statements"}}, reply.Citations); diff != "" {
		t.Errorf("citations mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0, gw.chatCallCount(), "no fallback on a clean stream")
}

func TestSend_GuardErrors(t *testing.T) {
	stream := newFakeStream()
	gw := &fakeGateway{stream: stream}
	c := conversation.New(gw)
	record(t, c)

	assert.ErrorIs(t, c.Send(context.Background(), "   \n\t "), conversation.ErrEmptyMessage)
	assert.Empty(t, c.Messages(), "rejected input appends nothing")

	require.NoError(t, c.Send(context.Background(), "first"))
	assert.ErrorIs(t, c.Send(context.Background(), "second"), conversation.ErrStreamActive)
	assert.Len(t, c.Messages(), 2, "guarded send appends nothing")

	c.Stop()
}

func TestStop_KeepsPartialContent(t *testing.T) {
	stream := newFakeStream()
	gw := &fakeGateway{stream: stream}
	c := conversation.New(gw)
	record(t, c)

	require.NoError(t, c.Send(context.Background(), "summarize revenue"))
	stream.push(api.Event{Kind: api.EventToken, Token: "Revenue grew"})
	eventually(t, func() bool { return c.Messages()[1].Content == "Revenue grew" }, "token applied")

	c.Stop()
	c.Stop()

	assert.Equal(t, conversation.StateIdle, c.State())
	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Revenue grew", msgs[1].Content, "partial answer survives a stop")
	assert.Equal(t, 0, gw.chatCallCount(), "stop never falls back")
}

func TestSend_ServerRejectionRemovesPlaceholderWithoutFallback(t *testing.T) {
	gw := &fakeGateway{openErr: &api.Error{Status: 500, Message: "boom"}}
	c := conversation.New(gw)
	rec := record(t, c)

	require.NoError(t, c.Send(context.Background(), "question"))

	eventually(t, func() bool { return len(c.Messages()) == 1 }, "placeholder removed, user message kept")
	assert.Equal(t, conversation.RoleUser, c.Messages()[0].Role)
	assert.Equal(t, conversation.StateIdle, c.State())
	assert.Equal(t, 0, gw.chatCallCount(), "structured rejection must not retry on the batch path")
	eventually(t, func() bool { return rec.saw(conversation.NoticePosted) }, "failure posts a notice")
}

func TestSend_TransportFailureFallsBackOnce(t *testing.T) {
	gw := &fakeGateway{
		openErr: errors.New("dial tcp: connection refused"),
		chatResp: &api.ChatResponse{
			Answer:    "Net income was $2.1B.",
			MessageID: "srv-9",
			Citations: []api.Citation{{PageNumber: 45}},
		},
	}
	c := conversation.New(gw, conversation.WithTopK(7))
	record(t, c)

	require.NoError(t, c.Send(context.Background(), "net income?"))

	eventually(t, func() bool {
		msgs := c.Messages()
		return len(msgs) == 2 && msgs[1].MessageID == "srv-9"
	}, "fallback answer fills the placeholder in place")

	msgs := c.Messages()
	assert.Equal(t, "Net income was $2.1B.", msgs[1].Content)
	assert.Equal(t, conversation.StateIdle, c.State())

	require.Equal(t, 1, gw.chatCallCount(), "exactly one fallback per send")
	gw.mu.Lock()
	call := gw.chatCalls[0]
	gw.mu.Unlock()
	assert.Equal(t, "net income?", call.Message)
	assert.Equal(t, 7, call.TopK)
	assert.Equal(t, c.ConversationID(), call.ConversationID)
}

func TestSend_MidStreamDisconnectFallsBack(t *testing.T) {
	stream := newFakeStream()
	gw := &fakeGateway{
		stream:   stream,
		chatResp: &api.ChatResponse{Answer: "complete answer", MessageID: "srv-2"},
	}
	c := conversation.New(gw)
	record(t, c)

	require.NoError(t, c.Send(context.Background(), "question"))
	stream.push(api.Event{Kind: api.EventToken, Token: "half an "})
	stream.push(api.Event{Kind: api.EventDisconnect, Err: errors.New("unexpected EOF")})

	eventually(t, func() bool {
		msgs := c.Messages()
		return len(msgs) == 2 && msgs[1].Content == "complete answer"
	}, "fallback replaces the partial content")
	assert.Equal(t, "srv-2", c.Messages()[1].MessageID)
	assert.Equal(t, conversation.StateIdle, c.State())
	assert.Equal(t, 1, gw.chatCallCount())
}

func TestSend_FailedFallbackRemovesOnlyPlaceholder(t *testing.T) {
	gw := &fakeGateway{
		openErr: errors.New("connection refused"),
		chatErr: errors.New("connection refused"),
	}
	c := conversation.New(gw)
	rec := record(t, c)

	require.NoError(t, c.Send(context.Background(), "question"))

	eventually(t, func() bool { return gw.chatCallCount() == 1 && c.State() == conversation.StateIdle }, "fallback attempted then settled")
	msgs := c.Messages()
	require.Len(t, msgs, 1, "placeholder removed, user message retained")
	assert.Equal(t, conversation.RoleUser, msgs[0].Role)
	assert.Equal(t, "question", msgs[0].Content)
	eventually(t, func() bool { return rec.saw(conversation.NoticePosted) }, "failure posts a notice")
}

func TestSend_UnauthorizedSchedulesSessionExpired(t *testing.T) {
	gw := &fakeGateway{
		openErr: errors.New("connection refused"),
		chatErr: &api.Error{Status: 401, Message: "token expired"},
	}
	c := conversation.New(gw, conversation.WithExpiryDelay(150*time.Millisecond))
	rec := record(t, c)

	require.NoError(t, c.Send(context.Background(), "question"))

	eventually(t, func() bool { return len(c.Messages()) == 1 }, "placeholder removal is immediate, not delayed")
	assert.False(t, rec.saw(conversation.SessionExpired), "expiry event waits out the delay")
	eventually(t, func() bool { return rec.saw(conversation.SessionExpired) }, "expiry event fires after the delay")
}

func TestSend_RateLimitedNotice(t *testing.T) {
	gw := &fakeGateway{openErr: &api.Error{Status: 429, Message: "too many requests"}}
	c := conversation.New(gw)
	rec := record(t, c)

	require.NoError(t, c.Send(context.Background(), "question"))

	eventually(t, func() bool { return rec.saw(conversation.NoticePosted) }, "rate limit posts a notice")
	assert.Len(t, c.Messages(), 1)
	assert.Equal(t, conversation.StateIdle, c.State())
}

func TestSend_ErrorEventMarksPlaceholderFailed(t *testing.T) {
	stream := newFakeStream()
	gw := &fakeGateway{stream: stream}
	c := conversation.New(gw)
	rec := record(t, c)

	require.NoError(t, c.Send(context.Background(), "question"))
	stream.push(api.Event{Kind: api.EventToken, Token: "partial"})
	stream.push(api.Event{Kind: api.EventError, Message: "model overloaded"})

	eventually(t, func() bool { return c.State() == conversation.StateIdle }, "semantic error settles to idle")
	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].Failed)
	assert.Equal(t, "partial", msgs[1].Content, "partial content is kept")
	assert.Equal(t, 0, gw.chatCallCount(), "semantic errors never fall back")
	eventually(t, func() bool { return rec.saw(conversation.NoticePosted) }, "server message surfaces as a notice")
}

func TestHistoryLimit_DropsOldestPairsFirst(t *testing.T) {
	gw := &fakeGateway{}
	c := conversation.New(gw, conversation.WithHistoryLimit(4))
	record(t, c)

	send := func(text, answer string) {
		stream := newFakeStream()
		gw.mu.Lock()
		gw.stream = stream
		gw.mu.Unlock()
		require.NoError(t, c.Send(context.Background(), text))
		stream.push(api.Event{Kind: api.EventToken, Token: answer})
		stream.push(api.Event{Kind: api.EventDone, MessageID: "m-" + text})
		eventually(t, func() bool { return c.State() == conversation.StateIdle }, "send settles")
	}

	send("q1", "a1")
	send("q2", "a2")
	send("q3", "a3")

	msgs := c.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "q2", msgs[0].Content)
	assert.Equal(t, "a2", msgs[1].Content)
	assert.Equal(t, "q3", msgs[2].Content)
	assert.Equal(t, "a3", msgs[3].Content)
}

func TestSectionsFilterReachesTheStream(t *testing.T) {
	stream := newFakeStream()
	gw := &fakeGateway{stream: stream}
	c := conversation.New(gw)
	record(t, c)

	c.SetSections([]string{"MD&A", "Risk Factors"})
	require.NoError(t, c.Send(context.Background(), "question"))
	c.Stop()

	gw.mu.Lock()
	defer gw.mu.Unlock()
	require.Len(t, gw.openCalls, 1)
	assert.Equal(t, []string{"MD&A", "Risk Factors"}, gw.openCalls[0].sections)
	assert.Equal(t, c.ConversationID(), gw.openCalls[0].conversationID)
}

func TestConversationID_StableAcrossSends(t *testing.T) {
	gw := &fakeGateway{}
	c := conversation.New(gw)
	record(t, c)

	id := c.ConversationID()
	require.NotEmpty(t, id)

	for i := 0; i < 2; i++ {
		stream := newFakeStream()
		gw.mu.Lock()
		gw.stream = stream
		gw.mu.Unlock()
		require.NoError(t, c.Send(context.Background(), "question"))
		stream.push(api.Event{Kind: api.EventDone, MessageID: "m"})
		eventually(t, func() bool { return c.State() == conversation.StateIdle }, "send settles")
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	require.Len(t, gw.openCalls, 2)
	assert.Equal(t, id, gw.openCalls[0].conversationID)
	assert.Equal(t, id, gw.openCalls[1].conversationID)
}
