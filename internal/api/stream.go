package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// EventKind identifies what a stream event carries.
type EventKind int

const (
	// EventToken carries one incremental text fragment.
	EventToken EventKind = iota
	// EventDone carries the final message id and citation list.
	EventDone
	// EventError carries a structured error message from the backend.
	EventError
	// EventDisconnect signals a transport-level failure: the connection
	// closed or errored without a terminal event.
	EventDisconnect
)

// Event is one event delivered by a ChatStream, in arrival order.
type Event struct {
	Kind      EventKind
	Token     string     // EventToken
	MessageID string     // EventDone
	Citations []Citation // EventDone
	Message   string     // EventError
	Err       error      // EventDisconnect; nil when the server closed silently
}

// ChatStream is a live server-sent-event connection to the streaming
// chat endpoint. Events are delivered in arrival order on Events();
// the channel is closed after a terminal event or Close.
type ChatStream struct {
	events    chan Event
	cancel    context.CancelFunc
	body      io.ReadCloser
	closeOnce sync.Once
	logger    *zap.Logger
}

// Events returns the event channel.
func (s *ChatStream) Events() <-chan Event { return s.events }

// Close tears down the connection. Safe to call more than once and
// concurrently with event delivery.
func (s *ChatStream) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.body.Close()
	})
}

// OpenChatStream opens the streaming chat connection. The bearer token
// is passed as a query parameter because the SSE transport cannot carry
// custom headers. A non-2xx response is translated through the same
// error path as plain requests, including the 401 policy.
func (c *Client) OpenChatStream(ctx context.Context, message string, sections []string, topK int, conversationID string) (*ChatStream, error) {
	params := url.Values{}
	params.Set("message", message)
	params.Set("top_k", strconv.Itoa(topK))
	if len(sections) > 0 {
		params.Set("sections", strings.Join(sections, ","))
	}
	if conversationID != "" {
		params.Set("conversation_id", conversationID)
	}
	if token := c.tokens.Token(); token != "" {
		params.Set("token", token)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.baseURL+"/api/chat/stream?"+params.Encode(), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// A dedicated transport-less client: the shared one carries a request
	// timeout that would sever a healthy long-lived stream.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		err := c.translateError(resp)
		resp.Body.Close()
		cancel()
		return nil, err
	}

	s := &ChatStream{
		events: make(chan Event, 32),
		cancel: cancel,
		body:   resp.Body,
		logger: c.logger,
	}
	go s.readLoop(streamCtx)
	return s, nil
}

// readLoop parses the SSE wire format: "event:" names the next event,
// "data:" lines accumulate its payload, a blank line dispatches it.
func (s *ChatStream) readLoop(ctx context.Context) {
	defer close(s.events)
	defer s.Close()

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	eventType := "message"
	var eventData bytes.Buffer
	done := false

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Text()
		if line == "" {
			data := strings.TrimSuffix(eventData.String(), "\n")
			if data != "" {
				if s.dispatch(ctx, eventType, data) {
					done = true
				}
			}
			eventType = "message"
			eventData.Reset()
			if done {
				return
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			eventData.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			eventData.WriteByte('\n')
		case strings.HasPrefix(line, ":"):
			// Comment / keep-alive.
		}
	}

	if ctx.Err() != nil {
		// Closed locally; not a transport failure.
		return
	}

	err := scanner.Err()
	if err != nil {
		s.logger.Warn("stream read error", zap.Error(err))
	}
	s.emit(ctx, Event{Kind: EventDisconnect, Err: err})
}

// dispatch decodes one named event. Malformed events are logged and
// skipped; they never tear down the stream. Returns true on a terminal
// event.
func (s *ChatStream) dispatch(ctx context.Context, eventType, data string) bool {
	switch eventType {
	case "token":
		var ev tokenEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			s.logger.Warn("malformed token event", zap.Error(err))
			return false
		}
		s.emit(ctx, Event{Kind: EventToken, Token: ev.Token})
		return false

	case "done":
		var ev doneEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			s.logger.Warn("malformed done event", zap.Error(err))
			return false
		}
		s.emit(ctx, Event{Kind: EventDone, MessageID: ev.MessageID, Citations: ev.Citations})
		return true

	case "error":
		var ev errorEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			s.logger.Warn("malformed error event", zap.Error(err))
			return false
		}
		s.emit(ctx, Event{Kind: EventError, Message: ev.Message})
		return true

	default:
		s.logger.Debug("ignored stream event", zap.String("type", eventType))
		return false
	}
}

func (s *ChatStream) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}
