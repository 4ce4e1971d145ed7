// Package api implements the HTTP/SSE client for the docchat backend.
// It centralizes request shaping, bearer-token attachment, error
// translation, and the unauthorized-response policy for both plain JSON
// calls and the streaming chat endpoint.
package api

// LoginRequest is the body of POST /api/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// User is the minimal identity record returned by the backend.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// LoginResponse is the body of a successful login.
type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Citation points into the source document. Citations are produced only
// by the backend and attached only to assistant messages.
type Citation struct {
	PageNumber  int    `json:"page_number"`
	SectionName string `json:"section_name,omitempty"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message        string   `json:"message"`
	Sections       []string `json:"sections,omitempty"`
	TopK           int      `json:"top_k,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
}

// ChatResponse is the body of a successful single-shot chat call.
type ChatResponse struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	MessageID string     `json:"messageId"`
}

// TableOfContentsEntry is one row of the static reference resource
// GET /table_of_contents.json. Read-only, fetched once for the section
// filter.
type TableOfContentsEntry struct {
	Section string `json:"section"`
	Page    int    `json:"page"`
}

// tokenEvent is the payload of an SSE "token" event.
type tokenEvent struct {
	Token string `json:"token"`
}

// doneEvent is the payload of an SSE "done" event.
type doneEvent struct {
	MessageID string     `json:"messageId"`
	Citations []Citation `json:"citations"`
}

// errorEvent is the payload of an SSE "error" event.
type errorEvent struct {
	Message string `json:"message"`
}
