package domain

import "time"

// IncomingEvent is a single inbound message notification from a platform.
type IncomingEvent struct {
	ID        string
	Platform  string // slack | telegram | cli
	ChannelID string
	ThreadID  string // empty when the message is not part of a thread
	MessageID string // platform id of the message itself (Slack ts, Telegram message id)
	AuthorID  string
	RawText   string
	Timestamp time.Time
	Direct    bool // bot was addressed explicitly (mention, reaction, CLI)
}

// ReplyThread returns the thread a reply to this event belongs in. Messages
// outside a thread start a new one anchored on themselves.
func (e IncomingEvent) ReplyThread() string {
	if e.ThreadID != "" {
		return e.ThreadID
	}
	return e.MessageID
}

type ClassificationResult struct {
	IsMathRelated  bool
	MatchedPattern string
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one prior message in the conversation thread.
type Turn struct {
	Role Role
	Text string
}

type ModelRequest struct {
	SystemPrompt string
	UserText     string
	Context      []Turn // oldest first
}

type ModelResponse struct {
	Text      string
	Backend   string
	LatencyMs int64
}

// PlotRequest describes a function graph the model asked to be rendered.
type PlotRequest struct {
	Function string  `json:"function"`
	XMin     float64 `json:"x_min"`
	XMax     float64 `json:"x_max"`
	Points   int     `json:"points,omitempty"`
}

type Attachment struct {
	Filename string
	Title    string
	MimeType string
	Data     []byte
}

type OutgoingReply struct {
	Platform   string
	ChannelID  string
	ThreadID   string
	Text       string
	Attachment *Attachment
	Degraded   error // non-nil when the reply lost content, e.g. ErrVisualizationFailed
}
