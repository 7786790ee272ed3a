// Package dm is the hosted side of BuildLink direct messaging: message and profile
// persistence plus the WebSocket gateway clients talk to.
package dm

import (
	"context"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// StoredMessage is the canonical persisted direct message.
type StoredMessage struct {
	ConversationID string
	Seq            int64
	ID             string
	ClientMsgID    string
	SenderID       string
	RecipientID    string
	Content        string
	CreatedAt      time.Time
	Read           bool
}

// MessageStore persists and queries direct messages.
//
// Requirements:
//   - Idempotency per (conversation, sender, client_msg_id)
//   - Monotonic seq per conversation (no gaps for duplicates)
//   - History ordered by seq ASC
type MessageStore interface {
	AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error)
	FetchConversation(ctx context.Context, in FetchConversationInput) (FetchConversationResult, error)
	MarkRead(ctx context.Context, readerID, peerID string) (int64, error)
	Close() error
}

// AppendMessageInput describes a message append request.
type AppendMessageInput struct {
	SenderID    string
	RecipientID string
	ClientMsgID string
	Content     string
	Now         time.Time
}

// AppendMessageResult is the append operation result.
type AppendMessageResult struct {
	Stored     StoredMessage
	Duplicated bool
}

// FetchConversationInput selects a window of the conversation between SelfID and PeerID.
type FetchConversationInput struct {
	SelfID   string
	PeerID   string
	AfterSeq *int64
	Limit    int
}

// FetchConversationResult contains the retrieved history window.
type FetchConversationResult struct {
	Messages []StoredMessage
	HasMore  bool
}

// ConversationID returns the key shared by both participants of a direct conversation.
// The first id is length-prefixed so ids containing ':' cannot collide: ("a", "b:c")
// and ("a:b", "c") map to different keys.
func ConversationID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "dm:" + strconv.Itoa(len(a)) + ":" + a + ":" + b
}

func (in AppendMessageInput) normalize() (AppendMessageInput, error) {
	in.SenderID = strings.TrimSpace(in.SenderID)
	in.RecipientID = strings.TrimSpace(in.RecipientID)
	in.ClientMsgID = strings.TrimSpace(in.ClientMsgID)
	if in.SenderID == "" || in.RecipientID == "" || in.ClientMsgID == "" {
		return in, ErrInvalidInput
	}
	if in.SenderID == in.RecipientID {
		return in, ErrSelfConversation
	}
	if in.Now.IsZero() {
		in.Now = time.Now()
	}
	// Postgres keeps microseconds; both stores agree on what a round trip returns.
	in.Now = in.Now.UTC().Truncate(time.Microsecond)
	return in, nil
}

func (in FetchConversationInput) normalize() (FetchConversationInput, error) {
	in.SelfID = strings.TrimSpace(in.SelfID)
	in.PeerID = strings.TrimSpace(in.PeerID)
	if in.SelfID == "" || in.PeerID == "" {
		return in, ErrInvalidInput
	}
	in.Limit = clampLimit(in.Limit)
	return in, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
