// Package v1 defines the BuildLink direct-message protocol v1 contract.
//
// It is shared between the gateway and its clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the WebSocket subprotocol negotiated for v1.
const Subprotocol = "buildlink.dm.v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the session handshake (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeHistoryFetch requests a window of a direct conversation (client -> server).
	TypeHistoryFetch = "history_fetch"
	// TypeHistoryChunk returns a window of history (server -> client).
	TypeHistoryChunk = "history_chunk"

	// TypeMessageSend requests sending a new message to a peer (client -> server).
	TypeMessageSend = "message_send"
	// TypeMessageAck returns the canonical stored message (server -> client).
	TypeMessageAck = "message_ack"

	// TypeMarkRead marks every message from a peer as read (client -> server).
	TypeMarkRead = "mark_read"
	// TypeMarkReadAck reports how many messages were flagged (server -> client).
	TypeMarkReadAck = "mark_read_ack"

	// TypeProfileLookup resolves a user's display info (client -> server).
	TypeProfileLookup = "profile_lookup"
	// TypeProfile carries display info (server -> client).
	TypeProfile = "profile"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Error codes carried by ErrorPayload.Code.
const (
	CodeBadJSON     = "bad_json"
	CodeBadEnvelope = "bad_envelope"
	CodeBadPayload  = "bad_payload"
	CodeNotHello    = "hello_required"
	CodeRateLimited = "rate_limited"
	CodeNotFound    = "not_found"
	CodeInternal    = "internal"
	CodeUnsupported = "unsupported"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	ReplyTo string          `json:"reply_to,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeHistoryFetch,
		TypeHistoryChunk,
		TypeMessageSend,
		TypeMessageAck,
		TypeMarkRead,
		TypeMarkReadAck,
		TypeProfileLookup,
		TypeProfile,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(typ, id, replyTo string, ts time.Time, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Envelope{
		V:       Version,
		Type:    typ,
		ID:      id,
		ReplyTo: replyTo,
		TS:      ts,
		Payload: raw,
	}, nil
}

// ---- Payloads ----

// HelloPayload is sent by the client to bind the connection to a user.
type HelloPayload struct {
	UserID string `json:"user_id"`
}

// HelloAckPayload carries the session id assigned by the gateway.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// Message is the wire form of a stored direct message.
type Message struct {
	ID          string    `json:"id"`
	ClientMsgID string    `json:"client_msg_id,omitempty"`
	Seq         int64     `json:"seq"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
	Read        bool      `json:"read"`
}

// HistoryFetchPayload requests a history window with a peer.
type HistoryFetchPayload struct {
	PeerID   string `json:"peer_id"`
	AfterSeq *int64 `json:"after_seq,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// HistoryChunkPayload returns messages for a history fetch request.
type HistoryChunkPayload struct {
	PeerID   string    `json:"peer_id"`
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

// MessageSendPayload requests sending a message to a peer.
type MessageSendPayload struct {
	PeerID      string `json:"peer_id"`
	ClientMsgID string `json:"client_msg_id"`
	Text        string `json:"text"`
}

// MessageAckPayload returns the canonical stored message.
type MessageAckPayload struct {
	Message    Message `json:"message"`
	Duplicated bool    `json:"duplicated,omitempty"`
}

// MarkReadPayload marks a peer's messages as read.
type MarkReadPayload struct {
	PeerID string `json:"peer_id"`
}

// MarkReadAckPayload reports the number of flagged messages.
type MarkReadAckPayload struct {
	PeerID  string `json:"peer_id"`
	Updated int64  `json:"updated"`
}

// ProfileLookupPayload asks for a user's display info.
type ProfileLookupPayload struct {
	UserID string `json:"user_id"`
}

// ProfilePayload carries display info for a user.
type ProfilePayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
