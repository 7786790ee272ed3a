package dm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	v1 "buildlink/shared/contracts/directmsg/v1"
)

// dispatch routes a validated request envelope and returns the reply type and payload.
func (g *WSGateway) dispatch(ctx context.Context, sess *Session, env v1.Envelope, now time.Time) (string, any, error) {
	if env.Type == v1.TypeHello {
		return g.onHello(sess, env)
	}
	self := sess.UserID()
	if self == "" {
		return "", nil, &requestError{code: v1.CodeNotHello, msg: "send hello first"}
	}

	switch env.Type {
	case v1.TypeHistoryFetch:
		return g.onHistoryFetch(ctx, self, env)
	case v1.TypeMessageSend:
		return g.onMessageSend(ctx, self, env, now)
	case v1.TypeMarkRead:
		return g.onMarkRead(ctx, self, env)
	case v1.TypeProfileLookup:
		return g.onProfileLookup(ctx, env)
	default:
		return "", nil, &requestError{code: v1.CodeUnsupported, msg: fmt.Sprintf("unsupported type: %s", env.Type)}
	}
}

func decodePayload(env v1.Envelope, dst any) error {
	if len(env.Payload) == 0 {
		return badPayload("missing payload")
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return badPayload("invalid payload: %v", err)
	}
	return nil
}

func peerOf(self, peer string) (string, error) {
	peer = strings.TrimSpace(peer)
	if peer == "" {
		return "", badPayload("missing peer_id")
	}
	if peer == self {
		return "", ErrSelfConversation
	}
	return peer, nil
}

func (g *WSGateway) onHello(sess *Session, env v1.Envelope) (string, any, error) {
	var p v1.HelloPayload
	if err := decodePayload(env, &p); err != nil {
		return "", nil, err
	}
	userID := strings.TrimSpace(p.UserID)
	if userID == "" {
		return "", nil, badPayload("missing user_id")
	}
	if !sess.Bind(userID) {
		return "", nil, badPayload("session already bound")
	}
	g.log.Info("ws.session.hello", "session_id", sess.ID, "user_id", userID)
	return v1.TypeHelloAck, v1.HelloAckPayload{SessionID: sess.ID, UserID: userID}, nil
}

func (g *WSGateway) onHistoryFetch(ctx context.Context, self string, env v1.Envelope) (string, any, error) {
	var p v1.HistoryFetchPayload
	if err := decodePayload(env, &p); err != nil {
		return "", nil, err
	}
	peer, err := peerOf(self, p.PeerID)
	if err != nil {
		return "", nil, err
	}

	out, err := g.store.FetchConversation(ctx, FetchConversationInput{
		SelfID:   self,
		PeerID:   peer,
		AfterSeq: p.AfterSeq,
		Limit:    p.Limit,
	})
	if err != nil {
		return "", nil, fmt.Errorf("store fetch: %w", err)
	}

	msgs := make([]v1.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, ToWire(m))
	}
	return v1.TypeHistoryChunk, v1.HistoryChunkPayload{PeerID: peer, Messages: msgs, HasMore: out.HasMore}, nil
}

// ValidateText trims text and enforces the non-empty and length rules for a message body.
func ValidateText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	if utf8.RuneCountInString(text) > MaxMessageChars {
		return "", fmt.Errorf("%w: max=%d chars", ErrTextTooLong, MaxMessageChars)
	}
	return text, nil
}

func (g *WSGateway) onMessageSend(ctx context.Context, self string, env v1.Envelope, now time.Time) (string, any, error) {
	var p v1.MessageSendPayload
	if err := decodePayload(env, &p); err != nil {
		return "", nil, err
	}
	peer, err := peerOf(self, p.PeerID)
	if err != nil {
		return "", nil, err
	}
	if strings.TrimSpace(p.ClientMsgID) == "" {
		return "", nil, badPayload("missing client_msg_id")
	}
	text, err := ValidateText(p.Text)
	if err != nil {
		return "", nil, err
	}

	res, err := g.store.AppendMessage(ctx, AppendMessageInput{
		SenderID:    self,
		RecipientID: peer,
		ClientMsgID: p.ClientMsgID,
		Content:     text,
		Now:         now,
	})
	if err != nil {
		return "", nil, fmt.Errorf("store append: %w", err)
	}
	return v1.TypeMessageAck, v1.MessageAckPayload{Message: ToWire(res.Stored), Duplicated: res.Duplicated}, nil
}

func (g *WSGateway) onMarkRead(ctx context.Context, self string, env v1.Envelope) (string, any, error) {
	var p v1.MarkReadPayload
	if err := decodePayload(env, &p); err != nil {
		return "", nil, err
	}
	peer, err := peerOf(self, p.PeerID)
	if err != nil {
		return "", nil, err
	}
	n, err := g.store.MarkRead(ctx, self, peer)
	if err != nil {
		return "", nil, fmt.Errorf("store mark read: %w", err)
	}
	return v1.TypeMarkReadAck, v1.MarkReadAckPayload{PeerID: peer, Updated: n}, nil
}

func (g *WSGateway) onProfileLookup(ctx context.Context, env v1.Envelope) (string, any, error) {
	var p v1.ProfileLookupPayload
	if err := decodePayload(env, &p); err != nil {
		return "", nil, err
	}
	userID := strings.TrimSpace(p.UserID)
	if userID == "" {
		return "", nil, badPayload("missing user_id")
	}
	prof, err := g.profiles.LookupProfile(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	return v1.TypeProfile, v1.ProfilePayload{UserID: prof.UserID, DisplayName: prof.DisplayName, AvatarURL: prof.AvatarURL}, nil
}

// ToWire converts a stored message to its protocol form.
func ToWire(m StoredMessage) v1.Message {
	return v1.Message{
		ID:          m.ID,
		ClientMsgID: m.ClientMsgID,
		Seq:         m.Seq,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Text:        m.Content,
		CreatedAt:   m.CreatedAt,
		Read:        m.Read,
	}
}
