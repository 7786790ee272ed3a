package dmclient

import (
	"context"
	"time"

	"buildlink/cmd/internal/convcache"
	"buildlink/cmd/internal/dm"

	"github.com/google/uuid"
)

// LocalTransport serves the cache straight from dm stores in the same process.
type LocalTransport struct {
	Store    dm.MessageStore
	Profiles dm.ProfileStore
	// Now stamps sent messages; defaults to time.Now.
	Now func() time.Time
}

var (
	_ convcache.Transport           = (*LocalTransport)(nil)
	_ convcache.ReadMarker          = (*LocalTransport)(nil)
	_ convcache.DisplayInfoResolver = (*LocalTransport)(nil)
)

// FetchHistory reads the whole conversation page by page.
func (t *LocalTransport) FetchHistory(ctx context.Context, self, peer string) ([]convcache.Message, error) {
	var (
		out   []convcache.Message
		after *int64
	)
	for {
		res, err := t.Store.FetchConversation(ctx, dm.FetchConversationInput{SelfID: self, PeerID: peer, AfterSeq: after, Limit: defaultPageLimit})
		if err != nil {
			return nil, err
		}
		for _, m := range res.Messages {
			out = append(out, FromStored(m))
		}
		if !res.HasMore || len(res.Messages) == 0 {
			return out, nil
		}
		last := res.Messages[len(res.Messages)-1].Seq
		after = &last
	}
}

// SendMessage applies the gateway's text rules and appends.
func (t *LocalTransport) SendMessage(ctx context.Context, self, peer, content string) (convcache.Message, error) {
	text, err := dm.ValidateText(content)
	if err != nil {
		return convcache.Message{}, err
	}
	now := time.Now()
	if t.Now != nil {
		now = t.Now()
	}
	res, err := t.Store.AppendMessage(ctx, dm.AppendMessageInput{
		SenderID:    self,
		RecipientID: peer,
		ClientMsgID: uuid.NewString(),
		Content:     text,
		Now:         now,
	})
	if err != nil {
		return convcache.Message{}, err
	}
	return FromStored(res.Stored), nil
}

// MarkRead flags peer's messages to self as read.
func (t *LocalTransport) MarkRead(ctx context.Context, self, peer string) (int64, error) {
	return t.Store.MarkRead(ctx, self, peer)
}

// ResolveDisplayInfo looks peer up in Profiles.
func (t *LocalTransport) ResolveDisplayInfo(ctx context.Context, peer string) (convcache.DisplayInfo, error) {
	if t.Profiles == nil {
		return convcache.DisplayInfo{}, dm.ErrProfileNotFound
	}
	p, err := t.Profiles.LookupProfile(ctx, peer)
	if err != nil {
		return convcache.DisplayInfo{}, err
	}
	return convcache.DisplayInfo{PeerID: p.UserID, Name: p.DisplayName, AvatarURL: p.AvatarURL}, nil
}
