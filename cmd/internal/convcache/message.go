package convcache

import "time"

// Message is an immutable direct message as assigned by the transport.
type Message struct {
	ID          string
	SenderID    string
	RecipientID string
	Content     string
	CreatedAt   time.Time
	Read        bool
}

// PeerOf returns the conversation key of m as seen by self.
// ok is false when self is neither the sender nor the recipient.
func (m Message) PeerOf(self string) (peer string, ok bool) {
	switch self {
	case m.SenderID:
		return m.RecipientID, true
	case m.RecipientID:
		return m.SenderID, true
	default:
		return "", false
	}
}

// LoadingState tracks the fetch lifecycle of one conversation.
type LoadingState uint8

const (
	NeverFetched LoadingState = iota
	Fetching
	Fetched
)

func (s LoadingState) String() string {
	switch s {
	case NeverFetched:
		return "never_fetched"
	case Fetching:
		return "fetching"
	case Fetched:
		return "fetched"
	default:
		return "unknown"
	}
}

// DisplayInfo is presentation-only data about a peer.
type DisplayInfo struct {
	PeerID    string
	Name      string
	AvatarURL string
	// Placeholder is true when the lookup failed and Name is a fallback label.
	Placeholder bool
}

// Placeholder returns the degraded display info used when a lookup fails.
func Placeholder(peer string) DisplayInfo {
	name := "Unknown member"
	if peer != "" {
		name = "Member " + shortID(peer)
	}
	return DisplayInfo{PeerID: peer, Name: name, Placeholder: true}
}

func shortID(id string) string {
	r := []rune(id)
	if len(r) <= 8 {
		return id
	}
	return string(r[:8])
}
