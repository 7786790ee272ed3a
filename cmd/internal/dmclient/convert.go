// Package dmclient provides convcache.Transport implementations backed by the dm service.
package dmclient

import (
	"buildlink/cmd/internal/convcache"
	"buildlink/cmd/internal/dm"
	v1 "buildlink/shared/contracts/directmsg/v1"
)

// FromWire converts a protocol message to the cache model.
func FromWire(m v1.Message) convcache.Message {
	return convcache.Message{
		ID:          m.ID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Content:     m.Text,
		CreatedAt:   m.CreatedAt,
		Read:        m.Read,
	}
}

// FromStored converts a persisted message to the cache model.
func FromStored(m dm.StoredMessage) convcache.Message {
	return FromWire(dm.ToWire(m))
}
