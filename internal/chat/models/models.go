// Package models defines the chat message log.
package models

import (
	"time"

	id "accord/pkg/domain"
)

// Direction marks who sent the message.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// Message is one basic message exchanged with a partner. The log is
// append-only; there is no state machine.
type Message struct {
	ID        id.MessageID `json:"id"`
	PartnerID id.PartnerID `json:"partner_id"`
	Direction Direction    `json:"direction"`
	Content   string       `json:"content"`
	CreatedAt time.Time    `json:"created_at"`
}
