package bus

import (
	"strconv"
	"time"

	"github.com/stellarlinkco/pacebot/internal/decision"
)

// InboundMessage is a chat message as a transport saw it, already carrying
// the flags the decision engine needs.
type InboundMessage struct {
	Channel               string
	MessageID             int
	SenderID              int64
	ChatID                int64
	Username              string
	DisplayName           string
	Content               string
	Timestamp             time.Time
	IsPrivateChat         bool
	IsReplyToAgent        bool
	MentionsAgentUsername string
}

func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + strconv.FormatInt(m.ChatID, 10)
}

func (m *InboundMessage) DecisionMessage() decision.Message {
	return decision.Message{
		Text:                  m.Content,
		SenderID:              m.SenderID,
		ChatID:                m.ChatID,
		Timestamp:             m.Timestamp,
		IsPrivateChat:         m.IsPrivateChat,
		IsReplyToAgent:        m.IsReplyToAgent,
		MentionsAgentUsername: m.MentionsAgentUsername,
	}
}

type OutboundMessage struct {
	Channel string
	ChatID  int64
	Content string
	// ReplyTo is the transport message ID being answered, 0 for none.
	ReplyTo int
}
