package bus

import (
	"context"
	"strings"

	"github.com/nextlevelbuilder/followup/internal/followup"
	"github.com/nextlevelbuilder/followup/internal/sessions"
)

// InboundMessage represents a message received from a channel (Telegram, Discord, etc.)
type InboundMessage struct {
	Channel    string            `json:"channel"`
	SenderID   string            `json:"sender_id"`
	ChatID     string            `json:"chat_id"`
	Content    string            `json:"content"`
	MessageID  string            `json:"message_id,omitempty"`  // provider message id, used for dedupe
	SessionKey string            `json:"session_key,omitempty"` // explicit bucket override
	PeerKind   string            `json:"peer_kind,omitempty"`   // "direct", "group" or "channel"
	AgentID    string            `json:"agent_id,omitempty"`    // target agent (for multi-agent routing)
	AccountID  string            `json:"account_id,omitempty"`  // bot account on the channel
	ThreadID   *string           `json:"thread_id,omitempty"`   // topic/thread; "" is a valid thread
	Summary    string            `json:"summary,omitempty"`     // short text used when the turn is dropped
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// MessageRouter abstracts inbound message delivery between channels and the follow-up queue.
type MessageRouter interface {
	PublishInbound(ctx context.Context, msg InboundMessage) bool
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
}

// MsgContext returns the fields the session key resolver looks at. Group
// and channel senders are addressed as {channel}:{kind}:{chatID}.
func (m InboundMessage) MsgContext() sessions.MsgContext {
	kind := strings.ToLower(strings.TrimSpace(m.PeerKind))
	from := m.SenderID
	if (kind == string(sessions.PeerGroup) || kind == string(sessions.PeerChannel)) && m.ChatID != "" {
		from = m.Channel + ":" + kind + ":" + m.ChatID
	}
	return sessions.MsgContext{
		From:       from,
		SessionKey: m.SessionKey,
		ChatType:   kind,
		Provider:   m.Channel,
		AgentID:    m.AgentID,
	}
}

// FollowupRun converts the message into a queued turn for bucket key.
func (m InboundMessage) FollowupRun(key string) followup.FollowupRun {
	agentID := m.AgentID
	if agentID == "" {
		agentID = sessions.DefaultAgentID
	}
	return followup.FollowupRun{
		Prompt:      m.Content,
		SummaryLine: m.Summary,
		MessageID:   m.MessageID,
		Run: &followup.RunContext{
			AgentID:    sessions.NormalizeAgentID(agentID),
			SessionKey: key,
			Provider:   m.Channel,
			Extra:      m.Metadata,
		},
		Routing: followup.Routing{
			Channel:   m.Channel,
			To:        m.ChatID,
			AccountID: m.AccountID,
			ThreadID:  m.ThreadID,
		},
	}
}
