package sessions

import (
	"fmt"
	"strings"
)

// Scope selects how messages are bucketed.
type Scope string

const (
	ScopePerSender Scope = "per-sender"
	ScopeGlobal    Scope = "global"
)

// ParseScope maps a config value onto a Scope. Unknown values fall back to per-sender.
func ParseScope(s string) Scope {
	if strings.EqualFold(strings.TrimSpace(s), string(ScopeGlobal)) {
		return ScopeGlobal
	}
	return ScopePerSender
}

// MsgContext is the subset of an inbound message the resolver looks at.
type MsgContext struct {
	From       string // sender address, e.g. "+15550001111" or "telegram:group:-100123"
	SessionKey string // explicit override; wins over everything else
	ChatType   string // "direct", "group" or "channel"
	Provider   string // channel surface hint ("telegram", "whatsapp", ...)
	AgentID    string
}

// GroupKey is the resolved bucket for a group or channel conversation.
type GroupKey struct {
	Key      string // {provider}:{kind}:{id}
	Channel  string
	ID       string
	ChatType PeerKind
}

// groupSurfaces are address prefixes recognized as a channel surface.
var groupSurfaces = map[string]bool{
	"telegram":   true,
	"whatsapp":   true,
	"discord":    true,
	"slack":      true,
	"signal":     true,
	"imessage":   true,
	"feishu":     true,
	"zalo":       true,
	"msteams":    true,
	"googlechat": true,
}

// ResolveGroupSessionKey returns the group bucket for ctx, or false when ctx
// does not look like a group or channel conversation.
func ResolveGroupSessionKey(ctx MsgContext) (GroupKey, bool) {
	from := strings.TrimSpace(ctx.From)
	chatType := strings.ToLower(strings.TrimSpace(ctx.ChatType))
	isWhatsAppGroup := strings.HasSuffix(strings.ToLower(from), "@g.us")

	looksLikeGroup := chatType == string(PeerGroup) || chatType == string(PeerChannel) ||
		IsGroupKey(from) || isWhatsAppGroup
	if !looksLikeGroup {
		return GroupKey{}, false
	}

	var parts []string
	for _, p := range strings.Split(from, ":") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	head := ""
	if len(parts) > 0 {
		head = strings.ToLower(strings.TrimSpace(parts[0]))
	}
	headIsSurface := groupSurfaces[head]

	provider := strings.ToLower(strings.TrimSpace(ctx.Provider))
	switch {
	case headIsSurface:
		provider = head
	case provider == "" && isWhatsAppGroup:
		provider = "whatsapp"
	}
	if provider == "" {
		return GroupKey{}, false
	}

	second := ""
	if len(parts) > 1 {
		second = strings.ToLower(strings.TrimSpace(parts[1]))
	}
	secondIsKind := second == string(PeerGroup) || second == string(PeerChannel)

	kind := PeerGroup
	switch {
	case secondIsKind:
		kind = PeerKind(second)
	case strings.Contains(from, ":channel:") || chatType == string(PeerChannel):
		kind = PeerChannel
	}

	id := from
	if headIsSurface {
		if secondIsKind {
			id = strings.Join(parts[2:], ":")
		} else {
			id = strings.Join(parts[1:], ":")
		}
	}
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return GroupKey{}, false
	}

	return GroupKey{
		Key:      fmt.Sprintf("%s:%s:%s", provider, kind, id),
		Channel:  provider,
		ID:       id,
		ChatType: kind,
	}, true
}

// DeriveSessionKey picks the raw (non-agent-prefixed) bucket for ctx.
func DeriveSessionKey(scope Scope, ctx MsgContext) string {
	if scope == ScopeGlobal {
		return GlobalKey
	}
	if g, ok := ResolveGroupSessionKey(ctx); ok {
		return g.Key
	}
	if from := NormalizeE164(ctx.From); from != "" {
		return from
	}
	return UnknownKey
}

// ResolveSessionKey resolves the queue bucket for ctx.
//
// An explicit ctx.SessionKey wins (lowercased). Scope "global" maps everything
// to one bucket. Direct chats collapse onto the agent's main key so every 1:1
// conversation for that agent shares a queue; group and channel conversations
// stay isolated under agent:{agentId}:{raw}.
func ResolveSessionKey(scope Scope, ctx MsgContext, mainKey, agentID string) string {
	if explicit := strings.TrimSpace(ctx.SessionKey); explicit != "" {
		return strings.ToLower(explicit)
	}
	if agentID == "" {
		agentID = ctx.AgentID
	}
	resolvedAgent := NormalizeAgentID(agentID)

	if scope == ScopeGlobal {
		return GlobalKey
	}
	if g, ok := ResolveGroupSessionKey(ctx); ok {
		return BuildSessionKey(resolvedAgent, g.Channel, g.ChatType, g.ID)
	}
	return BuildAgentMainSessionKey(resolvedAgent, mainKey)
}

// NormalizeE164 canonicalizes a phone-like sender address to "+digits".
// Channel prefixes such as "whatsapp:" are stripped. Returns "" when no digits remain.
func NormalizeE164(number string) string {
	s := strings.TrimSpace(number)
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.Index(s, "@"); i >= 0 {
		s = s[:i]
	}
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "+" + b.String()
}
