// Package sessions builds and resolves the session keys that name follow-up buckets.
//
// Canonical session keys have the form:
//
//	agent:{agentId}:{rest}
//
// Where {rest} depends on the conversation:
//
//	Main (all DMs):  {mainKey}
//	Group:           {channel}:group:{groupId}
//	Channel:         {channel}:channel:{channelId}
//
// The one exception is scope "global", which maps everything onto the bare
// key "global".
//
// Examples:
//
//	agent:default:main
//	agent:default:telegram:group:-100123456
//	agent:default:telegram:group:-100123456:topic:99
package sessions

import (
	"fmt"
	"strings"
)

// PeerKind distinguishes DM from group conversations.
type PeerKind string

const (
	PeerDirect  PeerKind = "direct"
	PeerGroup   PeerKind = "group"
	PeerChannel PeerKind = "channel"
)

const (
	// DefaultAgentID is used when a message carries no agent identifier.
	DefaultAgentID = "default"
	// DefaultMainKey names the shared direct-chat bucket.
	DefaultMainKey = "main"
	// GlobalKey is the single bucket used by scope "global".
	GlobalKey = "global"
	// UnknownKey is the raw key for a direct message without a usable sender.
	UnknownKey = "unknown"
)

// BuildSessionKey builds the canonical agent session key for a channel conversation.
//
//	agent:{agentId}:{channel}:{kind}:{chatID}
func BuildSessionKey(agentID, channel string, kind PeerKind, chatID string) string {
	return fmt.Sprintf("agent:%s:%s:%s:%s", agentID, channel, kind, chatID)
}

// BuildAgentMainSessionKey builds the shared "main" session key for an agent.
// All direct chats for one agent collapse onto this key.
//
//	agent:{agentId}:{mainKey}
func BuildAgentMainSessionKey(agentID, mainKey string) string {
	return fmt.Sprintf("agent:%s:%s", NormalizeAgentID(agentID), NormalizeMainKey(mainKey))
}

// ParseSessionKey extracts the agentID and rest from a canonical session key.
// Returns ("", "") if the key is not in the expected format.
func ParseSessionKey(key string) (agentID, rest string) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] != "agent" {
		return "", ""
	}
	return parts[1], parts[2]
}

// IsGroupKey reports whether a raw or canonical key carries a group/channel marker.
func IsGroupKey(key string) bool {
	return strings.Contains(key, ":group:") || strings.Contains(key, ":channel:")
}

// NormalizeMainKey lowercases the main key, defaulting to "main".
func NormalizeMainKey(mainKey string) string {
	mainKey = strings.ToLower(strings.TrimSpace(mainKey))
	if mainKey == "" {
		return DefaultMainKey
	}
	return mainKey
}

// NormalizeAgentID lowercases the agent id, defaulting to DefaultAgentID.
func NormalizeAgentID(agentID string) string {
	agentID = strings.ToLower(strings.TrimSpace(agentID))
	if agentID == "" {
		return DefaultAgentID
	}
	return agentID
}
