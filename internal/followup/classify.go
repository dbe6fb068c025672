package followup

import (
	"strings"
)

// RouteKind tags the outcome of extracting routing metadata from one item.
type RouteKind int

const (
	RouteNeutral  RouteKind = iota // no routing metadata, ignored
	RouteConflict                  // metadata present but unusable, forces individual dispatch
	RouteKeyed                     // routable target, identified by Key
)

// RouteOutcome is what a RouteExtractor reports for one item.
type RouteOutcome struct {
	Kind RouteKind
	Key  string
}

// Neutral, Conflict and Keyed build RouteOutcomes.
func Neutral() RouteOutcome         { return RouteOutcome{Kind: RouteNeutral} }
func Conflict() RouteOutcome        { return RouteOutcome{Kind: RouteConflict} }
func Keyed(key string) RouteOutcome { return RouteOutcome{Kind: RouteKeyed, Key: key} }

// RouteExtractor classifies one queued item's routing metadata.
type RouteExtractor func(FollowupRun) RouteOutcome

// Routable reports whether replies can be delivered to a channel.
type Routable func(channel string) bool

// RoutingOutcome is the default RouteExtractor, parameterized by a
// routability predicate.
func RoutingOutcome(routable Routable) RouteExtractor {
	return func(item FollowupRun) RouteOutcome {
		r := item.Routing
		if r.IsZero() {
			return Neutral()
		}
		if r.Channel == "" || routable == nil || !routable(r.Channel) || r.To == "" {
			return Conflict()
		}
		thread := ""
		if r.ThreadID != nil {
			thread = *r.ThreadID
		}
		return Keyed(strings.Join([]string{r.Channel, r.To, r.AccountID, thread}, "|"))
	}
}

// HasCrossChannelItems reports whether items cannot share one reply target:
// any item reports a conflict, or keyed items disagree on their key.
// Neutral items never cause a conflict.
func HasCrossChannelItems(items []FollowupRun, extract RouteExtractor) bool {
	keys := make(map[string]struct{})
	for _, item := range items {
		out := extract(item)
		switch out.Kind {
		case RouteConflict:
			return true
		case RouteKeyed:
			keys[out.Key] = struct{}{}
			if len(keys) > 1 {
				return true
			}
		}
	}
	return false
}

// HasCrossAgentItems reports whether items belong to more than one agent.
// Blank agent ids are ignored.
func HasCrossAgentItems(items []FollowupRun) bool {
	var first string
	for _, item := range items {
		if item.Run == nil {
			continue
		}
		id := strings.TrimSpace(item.Run.AgentID)
		if id == "" {
			continue
		}
		if first == "" {
			first = id
		} else if id != first {
			return true
		}
	}
	return false
}

// ChannelSet is a Routable backed by a set of lowercase channel names.
type ChannelSet map[string]bool

// NewChannelSet builds a ChannelSet from names, normalizing case.
func NewChannelSet(names ...string) ChannelSet {
	s := make(ChannelSet, len(names))
	for _, n := range names {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			s[n] = true
		}
	}
	return s
}

// Routable reports whether channel is in the set.
func (s ChannelSet) Routable(channel string) bool {
	return s[strings.ToLower(strings.TrimSpace(channel))]
}
