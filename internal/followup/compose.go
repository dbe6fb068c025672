package followup

import (
	"fmt"
	"strings"
)

// CollectTitle heads a combined prompt built from queued turns.
const CollectTitle = "[Queued messages while agent was busy]"

// RenderFunc renders one queued item at a zero-based position.
type RenderFunc func(item FollowupRun, idx int) string

// Composer renders combined and summary prompt text.
type Composer interface {
	// Collect joins the title, an optional summary and the rendered items.
	Collect(title string, items []FollowupRun, summary string, render RenderFunc) string
	// Summary describes dropped turns. ok is false when there is nothing to report.
	Summary(state DropState) (text string, ok bool)
}

// DefaultComposer is the stock Composer. Noun names what was dropped ("message").
type DefaultComposer struct {
	Noun string
}

// RenderQueued renders an item as a numbered "Queued #N" block.
func RenderQueued(item FollowupRun, idx int) string {
	return strings.TrimSpace(fmt.Sprintf("---\nQueued #%d\n%s", idx+1, item.Prompt))
}

func (c DefaultComposer) Collect(title string, items []FollowupRun, summary string, render RenderFunc) string {
	if render == nil {
		render = RenderQueued
	}
	blocks := make([]string, 0, len(items)+2)
	blocks = append(blocks, title)
	if summary != "" {
		blocks = append(blocks, summary)
	}
	for i, it := range items {
		blocks = append(blocks, render(it, i))
	}
	return strings.Join(blocks, "\n\n")
}

func (c DefaultComposer) Summary(state DropState) (string, bool) {
	if state.Policy != DropSummarize || state.DroppedCount <= 0 {
		return "", false
	}
	noun := c.Noun
	if noun == "" {
		noun = "message"
	}
	if state.DroppedCount != 1 {
		noun += "s"
	}

	lines := []string{fmt.Sprintf("[Queue overflow] Dropped %d %s due to cap.", state.DroppedCount, noun)}
	if len(state.SummaryLines) > 0 {
		lines = append(lines, "Summary:")
		for _, l := range state.SummaryLines {
			lines = append(lines, "- "+l)
		}
	}
	return strings.Join(lines, "\n"), true
}
