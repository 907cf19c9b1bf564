package simulation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/synthagora/agora/pkg/agent"
	"github.com/synthagora/agora/pkg/llm"
	"github.com/synthagora/agora/pkg/memory"
	"github.com/synthagora/agora/pkg/ranking"
	"github.com/synthagora/agora/pkg/tracker"
)

// SystemPrompt tells the model who it plays and how to use the tools.
func SystemPrompt(a *agent.Agent, maxCalls int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are @%s, a user of a small social network.\n", a.Username())
	if a.Bio() != "" {
		fmt.Fprintf(&b, "Your bio: %s\n", a.Bio())
	}
	if a.Persona() != "" {
		fmt.Fprintf(&b, "\n%s\n", a.Persona())
	}
	if in := a.Interests(); len(in) > 0 {
		fmt.Fprintf(&b, "You care about: %s.\n", strings.Join(in, ", "))
	}
	b.WriteString("\nEach turn you see your feed and decide what to do using the tools. ")
	b.WriteString("Refer to posts by their title, to people by their @username and to communities by name. ")
	b.WriteString("You can only refer to posts you have seen. ")
	fmt.Fprintf(&b, "Make at most %d tool calls per turn, or none if nothing interests you.", maxCalls)
	return b.String()
}

// TurnPrompt renders the feed and the agent's recent context for one turn.
func TurnPrompt(turn int, feed []ranking.ScoredItem, snap tracker.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Turn %d.\n\n", turn)
	if len(feed) == 0 {
		b.WriteString("Your feed is empty.\n")
	} else {
		b.WriteString("Your feed:\n")
		for i, it := range feed {
			c := it.Candidate
			fmt.Fprintf(&b, "%d. %q by @%s (%d reactions, %d comments)\n", i+1, c.Title, c.AuthorUsername, c.ReactionCount, c.CommentCount)
			if c.Snippet != "" {
				fmt.Fprintf(&b, "   %s\n", c.Snippet)
			}
		}
	}
	if len(snap.RecentActions) > 0 {
		b.WriteString("\nWhat you did recently:\n")
		for _, a := range snap.RecentActions {
			fmt.Fprintf(&b, "- turn %d: %s%s\n", a.Turn, a.Tool, describeTargets(a.Targets))
		}
	}
	b.WriteString("\nWhat do you do?")
	return b.String()
}

func describeTargets(targets []tracker.Target) string {
	if len(targets) == 0 {
		return ""
	}
	parts := make([]string, 0, len(targets))
	for _, t := range targets {
		switch t.Kind {
		case tracker.KindUser:
			parts = append(parts, "@"+t.Label)
		default:
			parts = append(parts, fmt.Sprintf("%q", t.Label))
		}
	}
	return " " + strings.Join(parts, ", ")
}

// metaToolCalls is the transcript metadata key holding an assistant
// message's tool calls.
const metaToolCalls = "tool_calls"

// historyMessages converts a transcript back into chat messages.
func historyMessages(history []memory.ConversationMessage) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		role := llm.Role(m.Role)
		if !role.Valid() {
			continue
		}
		msg := llm.Message{Role: role, Content: m.Content, ToolCallID: m.ToolCallID}
		if raw := m.Metadata[metaToolCalls]; raw != "" {
			_ = json.Unmarshal([]byte(raw), &msg.ToolCalls)
		}
		out = append(out, msg)
	}
	return out
}

func encodeToolCalls(calls []llm.ToolCall) map[string]string {
	if len(calls) == 0 {
		return nil
	}
	raw, err := json.Marshal(calls)
	if err != nil {
		return nil
	}
	return map[string]string{metaToolCalls: string(raw)}
}
