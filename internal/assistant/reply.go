package assistant

import (
	"strings"

	"github.com/sashabaranov/go-openai"
)

// ExtractReply returns the newest assistant message produced by runID and its
// text. Messages without a run id are also eligible. The list order is not
// trusted: the greatest CreatedAt wins, ties go to the earlier list entry.
func ExtractReply(messages []openai.Message, runID string) (*openai.Message, string, bool) {
	var (
		best     *openai.Message
		bestText string
	)
	for i := range messages {
		m := &messages[i]
		if m.Role != openai.ChatMessageRoleAssistant {
			continue
		}
		if runID != "" && m.RunID != nil && *m.RunID != "" && *m.RunID != runID {
			continue
		}
		text := messageText(m)
		if text == "" {
			continue
		}
		if best == nil || m.CreatedAt > best.CreatedAt {
			best, bestText = m, text
		}
	}
	return best, bestText, best != nil
}

func messageText(m *openai.Message) string {
	var parts []string
	for _, c := range m.Content {
		if c.Type != "text" || c.Text == nil {
			continue
		}
		if v := strings.TrimSpace(c.Text.Value); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "\n\n")
}
