package chat

import (
	"context"
	"fmt"
	"strings"

	"MultiChat/internal/session"
)

const summaryPromptTemplate = "Please create a concise summary of the following conversation that captures the key topics, decisions, and context. This summary will be used to maintain context in future messages:\n\n%s\n\nSummary:"

// ShouldSummarize reports whether the conversation has crossed its
// retention threshold. The memo check makes the trigger fire at most once
// per conversation lifetime: once a memo exists it never re-fires, however
// far the conversation grows. That bounds summarization to a single call
// per conversation and is a policy choice, not an accident.
func ShouldSummarize(conv *session.Conversation, threshold int) bool {
	if conv == nil || len(conv.Messages) == 0 || threshold <= 0 {
		return false
	}
	return conv.UserMessageCount() > threshold && conv.Memo == ""
}

// summaryTranscript renders everything except the most recent threshold
// messages as a flat transcript. Note the tail counts raw messages while
// the context window elsewhere counts 2*threshold; the two are derived
// from the same setting with different multipliers on purpose.
func summaryTranscript(messages []session.Message, threshold int) string {
	if len(messages) <= threshold {
		return ""
	}
	head := messages[:len(messages)-threshold]

	var lines []string
	for _, msg := range head {
		switch msg.Role {
		case session.RoleUser:
			lines = append(lines, "User: "+msg.Content)
		case session.RoleAssistant:
			lines = append(lines, "Assistant: "+msg.Content)
		}
	}
	return strings.Join(lines, "\n\n")
}

// summarize issues the compression call and returns the memo text along
// with the number of messages to retain. It mutates nothing; the caller
// applies the result so that a failed call leaves the conversation
// completely unchanged.
func (m *Manager) summarize(ctx context.Context, messages []session.Message, model string, threshold int) (string, error) {
	transcript := summaryTranscript(messages, threshold)
	if transcript == "" {
		return "", nil
	}

	summary, err := m.client.Summarize(ctx, model, fmt.Sprintf(summaryPromptTemplate, transcript))
	if err != nil {
		return "", fmt.Errorf("summarization call failed: %w", err)
	}
	return strings.TrimSpace(summary), nil
}
