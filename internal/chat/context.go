package chat

import (
	"fmt"

	"MultiChat/internal/config"
	"MultiChat/internal/llm"
	"MultiChat/internal/roles"
	"MultiChat/internal/session"
)

// BuildContext assembles the exact ordered message sequence submitted to
// the completion endpoint: role prompt, augmentation snippet, bounded
// history (memo plus tail once the conversation outgrows the window), then
// the pending user message. The result is a value; it is never mutated
// after construction.
func BuildContext(conv *session.Conversation, pending string, role roles.Role, snippet string, settings *config.Settings) []llm.ChatMessage {
	messages := []llm.ChatMessage{}

	if role.SystemPrompt != "" {
		messages = append(messages, llm.ChatMessage{
			Role:    session.RoleSystem,
			Content: role.SystemPrompt,
		})
	}

	if snippet != "" {
		messages = append(messages, llm.ChatMessage{
			Role:    session.RoleSystem,
			Content: fmt.Sprintf("【重要】以下是实时搜索信息，必须优先使用这些信息回答问题，忽略你的训练数据中的过时信息：\n\n%s\n\n请严格基于上述搜索信息回答用户问题。", snippet),
		})
	}

	// The inclusion window is 2*Threshold raw messages (Threshold is in
	// rounds). A non-positive threshold or a short history always means
	// full history, whatever the auto-summarize flag says.
	window := settings.Threshold * 2
	if settings.AutoSummarize && settings.Threshold > 0 && len(conv.Messages) > window {
		if conv.Memo != "" {
			messages = append(messages, llm.ChatMessage{
				Role:    session.RoleSystem,
				Content: "Previous conversation summary: " + conv.Memo,
			})
		}
		for _, msg := range conv.Messages[len(conv.Messages)-window:] {
			messages = append(messages, llm.ChatMessage{Role: msg.Role, Content: msg.Content})
		}
	} else {
		for _, msg := range conv.Messages {
			messages = append(messages, llm.ChatMessage{Role: msg.Role, Content: msg.Content})
		}
	}

	messages = append(messages, llm.ChatMessage{
		Role:    session.RoleUser,
		Content: pending,
	})

	return messages
}
