package chat

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MultiChat/internal/config"
	"MultiChat/internal/roles"
	"MultiChat/internal/session"
)

// historyOf builds an alternating user/assistant history of n messages
// with numbered contents.
func historyOf(n int) []session.Message {
	msgs := make([]session.Message, 0, n)
	for i := 0; i < n; i++ {
		role := session.RoleUser
		if i%2 == 1 {
			role = session.RoleAssistant
		}
		msgs = append(msgs, session.Message{
			Role:      role,
			Content:   fmt.Sprintf("msg-%d", i),
			Timestamp: time.Now(),
		})
	}
	return msgs
}

func TestBuildContextOrdering(t *testing.T) {
	conv := &session.Conversation{Messages: historyOf(2)}
	role := roles.Role{SystemPrompt: "你是翻译官"}
	settings := &config.Settings{Threshold: 10, AutoSummarize: true}

	got := BuildContext(conv, "pending", role, "搜索片段", settings)
	require.Len(t, got, 5)

	assert.Equal(t, session.RoleSystem, got[0].Role)
	assert.Equal(t, "你是翻译官", got[0].Content)
	assert.Equal(t, session.RoleSystem, got[1].Role)
	assert.Contains(t, got[1].Content, "【重要】")
	assert.Contains(t, got[1].Content, "搜索片段")
	assert.Equal(t, "msg-0", got[2].Content)
	assert.Equal(t, "msg-1", got[3].Content)
	assert.Equal(t, session.RoleUser, got[4].Role)
	assert.Equal(t, "pending", got[4].Content)
}

func TestBuildContextWindowWithMemo(t *testing.T) {
	conv := &session.Conversation{Messages: historyOf(22), Memo: "earlier topics"}
	settings := &config.Settings{Threshold: 10, AutoSummarize: true}

	got := BuildContext(conv, "pending", roles.Role{}, "", settings)
	require.Len(t, got, 22) // memo + 20-message tail + pending

	assert.Equal(t, session.RoleSystem, got[0].Role)
	assert.Equal(t, "Previous conversation summary: earlier topics", got[0].Content)
	assert.Equal(t, "msg-2", got[1].Content)
	assert.Equal(t, "msg-21", got[20].Content)
	assert.Equal(t, "pending", got[21].Content)
}

func TestBuildContextWindowWithoutMemo(t *testing.T) {
	conv := &session.Conversation{Messages: historyOf(22)}
	settings := &config.Settings{Threshold: 10, AutoSummarize: true}

	got := BuildContext(conv, "pending", roles.Role{}, "", settings)
	require.Len(t, got, 21)
	assert.Equal(t, "msg-2", got[0].Content)
}

func TestBuildContextShortHistoryIsComplete(t *testing.T) {
	conv := &session.Conversation{Messages: historyOf(20), Memo: "should not appear"}
	settings := &config.Settings{Threshold: 10, AutoSummarize: true}

	got := BuildContext(conv, "pending", roles.Role{}, "", settings)
	require.Len(t, got, 21)
	assert.Equal(t, "msg-0", got[0].Content)
}

func TestBuildContextAutoSummarizeOff(t *testing.T) {
	conv := &session.Conversation{Messages: historyOf(30), Memo: "ignored"}
	settings := &config.Settings{Threshold: 10, AutoSummarize: false}

	got := BuildContext(conv, "pending", roles.Role{}, "", settings)
	require.Len(t, got, 31)
	assert.Equal(t, "msg-0", got[0].Content)
}

func TestBuildContextZeroThreshold(t *testing.T) {
	conv := &session.Conversation{Messages: historyOf(30)}
	settings := &config.Settings{Threshold: 0, AutoSummarize: true}

	got := BuildContext(conv, "pending", roles.Role{}, "", settings)
	require.Len(t, got, 31)
}

func TestBuildContextEmptyConversation(t *testing.T) {
	conv := &session.Conversation{}
	settings := &config.Settings{Threshold: 10, AutoSummarize: true}

	got := BuildContext(conv, "你好", roles.Role{SystemPrompt: "p"}, "", settings)
	require.Len(t, got, 2)
	assert.Equal(t, session.RoleSystem, got[0].Role)
	assert.Equal(t, "你好", got[1].Content)
}

func TestShouldSummarize(t *testing.T) {
	conv := &session.Conversation{Messages: historyOf(8)} // 4 user messages
	assert.True(t, ShouldSummarize(conv, 3))
	assert.False(t, ShouldSummarize(conv, 4))

	conv.Memo = "already summarized"
	assert.False(t, ShouldSummarize(conv, 3))

	assert.False(t, ShouldSummarize(nil, 3))
	assert.False(t, ShouldSummarize(&session.Conversation{}, 3))
	assert.False(t, ShouldSummarize(conv, 0))
}

func TestSummaryTranscript(t *testing.T) {
	msgs := []session.Message{
		{Role: session.RoleUser, Content: "q1"},
		{Role: session.RoleAssistant, Content: "a1"},
		{Role: session.RoleSystem, Content: "noise"},
		{Role: session.RoleUser, Content: "q2"},
		{Role: session.RoleAssistant, Content: "a2"},
	}

	got := summaryTranscript(msgs, 2)
	assert.Equal(t, "User: q1\n\nAssistant: a1", got)

	assert.Equal(t, "", summaryTranscript(msgs, 5))
	assert.Equal(t, "", summaryTranscript(msgs, 10))
}
