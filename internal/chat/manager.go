package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"MultiChat/internal/config"
	"MultiChat/internal/llm"
	"MultiChat/internal/roles"
	"MultiChat/internal/session"
	"MultiChat/internal/store"
)

var (
	// ErrBusy is returned when a send is attempted on a conversation that
	// already has a request in flight. The guard lives here, not in the
	// UI, so the invariant holds for programmatic callers too.
	ErrBusy = errors.New("a request for this conversation is already in flight")

	// ErrNoConversation is returned when no conversation is selected.
	ErrNoConversation = errors.New("no conversation selected")
)

// Completer is the completion endpoint as the session manager sees it.
type Completer interface {
	HasAPIKey() bool
	Complete(ctx context.Context, model string, messages []llm.ChatMessage) (string, error)
	Summarize(ctx context.Context, model, prompt string) (string, error)
}

// Augmenter decides whether to attach retrieved context to an outgoing
// message. It never fails; no snippet means an unaugmented request.
type Augmenter interface {
	Decide(ctx context.Context, query string, manualEnabled bool) string
}

// Events is the rendering boundary the engine exposes outward. The
// presentation layer subscribes; the engine never touches presentation
// state directly. MessageAppended fires only for messages that should be
// rendered into the currently visible conversation.
type Events interface {
	MessageAppended(conversationID string, msg session.Message)
	ConversationListChanged(conversations []*session.Conversation)
	Status(text string)
}

// Manager owns the conversation collection and the notion of the current
// conversation. Every outbound request captures the conversation id
// current at issue time and is reconciled against that captured id when
// the response arrives, so a reply for a conversation the user has left is
// persisted into the right history but never rendered into the wrong one.
type Manager struct {
	store    *store.Store
	client   Completer
	advisor  Augmenter
	registry *roles.Registry
	logger   *slog.Logger
	events   Events

	mu            sync.Mutex
	settings      *config.Settings
	conversations []*session.Conversation // persisted conversations only
	current       *session.Conversation   // may be an unpersisted draft
	inflight      map[string]bool
	wg            sync.WaitGroup
}

// NewManager loads the stored conversations and starts on a fresh draft.
func NewManager(st *store.Store, client Completer, advisor Augmenter, registry *roles.Registry, settings *config.Settings, logger *slog.Logger, events Events) (*Manager, error) {
	conversations, err := st.LoadConversations()
	if err != nil {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}

	m := &Manager{
		store:         st,
		client:        client,
		advisor:       advisor,
		registry:      registry,
		settings:      settings,
		logger:        logger,
		events:        events,
		conversations: conversations,
		inflight:      map[string]bool{},
	}
	m.sortLocked()
	m.current = session.New(settings.Model)
	return m, nil
}

// Wait blocks until all in-flight requests have completed. Used on
// shutdown and by tests.
func (m *Manager) Wait() { m.wg.Wait() }

// Current returns a snapshot of the selected conversation. In-flight
// request goroutines mutate the live struct under m.mu, so callers get a
// deep copy they can read freely.
func (m *Manager) Current() *session.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	return m.current.Clone()
}

// Conversations returns snapshots of the persisted conversations, newest
// first. Drafts (zero messages) are absent by construction.
func (m *Manager) Conversations() []*session.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*session.Conversation, len(m.conversations))
	for i, conv := range m.conversations {
		out[i] = conv.Clone()
	}
	return out
}

// Settings returns a copy of the live settings.
func (m *Manager) Settings() config.Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.settings
}

// NewConversation opens a fresh draft and makes it current. The draft is
// not persisted until its first message.
func (m *Manager) NewConversation() *session.Conversation {
	m.mu.Lock()
	conv := session.New(m.settings.Model)
	m.current = conv
	hadAny := len(m.conversations) > 0
	m.mu.Unlock()

	if hadAny {
		m.events.Status("已创建新对话")
	}
	return conv.Clone()
}

// Select makes the conversation with the given id current.
func (m *Manager) Select(id string) error {
	m.mu.Lock()
	conv := m.byIDLocked(id)
	if conv == nil {
		m.mu.Unlock()
		return fmt.Errorf("conversation %s not found", id)
	}
	m.current = conv
	title := conv.Title
	m.mu.Unlock()

	m.events.Status("已切换到: " + title)
	return nil
}

// Delete removes a conversation permanently. The store delete runs first;
// the in-memory collection changes only once it succeeds, so a storage
// failure leaves memory and disk agreeing.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	found := false
	for _, conv := range m.conversations {
		if conv.ID == id {
			found = true
			break
		}
	}
	if !found {
		m.mu.Unlock()
		return fmt.Errorf("conversation %s not found", id)
	}
	if err := m.store.DeleteConversation(id); err != nil {
		m.mu.Unlock()
		return err
	}
	kept := m.conversations[:0]
	for _, conv := range m.conversations {
		if conv.ID != id {
			kept = append(kept, conv)
		}
	}
	m.conversations = kept
	if m.current != nil && m.current.ID == id {
		if len(m.conversations) > 0 {
			m.current = m.conversations[0]
		} else {
			m.current = session.New(m.settings.Model)
		}
	}
	m.mu.Unlock()

	m.events.ConversationListChanged(m.Conversations())
	m.events.Status("已删除对话")
	return nil
}

// ClearAll removes every conversation and opens a fresh draft.
func (m *Manager) ClearAll() error {
	m.mu.Lock()
	if err := m.store.DeleteAllConversations(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.conversations = nil
	m.current = session.New(m.settings.Model)
	m.mu.Unlock()

	m.events.ConversationListChanged(m.Conversations())
	m.events.Status("已清空所有对话")
	return nil
}

// Send appends the user message to the current conversation, persists it,
// and issues the completion request asynchronously. The request carries
// the conversation id captured here, not whatever is current later.
func (m *Manager) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("empty message")
	}
	if !m.client.HasAPIKey() {
		return llm.ErrMissingAPIKey
	}

	m.mu.Lock()
	conv := m.current
	if conv == nil {
		m.mu.Unlock()
		return ErrNoConversation
	}
	if m.inflight[conv.ID] {
		m.mu.Unlock()
		return ErrBusy
	}
	token := conv.ID
	userMsg := session.Message{
		Role:      session.RoleUser,
		Content:   text,
		Model:     m.settings.Model,
		Timestamp: time.Now(),
	}
	conv.Append(userMsg)
	m.activateLocked(conv)
	m.inflight[token] = true
	m.mu.Unlock()

	m.events.MessageAppended(token, userMsg)
	m.events.ConversationListChanged(m.Conversations())

	m.beginRequest(ctx, token, text)
	return nil
}

// EditMessage replaces the content of the message at index in the current
// conversation, discards everything after it, persists the truncated
// history, and re-issues a completion request for the edited content
// through the normal send pipeline.
func (m *Manager) EditMessage(ctx context.Context, index int, newContent string) error {
	newContent = strings.TrimSpace(newContent)
	if newContent == "" {
		return errors.New("empty message")
	}
	if !m.client.HasAPIKey() {
		return llm.ErrMissingAPIKey
	}

	m.mu.Lock()
	conv := m.current
	if conv == nil || len(conv.Messages) == 0 {
		m.mu.Unlock()
		return ErrNoConversation
	}
	if index < 0 || index >= len(conv.Messages) {
		m.mu.Unlock()
		return fmt.Errorf("message index %d out of range", index)
	}
	if m.inflight[conv.ID] {
		m.mu.Unlock()
		return ErrBusy
	}
	token := conv.ID
	conv.EditAndTruncate(index, newContent)
	m.inflight[token] = true
	m.saveLocked(conv)
	m.mu.Unlock()

	m.events.ConversationListChanged(m.Conversations())
	m.events.Status("正在重新生成回答...")

	m.beginRequest(ctx, token, newContent)
	return nil
}

// SetMemo overwrites the current conversation's memo by hand.
func (m *Manager) SetMemo(memo string) error {
	m.mu.Lock()
	conv := m.current
	if conv == nil {
		m.mu.Unlock()
		return ErrNoConversation
	}
	conv.Memo = strings.TrimSpace(memo)
	conv.Touch()
	if len(conv.Messages) > 0 {
		m.saveLocked(conv)
	}
	m.mu.Unlock()

	m.events.Status("备忘录已保存")
	return nil
}

// SetThreshold updates and persists the context retention threshold.
func (m *Manager) SetThreshold(n int) error {
	if err := config.ValidateThreshold(n); err != nil {
		return err
	}
	m.mu.Lock()
	m.settings.Threshold = n
	m.mu.Unlock()
	if err := m.store.SaveThreshold(n); err != nil {
		return err
	}
	m.events.Status(fmt.Sprintf("上下文设置已保存：保留%d轮对话", n))
	return nil
}

// SetAutoSummarize updates and persists the auto-summarize flag.
func (m *Manager) SetAutoSummarize(enabled bool) error {
	m.mu.Lock()
	m.settings.AutoSummarize = enabled
	m.mu.Unlock()
	return m.store.SaveBool(store.KeyAutoSummarize, enabled)
}

// SetSearchEnabled updates and persists the augmentation toggle.
func (m *Manager) SetSearchEnabled(enabled bool) error {
	m.mu.Lock()
	m.settings.SearchEnabled = enabled
	m.mu.Unlock()
	return m.store.SaveBool(store.KeySearchEnabled, enabled)
}

// SetRole switches the active role.
func (m *Manager) SetRole(id string) error {
	if !m.registry.Has(id) {
		return fmt.Errorf("unknown role: %s", id)
	}
	m.mu.Lock()
	m.settings.RoleID = id
	m.mu.Unlock()
	if err := m.store.SetSetting(store.KeyCurrentRole, id); err != nil {
		return err
	}
	m.events.Status("已切换到角色: " + m.registry.Resolve(id).Name)
	return nil
}

// AddRole creates a custom role, persists it and makes it active.
func (m *Manager) AddRole(name, description, systemPrompt string) (string, error) {
	id, err := m.registry.Add(name, description, systemPrompt)
	if err != nil {
		return "", err
	}
	role, _ := m.registry.Custom(id)
	if err := m.store.SaveCustomRole(id, role); err != nil {
		return "", err
	}
	if err := m.SetRole(id); err != nil {
		return "", err
	}
	return id, nil
}

// SetModel switches the active model.
func (m *Manager) SetModel(model string) error {
	m.mu.Lock()
	m.settings.Model = model
	m.mu.Unlock()
	if err := m.store.SetSetting(store.KeyCurrentModel, model); err != nil {
		return err
	}
	m.events.Status("已切换到模型: " + model)
	return nil
}

// beginRequest runs the summarize/augment/build/complete pipeline on its
// own goroutine. The caller has already registered the in-flight flag for
// token under the lock.
func (m *Manager) beginRequest(ctx context.Context, token, text string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.inflight, token)
			m.mu.Unlock()
		}()
		m.runRequest(ctx, token, text)
	}()
}

func (m *Manager) runRequest(ctx context.Context, token, text string) {
	m.maybeSummarize(ctx, token)

	m.mu.Lock()
	manual := m.settings.SearchEnabled
	m.mu.Unlock()

	snippet := m.advisor.Decide(ctx, text, manual)

	m.mu.Lock()
	conv := m.byIDLocked(token)
	if conv == nil {
		m.mu.Unlock()
		return
	}
	// The pending user message is already the conversation's last entry;
	// the context builder appends it itself, so hand it a view of the
	// history without it.
	history := conv.Messages
	if len(history) > 0 {
		history = history[:len(history)-1]
	}
	view := &session.Conversation{ID: conv.ID, Memo: conv.Memo, Messages: history}
	role := m.registry.Resolve(m.settings.RoleID)
	payload := BuildContext(view, text, role, snippet, m.settings)
	model := m.settings.Model
	m.mu.Unlock()

	reply, err := m.client.Complete(ctx, model, payload)
	m.reconcile(token, model, reply, err)
}

// maybeSummarize compresses old history once the conversation crosses its
// threshold. A failed summarization leaves the conversation exactly as it
// was and surfaces only a status note; the send that triggered it goes on.
func (m *Manager) maybeSummarize(ctx context.Context, token string) {
	m.mu.Lock()
	conv := m.byIDLocked(token)
	if conv == nil || !m.settings.AutoSummarize || !ShouldSummarize(conv, m.settings.Threshold) {
		m.mu.Unlock()
		return
	}
	threshold := m.settings.Threshold
	model := m.settings.Model
	snapshot := append([]session.Message(nil), conv.Messages...)
	m.mu.Unlock()

	memo, err := m.summarize(ctx, snapshot, model, threshold)
	if err != nil {
		m.logger.Warn("summarization failed", "conversation_id", token, "error", err)
		m.events.Status("总结失败，继续使用完整对话")
		return
	}
	if memo == "" {
		return
	}

	m.mu.Lock()
	conv = m.byIDLocked(token)
	if conv == nil || conv.Memo != "" || len(conv.Messages) <= threshold {
		m.mu.Unlock()
		return
	}
	conv.Memo = memo
	conv.Messages = append([]session.Message(nil), conv.Messages[len(conv.Messages)-threshold:]...)
	conv.Touch()
	m.saveLocked(conv)
	m.mu.Unlock()

	m.events.Status(fmt.Sprintf("对话已自动总结，保留最近%d轮对话", threshold))
}

// reconcile applies a finished request to the conversation matching its
// request-scoped id. The reply is always persisted into that conversation;
// it is rendered only when that conversation is still the current one.
func (m *Manager) reconcile(token, model, reply string, callErr error) {
	m.mu.Lock()
	conv := m.byIDLocked(token)
	if conv == nil {
		m.mu.Unlock()
		m.logger.Info("conversation deleted before reply arrived", "conversation_id", token)
		return
	}
	stillCurrent := m.current != nil && m.current.ID == token

	if callErr != nil {
		m.logger.Error("completion request failed", "conversation_id", token, "error", callErr)
		if !stillCurrent {
			m.mu.Unlock()
			m.events.Status("对话已切换，忽略响应")
			return
		}
		msg := session.Message{
			Role:      session.RoleSystem,
			Content:   "错误: " + callErr.Error(),
			Model:     model,
			Timestamp: time.Now(),
		}
		conv.Append(msg)
		m.saveLocked(conv)
		m.mu.Unlock()

		m.events.MessageAppended(token, msg)
		m.events.Status("请求失败")
		return
	}

	msg := session.Message{
		Role:      session.RoleAssistant,
		Content:   reply,
		Model:     model,
		Timestamp: time.Now(),
	}
	conv.Append(msg)
	m.sortLocked()
	m.saveLocked(conv)
	m.mu.Unlock()

	if stillCurrent {
		m.events.MessageAppended(token, msg)
		m.events.Status("响应完成")
	} else {
		m.events.Status("对话已切换，响应已保存到原对话")
	}
	m.events.ConversationListChanged(m.Conversations())
}

// byIDLocked resolves a conversation id against the collection and the
// current draft. Caller holds m.mu.
func (m *Manager) byIDLocked(id string) *session.Conversation {
	if m.current != nil && m.current.ID == id {
		return m.current
	}
	for _, conv := range m.conversations {
		if conv.ID == id {
			return conv
		}
	}
	return nil
}

// activateLocked moves a draft into the persisted collection on its first
// message. Caller holds m.mu.
func (m *Manager) activateLocked(conv *session.Conversation) {
	for _, existing := range m.conversations {
		if existing.ID == conv.ID {
			m.sortLocked()
			m.saveLocked(conv)
			return
		}
	}
	m.conversations = append([]*session.Conversation{conv}, m.conversations...)
	m.sortLocked()
	m.saveLocked(conv)
}

// saveLocked persists one conversation, logging rather than failing: a
// write error loses at most this mutation, matching the crash model.
func (m *Manager) saveLocked(conv *session.Conversation) {
	if err := m.store.SaveConversation(conv); err != nil {
		m.logger.Error("failed to save conversation", "conversation_id", conv.ID, "error", err)
	}
}

// sortLocked orders conversations by their first user message, newest
// first. Caller holds m.mu.
func (m *Manager) sortLocked() {
	sort.SliceStable(m.conversations, func(i, j int) bool {
		a, aok := m.conversations[i].FirstUserMessage()
		b, bok := m.conversations[j].FirstUserMessage()
		if !aok || !bok {
			return aok
		}
		return a.Timestamp.After(b.Timestamp)
	})
}
