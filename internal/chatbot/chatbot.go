package chatbot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"MultiChat/internal/chat"
	"MultiChat/internal/config"
	"MultiChat/internal/llm"
	"MultiChat/internal/roles"
	"MultiChat/internal/search"
	"MultiChat/internal/session"
	"MultiChat/internal/store"
	"MultiChat/internal/telemetry"
)

// ChatBot is the terminal front end: it reads input, forwards it to the
// session manager and renders the manager's events. All chat state lives
// in the manager; this layer only prints.
type ChatBot struct {
	cfg      config.Config
	store    *store.Store
	manager  *chat.Manager
	registry *roles.Registry
	logger   *slog.Logger
	cleanup  func()
}

// NewChatBot wires the full application together.
func NewChatBot(cfg config.Config) (*ChatBot, error) {
	logger, err := telemetry.InitLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx := context.Background()
	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	if cfg.Debug {
		logger.Info("Debug mode enabled")
	}

	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	settings, err := st.LoadSettings()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if cfg.Model != "" {
		settings.Model = cfg.Model
	}

	custom, err := st.LoadCustomRoles()
	if err != nil {
		return nil, fmt.Errorf("failed to load custom roles: %w", err)
	}
	registry := roles.NewRegistry(custom)

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if apiKey != "" && !config.ValidAPIKeyFormat(apiKey) {
		logger.Warn("API key does not look like an OpenRouter key (expected sk-or-v1- prefix)")
	}

	client := llm.NewClient(apiKey, logger, tracer, meter)
	advisor := search.NewAdvisor(logger, tracer)

	bot := &ChatBot{
		cfg:      cfg,
		store:    st,
		registry: registry,
		logger:   logger,
		cleanup:  cleanup,
	}

	manager, err := chat.NewManager(st, client, advisor, registry, &settings, logger, bot)
	if err != nil {
		return nil, err
	}
	bot.manager = manager

	return bot, nil
}

// MessageAppended renders a message into the visible transcript. User
// messages were just typed, so only replies and system notices print.
func (b *ChatBot) MessageAppended(conversationID string, msg session.Message) {
	switch msg.Role {
	case session.RoleAssistant:
		fmt.Printf("\nAI助手: %s\n\n", msg.Content)
	case session.RoleSystem:
		fmt.Printf("\n系统: %s\n\n", msg.Content)
	}
}

// ConversationListChanged is a no-op for the REPL; the list renders on
// demand via /list.
func (b *ChatBot) ConversationListChanged(conversations []*session.Conversation) {}

// Status renders a transient status line.
func (b *ChatBot) Status(text string) {
	fmt.Printf("[状态] %s\n", text)
}

// Run starts the interactive loop.
func (b *ChatBot) Run() error {
	defer b.cleanup()
	defer b.store.Close()

	settings := b.manager.Settings()
	fmt.Println("=== MultiChat ===")
	fmt.Printf("模型: %s\n", settings.Model)
	fmt.Printf("角色: %s\n", b.registry.Resolve(settings.RoleID).Name)
	fmt.Println("输入 /help 查看命令，/quit 退出")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	ctx := context.Background()

	for {
		fmt.Print("You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := b.handleCommand(ctx, input)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				b.logger.Error("command error", "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		if err := b.manager.Send(ctx, input); err != nil {
			switch {
			case errors.Is(err, llm.ErrMissingAPIKey):
				fmt.Println("请先配置 API Key (--api-key 或 OPENROUTER_API_KEY)")
			case errors.Is(err, chat.ErrBusy):
				fmt.Println("当前对话已有请求进行中，请稍候")
			default:
				fmt.Printf("Error: %v\n", err)
			}
			b.logger.Error("failed to send message", "error", err)
		}
	}

	b.manager.Wait()
	fmt.Println("Goodbye!")
	return nil
}

// handleCommand handles slash commands.
func (b *ChatBot) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new":
		conv := b.manager.NewConversation()
		fmt.Println("已创建新对话:", conv.ID)
		return false, nil

	case "/list":
		b.printConversations()
		return false, nil

	case "/select":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /select <编号>")
		}
		conv, err := b.conversationByArg(parts[1])
		if err != nil {
			return false, err
		}
		if err := b.manager.Select(conv.ID); err != nil {
			return false, err
		}
		b.printTranscript(conv)
		return false, nil

	case "/delete":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /delete <编号>")
		}
		conv, err := b.conversationByArg(parts[1])
		if err != nil {
			return false, err
		}
		return false, b.manager.Delete(conv.ID)

	case "/clear-all":
		return false, b.manager.ClearAll()

	case "/edit":
		if len(parts) < 3 {
			return false, fmt.Errorf("usage: /edit <消息序号> <新内容>")
		}
		index, err := strconv.Atoi(parts[1])
		if err != nil {
			return false, fmt.Errorf("invalid message index: %s", parts[1])
		}
		newContent := strings.TrimSpace(strings.TrimPrefix(cmd, "/edit "+parts[1]))
		return false, b.manager.EditMessage(ctx, index, newContent)

	case "/model":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /model <model-id>")
		}
		return false, b.manager.SetModel(parts[1])

	case "/role":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /role <role-id>")
		}
		return false, b.manager.SetRole(parts[1])

	case "/roles":
		for id, role := range b.registry.All() {
			fmt.Printf("  %-24s %s - %s\n", id, role.Name, role.Description)
		}
		return false, nil

	case "/add-role":
		// Fields are pipe-separated: /add-role 名称|描述|系统提示词
		rest := strings.TrimSpace(strings.TrimPrefix(cmd, "/add-role"))
		fields := strings.SplitN(rest, "|", 3)
		if len(fields) != 3 {
			return false, fmt.Errorf("usage: /add-role 名称|描述|系统提示词")
		}
		id, err := b.manager.AddRole(
			strings.TrimSpace(fields[0]),
			strings.TrimSpace(fields[1]),
			strings.TrimSpace(fields[2]),
		)
		if err != nil {
			return false, err
		}
		fmt.Printf("自定义角色已创建: %s\n", id)
		return false, nil

	case "/threshold":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /threshold <%d-%d>", config.MinThreshold, config.MaxThreshold)
		}
		n, err := strconv.Atoi(parts[1])
		if err != nil {
			return false, fmt.Errorf("invalid threshold: %s", parts[1])
		}
		return false, b.manager.SetThreshold(n)

	case "/auto-summarize":
		if len(parts) < 2 || (parts[1] != "on" && parts[1] != "off") {
			return false, fmt.Errorf("usage: /auto-summarize on|off")
		}
		return false, b.manager.SetAutoSummarize(parts[1] == "on")

	case "/search":
		if len(parts) < 2 || (parts[1] != "on" && parts[1] != "off") {
			return false, fmt.Errorf("usage: /search on|off")
		}
		if err := b.manager.SetSearchEnabled(parts[1] == "on"); err != nil {
			return false, err
		}
		if parts[1] == "on" {
			fmt.Println("搜索已开启")
		} else {
			fmt.Println("搜索已关闭")
		}
		return false, nil

	case "/memo":
		memo := strings.TrimSpace(strings.TrimPrefix(cmd, "/memo"))
		return false, b.manager.SetMemo(memo)

	case "/settings":
		s := b.manager.Settings()
		fmt.Printf("模型: %s\n", s.Model)
		fmt.Printf("角色: %s (%s)\n", b.registry.Resolve(s.RoleID).Name, s.RoleID)
		fmt.Printf("上下文保留轮数: %d\n", s.Threshold)
		fmt.Printf("自动总结: %v\n", s.AutoSummarize)
		fmt.Printf("搜索增强: %v\n", s.SearchEnabled)
		return false, nil

	case "/help":
		fmt.Println("Available commands:")
		fmt.Println("  /quit, /exit              - 退出")
		fmt.Println("  /new                      - 新建对话")
		fmt.Println("  /list                     - 列出所有对话")
		fmt.Println("  /select <编号>            - 切换对话")
		fmt.Println("  /delete <编号>            - 删除对话")
		fmt.Println("  /clear-all                - 清空所有对话")
		fmt.Println("  /edit <序号> <新内容>     - 编辑消息并重新生成")
		fmt.Println("  /model <model-id>         - 切换模型")
		fmt.Println("  /role <role-id>           - 切换角色")
		fmt.Println("  /roles                    - 列出角色")
		fmt.Println("  /add-role 名称|描述|提示词 - 新建自定义角色")
		fmt.Println("  /threshold <n>            - 设置上下文保留轮数")
		fmt.Println("  /auto-summarize on|off    - 自动总结开关")
		fmt.Println("  /search on|off            - 搜索增强开关")
		fmt.Println("  /memo <文本>              - 编辑当前对话备忘录")
		fmt.Println("  /settings                 - 查看当前设置")
		fmt.Println("  /help                     - 显示帮助")
		return false, nil

	default:
		return false, nil
	}
}

func (b *ChatBot) printConversations() {
	conversations := b.manager.Conversations()
	if len(conversations) == 0 {
		fmt.Println("暂无对话")
		return
	}
	current := b.manager.Current()
	for i, conv := range conversations {
		marker := " "
		if current != nil && current.ID == conv.ID {
			marker = "*"
		}
		fmt.Printf("%s %d. %s (%d 条) %s\n", marker, i+1, conv.Title, len(conv.Messages), conv.LastMessage)
	}
}

func (b *ChatBot) printTranscript(conv *session.Conversation) {
	fmt.Println()
	if conv.Memo != "" {
		fmt.Printf("[备忘录] %s\n\n", conv.Memo)
	}
	for i, msg := range conv.Messages {
		switch msg.Role {
		case session.RoleUser:
			fmt.Printf("%d. 用户: %s\n", i, msg.Content)
		case session.RoleAssistant:
			fmt.Printf("%d. AI助手: %s\n", i, msg.Content)
		default:
			fmt.Printf("%d. 系统: %s\n", i, msg.Content)
		}
	}
	fmt.Println()
}

// conversationByArg resolves a 1-based list index or a raw conversation id.
func (b *ChatBot) conversationByArg(arg string) (*session.Conversation, error) {
	conversations := b.manager.Conversations()
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(conversations) {
			return nil, fmt.Errorf("conversation %d not found", n)
		}
		return conversations[n-1], nil
	}
	for _, conv := range conversations {
		if conv.ID == arg {
			return conv, nil
		}
	}
	return nil, fmt.Errorf("conversation %s not found", arg)
}
