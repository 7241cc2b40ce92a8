package roles

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// DefaultRoleID is the role used when nothing else is selected or a
// requested role id is unknown.
const DefaultRoleID = "default"

// Role is a resolvable persona: a display name, a short description and
// the system prompt injected ahead of the conversation.
type Role struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	SystemPrompt string `json:"systemPrompt"`
}

// builtins is the fixed preset set. It is never mutated; custom roles live
// in a separate namespace and may not shadow these ids.
var builtins = map[string]Role{
	"default": {
		Name:         "默认助手",
		Description:  "通用AI助手，可以回答各种问题",
		SystemPrompt: "你是一个乐于助人的AI助手，请用中文回答问题。",
	},
	"translator": {
		Name:         "翻译官",
		Description:  "专业的多语言翻译助手",
		SystemPrompt: "你是一个专业的翻译官，精通多种语言。请准确、流畅地翻译用户提供的文本，保持原文的语气和意思。如果用户没有指定目标语言，请先询问。",
	},
	"psychologist": {
		Name:         "心理咨询师",
		Description:  "温暖、专业的心理健康顾问",
		SystemPrompt: "你是一位温暖、富有同理心的心理咨询师。请用关怀、理解的语气与用户交流，提供情绪支持和建设性建议。注意：你不能替代专业医疗服务。",
	},
	"teacher": {
		Name:         "教学老师",
		Description:  "耐心的教育工作者，擅长解释复杂概念",
		SystemPrompt: "你是一位耐心、知识渊博的教学老师。请用清晰、易懂的方式解释概念，逐步引导学生理解问题。适当使用例子和类比来帮助理解。",
	},
	"programmer": {
		Name:         "编程专家",
		Description:  "经验丰富的软件开发工程师",
		SystemPrompt: "你是一位经验丰富的软件开发工程师，精通多种编程语言和技术栈。请提供准确、实用的代码建议，并解释最佳实践。包含代码示例时请注明语言类型。",
	},
	"writer": {
		Name:         "创意写作助手",
		Description:  "富有创意的文字工作者",
		SystemPrompt: "你是一位富有创意和想象力的文字工作者。擅长各种文体创作，包括故事、文章、文案等。请用生动、引人入胜的语言风格回应用户需求。",
	},
	"analyst": {
		Name:         "数据分析师",
		Description:  "逻辑严密的数据分析专家",
		SystemPrompt: "你是一位逻辑严密、擅长数据分析的专家。请用结构化、清晰的方式分析问题，提供基于事实和数据的见解。包含图表或数据时请给出详细解释。",
	},
	"coach": {
		Name:         "生活教练",
		Description:  "积极正面的人生导师",
		SystemPrompt: "你是一位积极、激励人心的生活教练。擅长帮助人们设定目标、制定计划和克服挑战。请用鼓励、支持的语气，提供实用的建议和行动步骤。",
	},
}

// Registry resolves role ids across the built-in and custom namespaces.
type Registry struct {
	mu     sync.RWMutex
	custom map[string]Role
}

// NewRegistry creates a registry seeded with previously persisted custom
// roles. Custom entries whose id collides with a built-in are dropped.
func NewRegistry(custom map[string]Role) *Registry {
	r := &Registry{custom: map[string]Role{}}
	for id, role := range custom {
		if _, shadows := builtins[id]; shadows {
			continue
		}
		r.custom[id] = role
	}
	return r
}

// Resolve returns the role for id, falling back to the default role when
// the id is unknown or empty.
func (r *Registry) Resolve(id string) Role {
	if role, ok := builtins[id]; ok {
		return role
	}
	r.mu.RLock()
	role, ok := r.custom[id]
	r.mu.RUnlock()
	if ok {
		return role
	}
	return builtins[DefaultRoleID]
}

// Has reports whether id resolves to an actual role rather than the
// default fallback.
func (r *Registry) Has(id string) bool {
	if _, ok := builtins[id]; ok {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.custom[id]
	return ok
}

// Add creates a custom role under a freshly generated id and returns it.
func (r *Registry) Add(name, description, systemPrompt string) (string, error) {
	if name == "" || description == "" || systemPrompt == "" {
		return "", fmt.Errorf("custom role requires name, description and system prompt")
	}

	id := "custom_" + uuid.NewString()
	r.mu.Lock()
	r.custom[id] = Role{Name: name, Description: description, SystemPrompt: systemPrompt}
	r.mu.Unlock()
	return id, nil
}

// Custom returns a copy of the custom role for id, if present.
func (r *Registry) Custom(id string) (Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.custom[id]
	return role, ok
}

// Builtins returns the ids of the preset roles.
func Builtins() []string {
	ids := make([]string, 0, len(builtins))
	for id := range builtins {
		ids = append(ids, id)
	}
	return ids
}

// All returns every id/role pair, built-ins first semantically (the caller
// gets one merged view, custom entries never shadowing presets).
func (r *Registry) All() map[string]Role {
	r.mu.RLock()
	defer r.mu.RUnlock()

	merged := make(map[string]Role, len(builtins)+len(r.custom))
	for id, role := range r.custom {
		merged[id] = role
	}
	for id, role := range builtins {
		merged[id] = role
	}
	return merged
}
