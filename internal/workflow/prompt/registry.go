package prompt

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed templates/*.txt
var templatesFS embed.FS

type PromptID string

const (
	PromptScenesV1             PromptID = "scenes_v1"
	PromptCharactersV1         PromptID = "characters_v1"
	PromptCastingV1            PromptID = "casting_v1"
	PromptActorAnalysisV1      PromptID = "actor_analysis_v1"
	PromptVFXV1                PromptID = "vfx_v1"
	PromptPlacementV1          PromptID = "placement_v1"
	PromptLocationsV1          PromptID = "locations_v1"
	PromptFinancialNarrativeV1 PromptID = "financial_narrative_v1"
	PromptSummaryV1            PromptID = "summary_v1"
	PromptConsistencyProfileV1 PromptID = "consistency_profile_v1"
	PromptDocumentV1           PromptID = "document_v1"
)

var knownPrompts = map[PromptID]struct{}{
	PromptScenesV1:             {},
	PromptCharactersV1:         {},
	PromptCastingV1:            {},
	PromptActorAnalysisV1:      {},
	PromptVFXV1:                {},
	PromptPlacementV1:          {},
	PromptLocationsV1:          {},
	PromptFinancialNarrativeV1: {},
	PromptSummaryV1:            {},
	PromptConsistencyProfileV1: {},
	PromptDocumentV1:           {},
}

type Registry struct {
	mu    sync.RWMutex
	cache map[PromptID]einoprompt.ChatTemplate
}

func NewRegistry() *Registry {
	return &Registry{
		cache: make(map[PromptID]einoprompt.ChatTemplate),
	}
}

func (r *Registry) ChatTemplate(id PromptID) (einoprompt.ChatTemplate, error) {
	if r == nil {
		return nil, fmt.Errorf("prompt registry is nil")
	}

	r.mu.RLock()
	if tpl, ok := r.cache[id]; ok {
		r.mu.RUnlock()
		return tpl, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if tpl, ok := r.cache[id]; ok {
		return tpl, nil
	}

	systemPath, userPath, err := resolvePromptFiles(id)
	if err != nil {
		return nil, err
	}
	system, err := readEmbeddedText(systemPath)
	if err != nil {
		return nil, err
	}
	user, err := readEmbeddedText(userPath)
	if err != nil {
		return nil, err
	}

	// 模板中含 JSON 示例，使用 Go template 语法避免花括号冲突
	tpl := einoprompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(system),
		schema.UserMessage(user),
	)
	r.cache[id] = tpl
	return tpl, nil
}

func resolvePromptFiles(id PromptID) (systemFile string, userFile string, err error) {
	if _, ok := knownPrompts[id]; !ok {
		return "", "", fmt.Errorf("unknown prompt id: %s", id)
	}
	base := "templates/" + string(id)
	return base + ".system.txt", base + ".user.txt", nil
}

func readEmbeddedText(path string) (string, error) {
	b, err := templatesFS.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
