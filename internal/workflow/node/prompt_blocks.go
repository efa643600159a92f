package node

import (
	"fmt"
	"strings"

	"film-ai-api/internal/domain/entity"
)

// BuildScenesBlock 把场景渲染为 prompt 上下文，整体不超过 maxRunes
func BuildScenesBlock(scenes []*entity.Scene, maxRunes int) string {
	if len(scenes) == 0 {
		return ""
	}
	parts := make([]string, 0, len(scenes))
	for _, s := range scenes {
		if s == nil {
			continue
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Scene %d - %s", s.SceneNumber, strings.TrimSpace(s.Location))
		if t := strings.TrimSpace(s.TimeOfDay); t != "" {
			b.WriteString(" (" + t + ")")
		}
		if len(s.Characters) > 0 {
			b.WriteString("\nCharacters: " + strings.Join(s.Characters, ", "))
		}
		if d := strings.TrimSpace(s.Description); d != "" {
			b.WriteString("\n" + d)
		}
		if c := strings.TrimSpace(s.Content); c != "" {
			b.WriteString("\n" + c)
		}
		parts = append(parts, b.String())
	}
	return TruncateByRunes(strings.Join(parts, "\n\n"), maxRunes)
}

// BuildCharactersBlock 角色摘要，每行一个
func BuildCharactersBlock(chars []*entity.Character) string {
	if len(chars) == 0 {
		return ""
	}
	lines := make([]string, 0, len(chars))
	for _, c := range chars {
		if c == nil || strings.TrimSpace(c.Name) == "" {
			continue
		}
		line := "- " + strings.TrimSpace(c.Name) + " [" + string(c.Importance) + "]"
		if d := strings.TrimSpace(c.Description); d != "" {
			line += ": " + d
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// BuildCharacterScenesBlock 角色出场场景的内容，用于角色级分析与一致性描述
func BuildCharacterScenesBlock(name string, scenes []*entity.Scene, maxRunes int) string {
	var picked []*entity.Scene
	for _, s := range scenes {
		if s != nil && s.HasCharacter(name) {
			picked = append(picked, s)
		}
	}
	return BuildScenesBlock(picked, maxRunes)
}
