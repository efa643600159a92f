package llm

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// flaggedTermReplacements 容易触发上游安全过滤的剧本用词 -> 中性替换
var flaggedTermReplacements = map[string]string{
	"behead":      "defeat",
	"beheading":   "defeat",
	"decapitate":  "defeat",
	"decapitated": "defeated",
	"massacre":    "confrontation",
	"slaughter":   "confrontation",
	"gore":        "aftermath",
	"gory":        "intense",
	"bloodbath":   "chaotic struggle",
	"mutilate":    "injure",
	"mutilated":   "injured",
	"torture":     "interrogation",
	"tortured":    "interrogated",
	"suicide":     "self-harm crisis",
	"overdose":    "medical emergency",
	"nude":        "unclothed",
	"naked":       "unclothed",
	"sex scene":   "intimate scene",
	"rape":        "assault",
	"cocaine":     "illicit substance",
	"heroin":      "illicit substance",
}

var (
	flaggedPattern *regexp.Regexp
	flaggedLookup  map[string]string
)

func init() {
	terms := make([]string, 0, len(flaggedTermReplacements))
	flaggedLookup = make(map[string]string, len(flaggedTermReplacements))
	for k, v := range flaggedTermReplacements {
		terms = append(terms, regexp.QuoteMeta(k))
		flaggedLookup[k] = v
	}
	// 长词优先，避免 "beheading" 被 "behead" 截断
	sort.Slice(terms, func(i, j int) bool { return len(terms[i]) > len(terms[j]) })
	flaggedPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(terms, "|") + `)\b`)
}

// SanitizePrompt 替换敏感词并去除控制字符，仅为降低误拦截的尽力处理
func SanitizePrompt(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	return flaggedPattern.ReplaceAllStringFunc(s, func(m string) string {
		repl, ok := flaggedLookup[strings.ToLower(m)]
		if !ok {
			return m
		}
		if isCapitalized(m) {
			return strings.ToUpper(repl[:1]) + repl[1:]
		}
		return repl
	})
}

func isCapitalized(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}
