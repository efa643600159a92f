package node

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	apperrors "film-ai-api/pkg/errors"
	"film-ai-api/pkg/metrics"
)

// Shape 调用方期望的顶层结构
type Shape int

const (
	ShapeAny Shape = iota
	ShapeObject
	ShapeArray
)

// ExtractOptions 结构化提取参数
type ExtractOptions struct {
	Expect Shape
	// RequiredField 兜底正则搜索时用于识别目标对象的字段名
	RequiredField string
}

var (
	fencePattern         = regexp.MustCompile("```[A-Za-z0-9_-]*")
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKeyPattern   = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*:)`)
)

// ExtractStructured 从模型输出中恢复结构化 JSON。
// 依次尝试：去除代码围栏、截取对象与数组候选片段、直接解析、修复尾逗号与未加引号的键、
// 期望数组时把单个对象包装为单元素数组、按必填字段正则兜底。全部失败返回 ExtractionFailure，Detail 携带原文。
func ExtractStructured(text string, opts ExtractOptions) (json.RawMessage, error) {
	cleaned := strings.TrimSpace(fencePattern.ReplaceAllString(text, ""))

	for _, candidate := range sliceCandidates(cleaned) {
		fixed, outcome := candidate, "direct"
		if !json.Valid([]byte(fixed)) {
			fixed, outcome = repairJSON(candidate), "repaired"
			if !json.Valid([]byte(fixed)) {
				continue
			}
		}
		if raw, ok := finish(fixed, opts, outcome); ok {
			return raw, nil
		}
	}

	if opts.RequiredField != "" {
		if raw, ok := regexFallback(cleaned, opts); ok {
			metrics.ExtractionTotal.WithLabelValues("regex").Inc()
			return raw, nil
		}
	}

	metrics.ExtractionTotal.WithLabelValues("failed").Inc()
	return nil, apperrors.ErrExtractionFailure.WithDetail(text)
}

// ExtractInto 提取并解码到 v；解码失败同样视为 ExtractionFailure
func ExtractInto(text string, opts ExtractOptions, v any) error {
	raw, err := ExtractStructured(text, opts)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperrors.ErrExtractionFailure.WithDetail(text).WithError(err)
	}
	return nil
}

// finish 校验顶层结构，需要时把对象包装为数组；结构不符返回 false
func finish(candidate string, opts ExtractOptions, outcome string) (json.RawMessage, bool) {
	first := firstByte(candidate)

	switch opts.Expect {
	case ShapeArray:
		if first == '{' {
			metrics.ExtractionTotal.WithLabelValues("wrapped").Inc()
			return json.RawMessage("[" + candidate + "]"), true
		}
		if first != '[' {
			return nil, false
		}
	case ShapeObject:
		if first != '{' {
			return nil, false
		}
	}

	metrics.ExtractionTotal.WithLabelValues(outcome).Inc()
	return json.RawMessage(candidate), true
}

// sliceCandidates 分别截取第一个 { 到最后一个 }、第一个 [ 到最后一个 ]，较长的片段在前。
// 正文中零散的括号只会产生较短且通常无法解析的片段。
func sliceCandidates(s string) []string {
	var out []string
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(s, pair[0])
		end := strings.LastIndex(s, pair[1])
		if start >= 0 && end > start {
			out = append(out, s[start:end+1])
		}
	}
	if len(out) == 2 && len(out[1]) > len(out[0]) {
		out[0], out[1] = out[1], out[0]
	}
	return out
}

// repairJSON 去除尾逗号并为未加引号的键补引号，只改写字符串字面量之外的部分
func repairJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)

	seg, inString, escaped := 0, false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				b.WriteString(repairSegment(s[seg:i]))
				seg, inString = i, true
			}
			continue
		}
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			b.WriteString(s[seg : i+1])
			seg, inString = i+1, false
		}
	}
	if inString {
		b.WriteString(s[seg:])
	} else {
		b.WriteString(repairSegment(s[seg:]))
	}
	return b.String()
}

func repairSegment(seg string) string {
	seg = trailingCommaPattern.ReplaceAllString(seg, "$1")
	return unquotedKeyPattern.ReplaceAllString(seg, `$1"$2"$3`)
}

// regexFallback 搜索包含必填字段的最小平铺对象
func regexFallback(s string, opts ExtractOptions) (json.RawMessage, bool) {
	pattern := regexp.MustCompile(`\{[^{}]*"?` + regexp.QuoteMeta(opts.RequiredField) + `"?\s*:[^{}]*\}`)

	var found []string
	for _, m := range pattern.FindAllString(s, -1) {
		if json.Valid([]byte(m)) {
			found = append(found, m)
			continue
		}
		if r := repairJSON(m); json.Valid([]byte(r)) {
			found = append(found, r)
		}
	}
	if len(found) == 0 {
		return nil, false
	}
	if opts.Expect == ShapeArray {
		return json.RawMessage("[" + strings.Join(found, ",") + "]"), true
	}
	return json.RawMessage(found[0]), true
}

func firstByte(s string) byte {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	return s[0]
}

// List 接受 JSON 数组或单个对象；单个对象解码为单元素切片。
// 用于所有期望对象数组的模型响应字段。
type List[T any] []T

// UnmarshalJSON 实现 json.Unmarshaler
func (l *List[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*l = nil
		return nil
	}
	if b[0] == '[' {
		var items []T
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*l = List[T]{one}
	return nil
}
