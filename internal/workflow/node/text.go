package node

import "strings"

// TruncateByRunes 按字符数截断，避免把多字节字符切开
func TruncateByRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == maxRunes {
			return s[:i]
		}
		count++
	}
	return s
}

// TruncateAtLine 按字符数截断后回退到最后一个换行，使剧本不在一行中间被切断。
// 换行落在保留部分的前四分之三时不回退，避免丢失过多内容。
func TruncateAtLine(s string, maxRunes int) string {
	cut := TruncateByRunes(s, maxRunes)
	if len(cut) == len(s) {
		return s
	}
	nl := strings.LastIndexByte(cut, '\n')
	if nl < 0 || nl < len(cut)*3/4 {
		return cut
	}
	return cut[:nl]
}
