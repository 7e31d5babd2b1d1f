package gemini

import (
	"regexp"
	"strings"
)

var (
	trailingCommaBrace   = regexp.MustCompile(`,\s*}`)
	trailingCommaBracket = regexp.MustCompile(`,\s*]`)
)

// RepairJSON 尽力修复模型返回的JSON文本：去掉代码围栏、清理尾逗号、
// 补齐在数组中途被截断的结尾。只做这几类固定变换，不是完整解析器，
// 修不好的输入由调用方按"输出格式错误"上报。
func RepairJSON(raw string) string {
	cleaned := strings.TrimSpace(raw)

	if strings.HasPrefix(cleaned, "```json") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimSuffix(cleaned, "```")
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
	}

	cleaned = strings.TrimSpace(cleaned)

	cleaned = trailingCommaBrace.ReplaceAllString(cleaned, "}")
	cleaned = trailingCommaBracket.ReplaceAllString(cleaned, "]")

	// 不以}结尾说明多半在steps数组中途被截断，直接补上"]}"
	if !strings.HasSuffix(cleaned, "}") && strings.HasPrefix(cleaned, "{") {
		cleaned += "]}"
	}

	return cleaned
}
