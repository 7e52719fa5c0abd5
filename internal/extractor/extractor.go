package extractor

import (
	"regexp"
)

// Pattern 描述一条验证码匹配规则。
//
// Group 为捕获组下标，0 表示整体匹配（无标签的裸数字规则）。
type Pattern struct {
	Name  string
	Regex *regexp.Regexp
	Group int
}

// Extractor 从邮件文本中提取验证码候选，按规则优先级排序。
//
// 纯函数式组件：无 I/O、无副作用，结果只取决于输入文本。
type Extractor struct {
	patterns []Pattern
}

// DefaultPatterns 返回内置匹配规则。
//
// 带标签的规则（"验证码:"、"verification code:" 等前缀）优先于
// 裸数字兜底规则，保证有上下文的匹配排在前面。
func DefaultPatterns() []Pattern {
	return []Pattern{
		{Name: "labeled_zh", Regex: regexp.MustCompile(`(?i)验证码[：:]\s*(\d{4,8})`), Group: 1},
		{Name: "labeled_verification", Regex: regexp.MustCompile(`(?i)verification code[：:]\s*(\d{4,8})`), Group: 1},
		{Name: "labeled_code", Regex: regexp.MustCompile(`(?i)\bcode[：:]\s*(\d{4,8})`), Group: 1},
		{Name: "labeled_otp", Regex: regexp.MustCompile(`(?i)\bOTP[：:]\s*(\d{4,8})`), Group: 1},
		{Name: "labeled_pin", Regex: regexp.MustCompile(`(?i)\bPIN[：:]\s*(\d{4,8})`), Group: 1},
		{Name: "bare_digits", Regex: regexp.MustCompile(`\b\d{4,8}\b`), Group: 0},
	}
}

// New 创建提取器，patterns 为空时使用内置规则。
func New(patterns ...Pattern) *Extractor {
	if len(patterns) == 0 {
		patterns = DefaultPatterns()
	}
	return &Extractor{patterns: patterns}
}

// Extract 从主题与正文中提取验证码候选。
//
// 返回值按规则优先级排序并已去重，首元素即最终采用的验证码；
// 无任何匹配时返回空切片。
func (e *Extractor) Extract(subject, body string) []string {
	text := subject + " " + body

	seen := make(map[string]struct{})
	var candidates []string

	for _, p := range e.patterns {
		for _, match := range p.Regex.FindAllStringSubmatch(text, -1) {
			if p.Group >= len(match) {
				continue
			}
			code := match[p.Group]
			if _, dup := seen[code]; dup {
				continue
			}
			seen[code] = struct{}{}
			candidates = append(candidates, code)
		}
	}

	return candidates
}
