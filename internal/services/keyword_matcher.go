package services

import (
	"regexp"
	"sort"
	"strings"

	"commentflow/internal/models"
)

// MatchKeyword reports whether text satisfies the keyword rule. It never errors:
// an invalid REGEX pattern simply does not match.
func MatchKeyword(text string, kw *models.Keyword) bool {
	if kw == nil || kw.Pattern == "" {
		return false
	}

	if kw.MatchType == models.MatchRegex {
		pattern := kw.Pattern
		if !kw.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(text)
	}

	subject, pattern := text, kw.Pattern
	if !kw.CaseSensitive {
		subject = strings.ToLower(subject)
		pattern = strings.ToLower(pattern)
	}

	switch kw.MatchType {
	case models.MatchExact:
		return subject == pattern
	case models.MatchStartsWith:
		return strings.HasPrefix(subject, pattern)
	case models.MatchEndsWith:
		return strings.HasSuffix(subject, pattern)
	default: // CONTAINS 以及未知模式
		return strings.Contains(subject, pattern)
	}
}

// FirstMatchingTrigger 按存储顺序返回第一个关键词命中的触发器
// 没有关键词或关键词未启用的触发器永远不会命中
func FirstMatchingTrigger(text string, triggers []models.AutomationTrigger) (*models.AutomationTrigger, bool) {
	ordered := make([]models.AutomationTrigger, len(triggers))
	copy(ordered, triggers)
	sortTriggers(ordered)

	for i := range ordered {
		kw := ordered[i].Keyword
		if kw == nil || !kw.Active {
			continue
		}
		if MatchKeyword(text, kw) {
			t := ordered[i]
			return &t, true
		}
	}
	return nil, false
}

// sortTriggers 存储顺序：position，其次 id
func sortTriggers(triggers []models.AutomationTrigger) {
	sort.SliceStable(triggers, func(i, j int) bool {
		if triggers[i].Position != triggers[j].Position {
			return triggers[i].Position < triggers[j].Position
		}
		return triggers[i].ID < triggers[j].ID
	})
}
