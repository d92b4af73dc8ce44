package grok

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const fetchInstruction = "获取该网页内容并返回其结构化Markdown格式"

var (
	timeKeywordsZH = []string{"今天", "昨天", "明天", "现在", "最新", "最近", "本周", "本月", "今年"}
	timeKeywordsEN = []string{"today", "yesterday", "tomorrow", "now", "latest", "recent", "current", "this week", "this month", "this year"}
)

func buildSearchMessage(query, platform string, minResults, maxResults int, now time.Time) string {
	var sb strings.Builder

	if NeedsTimeContext(query) {
		sb.WriteString(timeContext(now))
	}
	sb.WriteString(query)

	if p := strings.TrimSpace(platform); p != "" {
		fmt.Fprintf(&sb, "\n\nYou should search the web for the information you need, and focus on these platform: %s", p)
	}
	if maxResults > 0 {
		fmt.Fprintf(&sb, "\n\nYou should return the results in a JSON format, and the results should at least be %d and at most be %d results.", minResults, maxResults)
	}

	return sb.String()
}

func buildFetchMessage(url string) string {
	return strings.TrimSpace(url) + "\n" + fetchInstruction
}

// NeedsTimeContext reports whether a query refers to relative or current
// time, or mentions a year between 2020 and 2099. It is a heuristic.
func NeedsTimeContext(query string) bool {
	for _, kw := range timeKeywordsZH {
		if strings.Contains(query, kw) {
			return true
		}
	}

	lower := strings.ToLower(query)
	for _, kw := range timeKeywordsEN {
		if strings.Contains(lower, kw) {
			return true
		}
	}

	return containsRecentYear(query)
}

// containsRecentYear only accepts maximal digit runs of length four:
// "20245" is not a year.
func containsRecentYear(s string) bool {
	run := 0
	for i := 0; i <= len(s); i++ {
		if i < len(s) && s[i] >= '0' && s[i] <= '9' {
			run++
			continue
		}
		if run == 4 {
			year, err := strconv.Atoi(s[i-4 : i])
			if err == nil && year >= 2020 && year <= 2099 {
				return true
			}
		}
		run = 0
	}
	return false
}

func timeContext(now time.Time) string {
	_, offset := now.Zone()
	sign := '+'
	if offset < 0 {
		sign = '-'
		offset = -offset
	}
	return fmt.Sprintf("Current time: %s (UTC%c%d)\n", now.Format("2006-01-02 15:04:05"), sign, offset/3600)
}
