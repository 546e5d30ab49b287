package document

import (
	"sort"
	"strings"
)

// CategoryGeneral is the fallback when no category keyword matches.
const CategoryGeneral = "general"

// categoryKeywords scores sections into coarse documentation categories.
// Keywords are matched against lowercased content plus title.
var categoryKeywords = map[string][]string{
	"deployment":  {"deployment", "install", "setup", "configuration"},
	"performance": {"performance", "speed", "latency", "throughput"},
	"features":    {"feature", "functionality", "capability"},
	"scalability": {"scale", "scalability", "distributed", "cluster"},
	"security":    {"security", "authentication", "encryption"},
	"integration": {"integration", "connector", "plugin"},
}

// Categories lists every category the detector can assign, general included.
func Categories() []string {
	cats := make([]string, 0, len(categoryKeywords)+1)
	for c := range categoryKeywords {
		cats = append(cats, c)
	}
	cats = append(cats, CategoryGeneral)
	sort.Strings(cats)
	return cats
}

// DetectCategory picks the category whose keywords occur most often in the
// section. Ties resolve to the lexicographically smallest category so the
// result is deterministic.
func DetectCategory(content, title string) string {
	haystack := strings.ToLower(content + " " + title)

	best := CategoryGeneral
	bestScore := 0
	for category, keywords := range categoryKeywords {
		score := 0
		for _, kw := range keywords {
			if strings.Contains(haystack, kw) {
				score++
			}
		}
		if score > bestScore || (score == bestScore && score > 0 && category < best) {
			best = category
			bestScore = score
		}
	}
	return best
}
