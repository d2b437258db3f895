package resolution

import (
	"sort"
	"strings"
	"time"

	"github.com/forgecrew/wrangler/internal/unit"
)

// Score computes the 0-100 priority score used for preemption decisions.
// Base 50, adjusted by declared priority tier, complexity, type, deadline
// proximity, and how many units this one blocks.
func Score(u *unit.UnitOfWork, now time.Time) int {
	score := 50

	switch u.Priority {
	case unit.PriorityLow:
		score -= 10
	case unit.PriorityHigh:
		score += 15
	case unit.PriorityCritical:
		score += 25
	}

	switch u.Complexity {
	case unit.Simple:
		score -= 5
	case unit.Complex:
		score += 5
	case unit.Expert:
		score += 10
	}

	switch strings.ToLower(u.Type) {
	case "bug":
		score += 10
	case "infra":
		score += 5
	case "refactor":
		score -= 5
	case "test":
		score -= 10
	case "docs":
		score -= 15
	}

	if u.Deadline != nil {
		until := u.Deadline.Sub(now)
		switch {
		case until < 24*time.Hour:
			score += 15
		case until < 72*time.Hour:
			score += 8
		}
	}

	blockBonus := 3 * len(u.Blocks)
	if blockBonus > 15 {
		blockBonus = 15
	}
	score += blockBonus

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// mergeThreshold is the keyword-similarity ratio above which two units are
// considered conceptual duplicates and merged.
const mergeThreshold = 0.6

// stopWords are excluded from keyword similarity.
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "that": {}, "this": {},
	"from": {}, "into": {}, "are": {}, "was": {}, "has": {}, "have": {},
	"will": {}, "should": {}, "when": {}, "then": {}, "all": {}, "any": {},
	"can": {}, "add": {}, "new": {}, "use": {}, "using": {}, "not": {},
}

// keywords tokenizes a unit's text into meaningful lowercase words.
func keywords(u *unit.UnitOfWork) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(u.Text()), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if len(w) < 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

// Similarity returns the shared-keyword ratio (intersection over union)
// between two units' text, stop words excluded.
func Similarity(a, b *unit.UnitOfWork) float64 {
	ka, kb := keywords(a), keywords(b)
	if len(ka) == 0 || len(kb) == 0 {
		return 0
	}
	shared := 0
	for w := range ka {
		if _, ok := kb[w]; ok {
			shared++
		}
	}
	union := len(ka) + len(kb) - shared
	return float64(shared) / float64(union)
}

// agentTypeOrder is the fixed iteration order for reassignment scans and
// doubles as the capability hierarchy for merged-unit agent selection
// (earlier entries outrank later ones).
var agentTypeOrder = []string{
	"architect",
	"senior-developer",
	"devops",
	"test-engineer",
	"code-reviewer",
	"doc-writer",
}

// agentCapabilities maps agent type to its declared capability tags.
var agentCapabilities = map[string][]string{
	"architect":        {"design", "architecture", "schema", "planning", "structure"},
	"senior-developer": {"feature", "api", "endpoint", "bug", "refactor", "implementation", "backend"},
	"devops":           {"deploy", "docker", "pipeline", "infrastructure", "release"},
	"test-engineer":    {"test", "coverage", "spec", "fixture", "regression"},
	"code-reviewer":    {"review", "quality", "lint", "audit"},
	"doc-writer":       {"docs", "documentation", "readme", "guide", "changelog"},
}

// agentBaseDuration estimates how long a typical reservation for the agent
// type is held, used for workload-balanced wait estimates.
var agentBaseDuration = map[string]time.Duration{
	"architect":        60 * time.Minute,
	"senior-developer": 120 * time.Minute,
	"devops":           90 * time.Minute,
	"test-engineer":    60 * time.Minute,
	"code-reviewer":    45 * time.Minute,
	"doc-writer":       30 * time.Minute,
}

const defaultAgentDuration = 90 * time.Minute

// requirementTags infers the capability tags the unit needs from its text.
func requirementTags(u *unit.UnitOfWork) map[string]struct{} {
	text := strings.ToLower(u.Text())
	tags := make(map[string]struct{})
	for _, caps := range agentCapabilities {
		for _, tag := range caps {
			if strings.Contains(text, tag) {
				tags[tag] = struct{}{}
			}
		}
	}
	return tags
}

// rankAgent returns the capability-hierarchy rank of an agent type; lower
// outranks higher. Unknown types rank last.
func rankAgent(agentType string) int {
	for i, a := range agentTypeOrder {
		if a == agentType {
			return i
		}
	}
	return len(agentTypeOrder)
}

// layerFor assigns a unit to a coarse architectural layer from its text.
func layerFor(u *unit.UnitOfWork) string {
	text := strings.ToLower(u.Text())
	switch {
	case containsAny(text, "ui", "component", "frontend", "page", "style"):
		return "presentation"
	case containsAny(text, "api", "endpoint", "route", "handler"):
		return "interface"
	case containsAny(text, "database", "model", "schema", "migration", "storage"):
		return "persistence"
	case containsAny(text, "test", "coverage", "spec"):
		return "verification"
	default:
		return "logic"
	}
}

func containsAny(text string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func sortedStrings(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
