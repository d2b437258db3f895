// Package taskctx derives a structural fingerprint from a unit of work:
// the files and business modules it is expected to touch and how long it
// should take. The fingerprint is used purely for conflict prediction;
// it is heuristic and allowed to be imprecise.
//
// The keyword-based extractor is the default Predictor. A more precise
// static-analysis-based predictor can be substituted without touching the
// compatibility checker or the resolution engine.
package taskctx

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/forgecrew/wrangler/internal/unit"
)

// Context is the derived fingerprint for a unit of work.
// It is recomputed on demand and never independently mutated.
type Context struct {
	UnitID            string        // Owning unit
	Files             []string      // Affected file paths, sorted, deduplicated
	Modules           []string      // Affected business modules, sorted, deduplicated
	DependsOn         []string      // Declared dependency IDs
	Blocks            []string      // Declared blocking IDs
	EstimatedDuration time.Duration // Heuristic duration estimate
}

// SharesFile returns the files this context has in common with other.
func (c Context) SharesFile(other Context) []string {
	return intersect(c.Files, other.Files)
}

// SharesModule returns the modules this context has in common with other.
func (c Context) SharesModule(other Context) []string {
	return intersect(c.Modules, other.Modules)
}

// Predictor guesses the structural footprint of a unit of work.
// Implementations must be deterministic and side-effect-free.
type Predictor interface {
	// PredictFiles returns the file paths the unit is expected to touch.
	PredictFiles(u *unit.UnitOfWork) []string

	// PredictModules returns the business modules the unit is expected
	// to touch.
	PredictModules(u *unit.UnitOfWork) []string

	// EstimateDuration returns a heuristic duration estimate.
	EstimateDuration(u *unit.UnitOfWork) time.Duration
}

// Extract computes the Context for a unit using the given predictor.
func Extract(p Predictor, u *unit.UnitOfWork) Context {
	return Context{
		UnitID:            u.ID,
		Files:             p.PredictFiles(u),
		Modules:           p.PredictModules(u),
		DependsOn:         append([]string(nil), u.DependsOn...),
		Blocks:            append([]string(nil), u.Blocks...),
		EstimatedDuration: p.EstimateDuration(u),
	}
}

// keywordRule maps trigger keywords found in a unit's text to the paths
// and business module they suggest.
type keywordRule struct {
	keywords []string
	paths    []string
	module   string
}

// moduleRule classifies a declared file path into a business module.
type moduleRule struct {
	pattern glob.Glob
	module  string
}

// KeywordExtractor is the default Predictor. It pattern-matches the unit's
// title and description against a keyword table and classifies explicitly
// declared files with glob patterns.
type KeywordExtractor struct {
	rules       []keywordRule
	moduleRules []moduleRule
}

// NewKeywordExtractor creates a KeywordExtractor with the default rule table.
func NewKeywordExtractor() *KeywordExtractor {
	rules := []keywordRule{
		{
			keywords: []string{"auth", "login", "logout", "password", "permission", "session"},
			paths:    []string{"src/auth/", "src/middleware/auth.js"},
			module:   "user-service",
		},
		{
			keywords: []string{"api", "endpoint", "route", "rest", "handler"},
			paths:    []string{"src/api/", "src/routes/"},
			module:   "api-layer",
		},
		{
			keywords: []string{"database", "model", "schema", "migration", "query"},
			paths:    []string{"src/models/", "migrations/"},
			module:   "data-layer",
		},
		{
			keywords: []string{"ui", "component", "page", "frontend", "style", "layout"},
			paths:    []string{"src/components/", "src/pages/"},
			module:   "ui-layer",
		},
		{
			keywords: []string{"test", "spec", "coverage", "fixture"},
			paths:    []string{"tests/"},
			module:   "test-suite",
		},
		{
			keywords: []string{"deploy", "docker", "pipeline", "ci", "infrastructure"},
			paths:    []string{"config/", "deploy/"},
			module:   "infrastructure",
		},
		{
			keywords: []string{"payment", "billing", "invoice", "subscription"},
			paths:    []string{"src/billing/"},
			module:   "billing-service",
		},
		{
			keywords: []string{"notification", "email", "push", "webhook"},
			paths:    []string{"src/notifications/"},
			module:   "notification-service",
		},
	}

	moduleRules := []moduleRule{
		{glob.MustCompile("src/auth/**"), "user-service"},
		{glob.MustCompile("src/middleware/**"), "user-service"},
		{glob.MustCompile("src/api/**"), "api-layer"},
		{glob.MustCompile("src/routes/**"), "api-layer"},
		{glob.MustCompile("src/models/**"), "data-layer"},
		{glob.MustCompile("migrations/**"), "data-layer"},
		{glob.MustCompile("src/components/**"), "ui-layer"},
		{glob.MustCompile("src/pages/**"), "ui-layer"},
		{glob.MustCompile("tests/**"), "test-suite"},
		{glob.MustCompile("config/**"), "infrastructure"},
		{glob.MustCompile("deploy/**"), "infrastructure"},
		{glob.MustCompile("src/billing/**"), "billing-service"},
		{glob.MustCompile("src/notifications/**"), "notification-service"},
	}

	return &KeywordExtractor{rules: rules, moduleRules: moduleRules}
}

// PredictFiles returns the files the unit is expected to touch: the union
// of explicitly declared files and paths suggested by keyword matches.
func (e *KeywordExtractor) PredictFiles(u *unit.UnitOfWork) []string {
	set := make(map[string]struct{})
	for _, f := range u.Files {
		set[f] = struct{}{}
	}

	text := strings.ToLower(u.Text())
	for _, rule := range e.rules {
		if matchesAny(text, rule.keywords) {
			for _, p := range rule.paths {
				set[p] = struct{}{}
			}
		}
	}

	return sortedKeys(set)
}

// PredictModules returns the business modules the unit is expected to touch,
// from keyword matches plus glob classification of declared files.
func (e *KeywordExtractor) PredictModules(u *unit.UnitOfWork) []string {
	set := make(map[string]struct{})

	text := strings.ToLower(u.Text())
	for _, rule := range e.rules {
		if matchesAny(text, rule.keywords) {
			set[rule.module] = struct{}{}
		}
	}

	for _, f := range u.Files {
		for _, mr := range e.moduleRules {
			if mr.pattern.Match(f) {
				set[mr.module] = struct{}{}
				break
			}
		}
	}

	return sortedKeys(set)
}

// baseMinutes is the duration table keyed by complexity tier.
var baseMinutes = map[unit.Complexity]int{
	unit.Simple:   30,
	unit.Moderate: 90,
	unit.Complex:  180,
	unit.Expert:   360,
}

// typeMultiplier scales the base duration by unit type.
var typeMultiplier = map[string]float64{
	"feature":  1.0,
	"bug":      0.7,
	"refactor": 1.2,
	"test":     0.5,
	"docs":     0.3,
	"infra":    1.1,
}

// EstimateDuration returns the table-lookup duration estimate:
// base minutes for the complexity tier scaled by the type multiplier.
func (e *KeywordExtractor) EstimateDuration(u *unit.UnitOfWork) time.Duration {
	base, ok := baseMinutes[u.Complexity]
	if !ok {
		base = baseMinutes[unit.Moderate]
	}
	mult, ok := typeMultiplier[strings.ToLower(u.Type)]
	if !ok {
		mult = 1.0
	}
	return time.Duration(math.Round(float64(base)*mult)) * time.Minute
}

// matchesAny reports whether any keyword occurs in text.
func matchesAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// sortedKeys returns the set's keys sorted alphabetically for
// deterministic output.
func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// intersect returns the sorted intersection of two sorted string slices.
func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	var out []string
	for _, s := range b {
		if _, ok := set[s]; ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
