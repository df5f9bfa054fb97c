// Package classify implements the layered rule-based activity classifier:
// app-name match, domain/path match, keyword-frequency match, and an
// optional AI fallback that feeds discoveries back into the rule set.
package classify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/WWWonderer/activity-logger/internal/infra"
)

// Well-known category names returned by the classifier itself.
const (
	CategoryIdle    = "Idle"
	CategoryUnknown = "Unknown"
)

// Productivity is the tri-state productivity flag of a category.
// It serializes as true, false, or "conditional".
type Productivity int

const (
	NotProductive Productivity = iota
	IsProductive
	Conditional
)

// MarshalJSON encodes the tri-state flag.
func (p Productivity) MarshalJSON() ([]byte, error) {
	switch p {
	case IsProductive:
		return []byte("true"), nil
	case Conditional:
		return []byte(`"conditional"`), nil
	default:
		return []byte("false"), nil
	}
}

// UnmarshalJSON decodes true/false/"conditional"; anything else is rejected.
func (p *Productivity) UnmarshalJSON(data []byte) error {
	switch strings.TrimSpace(string(data)) {
	case "true":
		*p = IsProductive
	case "false":
		*p = NotProductive
	case `"conditional"`:
		*p = Conditional
	default:
		return fmt.Errorf("invalid productive flag: %s", data)
	}
	return nil
}

// CategoryRule is one category's matching configuration.
// Domain tokens are either "host" or "host/path-prefix".
type CategoryRule struct {
	Productive         Productivity `json:"productive"`
	Apps               []string     `json:"apps,omitempty"`
	Domains            []string     `json:"domains,omitempty"`
	ProductiveURLs     []string     `json:"productive_urls,omitempty"`
	ProductiveKeywords []string     `json:"productive_keywords,omitempty"`
}

type domainEntry struct {
	category   string
	pathPrefix string // empty for a host-only catch-all
}

// RuleEngine owns the persisted category rules and the derived lookup
// indexes. All mutations rewrite the whole rule file and rebuild the
// indexes under the engine's lock, so every change is immediately durable.
type RuleEngine struct {
	path   string
	logger *zap.Logger

	mu          sync.RWMutex
	rules       map[string]*CategoryRule
	appIndex    map[string]string // normalized app name -> category
	domainIndex map[string][]domainEntry
}

// NewRuleEngine creates a rule engine backed by the given rule file.
// Call Load before first use.
func NewRuleEngine(path string, logger *zap.Logger) *RuleEngine {
	return &RuleEngine{
		path:   path,
		logger: logger,
		rules:  make(map[string]*CategoryRule),
	}
}

// Load reads the rule file. A missing file is seeded with the default
// rule set; a corrupt file degrades to the defaults without touching the
// file on disk.
func (e *RuleEngine) Load() error {
	data, err := os.ReadFile(e.path)
	if os.IsNotExist(err) {
		e.mu.Lock()
		e.rules = DefaultRules()
		e.rebuildIndexes()
		e.mu.Unlock()
		if err := e.persist(); err != nil {
			return fmt.Errorf("seed default rules: %w", err)
		}
		e.logger.Info("seeded default category rules", zap.String("path", e.path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("read rule file: %w", err)
	}

	parsed := make(map[string]*CategoryRule)
	if err := sonic.Unmarshal(data, &parsed); err != nil {
		e.logger.Warn("rule file is malformed, using defaults",
			zap.String("path", e.path),
			zap.Error(err))
		parsed = DefaultRules()
	}

	e.mu.Lock()
	e.rules = validateRules(parsed, e.logger)
	e.rebuildIndexes()
	e.mu.Unlock()
	return nil
}

// validateRules drops malformed entries early instead of failing deep in
// matching logic.
func validateRules(in map[string]*CategoryRule, logger *zap.Logger) map[string]*CategoryRule {
	out := make(map[string]*CategoryRule, len(in))
	for name, rule := range in {
		name = strings.TrimSpace(name)
		if name == "" || rule == nil {
			logger.Warn("dropping malformed rule entry", zap.String("category", name))
			continue
		}
		rule.Apps = cleanTokens(rule.Apps)
		rule.Domains = cleanTokens(rule.Domains)
		out[name] = rule
	}
	return out
}

func cleanTokens(tokens []string) []string {
	out := tokens[:0]
	for _, t := range tokens {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Category returns a copy of the named category's rule.
func (e *RuleEngine) Category(name string) (CategoryRule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rule, ok := e.rules[name]
	if !ok {
		return CategoryRule{}, false
	}
	return *rule, true
}

// Categories returns the category names with their base productivity flags.
func (e *RuleEngine) Categories() map[string]Productivity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]Productivity, len(e.rules))
	for name, rule := range e.rules {
		out[name] = rule.Productive
	}
	return out
}

// MatchApp looks up a normalized (lowercase, trimmed) app name.
func (e *RuleEngine) MatchApp(normApp string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cat, ok := e.appIndex[normApp]
	return cat, ok
}

// MatchDomain matches the URL's host and path against the domain index.
// For a host with several entries, path-prefix rules win longest-first,
// then the host-only catch-all. Subdomains fall back to their parent
// domain's entries.
func (e *RuleEngine) MatchDomain(rawURL string) (string, bool) {
	host, path := SplitURL(rawURL)
	if host == "" {
		return "", false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for h := host; h != ""; h = parentDomain(h) {
		entries := e.domainIndex[h]
		if len(entries) == 0 {
			continue
		}
		best, bestLen, hostOnly := "", -1, ""
		for _, en := range entries {
			if en.pathPrefix == "" {
				hostOnly = en.category
				continue
			}
			if strings.HasPrefix(path, en.pathPrefix) && len(en.pathPrefix) > bestLen {
				best, bestLen = en.category, len(en.pathPrefix)
			}
		}
		if best != "" {
			return best, true
		}
		if hostOnly != "" {
			return hostOnly, true
		}
	}
	return "", false
}

// AddAppRule appends an app token to a category and persists the rule set.
// The category is created when absent; duplicate tokens are ignored.
func (e *RuleEngine) AddAppRule(category, app string, productive Productivity) error {
	app = strings.ToLower(strings.TrimSpace(app))
	if category == "" || app == "" {
		return fmt.Errorf("empty category or app token")
	}
	return e.mutate(category, productive, func(rule *CategoryRule) bool {
		if containsToken(rule.Apps, app) {
			return false
		}
		rule.Apps = append(rule.Apps, app)
		return true
	})
}

// AddDomainRule appends a domain token to a category and persists the
// rule set. The category is created when absent; duplicate tokens are
// ignored.
func (e *RuleEngine) AddDomainRule(category, token string, productive Productivity) error {
	token = strings.ToLower(strings.TrimSpace(token))
	if category == "" || token == "" {
		return fmt.Errorf("empty category or domain token")
	}
	return e.mutate(category, productive, func(rule *CategoryRule) bool {
		if containsToken(rule.Domains, token) {
			return false
		}
		rule.Domains = append(rule.Domains, token)
		return true
	})
}

// mutate applies fn to the category's rule and persists when fn reports
// a change.
func (e *RuleEngine) mutate(category string, productive Productivity, fn func(*CategoryRule) bool) error {
	e.mu.Lock()
	rule, ok := e.rules[category]
	if !ok {
		rule = &CategoryRule{Productive: productive}
		e.rules[category] = rule
	}
	changed := fn(rule)
	if changed {
		e.rebuildIndexes()
	}
	e.mu.Unlock()

	if !changed {
		return nil
	}
	return e.persist()
}

// persist rewrites the whole rule file (read-modify-write, atomic rename).
func (e *RuleEngine) persist() error {
	e.mu.RLock()
	data, err := sonic.MarshalIndent(e.rules, "", "  ")
	e.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	if err := infra.WriteFileAtomic(e.path, data, 0o644); err != nil {
		return fmt.Errorf("write rule file: %w", err)
	}
	return nil
}

// Watch reloads the rule file when it changes on disk, so external edits
// take effect without a restart. Blocks until the context is canceled;
// run it in its own goroutine.
func (e *RuleEngine) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: atomic renames replace the file inode.
	if err := watcher.Add(filepath.Dir(e.path)); err != nil {
		return fmt.Errorf("watch rule dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(e.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := e.Load(); err != nil {
				e.logger.Warn("rule reload failed", zap.Error(err))
			} else {
				e.logger.Info("category rules reloaded", zap.String("path", e.path))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Warn("rule watcher error", zap.Error(err))
		}
	}
}

// rebuildIndexes recomputes the app and domain indexes. Caller holds e.mu.
func (e *RuleEngine) rebuildIndexes() {
	appIndex := make(map[string]string)
	domainIndex := make(map[string][]domainEntry)

	for category, rule := range e.rules {
		for _, app := range rule.Apps {
			appIndex[app] = category
		}
		for _, token := range rule.Domains {
			host, prefix := token, ""
			if i := strings.Index(token, "/"); i >= 0 {
				host, prefix = token[:i], token[i:]
			}
			host = normalizeHost(host)
			if host == "" {
				continue
			}
			domainIndex[host] = append(domainIndex[host], domainEntry{
				category:   category,
				pathPrefix: prefix,
			})
		}
	}

	e.appIndex = appIndex
	e.domainIndex = domainIndex
}

func containsToken(tokens []string, token string) bool {
	for _, t := range tokens {
		if t == token {
			return true
		}
	}
	return false
}

// parentDomain strips the leftmost label, stopping before bare TLDs.
func parentDomain(h string) string {
	i := strings.Index(h, ".")
	if i < 0 {
		return ""
	}
	rest := h[i+1:]
	if !strings.Contains(rest, ".") {
		return ""
	}
	return rest
}
