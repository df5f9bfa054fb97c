package classify

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/WWWonderer/activity-logger/internal/domain"
)

// DefaultAITimeout budgets the synchronous AI callback, which sits on the
// classification path when it triggers.
const DefaultAITimeout = 10 * time.Second

// ambiguousHosts are domains whose category cannot be determined from the
// host alone (general search engines, chat assistants); they require
// keyword disambiguation.
var ambiguousHosts = map[string]struct{}{
	"google.com":            {},
	"bing.com":              {},
	"duckduckgo.com":        {},
	"search.yahoo.com":      {},
	"chatgpt.com":           {},
	"chat.openai.com":       {},
	"claude.ai":             {},
	"gemini.google.com":     {},
	"perplexity.ai":         {},
	"copilot.microsoft.com": {},
}

var browserApps = []string{
	"google chrome", "firefox", "safari", "microsoft edge", "brave", "opera", "arc", "chromium", "vivaldi",
}

// RuleClassifier resolves (app, title, url) to a category and
// productivity flag. Matching order, first hit wins: idle special-case,
// app index, domain/path index, keyword index (which overrides ambiguous
// domain hits), then the optional AI fallback, then Unknown.
type RuleClassifier struct {
	rules     *RuleEngine
	keywords  *KeywordIndex
	suggester domain.Suggester
	logger    *zap.Logger
	aiTimeout time.Duration

	cacheMu sync.Mutex
	aiCache map[string]domain.Suggestion
}

// New creates a classifier. Pass a nil suggester to disable the AI path.
func New(rules *RuleEngine, keywords *KeywordIndex, suggester domain.Suggester, logger *zap.Logger) *RuleClassifier {
	return &RuleClassifier{
		rules:     rules,
		keywords:  keywords,
		suggester: suggester,
		logger:    logger,
		aiTimeout: DefaultAITimeout,
		aiCache:   make(map[string]domain.Suggestion),
	}
}

// Classify maps one observation to (category, productive).
// It never fails: ambiguity resolves to ("Unknown", false).
func (c *RuleClassifier) Classify(app, title, urlStr, contextKey string) (string, bool) {
	normApp := strings.ToLower(strings.TrimSpace(app))
	normTitle := strings.ToLower(strings.TrimSpace(title))

	if normApp == "idle" || normTitle == "idle" {
		return CategoryIdle, false
	}

	if cat, ok := c.rules.MatchApp(normApp); ok {
		return cat, c.resolveProductivity(cat, normTitle, urlStr)
	}

	host, _ := SplitURL(urlStr)
	domCat, domOK := c.rules.MatchDomain(urlStr)
	_, ambiguous := ambiguousHosts[host]

	if domOK && !ambiguous {
		return domCat, c.resolveProductivity(domCat, normTitle, urlStr)
	}

	// Ambiguous domain or no match yet: keyword disambiguation.
	candidates := keywordCandidates(title)
	for _, kw := range candidates {
		if cat, ok := c.keywords.Lookup(kw); ok {
			c.keywords.Touch(cat, kw, contextKey)
			return cat, c.resolveProductivity(cat, normTitle, urlStr)
		}
	}

	if c.suggester != nil && len(candidates) > 0 {
		if cat, prod, ok := c.suggest(app, normApp, title, urlStr, host, ambiguous, candidates[0], contextKey); ok {
			return cat, prod
		}
	}

	if domOK {
		return domCat, c.resolveProductivity(domCat, normTitle, urlStr)
	}
	return CategoryUnknown, false
}

// resolveProductivity applies the category's base flag; "conditional"
// categories resolve per sample via productive URL substrings, then
// productive keyword substrings in the title. First keyword hit wins.
func (c *RuleClassifier) resolveProductivity(category, normTitle, urlStr string) bool {
	rule, ok := c.rules.Category(category)
	if !ok {
		return false
	}
	switch rule.Productive {
	case IsProductive:
		return true
	case Conditional:
		lowerURL := strings.ToLower(urlStr)
		for _, addr := range rule.ProductiveURLs {
			if addr != "" && strings.Contains(lowerURL, strings.ToLower(addr)) {
				return true
			}
		}
		for _, kw := range rule.ProductiveKeywords {
			if kw != "" && strings.Contains(normTitle, strings.ToLower(kw)) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// suggest consults the AI callback, caches the answer, records the
// disambiguating keyword, and - for non-ambiguous hosts and plain apps -
// appends a new rule token exactly once. Callback errors degrade to the
// rule-based result and are never propagated.
func (c *RuleClassifier) suggest(app, normApp, title, urlStr, host string, ambiguous bool, keyword, contextKey string) (string, bool, bool) {
	browser := isBrowser(normApp)

	var cacheKey string
	if browser && host != "" {
		cacheKey = "host:" + host
		if ambiguous {
			cacheKey += "|" + keyword
		}
	} else {
		cacheKey = "app:" + normApp
	}

	c.cacheMu.Lock()
	cached, hit := c.aiCache[cacheKey]
	c.cacheMu.Unlock()
	if hit {
		return cached.Category, cached.Productive, true
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.aiTimeout)
	defer cancel()

	sg, err := c.suggester.Suggest(ctx, app, title, urlStr)
	if err != nil {
		c.logger.Debug("ai suggestion unavailable",
			zap.String("app", app),
			zap.Error(err))
		return "", false, false
	}
	if sg.Category == "" || sg.Category == CategoryUnknown {
		return "", false, false
	}

	c.cacheMu.Lock()
	c.aiCache[cacheKey] = sg
	c.cacheMu.Unlock()

	c.keywords.Touch(sg.Category, keyword, contextKey)

	productive := NotProductive
	if sg.Productive {
		productive = IsProductive
	}
	var ruleErr error
	switch {
	case browser && host != "" && !ambiguous:
		ruleErr = c.rules.AddDomainRule(sg.Category, host, productive)
	case !browser:
		ruleErr = c.rules.AddAppRule(sg.Category, normApp, productive)
	}
	if ruleErr != nil {
		c.logger.Warn("persisting learned rule failed", zap.Error(ruleErr))
	} else {
		c.logger.Info("learned new classification rule",
			zap.String("category", sg.Category),
			zap.String("app", app),
			zap.String("host", host))
	}

	return sg.Category, sg.Productive, true
}

func isBrowser(normApp string) bool {
	if normApp == "" {
		return false
	}
	for _, b := range browserApps {
		if strings.Contains(normApp, b) || strings.Contains(b, normApp) {
			return true
		}
	}
	return false
}

// keywordCandidates extracts up to two phrases from the title: one from
// its leading words and one from its trailing words. Only alphanumeric
// tokens of at least four characters qualify, at most two per phrase.
func keywordCandidates(title string) []string {
	words := strings.Fields(title)

	var lead []string
	for _, w := range words {
		if t, ok := cleanToken(w); ok {
			lead = append(lead, t)
			if len(lead) == 2 {
				break
			}
		}
	}

	var trail []string
	for i := len(words) - 1; i >= 0; i-- {
		if t, ok := cleanToken(words[i]); ok {
			trail = append([]string{t}, trail...)
			if len(trail) == 2 {
				break
			}
		}
	}

	var out []string
	if p := strings.Join(lead, " "); p != "" {
		out = append(out, p)
	}
	if p := strings.Join(trail, " "); p != "" && (len(out) == 0 || p != out[0]) {
		out = append(out, p)
	}
	return out
}

// cleanToken lowercases a word, trims surrounding punctuation, and
// accepts it only if what remains is alphanumeric and at least four
// characters long.
func cleanToken(word string) (string, bool) {
	t := strings.TrimFunc(strings.ToLower(word), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len([]rune(t)) < 4 {
		return "", false
	}
	for _, r := range t {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return "", false
		}
	}
	return t, true
}

// SplitURL extracts the normalized host (lowercase, leading "www."
// stripped) and lowercase path from a URL. Scheme-less URLs are accepted.
func SplitURL(rawURL string) (host, path string) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", ""
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "", ""
	}
	return normalizeHost(u.Hostname()), strings.ToLower(u.EscapedPath())
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	return strings.TrimPrefix(host, "www.")
}
