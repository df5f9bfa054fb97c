package classify

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/WWWonderer/activity-logger/internal/infra"
)

const (
	// DefaultKeywordCapacity bounds each category's keyword list.
	DefaultKeywordCapacity = 500

	// DefaultKeywordCooldown suppresses repeat increments of the same
	// keyword for the same context key, so one continuous viewing
	// session counts once rather than once per poll tick.
	DefaultKeywordCooldown = 120 * time.Second

	// touchStateLimit caps the cooldown bookkeeping map.
	touchStateLimit = 1024
)

// KeywordEntry is one learned keyword with its observation count.
type KeywordEntry struct {
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}

// KeywordIndex is a bounded per-category keyword->count cache used as an
// overflow classifier when app and domain rules miss. Eviction replaces
// the lowest-count entry (ties broken by earliest insertion index) with
// the newcomer at count 1 - an approximate least-frequently-used policy.
// Every mutation rewrites the whole index file.
type KeywordIndex struct {
	path     string
	capacity int
	cooldown time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	entries   map[string][]KeywordEntry
	lastTouch map[string]time.Time // contextKey + keyword -> last increment
}

// IndexOption configures a KeywordIndex.
type IndexOption func(*KeywordIndex)

// WithCapacity overrides the per-category entry limit.
func WithCapacity(n int) IndexOption {
	return func(k *KeywordIndex) {
		if n > 0 {
			k.capacity = n
		}
	}
}

// WithCooldown overrides the per-context re-increment cooldown.
func WithCooldown(d time.Duration) IndexOption {
	return func(k *KeywordIndex) {
		if d > 0 {
			k.cooldown = d
		}
	}
}

// NewKeywordIndex creates an index backed by the given file with default
// capacity and cooldown. Call Load before first use.
func NewKeywordIndex(path string, logger *zap.Logger, opts ...IndexOption) *KeywordIndex {
	k := &KeywordIndex{
		path:      path,
		capacity:  DefaultKeywordCapacity,
		cooldown:  DefaultKeywordCooldown,
		logger:    logger,
		now:       time.Now,
		entries:   make(map[string][]KeywordEntry),
		lastTouch: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Load reads the index file. Missing or corrupt files degrade to an
// empty index.
func (k *KeywordIndex) Load() error {
	data, err := os.ReadFile(k.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read keyword index: %w", err)
	}

	parsed := make(map[string][]KeywordEntry)
	if err := sonic.Unmarshal(data, &parsed); err != nil {
		k.logger.Warn("keyword index is malformed, starting empty",
			zap.String("path", k.path),
			zap.Error(err))
		return nil
	}

	k.mu.Lock()
	k.entries = parsed
	k.mu.Unlock()
	return nil
}

// Lookup returns the category owning the keyword. Categories are scanned
// in sorted order for deterministic results.
func (k *KeywordIndex) Lookup(keyword string) (string, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	names := make([]string, 0, len(k.entries))
	for name := range k.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, e := range k.entries[name] {
			if e.Keyword == keyword {
				return name, true
			}
		}
	}
	return "", false
}

// Touch records an observation of keyword under category. Re-observations
// of the same keyword for the same context key within the cooldown window
// are ignored. The index file is rewritten on every accepted change.
func (k *KeywordIndex) Touch(category, keyword, contextKey string) {
	if category == "" || keyword == "" {
		return
	}
	now := k.now()

	k.mu.Lock()
	stateKey := contextKey + "\x00" + keyword
	if last, ok := k.lastTouch[stateKey]; ok && now.Sub(last) < k.cooldown {
		k.mu.Unlock()
		return
	}
	k.lastTouch[stateKey] = now
	k.pruneTouchState(now)
	k.bump(category, keyword)
	data, err := sonic.MarshalIndent(k.entries, "", "  ")
	k.mu.Unlock()

	if err != nil {
		k.logger.Warn("marshal keyword index failed", zap.Error(err))
		return
	}
	if err := infra.WriteFileAtomic(k.path, data, 0o644); err != nil {
		k.logger.Warn("write keyword index failed",
			zap.String("path", k.path),
			zap.Error(err))
	}
}

// bump increments or inserts the keyword, evicting on capacity.
// Caller holds k.mu.
func (k *KeywordIndex) bump(category, keyword string) {
	list := k.entries[category]

	for i := range list {
		if list[i].Keyword == keyword {
			list[i].Count++
			return
		}
	}

	if len(list) < k.capacity {
		k.entries[category] = append(list, KeywordEntry{Keyword: keyword, Count: 1})
		return
	}

	// Evict the lowest-count entry; the first occurrence is the
	// earliest-inserted, which breaks ties.
	victim := 0
	for i := 1; i < len(list); i++ {
		if list[i].Count < list[victim].Count {
			victim = i
		}
	}
	list[victim] = KeywordEntry{Keyword: keyword, Count: 1}
}

// pruneTouchState drops expired cooldown records once the map grows past
// its limit. Caller holds k.mu.
func (k *KeywordIndex) pruneTouchState(now time.Time) {
	if len(k.lastTouch) < touchStateLimit {
		return
	}
	for key, last := range k.lastTouch {
		if now.Sub(last) >= k.cooldown {
			delete(k.lastTouch, key)
		}
	}
}

// Size returns the number of keywords recorded for a category.
func (k *KeywordIndex) Size(category string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries[category])
}

// Count returns the recorded count for a keyword within a category.
func (k *KeywordIndex) Count(category, keyword string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, e := range k.entries[category] {
		if e.Keyword == keyword {
			return e.Count
		}
	}
	return 0
}
