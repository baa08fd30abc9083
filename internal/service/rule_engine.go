// Package service contains the application services behind the policy
// gateway: rule evaluation, the gateway itself, idempotency, the approval
// queue and telemetry.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	celeval "github.com/kestrel-social/kestrel/internal/adapter/outbound/cel"
	"github.com/kestrel-social/kestrel/internal/domain/policy"
)

// CompiledRule is a rule with its CEL condition compiled. Compiled is nil
// for rules without a condition.
type CompiledRule struct {
	policy.Rule
	Compiled *celeval.Condition
	order    int
}

// RuleIndex provides O(1) lookup for exact tool matches.
type RuleIndex struct {
	Exact    map[string][]*CompiledRule // "like_tweet" -> rules for exact match
	Wildcard []*CompiledRule            // "*", "" or glob patterns, in priority order
}

// rulesSnapshot is the immutable rule set published through atomic.Pointer.
type rulesSnapshot struct {
	gen      uint64
	rules    []*CompiledRule // hard tier first, then standard, each by priority
	hard     *RuleIndex
	standard *RuleIndex
	// cacheable is false when a condition reads request_time, whose
	// granularity is finer than the hour bucket in the cache key.
	cacheable bool
}

type cachedMatch struct {
	gen  uint64
	rule *CompiledRule
}

// RuleEngine implements policy.Engine with CEL-based conditions. Rules are
// compiled at load time and evaluated in priority order (highest first).
// Reload swaps the whole snapshot, so an evaluation never sees a partial
// update.
type RuleEngine struct {
	evaluator *celeval.Evaluator
	snapshot  atomic.Pointer[rulesSnapshot]
	mu        sync.Mutex // serializes Reload
	gen       atomic.Uint64
	cache     *lru.Cache[uint64, cachedMatch]
	cacheSize int
	logger    *slog.Logger
}

// RuleEngineOption configures RuleEngine.
type RuleEngineOption func(*RuleEngine)

// WithCacheSize sets the maximum number of cached rule matches.
func WithCacheSize(size int) RuleEngineOption {
	return func(e *RuleEngine) {
		e.cacheSize = size
	}
}

// NewRuleEngine compiles rules and returns a ready engine.
func NewRuleEngine(rules []policy.Rule, logger *slog.Logger, opts ...RuleEngineOption) (*RuleEngine, error) {
	evaluator, err := celeval.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	e := &RuleEngine{
		evaluator: evaluator,
		cacheSize: 1000,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cache, err = lru.New[uint64, cachedMatch](e.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create rule cache: %w", err)
	}

	if err := e.Reload(rules); err != nil {
		return nil, err
	}
	snap := e.snapshot.Load()
	logger.Info("rule engine initialized",
		"rules_compiled", len(snap.rules),
		"hard_rules", len(snap.hard.Wildcard)+countExact(snap.hard),
		"cache_max_size", e.cacheSize,
	)
	return e, nil
}

func countExact(idx *RuleIndex) int {
	n := 0
	for _, rs := range idx.Exact {
		n += len(rs)
	}
	return n
}

// ValidateRules checks structure and CEL conditions without installing the rules.
func (e *RuleEngine) ValidateRules(rules []policy.Rule) error {
	seen := make(map[string]bool, len(rules))
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return err
		}
		if seen[rule.Key()] {
			return fmt.Errorf("duplicate rule %q", rule.Key())
		}
		seen[rule.Key()] = true
		if err := e.evaluator.Validate(rule); err != nil {
			return err
		}
	}
	return nil
}

// Reload validates, compiles and atomically installs a new rule set. On error
// the previous rule set stays active.
func (e *RuleEngine) Reload(rules []policy.Rule) error {
	if err := e.ValidateRules(rules); err != nil {
		return err
	}

	snap := &rulesSnapshot{cacheable: true}
	var hard, standard []*CompiledRule
	for i, rule := range rules {
		cr := &CompiledRule{Rule: rule, order: i}
		if cr.ID == "" {
			cr.ID = cr.Name
		}
		if rule.Condition != "" {
			cond, err := e.evaluator.Compile(cr.ID, rule.Condition)
			if err != nil {
				return err
			}
			cr.Compiled = cond
			if cond.Uses("request_time") {
				snap.cacheable = false
			}
		}
		if rule.Hard {
			hard = append(hard, cr)
		} else {
			standard = append(standard, cr)
		}
	}
	sortRules(hard)
	sortRules(standard)
	snap.rules = append(append(snap.rules, hard...), standard...)
	snap.hard = buildIndex(hard)
	snap.standard = buildIndex(standard)

	e.mu.Lock()
	snap.gen = e.gen.Add(1)
	e.snapshot.Store(snap)
	e.mu.Unlock()

	// Cached matches point into the old snapshot; the generation check
	// ignores any that race with this purge.
	e.cache.Purge()

	if e.logger != nil {
		e.logger.Info("rules reloaded", "rules", len(snap.rules), "generation", snap.gen)
	}
	return nil
}

// sortRules orders by priority descending; ties keep configuration order.
func sortRules(rules []*CompiledRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].order < rules[j].order
	})
}

func isGlob(pattern string) bool {
	return pattern == "" || strings.ContainsAny(pattern, "*?[")
}

// buildIndex creates a RuleIndex from priority-sorted rules.
func buildIndex(rules []*CompiledRule) *RuleIndex {
	idx := &RuleIndex{Exact: make(map[string][]*CompiledRule)}
	for _, rule := range rules {
		if isGlob(rule.ToolMatch) {
			idx.Wildcard = append(idx.Wildcard, rule)
		} else {
			idx.Exact[rule.ToolMatch] = append(idx.Exact[rule.ToolMatch], rule)
		}
	}
	return idx
}

// candidates merges exact matches with wildcards, keeping priority order.
func candidates(idx *RuleIndex, tool string) []*CompiledRule {
	exact := idx.Exact[tool]
	if len(exact) == 0 {
		return idx.Wildcard
	}
	if len(idx.Wildcard) == 0 {
		return exact
	}

	merged := make([]*CompiledRule, 0, len(exact)+len(idx.Wildcard))
	i, j := 0, 0
	for i < len(exact) && j < len(idx.Wildcard) {
		a, b := exact[i], idx.Wildcard[j]
		if a.Priority > b.Priority || (a.Priority == b.Priority && a.order < b.order) {
			merged = append(merged, a)
			i++
		} else {
			merged = append(merged, b)
			j++
		}
	}
	merged = append(merged, exact[i:]...)
	merged = append(merged, idx.Wildcard[j:]...)
	return merged
}

// Rules returns the active rule set in evaluation order.
func (e *RuleEngine) Rules() []policy.Rule {
	snap := e.snapshot.Load()
	out := make([]policy.Rule, len(snap.rules))
	for i, r := range snap.rules {
		out[i] = r.Rule
	}
	return out
}

// UsesLanguage reports whether an active rule filters on the content
// language or reads it in its condition.
func (e *RuleEngine) UsesLanguage() bool {
	for _, r := range e.snapshot.Load().rules {
		if len(r.Languages) > 0 || (r.Compiled != nil && r.Compiled.Uses("language")) {
			return true
		}
	}
	return false
}

// Match returns the first rule in the queried tier that matches req.
func (e *RuleEngine) Match(ctx context.Context, req policy.Request, mode policy.Mode, q policy.Query) (*policy.Rule, error) {
	if req.Time.IsZero() {
		req.Time = time.Now()
	}
	snap := e.snapshot.Load()

	var key uint64
	if snap.cacheable {
		key = matchCacheKey(req, mode, q)
		if hit, ok := e.cache.Get(key); ok && hit.gen == snap.gen {
			if hit.rule == nil {
				return nil, nil
			}
			r := hit.rule.Rule
			return &r, nil
		}
	}

	idx := snap.standard
	if q.Hard {
		idx = snap.hard
	}

	var matched *CompiledRule
	for _, rule := range candidates(idx, req.Tool) {
		if q.Action != "" && rule.Action != q.Action {
			continue
		}
		ok, err := e.matches(ctx, rule, req, mode)
		if err != nil {
			return nil, fmt.Errorf("rule %s evaluation failed: %w", rule.ID, err)
		}
		if ok {
			matched = rule
			break
		}
	}

	if snap.cacheable {
		e.cache.Add(key, cachedMatch{gen: snap.gen, rule: matched})
	}
	if matched == nil {
		return nil, nil
	}
	r := matched.Rule
	return &r, nil
}

func (e *RuleEngine) matches(ctx context.Context, rule *CompiledRule, req policy.Request, mode policy.Mode) (bool, error) {
	// Lone "*" matches every tool name.
	if isGlob(rule.ToolMatch) && rule.ToolMatch != "" && rule.ToolMatch != "*" {
		ok, err := filepath.Match(rule.ToolMatch, req.Tool)
		if err != nil {
			if e.logger != nil {
				e.logger.Warn("invalid glob pattern", "rule", rule.ID, "pattern", rule.ToolMatch, "error", err)
			}
			return false, nil
		}
		if !ok {
			return false, nil
		}
	}
	if len(rule.Categories) > 0 && !slices.Contains(rule.Categories, req.Category) {
		return false, nil
	}
	if len(rule.Modes) > 0 && !slices.Contains(rule.Modes, mode) {
		return false, nil
	}
	if len(rule.Actors) > 0 && !actorMatches(rule.Actors, req.Actor) {
		return false, nil
	}
	if len(rule.Languages) > 0 && !slices.Contains(rule.Languages, req.Language) {
		return false, nil
	}
	if rule.Window != nil && !rule.Window.Contains(req.Time) {
		return false, nil
	}
	if rule.Compiled == nil {
		return true, nil
	}
	return e.evaluator.Evaluate(ctx, rule.Compiled, req, mode)
}

func actorMatches(patterns []string, actor string) bool {
	for _, p := range patterns {
		if p == "*" || p == actor {
			return true
		}
		if ok, err := path.Match(p, actor); err == nil && ok {
			return true
		}
	}
	return false
}

// matchCacheKey hashes every request field a rule can observe. Time is
// bucketed to the hour, which is the finest granularity of windows and of
// the hour/weekday CEL variables.
func matchCacheKey(req policy.Request, mode policy.Mode, q policy.Query) uint64 {
	h := xxhash.New()
	write := func(s string) {
		_, _ = h.WriteString(s)
		_, _ = h.Write([]byte{0})
	}
	if q.Hard {
		write("hard")
	} else {
		write("standard")
	}
	write(string(q.Action))
	write(string(mode))
	write(req.Tool)
	write(string(req.Category))
	write(req.Actor)
	write(req.Language)
	write(req.Author)
	write(req.Keyword)
	write(req.Engagement)
	write(req.Content)
	write(fmt.Sprintf("%g|%t", req.Score, req.Approved()))
	write(req.Time.UTC().Truncate(time.Hour).Format(time.RFC3339))
	if len(req.Args) > 0 {
		// encoding/json sorts map keys, so the encoding is deterministic.
		argsJSON, _ := json.Marshal(req.Args)
		_, _ = h.Write(argsJSON)
	}
	return h.Sum64()
}

// CacheLen returns the number of cached matches.
func (e *RuleEngine) CacheLen() int {
	return e.cache.Len()
}

// Compile-time interface verification.
var _ policy.Engine = (*RuleEngine)(nil)
