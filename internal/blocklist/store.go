// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package blocklist maintains the standing deny rules and decides
// allow/deny for each observed exchange. Evaluation vastly outnumbers rule
// mutation, so the store is guarded by a readers-biased lock.
package blocklist

import (
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"grimm.is/burrow/internal/errors"
	"grimm.is/burrow/internal/traffic"
	"grimm.is/burrow/internal/validation"
)

// Decision is the outcome of evaluating one entry against the rule set.
type Decision struct {
	Allowed bool
	Rule    *traffic.BlockRule // matched rule when denied
}

// Allow is the decision for entries matching no rule.
var Allow = Decision{Allowed: true}

type compiledRule struct {
	rule traffic.BlockRule
	g    glob.Glob // compiled pattern for endpoint and glob-style pattern rules
}

// Store holds the active block rules. Rules of each kind are kept in
// insertion order so ties resolve deterministically: earliest rule wins.
type Store struct {
	mu       sync.RWMutex
	ip       []compiledRule
	endpoint []compiledRule
	pattern  []compiledRule
	byKey    map[string]*compiledRule
}

// NewStore creates an empty rule store.
func NewStore() *Store {
	return &Store{byKey: make(map[string]*compiledRule)}
}

// AddRule validates and inserts a rule. Adding a rule whose discriminating
// key matches an active rule is an idempotent no-op that refreshes the
// existing rule's reason and timestamp; the returned rule is the active one.
func (s *Store) AddRule(rule traffic.BlockRule) (traffic.BlockRule, error) {
	if err := validate(rule); err != nil {
		return traffic.BlockRule{}, err
	}

	if rule.Kind == traffic.RuleEndpoint {
		rule.Method = strings.ToUpper(rule.Method)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byKey[rule.Key()]; ok {
		existing.rule.Reason = rule.Reason
		existing.rule.CreatedAt = time.Now()
		return existing.rule, nil
	}

	rule.ID = uuid.NewString()
	rule.CreatedAt = time.Now()

	cr := compiledRule{rule: rule}
	switch rule.Kind {
	case traffic.RuleIP:
		s.ip = append(s.ip, cr)
	case traffic.RuleEndpoint:
		cr.g, _ = glob.Compile(rule.Pattern)
		s.endpoint = append(s.endpoint, cr)
	case traffic.RulePattern:
		// Pattern rules accept plain substrings; only compile real globs.
		if strings.ContainsAny(rule.Value, "*?[") {
			cr.g, _ = glob.Compile(rule.Value)
		}
		s.pattern = append(s.pattern, cr)
	}

	// Appends can reallocate the backing arrays, so the key index is
	// rebuilt rather than patched.
	s.reindex()

	return rule, nil
}

// RemoveRule removes the active rule matching the discriminating key of the
// given rule. Removing a rule that does not exist is a reported no-op.
func (s *Store) RemoveRule(rule traffic.BlockRule) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := traffic.BlockRule{
		Kind:    rule.Kind,
		Value:   rule.Value,
		Method:  strings.ToUpper(rule.Method),
		Pattern: rule.Pattern,
		Field:   rule.Field,
	}.Key()

	if _, ok := s.byKey[key]; !ok {
		return false
	}
	delete(s.byKey, key)

	remove := func(rules []compiledRule) []compiledRule {
		for i := range rules {
			if rules[i].rule.Key() == key {
				return append(rules[:i], rules[i+1:]...)
			}
		}
		return rules
	}

	switch rule.Kind {
	case traffic.RuleIP:
		s.ip = remove(s.ip)
	case traffic.RuleEndpoint:
		s.endpoint = remove(s.endpoint)
	case traffic.RulePattern:
		s.pattern = remove(s.pattern)
	}
	s.reindex()
	return true
}

// RemoveByID removes a rule by its assigned ID.
func (s *Store) RemoveByID(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rules := range []*[]compiledRule{&s.ip, &s.endpoint, &s.pattern} {
		for i := range *rules {
			if (*rules)[i].rule.ID == id {
				delete(s.byKey, (*rules)[i].rule.Key())
				*rules = append((*rules)[:i], (*rules)[i+1:]...)
				s.reindex()
				return true
			}
		}
	}
	return false
}

// reindex rebuilds byKey pointers after a slice mutation invalidated them.
func (s *Store) reindex() {
	s.byKey = make(map[string]*compiledRule, len(s.ip)+len(s.endpoint)+len(s.pattern))
	for _, rules := range []*[]compiledRule{&s.ip, &s.endpoint, &s.pattern} {
		for i := range *rules {
			s.byKey[(*rules)[i].rule.Key()] = &(*rules)[i]
		}
	}
}

// Evaluate decides allow/deny for an entry. IP rules are checked first,
// then endpoint rules, then generic field-pattern rules; within a kind the
// earliest-inserted matching rule wins.
func (s *Store) Evaluate(entry *traffic.LogEntry) Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.ip {
		if s.ip[i].rule.Value == entry.SourceIP {
			rule := s.ip[i].rule
			return Decision{Allowed: false, Rule: &rule}
		}
	}

	for i := range s.endpoint {
		cr := &s.endpoint[i]
		if cr.rule.Method != "ALL" && cr.rule.Method != entry.Method {
			continue
		}
		if matchPath(cr, entry.Path) {
			rule := cr.rule
			return Decision{Allowed: false, Rule: &rule}
		}
	}

	for i := range s.pattern {
		cr := &s.pattern[i]
		if matchField(cr, entry) {
			rule := cr.rule
			return Decision{Allowed: false, Rule: &rule}
		}
	}

	return Allow
}

// matchPath accepts a path that matches the rule's glob or starts with its
// pattern: an endpoint pattern denies both exact glob matches and anything
// under it as a literal prefix.
func matchPath(cr *compiledRule, path string) bool {
	if cr.g != nil && cr.g.Match(path) {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(cr.rule.Pattern, "*"))
}

func matchField(cr *compiledRule, entry *traffic.LogEntry) bool {
	val := fieldValue(entry, cr.rule.Field)
	if val == "" {
		return false
	}
	if cr.g != nil {
		return cr.g.Match(val)
	}
	return strings.Contains(val, cr.rule.Value)
}

// fieldValue resolves a pattern rule's named field against an entry. Names
// not in the fixed set are treated as request header names.
func fieldValue(entry *traffic.LogEntry, field string) string {
	switch field {
	case "path":
		return entry.Path
	case "query":
		return entry.Query
	case "method":
		return entry.Method
	case "source-ip":
		return entry.SourceIP
	default:
		return entry.RequestHeaders.Get(field)
	}
}

// Rules returns all active rules in evaluation order.
func (s *Store) Rules() []traffic.BlockRule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]traffic.BlockRule, 0, len(s.ip)+len(s.endpoint)+len(s.pattern))
	for _, rules := range [][]compiledRule{s.ip, s.endpoint, s.pattern} {
		for _, cr := range rules {
			out = append(out, cr.rule)
		}
	}
	return out
}

// RulesByKind returns active rules of one kind in insertion order.
func (s *Store) RulesByKind(kind traffic.RuleKind) []traffic.BlockRule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var src []compiledRule
	switch kind {
	case traffic.RuleIP:
		src = s.ip
	case traffic.RuleEndpoint:
		src = s.endpoint
	case traffic.RulePattern:
		src = s.pattern
	}
	out := make([]traffic.BlockRule, 0, len(src))
	for _, cr := range src {
		out = append(out, cr.rule)
	}
	return out
}

func validate(rule traffic.BlockRule) error {
	switch rule.Kind {
	case traffic.RuleIP:
		return validation.ValidateIP(rule.Value)
	case traffic.RuleEndpoint:
		if err := validation.ValidateMethod(rule.Method); err != nil {
			return err
		}
		return validation.ValidatePattern(rule.Pattern)
	case traffic.RulePattern:
		if err := validation.ValidateFieldName(rule.Field); err != nil {
			return err
		}
		if rule.Value == "" {
			return errors.New(errors.KindValidation, "pattern value cannot be empty")
		}
		if strings.ContainsAny(rule.Value, "*?[") {
			return validation.ValidatePattern(rule.Value)
		}
		return nil
	}
	return errors.Errorf(errors.KindValidation, "unknown rule kind: %s", rule.Kind)
}
