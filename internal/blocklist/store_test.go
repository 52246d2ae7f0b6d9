// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package blocklist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/burrow/internal/errors"
	"grimm.is/burrow/internal/traffic"
)

func entry(ip, method, path string) *traffic.LogEntry {
	return &traffic.LogEntry{SourceIP: ip, Method: method, Path: path}
}

func TestAddRule_Validation(t *testing.T) {
	s := NewStore()

	_, err := s.AddRule(traffic.BlockRule{Kind: traffic.RuleIP, Value: "not-an-ip"})
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))

	_, err = s.AddRule(traffic.BlockRule{Kind: traffic.RuleEndpoint, Method: "YEET", Pattern: "/x"})
	require.Error(t, err)

	_, err = s.AddRule(traffic.BlockRule{Kind: traffic.RulePattern, Field: "User Agent", Value: "curl"})
	require.Error(t, err)
}

func TestAddRule_IdempotentDuplicate(t *testing.T) {
	s := NewStore()

	first, err := s.AddRule(traffic.BlockRule{Kind: traffic.RuleIP, Value: "10.0.0.5", Reason: "scanner"})
	require.NoError(t, err)

	second, err := s.AddRule(traffic.BlockRule{Kind: traffic.RuleIP, Value: "10.0.0.5", Reason: "updated reason"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "duplicate add must not create a new rule")
	assert.Equal(t, "updated reason", second.Reason)
	assert.Len(t, s.Rules(), 1)
}

func TestRemoveRule_NotFound(t *testing.T) {
	s := NewStore()
	removed := s.RemoveRule(traffic.BlockRule{Kind: traffic.RuleIP, Value: "10.0.0.9"})
	assert.False(t, removed, "removing a nonexistent rule is a no-op, not a failure")
}

func TestRemoveRule_ThenAllow(t *testing.T) {
	s := NewStore()
	_, err := s.AddRule(traffic.BlockRule{Kind: traffic.RuleIP, Value: "10.0.0.5"})
	require.NoError(t, err)

	require.False(t, s.Evaluate(entry("10.0.0.5", "GET", "/")).Allowed)
	require.True(t, s.RemoveRule(traffic.BlockRule{Kind: traffic.RuleIP, Value: "10.0.0.5"}))
	assert.True(t, s.Evaluate(entry("10.0.0.5", "GET", "/")).Allowed)
}

func TestEvaluate_EndpointGlob(t *testing.T) {
	s := NewStore()
	rule, err := s.AddRule(traffic.BlockRule{
		Kind:    traffic.RuleEndpoint,
		Method:  "ALL",
		Pattern: "/api/v1/admin/*",
	})
	require.NoError(t, err)

	dec := s.Evaluate(entry("10.0.0.5", "GET", "/api/v1/admin/x"))
	require.False(t, dec.Allowed)
	require.NotNil(t, dec.Rule)
	assert.Equal(t, rule.ID, dec.Rule.ID)

	assert.True(t, s.Evaluate(entry("10.0.0.5", "GET", "/api/v1/public")).Allowed)
}

func TestEvaluate_EndpointLiteralPrefix(t *testing.T) {
	s := NewStore()
	_, err := s.AddRule(traffic.BlockRule{
		Kind:    traffic.RuleEndpoint,
		Method:  "ALL",
		Pattern: "/api/v1/admin",
	})
	require.NoError(t, err)

	// A wildcard-free pattern denies exact hits and anything under it.
	assert.False(t, s.Evaluate(entry("10.0.0.5", "GET", "/api/v1/admin")).Allowed)
	assert.False(t, s.Evaluate(entry("10.0.0.5", "GET", "/api/v1/admin/x")).Allowed)
	assert.True(t, s.Evaluate(entry("10.0.0.5", "GET", "/api/v1/public")).Allowed)
}

func TestEvaluate_EndpointMethodMatch(t *testing.T) {
	s := NewStore()
	_, err := s.AddRule(traffic.BlockRule{Kind: traffic.RuleEndpoint, Method: "post", Pattern: "/upload/*"})
	require.NoError(t, err)

	assert.False(t, s.Evaluate(entry("1.2.3.4", "POST", "/upload/file")).Allowed)
	assert.True(t, s.Evaluate(entry("1.2.3.4", "GET", "/upload/file")).Allowed)
}

func TestEvaluate_KindPrecedence(t *testing.T) {
	s := NewStore()

	// A pattern rule inserted first must still lose to an IP rule.
	_, err := s.AddRule(traffic.BlockRule{Kind: traffic.RulePattern, Field: "path", Value: "/admin"})
	require.NoError(t, err)
	ipRule, err := s.AddRule(traffic.BlockRule{Kind: traffic.RuleIP, Value: "10.0.0.5"})
	require.NoError(t, err)

	dec := s.Evaluate(entry("10.0.0.5", "GET", "/admin/panel"))
	require.False(t, dec.Allowed)
	assert.Equal(t, ipRule.ID, dec.Rule.ID, "IP rules evaluate before pattern rules")
}

func TestEvaluate_InsertionOrderWithinKind(t *testing.T) {
	s := NewStore()

	first, err := s.AddRule(traffic.BlockRule{Kind: traffic.RuleEndpoint, Method: "ALL", Pattern: "/api/*"})
	require.NoError(t, err)
	_, err = s.AddRule(traffic.BlockRule{Kind: traffic.RuleEndpoint, Method: "ALL", Pattern: "/api/v1/*"})
	require.NoError(t, err)

	dec := s.Evaluate(entry("1.1.1.1", "GET", "/api/v1/thing"))
	require.False(t, dec.Allowed)
	assert.Equal(t, first.ID, dec.Rule.ID, "earliest-inserted matching rule wins")
}

func TestEvaluate_PatternFieldSubstring(t *testing.T) {
	s := NewStore()
	_, err := s.AddRule(traffic.BlockRule{Kind: traffic.RulePattern, Field: "user-agent", Value: "sqlmap"})
	require.NoError(t, err)

	e := entry("9.9.9.9", "GET", "/")
	e.RequestHeaders = traffic.Headers{{Name: "User-Agent", Value: "sqlmap/1.7"}}
	assert.False(t, s.Evaluate(e).Allowed)

	e2 := entry("9.9.9.9", "GET", "/")
	e2.RequestHeaders = traffic.Headers{{Name: "User-Agent", Value: "Mozilla/5.0"}}
	assert.True(t, s.Evaluate(e2).Allowed)
}

func TestUniquenessInvariant(t *testing.T) {
	s := NewStore()

	rules := []traffic.BlockRule{
		{Kind: traffic.RuleIP, Value: "10.0.0.1"},
		{Kind: traffic.RuleIP, Value: "10.0.0.1"},
		{Kind: traffic.RuleEndpoint, Method: "ALL", Pattern: "/a/*"},
		{Kind: traffic.RuleEndpoint, Method: "ALL", Pattern: "/a/*"},
		{Kind: traffic.RulePattern, Field: "path", Value: "/x"},
		{Kind: traffic.RulePattern, Field: "path", Value: "/x"},
	}
	for _, r := range rules {
		_, err := s.AddRule(r)
		require.NoError(t, err)
	}

	seen := map[string]bool{}
	for _, r := range s.Rules() {
		require.False(t, seen[r.Key()], "duplicate discriminating key: %s", r.Key())
		seen[r.Key()] = true
	}
	assert.Len(t, s.Rules(), 3)
}

func TestRemoveByID(t *testing.T) {
	s := NewStore()
	rule, err := s.AddRule(traffic.BlockRule{Kind: traffic.RuleIP, Value: "10.0.0.7"})
	require.NoError(t, err)

	assert.True(t, s.RemoveByID(rule.ID))
	assert.False(t, s.RemoveByID(rule.ID))
	assert.Empty(t, s.Rules())
}
