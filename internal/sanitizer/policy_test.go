package sanitizer

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy_KeyRules(t *testing.T) {
	p := DefaultPolicy()

	for _, key := range []string{"Password", "x-auth-token", "SESSIONID", "api key", "xsrf", "user_ssn"} {
		r, ok := p.MatchKey(key)
		require.True(t, ok, key)
		assert.Equal(t, TargetKey, r.Target)
	}

	_, ok := p.MatchKey("username")
	assert.False(t, ok)
}

func TestPolicy_FirstMatchWins(t *testing.T) {
	p := NewPolicy(
		Rule{Name: "keep-author", Target: TargetKey, Pattern: regexp.MustCompile(`(?i)^author$`), Action: ActionKeep},
		Rule{Name: "auth", Target: TargetKey, Pattern: regexp.MustCompile(`(?i)auth`), Action: ActionRedact},
	)

	v, rule := p.Apply("author", "ada")
	assert.Equal(t, "ada", v)
	assert.Nil(t, rule)

	v, rule = p.Apply("authorization", "Basic x")
	assert.Equal(t, RedactionMarker, v)
	require.NotNil(t, rule)
	assert.Equal(t, "auth", rule.Name)
}

func TestPolicy_ValueRulesApplyWhenNameIsHarmless(t *testing.T) {
	p := DefaultPolicy()

	v, rule := p.Apply("note", "  Bearer abcdef  ")
	assert.Equal(t, RedactionMarker, v)
	require.NotNil(t, rule)
	assert.Equal(t, "bearer-value", rule.Name)

	v, rule = p.Apply("note", "nothing to see")
	assert.Equal(t, "nothing to see", v)
	assert.Nil(t, rule)
}

func TestPolicy_RulesIsACopy(t *testing.T) {
	p := DefaultPolicy()
	rules := p.Rules()
	rules[0].Name = "changed"
	assert.NotEqual(t, "changed", p.Rules()[0].Name)
}
