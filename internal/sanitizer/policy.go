package sanitizer

import (
	"regexp"
	"strings"
	"unicode"
)

// RedactionMarker replaces every redacted value.
const RedactionMarker = "[REDACTED]"

// Target selects what a rule's pattern is matched against.
type Target int

const (
	// TargetKey matches the field name (case-insensitive substring).
	TargetKey Target = iota
	// TargetValue matches the whole field value.
	TargetValue
)

// Action is what happens to a value when a rule matches.
type Action int

const (
	// ActionRedact replaces the value with RedactionMarker.
	ActionRedact Action = iota
	// ActionKeep stops evaluation and keeps the value as is.
	ActionKeep
)

// Rule is one row of the redaction policy table.
type Rule struct {
	Name    string
	Target  Target
	Pattern *regexp.Regexp
	// Validate, when set, must also accept the matched input.
	Validate func(string) bool
	Action   Action
}

func (r Rule) matches(s string) bool {
	if !r.Pattern.MatchString(s) {
		return false
	}
	return r.Validate == nil || r.Validate(s)
}

// Policy is an ordered rule table. Key rules are evaluated before value
// rules; within a target the first matching rule wins.
type Policy struct {
	rules []Rule
}

// NewPolicy builds a policy from rules in evaluation order.
func NewPolicy(rules ...Rule) *Policy {
	return &Policy{rules: append([]Rule(nil), rules...)}
}

// Rules returns a copy of the table.
func (p *Policy) Rules() []Rule {
	return append([]Rule(nil), p.rules...)
}

// MatchKey returns the first key rule matching name.
func (p *Policy) MatchKey(name string) (Rule, bool) {
	return p.match(TargetKey, name)
}

// MatchValue returns the first value rule matching v.
func (p *Policy) MatchValue(v string) (Rule, bool) {
	return p.match(TargetValue, strings.TrimSpace(v))
}

func (p *Policy) match(target Target, s string) (Rule, bool) {
	for _, r := range p.rules {
		if r.Target == target && r.matches(s) {
			return r, true
		}
	}
	return Rule{}, false
}

// Apply runs the table over a key/value pair and returns the value to store
// plus the rule that redacted it, if any.
func (p *Policy) Apply(key, value string) (string, *Rule) {
	if r, ok := p.MatchKey(key); ok {
		switch r.Action {
		case ActionRedact:
			return RedactionMarker, &r
		case ActionKeep:
			return value, nil
		}
	}
	if r, ok := p.MatchValue(value); ok && r.Action == ActionRedact {
		return RedactionMarker, &r
	}
	return value, nil
}

var defaultRules = []Rule{
	keyRule("password", `passw(or)?d|pwd`),
	keyRule("token", `token`),
	keyRule("secret", `secret`),
	keyRule("auth", `auth`),
	keyRule("cookie", `cookie`),
	keyRule("session", `session`),
	keyRule("jwt", `jwt`),
	keyRule("api-key", `api[-_ ]?key`),
	keyRule("csrf", `csrf|xsrf`),
	keyRule("card", `card`),
	keyRule("ssn", `ssn`),
	keyRule("bearer", `bearer`),
	{
		Name:    "bearer-value",
		Target:  TargetValue,
		Pattern: regexp.MustCompile(`(?i)^bearer\s+\S+`),
	},
	{
		Name:     "dotted-token",
		Target:   TargetValue,
		Pattern:  regexp.MustCompile(`^[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+$`),
		Validate: dottedToken,
	},
	{
		Name:     "alnum-secret",
		Target:   TargetValue,
		Pattern:  regexp.MustCompile(`^[A-Za-z0-9]{20,}$`),
		Validate: lettersAndDigits,
	},
	{
		Name:     "base64-secret",
		Target:   TargetValue,
		Pattern:  regexp.MustCompile(`^[A-Za-z0-9+/_-]{32,}={0,2}$`),
		Validate: lettersAndDigits,
	},
}

func keyRule(name, expr string) Rule {
	return Rule{
		Name:    name,
		Target:  TargetKey,
		Pattern: regexp.MustCompile(`(?i)(` + expr + `)`),
	}
}

// DefaultPolicy returns the built-in credential rules.
func DefaultPolicy() *Policy {
	return NewPolicy(defaultRules...)
}

// dottedToken rejects short dotted strings such as hostnames and versions.
func dottedToken(s string) bool {
	if len(s) < 20 {
		return false
	}
	for _, seg := range strings.Split(s, ".") {
		if len(seg) < 4 {
			return false
		}
	}
	return true
}

func lettersAndDigits(s string) bool {
	var letter, digit bool
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
		if letter && digit {
			return true
		}
	}
	return false
}
