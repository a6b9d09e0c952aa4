// Package plugin implements Callback/Plugin/Collection: the registration,
// filtering and fault-isolated dispatch of user-supplied event handlers.
package plugin

// allAttributes is the closed-variant tag meaning "any attribute name
// matches", as opposed to a specific set of attribute names.
type allAttributes struct{}

// attrRule is either allAttributes{} or a set[string] of attribute names.
type attrRule struct {
	all   bool
	names map[string]struct{}
}

// Filter is a small closed tagged variant over event_type -> attribute
// rule. It matches an event when its event_type (or the "*" wildcard) has
// an entry whose rule is all-attributes or contains the event's
// attribute name.
type Filter struct {
	rules map[string]attrRule
}

// NewFilter returns an empty filter matching nothing until rules are added.
func NewFilter() *Filter {
	return &Filter{rules: make(map[string]attrRule)}
}

// AnyEvent builds a filter that matches every event regardless of type or
// attribute — the "*" wildcard mapped to all-attributes.
func AnyEvent() *Filter {
	return NewFilter().WithAllAttributes("*")
}

// WithAllAttributes registers eventType (or "*" for the wildcard) as
// matching any attribute name.
func (f *Filter) WithAllAttributes(eventType string) *Filter {
	f.rules[eventType] = attrRule{all: true}
	return f
}

// WithAttributes registers eventType as matching only the given attribute
// names. Calling this again for the same eventType adds to the set;
// once an eventType is registered all-attributes, WithAttributes on it
// is a no-op (all-attributes already subsumes any named set).
func (f *Filter) WithAttributes(eventType string, attrNames ...string) *Filter {
	rule, ok := f.rules[eventType]
	if ok && rule.all {
		return f
	}
	if !ok {
		rule = attrRule{names: make(map[string]struct{})}
	}
	for _, n := range attrNames {
		rule.names[n] = struct{}{}
	}
	f.rules[eventType] = rule
	return f
}

// Matches reports whether the filter accepts an event with the given
// event type and attribute name (attributeName may be "" for events that
// carry none).
func (f *Filter) Matches(eventType, attributeName string) bool {
	if rule, ok := f.rules[eventType]; ok {
		if matchesRule(rule, attributeName) {
			return true
		}
	}
	if rule, ok := f.rules["*"]; ok {
		return matchesRule(rule, attributeName)
	}
	return false
}

func matchesRule(rule attrRule, attributeName string) bool {
	if rule.all {
		return true
	}
	_, ok := rule.names[attributeName]
	return ok
}
