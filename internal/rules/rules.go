// Package rules implements the per-direction capture/replay classifier
// described in spec.md §4.2: an ordered, first-match-wins rule set keyed by
// host regex, path regexes, and method set, with an exclude flag.
//
// Grounded on _examples/caddyserver-gateway's
// internal/caddyv2/caddyhttp/matchers.go, which classifies requests the
// same way (ordered regex matchers, first match wins) using bare stdlib
// regexp rather than a third-party matcher library — the pack's own idiom
// for this kind of rule, not a stdlib fallback.
package rules

import "regexp"

// Rule is one entry in an ordered rule set.
type Rule struct {
	HostRegex   *regexp.Regexp
	PathRegexes []*regexp.Regexp
	Methods     map[string]struct{} // nil/empty means "any method"
	Exclude     bool
}

// matches reports whether host/path/method satisfy this rule's host regex,
// any-of its path regexes, and its method set, in that order (spec.md
// §4.2's "host regex, then any path regex, then membership in the method
// set").
func (r Rule) matches(host, path, method string) bool {
	if r.HostRegex != nil && !r.HostRegex.MatchString(host) {
		return false
	}
	if len(r.PathRegexes) > 0 {
		matched := false
		for _, pr := range r.PathRegexes {
			if pr.MatchString(path) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(r.Methods) > 0 {
		if _, ok := r.Methods[method]; !ok {
			return false
		}
	}
	return true
}

// Set is an ordered rule set for one traffic direction/role.
type Set struct {
	Rules []Rule
}

// Capture reports whether a request matching host/path/method should be
// captured, per spec.md §4.2: first matching rule wins; an exclude match
// means "no"; no match in a non-empty set means "no"; an empty set means
// "yes" unconditionally.
func (s Set) Capture(host, path, method string) bool {
	if len(s.Rules) == 0 {
		return true
	}
	for _, r := range s.Rules {
		if r.matches(host, path, method) {
			return !r.Exclude
		}
	}
	return false
}

// Verdict is the two-bit classification spec.md §4.2 describes.
type Verdict struct {
	Capture bool
	Replay  bool
}

// Classify produces a Verdict for one request: replay is only ever true
// when both capture is true and replay is enabled at the plugin level.
func Classify(set Set, replayEnabled bool, host, path, method string) Verdict {
	capture := set.Capture(host, path, method)
	return Verdict{Capture: capture, Replay: capture && replayEnabled}
}
