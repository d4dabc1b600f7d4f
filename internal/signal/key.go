// Package signal implements the blackboard abstraction every detector and
// coordinator in botshield communicates through: typed, glob-queryable
// facts raised into scoped sinks.
//
// DESIGN: a SignalKey is a dotted path ("transport.is_streaming"). Sinks
// never lose a raised entry within their lifetime except by capacity
// eviction or a SweepOlderThan call (the global sink's TTL); Sense queries return newest-first and tolerate any
// payload shape. Nothing here ever panics — see Payload.Coerce.
package signal

import "strings"

// Key is an immutable, comparable, hashable dotted signal path.
type Key string

// NewKey builds a Key from dot-joined segments, e.g. NewKey("transport", "is_streaming").
func NewKey(segments ...string) Key {
	return Key(strings.Join(segments, "."))
}

// Segments splits the key into its dotted components.
func (k Key) Segments() []string {
	if k == "" {
		return nil
	}
	return strings.Split(string(k), ".")
}

// Pattern is a glob over dotted segments: "*" matches exactly one segment,
// "**" matches zero or more segments.
type Pattern string

// Match reports whether the key satisfies the glob pattern.
func (p Pattern) Match(k Key) bool {
	return matchSegments(strings.Split(string(p), "."), k.Segments())
}

func matchSegments(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}

	head := pattern[0]
	switch head {
	case "**":
		// Zero-or-more: try consuming 0..len(key) segments of key.
		for i := 0; i <= len(key); i++ {
			if matchSegments(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		if len(key) == 0 {
			return false
		}
		return matchSegments(pattern[1:], key[1:])
	default:
		if len(key) == 0 || key[0] != head {
			return false
		}
		return matchSegments(pattern[1:], key[1:])
	}
}
