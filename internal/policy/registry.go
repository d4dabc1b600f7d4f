package policy

import (
	"strings"
	"sync"

	boterrors "github.com/northboundlabs/botshield/internal/shared/errors"
)

// Registry resolves a request path to a Policy, most-specific-pattern-wins,
// and holds the named policy definitions (built-ins plus user-defined).
type Registry struct {
	mu       sync.RWMutex
	policies map[string]Policy
	routes   map[string]string // path glob pattern -> policy name
	def      string
}

// NewRegistry builds a registry seeded with the four built-in policies
// named in spec §4.4: default, strict, relaxed, allowVerifiedBots.
func NewRegistry() *Registry {
	r := &Registry{
		policies: make(map[string]Policy),
		routes:   make(map[string]string),
		def:      "default",
	}
	for _, p := range builtinPolicies() {
		r.policies[p.Name] = p
	}
	return r
}

func builtinPolicies() []Policy {
	return []Policy{
		{
			Name:                    "default",
			EarlyExitThreshold:      0.95,
			ImmediateBlockThreshold: 0.8,
			AiEscalationThreshold:   0.6,
			MinConfidence:           0.5,
			Transitions: []Transition{
				{Condition: riskExceeds{0.8}, ThenAction: ActionBlock},
				{Condition: riskBelow{0.35}, ThenAction: ActionAllow},
			},
		},
		{
			Name:                    "strict",
			EarlyExitThreshold:      0.9,
			ImmediateBlockThreshold: 0.65,
			AiEscalationThreshold:   0.5,
			MinConfidence:           0.4,
			Transitions: []Transition{
				{Condition: riskExceeds{0.65}, ThenAction: ActionBlock},
				{Condition: riskBelow{0.2}, ThenAction: ActionAllow},
			},
		},
		{
			Name:                    "relaxed",
			EarlyExitThreshold:      0.98,
			ImmediateBlockThreshold: 0.9,
			AiEscalationThreshold:   0.8,
			MinConfidence:           0.6,
			Transitions: []Transition{
				{Condition: riskExceeds{0.9}, ThenAction: ActionBlock},
				{Condition: riskBelow{0.5}, ThenAction: ActionAllow},
			},
		},
		{
			Name:                    "allowVerifiedBots",
			EarlyExitThreshold:      0.95,
			ImmediateBlockThreshold: 0.8,
			AiEscalationThreshold:   0.6,
			MinConfidence:           0.5,
			Transitions: []Transition{
				{Condition: reputationStateEquals{"ConfirmedGood"}, ThenAction: ActionAllow},
				{Condition: riskExceeds{0.8}, ThenAction: ActionBlock},
				{Condition: riskBelow{0.35}, ThenAction: ActionAllow},
			},
		},
	}
}

// Register adds or replaces a named policy definition.
func (r *Registry) Register(p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p.Name] = p
}

// RegisterRoute maps a path glob pattern to a policy name.
func (r *Registry) RegisterRoute(pathPattern, policyName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[pathPattern] = policyName
}

// SetDefault changes the fallback policy name used when no route matches.
func (r *Registry) SetDefault(name string) { r.mu.Lock(); r.def = name; r.mu.Unlock() }

// Get returns a named policy.
func (r *Registry) Get(name string) (Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[name]
	return p, ok
}

// ResolveForPath returns the policy that applies to a request path,
// most-specific-pattern-wins (longest literal prefix), falling back to the
// default policy. Pure: the same path and route table always resolve to
// the same policy (spec §8 round-trip property).
func (r *Registry) ResolveForPath(path string) Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bestSpecificity := -1
	bestName := r.def
	for pattern, name := range r.routes {
		if !matchPath(pattern, path) {
			continue
		}
		if s := specificityOf(pattern); s > bestSpecificity {
			bestSpecificity = s
			bestName = name
		}
	}
	if p, ok := r.policies[bestName]; ok {
		return p
	}
	return r.policies[r.def]
}

// ValidateTransitions fails closed (spec §7 PolicyConfigError) if any
// registered policy references an uncompilable transition condition. Used
// at startup once all policies/routes are loaded from config.
func (r *Registry) ValidateTransitions() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.policies {
		for _, t := range p.Transitions {
			if t.Condition == nil {
				return boterrors.New(boterrors.KindPolicyConfigError, "policy "+p.Name+" has a transition with no condition")
			}
		}
	}
	return nil
}

// specificityOf ranks a path pattern by its literal (non-wildcard) prefix
// length in segments; longer literal prefixes win ties with wildcards.
func specificityOf(pattern string) int {
	segments := strings.Split(strings.Trim(pattern, "/"), "/")
	n := 0
	for _, s := range segments {
		if s == "*" || s == "**" {
			break
		}
		n++
	}
	return n
}

// matchPath applies the same glob semantics as signal.Pattern.Match
// (* = one path segment, ** = zero or more) but over '/'-delimited URL
// paths rather than '.'-delimited signal keys.
func matchPath(pattern, path string) bool {
	pSegs := splitPath(pattern)
	kSegs := splitPath(path)
	return matchPathSegments(pSegs, kSegs)
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchPathSegments(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	head, rest := pattern[0], pattern[1:]

	if head == "**" {
		for n := 0; n <= len(key); n++ {
			if matchPathSegments(rest, key[n:]) {
				return true
			}
		}
		return false
	}

	if len(key) == 0 {
		return false
	}
	if head != "*" && head != key[0] {
		return false
	}
	return matchPathSegments(rest, key[1:])
}
