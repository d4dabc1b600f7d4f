// Package fastpath implements the HMAC-based multi-factor signature
// matcher that gives an instant hit on returning clients before the main
// detector pipeline runs (spec §4.6).
package fastpath

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// MatchKind classifies how confidently a stored signature matched.
type MatchKind string

const (
	MatchNone    MatchKind = "None"
	MatchExact   MatchKind = "Exact"
	MatchPartial MatchKind = "Partial"
	MatchWeak    MatchKind = "Weak"
)

// Result is the outcome of a fast-path lookup.
type Result struct {
	Kind       MatchKind
	Confidence float64
}

// ClientSideFactors are learned from the post-response fingerprint
// callback (spec §4.6 "unavailable on first contact").
type ClientSideFactors struct {
	Canvas  string
	WebGL   string
	Audio   string
	Plugins string
	Fonts   string
}

type storedSignature struct {
	mu      sync.Mutex
	primary string
	ip      string
	ua      string
	subnet  string
	client  string
	plugin  string
}

// FastPathSignatureMatcher is a sparse in-process index: primary hash to
// stored signature, plus reverse indexes on each factor.
type FastPathSignatureMatcher struct {
	salt string

	mu          sync.RWMutex
	byPrimary   map[string]*storedSignature
	byIP        map[string]*storedSignature
	byUA        map[string]*storedSignature
	bySubnet    map[string]*storedSignature
	byClient    map[string]*storedSignature
	byPlugin    map[string]*storedSignature
}

// New builds a matcher keyed by salt (the same IdentityHashSalt the
// signature coordinator uses).
func New(salt string) *FastPathSignatureMatcher {
	return &FastPathSignatureMatcher{
		salt:      salt,
		byPrimary: make(map[string]*storedSignature),
		byIP:      make(map[string]*storedSignature),
		byUA:      make(map[string]*storedSignature),
		bySubnet:  make(map[string]*storedSignature),
		byClient:  make(map[string]*storedSignature),
		byPlugin:  make(map[string]*storedSignature),
	}
}

func (m *FastPathSignatureMatcher) hmacHex(parts ...string) string {
	mac := hmac.New(sha256.New, []byte(m.salt))
	for _, p := range parts {
		mac.Write([]byte(p))
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// Lookup evaluates the five decision rules from spec §4.6 against ip, ua,
// subnet, and whatever client-side factors have been learned so far
// (ClientSide/Plugin are zero-value until a post-response callback merges
// them in via MergeClientSide/MergeClientSideBySignature).
func (m *FastPathSignatureMatcher) Lookup(ip, ua, subnet string, client ClientSideFactors) Result {
	primary := m.hmacHex(ip, "|", ua)
	ipHash := m.hmacHex(ip)
	uaHash := m.hmacHex(ua)
	subnetHash := m.hmacHex(subnet)
	clientHash := m.hmacHex(client.Canvas, client.WebGL, client.Audio)
	pluginHash := m.hmacHex(client.Plugins, client.Fonts)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.byPrimary[primary]; ok {
		return Result{Kind: MatchExact, Confidence: 1.0}
	}

	ipStored, ipOK := m.byIP[ipHash]
	uaStored, uaOK := m.byUA[uaHash]
	if ipOK && uaOK && ipStored == uaStored {
		return Result{Kind: MatchExact, Confidence: 1.0}
	}

	factors := 0
	weight := 0.0
	if ipOK {
		factors++
		weight += 50
	}
	if uaOK {
		factors++
		weight += 50
	}
	if _, ok := m.bySubnet[subnetHash]; ok {
		factors++
		weight += 30
	}
	if _, ok := m.byClient[clientHash]; ok {
		factors++
		weight += 80
	}
	if _, ok := m.byPlugin[pluginHash]; ok {
		factors++
		weight += 60
	}

	switch {
	case factors >= 2 && weight >= 100:
		conf := weight / 100
		if conf > 0.99 {
			conf = 0.99
		}
		return Result{Kind: MatchPartial, Confidence: conf}
	case factors >= 3 && weight >= 80:
		conf := weight / 100
		if conf > 1.0 {
			conf = 1.0
		}
		return Result{Kind: MatchWeak, Confidence: conf}
	default:
		return Result{Kind: MatchNone, Confidence: 0}
	}
}

// Store registers (or updates) the factors for a newly-seen client.
// Writes for the same primary signature are serialized via the stored
// entry's own mutex.
func (m *FastPathSignatureMatcher) Store(ip, ua, subnet string) {
	primary := m.hmacHex(ip, "|", ua)
	ipHash := m.hmacHex(ip)
	uaHash := m.hmacHex(ua)
	subnetHash := m.hmacHex(subnet)

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.byPrimary[primary]
	if !ok {
		entry = &storedSignature{primary: primary}
		m.byPrimary[primary] = entry
	}
	entry.mu.Lock()
	entry.ip, entry.ua, entry.subnet = ipHash, uaHash, subnetHash
	entry.mu.Unlock()

	m.byIP[ipHash] = entry
	m.byUA[uaHash] = entry
	m.bySubnet[subnetHash] = entry
}

// MergeClientSide backfills the ClientSide/Plugin factors for an existing
// signature identified by its raw ip/ua pair. The fingerprint endpoint
// (spec §4.12) uses MergeClientSideBySignature instead.
func (m *FastPathSignatureMatcher) MergeClientSide(ip, ua string, factors ClientSideFactors) {
	primary := m.hmacHex(ip, "|", ua)
	clientHash := m.hmacHex(factors.Canvas, factors.WebGL, factors.Audio)
	pluginHash := m.hmacHex(factors.Plugins, factors.Fonts)

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.byPrimary[primary]
	if !ok {
		entry = &storedSignature{primary: primary}
		m.byPrimary[primary] = entry
	}
	entry.mu.Lock()
	entry.client, entry.plugin = clientHash, pluginHash
	entry.mu.Unlock()

	m.byClient[clientHash] = entry
	m.byPlugin[pluginHash] = entry
}

// PrimaryHash exposes the same primary signature hash Lookup/Store key on,
// used to hand a client an opaque signature id for the fingerprint
// callback (spec §4.12).
func (m *FastPathSignatureMatcher) PrimaryHash(ip, ua string) string {
	return m.hmacHex(ip, "|", ua)
}

// MergeClientSideBySignature backfills client-side factors for a signature
// previously identified via PrimaryHash. The fingerprint ingestion
// endpoint only receives the opaque signature id (spec §4.12), not the
// raw ip/ua pair, so it calls this instead of MergeClientSide.
func (m *FastPathSignatureMatcher) MergeClientSideBySignature(signatureID string, factors ClientSideFactors) {
	clientHash := m.hmacHex(factors.Canvas, factors.WebGL, factors.Audio)
	pluginHash := m.hmacHex(factors.Plugins, factors.Fonts)

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.byPrimary[signatureID]
	if !ok {
		entry = &storedSignature{primary: signatureID}
		m.byPrimary[signatureID] = entry
	}
	entry.mu.Lock()
	entry.client, entry.plugin = clientHash, pluginHash
	entry.mu.Unlock()

	m.byClient[clientHash] = entry
	m.byPlugin[pluginHash] = entry
}

// Stats reports index sizes for the admin/observability surface.
func (m *FastPathSignatureMatcher) Stats() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]any{
		"primary_entries": len(m.byPrimary),
	}
}
