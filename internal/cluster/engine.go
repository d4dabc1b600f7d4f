// Package cluster runs periodic background community detection over
// active signatures, producing an immutable snapshot the request path
// reads lock-free (spec §4.8).
package cluster

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ClusterType classifies a detected group.
type ClusterType string

const (
	ClusterTypeBotProduct ClusterType = "BotProduct"
	ClusterTypeBotNetwork ClusterType = "BotNetwork"
)

// Cluster is an immutable snapshot of one detected group (spec §3).
type Cluster struct {
	ID                string
	MemberSignatures  []string
	Type              ClusterType
	Label             string
	AvgBotProbability float64
	AvgSimilarity     float64
	TemporalDensity   float64
}

// Snapshot is the engine's published output: every signature's cluster
// assignment plus the cluster definitions, swapped atomically (spec §3
// "engine swaps a FrozenDictionary<signature→clusterId> atomically").
type Snapshot struct {
	SignatureToCluster map[string]string
	Clusters           map[string]Cluster
	GeneratedAt        time.Time
}

// Config carries the engine's tunables (mirrors config.ClusterConfig).
type Config struct {
	ClusterIntervalSeconds          int
	MinBotDetectionsToTrigger       int
	MinBotProbabilityForClustering  float64
	SimilarityThreshold             float64
	SemanticWeight                  float64
	TemporalWeight                  float64
	Algorithm                       Algorithm
	MinClusterSize                  int
	ProductSimilarityThreshold      float64
	NetworkTemporalDensityThreshold float64
	MaxIterations                   int
}

// SourceProvider supplies the engine's input: the set of currently active
// signatures with sufficient bot probability to consider for clustering.
// The signature coordinator implements this through a thin adapter so the
// cluster engine never imports coordinator's concrete atom type directly.
type SourceProvider interface {
	ActiveObservations(minBotProbability float64) []SignatureObservation
}

// Engine is the process-scoped background community-detection service.
type Engine struct {
	cfg      Config
	source   SourceProvider
	current  atomic.Pointer[Snapshot]
	trigger  chan struct{}
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	seed     int64
}

// New builds an engine with an empty initial snapshot. Run starts its
// background loop.
func New(cfg Config, source SourceProvider) *Engine {
	e := &Engine{
		cfg:     cfg,
		source:  source,
		trigger: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		seed:    1, // deterministic per spec §4.8 "seeded deterministic"
	}
	e.current.Store(&Snapshot{SignatureToCluster: map[string]string{}, Clusters: map[string]Cluster{}})
	return e
}

// Run starts the periodic + event-triggered background loop. Call in a
// goroutine; Close stops it.
func (e *Engine) Run() {
	defer close(e.done)
	interval := time.Duration(e.cfg.ClusterIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.runOnce()
		case <-e.trigger:
			e.runOnce()
		case <-e.stop:
			return
		}
	}
}

// TriggerEvent requests an out-of-band run, used when
// MinBotDetectionsToTrigger new bot detections have been observed (spec
// §4.8). Non-blocking: a pending trigger is enough, duplicates coalesce.
func (e *Engine) TriggerEvent() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Close stops the background loop and waits for it to exit.
func (e *Engine) Close() {
	e.stopOnce.Do(func() { close(e.stop) })
	<-e.done
}

// Snapshot returns the current published snapshot. Lock-free.
func (e *Engine) Snapshot() *Snapshot {
	return e.current.Load()
}

func (e *Engine) runOnce() {
	observations := e.source.ActiveObservations(e.cfg.MinBotProbabilityForClustering)
	if len(observations) < e.cfg.MinClusterSize {
		return
	}

	sort.Slice(observations, func(i, j int) bool { return observations[i].Signature < observations[j].Signature })

	signatures := make([]string, len(observations))
	vectors := make([]Vector, len(observations))
	for i, obs := range observations {
		signatures[i] = obs.Signature
		vectors[i] = Extract(obs)
	}

	similarity := func(i, j int) float64 {
		heuristic := HeuristicSimilarity(vectors[i], vectors[j])
		temporal := TemporalCrossCorrelation(observations[i].IntervalsSeconds, observations[j].IntervalsSeconds)
		blended := heuristic*(1-e.cfg.TemporalWeight) + temporal*e.cfg.TemporalWeight
		return clamp01(blended)
	}

	g, _ := buildGraph(signatures, similarity, e.cfg.SimilarityThreshold)
	groups := detectCommunities(g, e.cfg.Algorithm, 1.0, e.seed)

	snapshot := &Snapshot{SignatureToCluster: map[string]string{}, Clusters: map[string]Cluster{}, GeneratedAt: time.Now()}
	for _, group := range groups {
		if len(group) < e.cfg.MinClusterSize {
			continue
		}
		members := make([]string, len(group))
		for i, id := range group {
			members[i] = signatures[id]
		}
		sort.Strings(members)

		cl := classify(members, observations, similarity, signatures, e.cfg)
		snapshot.Clusters[cl.ID] = cl
		for _, sig := range members {
			snapshot.SignatureToCluster[sig] = cl.ID
		}
	}

	e.current.Store(snapshot)
	log.Info().Int("clusters", len(snapshot.Clusters)).Int("signatures", len(observations)).Msg("cluster snapshot published")
}

func classify(members []string, observations []SignatureObservation, similarity func(i, j int) float64, allSignatures []string, cfg Config) Cluster {
	indexOf := make(map[string]int, len(allSignatures))
	for i, s := range allSignatures {
		indexOf[s] = i
	}

	var simSum, simCount, botSum float64
	for i := 0; i < len(members); i++ {
		botSum += observations[indexOf[members[i]]].AvgBotProbability
		for j := i + 1; j < len(members); j++ {
			simSum += similarity(indexOf[members[i]], indexOf[members[j]])
			simCount++
		}
	}
	avgSimilarity := 0.0
	if simCount > 0 {
		avgSimilarity = simSum / simCount
	}
	avgBot := botSum / float64(len(members))

	temporalDensity := estimateTemporalDensity(members, observations, indexOf)

	clusterType := ClusterTypeBotNetwork
	if avgSimilarity >= cfg.ProductSimilarityThreshold {
		clusterType = ClusterTypeBotProduct
	} else if temporalDensity >= cfg.NetworkTemporalDensityThreshold && avgSimilarity >= 0.5 {
		clusterType = ClusterTypeBotNetwork
	}

	return Cluster{
		ID:                clusterID(members),
		MemberSignatures:  members,
		Type:              clusterType,
		Label:             autoLabel(clusterType, avgBot, temporalDensity, len(members)),
		AvgBotProbability: avgBot,
		AvgSimilarity:     avgSimilarity,
		TemporalDensity:   temporalDensity,
	}
}

func estimateTemporalDensity(members []string, observations []SignatureObservation, indexOf map[string]int) float64 {
	if len(members) < 2 {
		return 0
	}
	var sum float64
	var count float64
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			a := observations[indexOf[members[i]]].IntervalsSeconds
			b := observations[indexOf[members[j]]].IntervalsSeconds
			sum += TemporalCrossCorrelation(a, b)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / count
}

func autoLabel(t ClusterType, avgBot, temporalDensity float64, size int) string {
	switch {
	case t == ClusterTypeBotProduct && avgBot >= 0.8:
		return "high-confidence bot product"
	case t == ClusterTypeBotNetwork && temporalDensity >= 0.8:
		return "coordinated burst network"
	case size >= 10:
		return "large uncharacterized group"
	default:
		return "emerging group"
	}
}

func clusterID(members []string) string {
	h := sha256.New()
	for _, m := range members {
		h.Write([]byte(m))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
