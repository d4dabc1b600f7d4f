package cluster

import (
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"
)

// Algorithm selects the community-detection step (spec §4.8 step 6).
type Algorithm string

const (
	AlgorithmLouvain          Algorithm = "louvain"
	AlgorithmLabelPropagation Algorithm = "label_propagation"
)

// buildGraph constructs an undirected weighted graph over signatures,
// with an edge wherever blended similarity crosses the threshold (spec
// §4.8 step 5). Node IDs are assigned in the order signatures appear.
func buildGraph(signatures []string, similarity func(i, j int) float64, threshold float64) (*simple.WeightedUndirectedGraph, map[string]int64) {
	g := simple.NewWeightedUndirectedGraph(0, 0)
	ids := make(map[string]int64, len(signatures))
	for i, sig := range signatures {
		id := int64(i)
		g.AddNode(simple.Node(id))
		ids[sig] = id
	}
	for i := range signatures {
		for j := i + 1; j < len(signatures); j++ {
			sim := similarity(i, j)
			if sim >= threshold {
				g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(int64(i)), simple.Node(int64(j)), sim))
			}
		}
	}
	return g, ids
}

// detectCommunities runs the configured algorithm and returns groups of
// node IDs, each group a candidate cluster (spec §4.8 step 6-7: groups of
// size >= MinClusterSize become clusters).
func detectCommunities(g *simple.WeightedUndirectedGraph, algo Algorithm, resolution float64, seed int64) [][]int64 {
	if algo == AlgorithmLabelPropagation {
		return labelPropagation(g, seed)
	}
	return louvain(g, resolution, seed)
}

func louvain(g *simple.WeightedUndirectedGraph, resolution float64, seed int64) [][]int64 {
	src := rand.New(rand.NewSource(seed))
	reduced := community.Modularize(g, resolution, src)
	structure := reduced.Structure()

	groups := make([][]int64, 0, len(structure))
	for _, members := range structure {
		ids := make([]int64, 0, len(members))
		for _, n := range members {
			ids = append(ids, n.ID())
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		groups = append(groups, ids)
	}
	return groups
}

// labelPropagation is the hand-rolled fallback community-detection
// algorithm (spec §4.8 step 6 "falling back to label propagation if
// configured"): each node adopts the most common label among its
// neighbors, iterating to convergence or a cap.
func labelPropagation(g *simple.WeightedUndirectedGraph, seed int64) [][]int64 {
	nodes := graph.NodesOf(g.Nodes())
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })

	labels := make(map[int64]int64, len(nodes))
	for _, n := range nodes {
		labels[n.ID()] = n.ID()
	}

	rng := rand.New(rand.NewSource(seed))
	order := make([]int, len(nodes))
	for i := range order {
		order[i] = i
	}

	const maxIterations = 100
	for iter := 0; iter < maxIterations; iter++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		changed := false
		for _, idx := range order {
			n := nodes[idx]
			neighborLabels := map[int64]float64{}
			to := g.From(n.ID())
			for to.Next() {
				neighbor := to.Node()
				edge := g.WeightedEdge(n.ID(), neighbor.ID())
				w := 1.0
				if edge != nil {
					w = edge.Weight()
				}
				neighborLabels[labels[neighbor.ID()]] += w
			}
			if len(neighborLabels) == 0 {
				continue
			}
			best, bestWeight := labels[n.ID()], -1.0
			for label, w := range neighborLabels {
				if w > bestWeight {
					best, bestWeight = label, w
				}
			}
			if best != labels[n.ID()] {
				labels[n.ID()] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	groupsByLabel := map[int64][]int64{}
	for id, label := range labels {
		groupsByLabel[label] = append(groupsByLabel[label], id)
	}
	groups := make([][]int64, 0, len(groupsByLabel))
	for _, members := range groupsByLabel {
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
		groups = append(groups, members)
	}
	return groups
}
