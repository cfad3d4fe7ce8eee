// Package clustering maintains a union-find structure over record ids,
// unioning MATCH decisions into clusters while honoring an optional
// transitivity guard against recorded NO_MATCH edges, and emits
// CREATE/UPDATE/MERGE events for incremental runs.
package clustering

import (
	"sort"

	"github.com/google/uuid"
	"github.com/ns-3e/OpenMatch/pkg/models"
)

// EventKind distinguishes the three cluster lifecycle events a Builder run
// can emit per affected cluster.
type EventKind string

const (
	EventCreate EventKind = "CREATE"
	EventUpdate EventKind = "UPDATE"
	EventMerge  EventKind = "MERGE"
)

// ClusterEvent describes one cluster-lifecycle change from a Builder run.
type ClusterEvent struct {
	Kind      EventKind
	ClusterID string
	Members   []string
	// MergedFrom holds the cluster ids consolidated into ClusterID, set
	// only for EventMerge.
	MergedFrom []string
}

// Config toggles the transitivity guard.
type Config struct {
	// TransitivityGuard, when true, refuses to merge two clusters if any
	// cross-cluster pair has a recorded NO_MATCH, demoting the weaker
	// edge to REVIEW instead.
	TransitivityGuard bool
}

// Builder runs one clustering pass over a batch of MatchDecisions.
type Builder struct {
	cfg Config
	uf  *unionFind

	// clusterIDs maps a union-find root (a record id) to a stable
	// cluster id, seeded from prior runs for incremental mode.
	clusterIDs map[string]string

	// noMatch records every NO_MATCH pair seen, consulted by the
	// transitivity guard.
	noMatch map[models.CandidatePair]struct{}

	// demoted collects pairs the transitivity guard downgraded from
	// MATCH to REVIEW.
	demoted []models.CandidatePair
}

// New builds a Builder with no prior state (a full-rebuild run).
func New(cfg Config) *Builder {
	return &Builder{
		cfg:        cfg,
		uf:         newUnionFind(),
		clusterIDs: make(map[string]string),
		noMatch:    make(map[models.CandidatePair]struct{}),
	}
}

// Seed primes the union-find with prior cluster memberships, for
// incremental runs per spec §4.5.
func (b *Builder) Seed(priorClusters []models.Cluster) {
	for _, c := range priorClusters {
		if len(c.Members) == 0 {
			continue
		}
		first := c.Members[0]
		b.uf.add(first)
		b.clusterIDs[b.uf.find(first)] = c.ClusterID
		for _, m := range c.Members[1:] {
			b.uf.add(m)
			b.uf.union(first, m)
			b.clusterIDs[b.uf.find(first)] = c.ClusterID
		}
	}
}

// Apply processes one batch of MatchDecisions: MATCH decisions union their
// pair (subject to the transitivity guard); REVIEW and NO_MATCH decisions
// never union. NO_MATCH pairs are recorded for the transitivity guard
// first; MATCH pairs are then applied strongest score first, so the guard
// demotes the weaker edge regardless of input order.
func (b *Builder) Apply(decisions []models.MatchDecision) {
	matches := make([]models.MatchDecision, 0, len(decisions))
	for _, d := range decisions {
		b.uf.add(d.Pair.A)
		b.uf.add(d.Pair.B)

		switch d.Verdict {
		case models.VerdictNoMatch:
			b.noMatch[d.Pair] = struct{}{}
		case models.VerdictMatch:
			matches = append(matches, d)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].OverallScore != matches[j].OverallScore {
			return matches[i].OverallScore > matches[j].OverallScore
		}
		return matches[i].Pair.String() < matches[j].Pair.String()
	})
	for _, d := range matches {
		b.applyMatch(d.Pair)
	}
}

// applyMatch unions a MATCH pair, refusing the union (and demoting it to
// REVIEW) if the transitivity guard is enabled and a cross-cluster
// NO_MATCH edge exists between the two clusters being joined.
func (b *Builder) applyMatch(pair models.CandidatePair) {
	if b.uf.connected(pair.A, pair.B) {
		return
	}

	if b.cfg.TransitivityGuard && b.hasConflictingNoMatch(pair) {
		b.demoted = append(b.demoted, pair)
		return
	}

	b.uf.union(pair.A, pair.B)
}

// hasConflictingNoMatch reports whether any member of pair.A's current
// cluster has a recorded NO_MATCH against any member of pair.B's cluster.
func (b *Builder) hasConflictingNoMatch(pair models.CandidatePair) bool {
	groups := b.uf.groups()
	clusterA := groups[b.uf.find(pair.A)]
	clusterB := groups[b.uf.find(pair.B)]

	for _, a := range clusterA {
		for _, c := range clusterB {
			if _, conflict := b.noMatch[models.NewCandidatePair(a, c)]; conflict {
				return true
			}
		}
	}
	return false
}

// Demoted returns the MATCH pairs the transitivity guard downgraded to
// REVIEW, accumulated across all Apply calls on this Builder.
func (b *Builder) Demoted() []models.CandidatePair {
	return b.demoted
}

// Clusters returns the final set of clusters after all Apply calls,
// assigning a fresh UUID cluster id to any root with no seeded id.
func (b *Builder) Clusters() []models.Cluster {
	groups := b.uf.groups()
	roots := make([]string, 0, len(groups))
	for root := range groups {
		roots = append(roots, root)
	}
	sort.Strings(roots)

	clusters := make([]models.Cluster, 0, len(roots))
	for _, root := range roots {
		id, ok := b.clusterIDs[root]
		if !ok {
			id = uuid.NewString()
		}
		members := groups[root]
		sort.Strings(members)
		clusters = append(clusters, models.Cluster{ClusterID: id, Members: members})
	}
	return clusters
}

// Events diffs prior clusters against the current state and returns one
// ClusterEvent per affected cluster, per spec §4.5's incremental-mode
// contract (exactly one of CREATE/UPDATE/MERGE per affected cluster).
func (b *Builder) Events(prior []models.Cluster) []ClusterEvent {
	priorByID := make(map[string][]string, len(prior))
	priorByMember := make(map[string]string, len(prior))
	for _, c := range prior {
		priorByID[c.ClusterID] = c.Members
		for _, m := range c.Members {
			priorByMember[m] = c.ClusterID
		}
	}

	current := b.Clusters()
	var events []ClusterEvent

	for _, c := range current {
		sourceClusterIDs := make(map[string]struct{})
		for _, m := range c.Members {
			if id, ok := priorByMember[m]; ok {
				sourceClusterIDs[id] = struct{}{}
			}
		}

		switch len(sourceClusterIDs) {
		case 0:
			events = append(events, ClusterEvent{Kind: EventCreate, ClusterID: c.ClusterID, Members: c.Members})
		case 1:
			var onlyID string
			for id := range sourceClusterIDs {
				onlyID = id
			}
			if sameMembers(priorByID[onlyID], c.Members) {
				continue
			}
			events = append(events, ClusterEvent{Kind: EventUpdate, ClusterID: c.ClusterID, Members: c.Members})
		default:
			mergedFrom := make([]string, 0, len(sourceClusterIDs))
			for id := range sourceClusterIDs {
				mergedFrom = append(mergedFrom, id)
			}
			sort.Strings(mergedFrom)
			events = append(events, ClusterEvent{Kind: EventMerge, ClusterID: c.ClusterID, Members: c.Members, MergedFrom: mergedFrom})
		}
	}

	return events
}

func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	aCopy, bCopy := append([]string(nil), a...), append([]string(nil), b...)
	sort.Strings(aCopy)
	sort.Strings(bCopy)
	for i := range aCopy {
		if aCopy[i] != bCopy[i] {
			return false
		}
	}
	return true
}
