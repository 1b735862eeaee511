// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package affected answers "which tests are affected by this change":
// a reverse-BFS closure over the dependency graph from a dirty set,
// test-file discovery by convention over that closure, and the
// precedence-ordered state machine gating full-run fallback. Grounded
// on the teacher's resolver worker-pool / caching shape
// (pkg/ingestion/resolver.go) for the closure computation's visited-set
// discipline, generalized from call resolution to reverse reachability.
package affected

import "github.com/kraklabs/wsrun/pkg/depgraph"

// Closure computes the reverse-reachable set from dirty over graph: seed
// the frontier with the dirty paths the graph actually knows about, then
// repeatedly expand to dependents not yet marked. Membership is checked
// before enqueueing so cycles terminate in a single visit per node
// (spec §4.8, P2).
func Closure(graph *depgraph.Graph, dirty []string) map[string]struct{} {
	marked := make(map[string]struct{})
	var frontier []string

	for _, p := range dirty {
		if !graph.Contains(p) {
			continue
		}
		if _, ok := marked[p]; ok {
			continue
		}
		marked[p] = struct{}{}
		frontier = append(frontier, p)
	}

	for len(frontier) > 0 {
		next := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		for _, dep := range graph.GetDependents(next) {
			if _, ok := marked[dep]; ok {
				continue
			}
			marked[dep] = struct{}{}
			frontier = append(frontier, dep)
		}
	}
	return marked
}
