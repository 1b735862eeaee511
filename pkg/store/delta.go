// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import "context"

// Delta is a (new, fixed) pair of stable-ID counts between the two most
// recent completed runs (spec §4.13, P5).
type Delta struct {
	New   int
	Fixed int
}

// computeDelta applies the set-difference law in spec §4.13/P5 to two
// stable-ID sets, s_now from the most recent completed run and s_prev
// from the one before it.
func computeDelta(now, prev map[string]struct{}) Delta {
	d := Delta{}
	for id := range now {
		if _, ok := prev[id]; !ok {
			d.New++
		}
	}
	for id := range prev {
		if _, ok := now[id]; !ok {
			d.Fixed++
		}
	}
	return d
}

// DeltaSummary computes both the test-failure and finding deltas for
// workspaceID, scoped to packageScope (empty means no filter). With
// fewer than two completed runs it returns the §4.13 degenerate cases:
// a single run counts entirely as "new"; zero runs is (0, 0) both ways.
func (s *Store) DeltaSummary(ctx context.Context, workspaceID, packageScope string) (failures, findings Delta, err error) {
	runs, err := s.LatestCompletedRuns(ctx, workspaceID, 2)
	if err != nil {
		return Delta{}, Delta{}, err
	}
	if len(runs) == 0 {
		return Delta{}, Delta{}, nil
	}

	nowFailures, err := s.TestFailureStableIDs(ctx, runs[0].RunID, packageScope)
	if err != nil {
		return Delta{}, Delta{}, err
	}
	nowFindings, err := s.FindingStableIDs(ctx, runs[0].RunID, packageScope)
	if err != nil {
		return Delta{}, Delta{}, err
	}

	if len(runs) == 1 {
		return Delta{New: len(nowFailures)}, Delta{New: len(nowFindings)}, nil
	}

	prevFailures, err := s.TestFailureStableIDs(ctx, runs[1].RunID, packageScope)
	if err != nil {
		return Delta{}, Delta{}, err
	}
	prevFindings, err := s.FindingStableIDs(ctx, runs[1].RunID, packageScope)
	if err != nil {
		return Delta{}, Delta{}, err
	}

	return computeDelta(nowFailures, prevFailures), computeDelta(nowFindings, prevFindings), nil
}
