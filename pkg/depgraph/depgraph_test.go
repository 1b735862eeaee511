// SPDX-License-Identifier: AGPL-3.0-or-later

package depgraph

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddFileIdempotent(t *testing.T) {
	g := New()
	assert.True(t, g.AddFile("a.ts"))
	assert.True(t, g.AddFile("a.ts"))
	assert.Equal(t, 1, g.NodeCount())
}

func TestUpdateEdgesAndDependents(t *testing.T) {
	g := New()
	g.AddFile("a.ts")
	g.AddFile("b.ts")
	g.AddFile("c.ts")

	g.UpdateEdges("a.ts", []string{"b.ts", "c.ts"})
	assert.ElementsMatch(t, []string{"a.ts"}, g.GetDependents("b.ts"))
	assert.ElementsMatch(t, []string{"a.ts"}, g.GetDependents("c.ts"))
	assert.Equal(t, 2, g.EdgeCount())

	g.UpdateEdges("a.ts", []string{"b.ts"})
	assert.ElementsMatch(t, []string{"a.ts"}, g.GetDependents("b.ts"))
	assert.Empty(t, g.GetDependents("c.ts"))
	assert.Equal(t, 1, g.EdgeCount())
}

func TestUpdateEdgesSkipsUnknownTargets(t *testing.T) {
	g := New()
	g.AddFile("a.ts")
	g.UpdateEdges("a.ts", []string{"missing.ts"})
	assert.Equal(t, 0, g.EdgeCount())
}

func TestRemoveFileClearsAdjacency(t *testing.T) {
	g := New()
	g.AddFile("a.ts")
	g.AddFile("b.ts")
	g.UpdateEdges("a.ts", []string{"b.ts"})

	g.RemoveFile("b.ts")
	assert.False(t, g.Contains("b.ts"))
	assert.Equal(t, 0, g.EdgeCount())

	g.RemoveFile("a.ts")
	assert.False(t, g.Contains("a.ts"))
	assert.Equal(t, 0, g.NodeCount())
}

func TestOverflowLatchesAndPersistsUntilReset(t *testing.T) {
	g := New()
	for i := 0; i < MaxNodes; i++ {
		require.True(t, g.AddFile(fmt.Sprintf("f%d.ts", i)))
	}
	require.False(t, g.IsOverflow())

	assert.False(t, g.AddFile("overflow.ts"))
	assert.True(t, g.IsOverflow())

	// Monotonic: adding an already-known file afterward does not clear it.
	assert.True(t, g.AddFile("f0.ts"))
	assert.True(t, g.IsOverflow())

	g.Reset()
	assert.False(t, g.IsOverflow())
	assert.Equal(t, 0, g.NodeCount())
}

func TestDiamondDependents(t *testing.T) {
	g := New()
	for _, p := range []string{"leaf.ts", "mid1.ts", "mid2.ts", "top.ts"} {
		g.AddFile(p)
	}
	g.UpdateEdges("mid1.ts", []string{"leaf.ts"})
	g.UpdateEdges("mid2.ts", []string{"leaf.ts"})
	g.UpdateEdges("top.ts", []string{"mid1.ts", "mid2.ts"})

	assert.ElementsMatch(t, []string{"mid1.ts", "mid2.ts"}, g.GetDependents("leaf.ts"))
	assert.ElementsMatch(t, []string{"top.ts"}, g.GetDependents("mid1.ts"))
}
