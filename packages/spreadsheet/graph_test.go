package spreadsheet

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDependencyGraphRebind(t *testing.T) {
	dg := NewDependencyGraph()
	dg.Rebind("C1", []string{"A1", "B1", "A1"})
	dg.Rebind("D1", []string{"A1"})

	assert.Equal(t, []string{"C1", "D1"}, dg.Dependents("A1"))
	assert.Equal(t, []string{"C1"}, dg.Dependents("B1"))
	assert.Equal(t, []string{"A1", "B1"}, dg.Precedents("C1"))
	assert.Equal(t, 2, dg.NodeCount())
	assert.Equal(t, 2, dg.TokenCount())

	dg.Rebind("C1", []string{"B2"})
	assert.Equal(t, []string{"D1"}, dg.Dependents("A1"))
	assert.Empty(t, dg.Dependents("B1"))
	assert.Equal(t, []string{"C1"}, dg.Dependents("B2"))

	dg.Rebind("C1", nil)
	assert.Empty(t, dg.Precedents("C1"))
	assert.Equal(t, 1, dg.NodeCount())
	assert.Equal(t, 1, dg.TokenCount())
}

func TestDependencyGraphRanges(t *testing.T) {
	dg := NewDependencyGraph()
	dg.Rebind("D1", []string{"A1_B3"})
	dg.Rebind("D2", []string{"B3_A1", "A2"})
	dg.Rebind("D3", []string{"C1_C9"})
	assert.Equal(t, 3, dg.RangeObserverCount())

	t.Run("DependentsOfCell", func(t *testing.T) {
		// bare-name dependents come first, then range dependents in token order
		assert.Equal(t, []string{"D2", "D1"}, dg.DependentsOfCell("A2"))
		assert.Equal(t, []string{"D1", "D2"}, dg.DependentsOfCell("B3"))
		assert.Equal(t, []string{"D3"}, dg.DependentsOfCell("C5"))
		assert.Empty(t, dg.DependentsOfCell("D1"))
		assert.Empty(t, dg.DependentsOfCell("B4"))
	})

	t.Run("IsInRange", func(t *testing.T) {
		assert.True(t, dg.IsInRange("B2", "A1_B3"))
		assert.True(t, dg.IsInRange("B2", "B2_B2"))
		assert.False(t, dg.IsInRange("C2", "A1_B3"))
		assert.False(t, dg.IsInRange("B2", "foo"))
	})

	t.Run("ObserversDropWithLastDependent", func(t *testing.T) {
		dg.ClearDependencies("D3")
		assert.Equal(t, 2, dg.RangeObserverCount())
		assert.Empty(t, dg.DependentsOfCell("C5"))
	})
}

func TestDependencyGraphCycles(t *testing.T) {
	dg := NewDependencyGraph()
	dg.Rebind("B1", []string{"A1"})
	dg.Rebind("C1", []string{"B1"})
	dg.Rebind("E1", []string{"A1_A5"})

	tests := []struct {
		name   string
		cell   string
		tokens []string
		path   []string
	}{
		{"SelfReference", "A1", []string{"A1"}, []string{"A1", "A1"}},
		{"Indirect", "A1", []string{"C1"}, []string{"A1", "C1", "B1", "A1"}},
		{"SelfCoveringRange", "A2", []string{"A1_A3"}, []string{"A2", "A2"}},
		{"RangeCoveringDependent", "A1", []string{"B1_B2"}, []string{"A1", "B1", "A1"}},
		{"ThroughRangeDependent", "A3", []string{"E1"}, []string{"A3", "E1", "A3"}},
		{"NoCycle", "A1", []string{"D1", "D1_D9"}, nil},
		{"Unrelated", "D1", []string{"C1"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, found := dg.FindCycle(tt.cell, tt.tokens)
			assert.Equal(t, tt.path != nil, found)
			assert.Equal(t, tt.path, path)
		})
	}

	assert.Equal(t, "A1 -> B1 -> A1", FormatCycle([]string{"A1", "B1", "A1"}))
}

func TestCalculationOrder(t *testing.T) {
	t.Run("Chain", func(t *testing.T) {
		dg := NewDependencyGraph()
		dg.Rebind("B1", []string{"A1"})
		dg.Rebind("C1", []string{"B1"})
		dg.Rebind("D1", []string{"C1"})
		assert.Equal(t, []string{"B1", "C1", "D1"}, dg.GetCalculationOrder("A1"))
		assert.Equal(t, []string{"C1", "D1"}, dg.GetCalculationOrder("B1"))
		assert.Empty(t, dg.GetCalculationOrder("D1"))
	})

	t.Run("Diamond", func(t *testing.T) {
		dg := NewDependencyGraph()
		// C1 reads B1 as well as A1
		dg.Rebind("D1", []string{"B1", "C1"})
		dg.Rebind("B1", []string{"A1"})
		dg.Rebind("C1", []string{"A1", "B1"})

		order := dg.GetCalculationOrder("A1")
		require.Len(t, order, 3)
		assertBefore(t, order, "B1", "C1")
		assertBefore(t, order, "C1", "D1")
		assertBefore(t, order, "B1", "D1")
	})

	t.Run("ThroughRange", func(t *testing.T) {
		dg := NewDependencyGraph()
		// A5 sums a column that contains A2, which itself depends on A1
		dg.Rebind("A5", []string{"A1_A4"})
		dg.Rebind("A2", []string{"A1"})
		dg.Rebind("B1", []string{"A5"})

		order := dg.GetCalculationOrder("A1")
		assert.ElementsMatch(t, []string{"A2", "A5", "B1"}, order)
		assertBefore(t, order, "A2", "A5")
		assertBefore(t, order, "A5", "B1")
	})

	t.Run("ReorderAfterRebind", func(t *testing.T) {
		dg := NewDependencyGraph()
		dg.Rebind("B1", []string{"A1"})
		dg.Rebind("B2", []string{"B1"})
		dg.Rebind("C1", []string{"A1"})
		pending := []string{"C1", "B2"}
		assert.ElementsMatch(t, pending, dg.orderCells(pending))

		// C1 now reads B2, so it has to move behind it
		dg.Rebind("C1", []string{"B2"})
		assert.Equal(t, []string{"B2", "C1"}, dg.orderCells(pending))
		assert.Equal(t, []string{"B1", "B2", "C1"}, dg.GetCalculationOrder("A1"))
	})

	t.Run("AllDependents", func(t *testing.T) {
		dg := NewDependencyGraph()
		dg.Rebind("B1", []string{"A1"})
		dg.Rebind("C1", []string{"A1"})
		dg.Rebind("D1", []string{"B1", "C1"})
		assert.Equal(t, []string{"B1", "C1", "D1"}, dg.allDependents("A1"))
		assert.Empty(t, dg.allDependents("Z1"))
	})
}

func assertBefore(t *testing.T, order []string, first, second string) {
	t.Helper()
	i, j := slices.Index(order, first), slices.Index(order, second)
	require.NotEqual(t, -1, i, "%s missing from %v", first, order)
	require.NotEqual(t, -1, j, "%s missing from %v", second, order)
	assert.Less(t, i, j, "%s must come before %s in %v", first, second, order)
}
