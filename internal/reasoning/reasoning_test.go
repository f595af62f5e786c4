package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeDerivesTransitiveAncestorsAndDescendants(t *testing.T) {
	e, err := New()
	require.NoError(t, err)

	closure, err := e.Compute(map[string]string{
		"dog":    "mammal",
		"mammal": "animal",
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"mammal", "animal"}, closure.Ancestors["dog"])
	assert.ElementsMatch(t, []string{"dog"}, closure.Descendants["mammal"])
	assert.ElementsMatch(t, []string{"dog", "mammal"}, closure.Descendants["animal"])
}

func TestComputeHandlesUnrelatedTypes(t *testing.T) {
	e, err := New()
	require.NoError(t, err)

	closure, err := e.Compute(map[string]string{"person": "concept"})
	require.NoError(t, err)

	assert.Empty(t, closure.Ancestors["location"])
	assert.Equal(t, []string{"concept"}, closure.Ancestors["person"])
}

func TestHasCycleDetectsDirectAndTransitiveCycles(t *testing.T) {
	e, err := New()
	require.NoError(t, err)

	existing := map[string]string{"b": "a"}

	cyclic, err := e.HasCycle(existing, "a", "b")
	require.NoError(t, err)
	assert.True(t, cyclic, "a under b should close a cycle since b is already under a")

	cyclic, err = e.HasCycle(existing, "c", "b")
	require.NoError(t, err)
	assert.False(t, cyclic)
}

func TestHasCycleRejectsSelfParent(t *testing.T) {
	e, err := New()
	require.NoError(t, err)

	cyclic, err := e.HasCycle(nil, "x", "x")
	require.NoError(t, err)
	assert.True(t, cyclic)
}
