package workflow

import (
	"testing"

	"github.com/lesleslie/oneiric/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_LinearChainProducesOneNodePerLayer(t *testing.T) {
	def := types.WorkflowDefinition{
		Key: "linear",
		Nodes: map[string]types.WorkflowNode{
			"A": {TaskKey: "a"},
			"B": {TaskKey: "b", DependsOn: []string{"A"}},
			"C": {TaskKey: "c", DependsOn: []string{"B"}},
		},
	}

	plan, err := Compile(def)
	require.NoError(t, err)
	require.Len(t, plan.Layers, 3)
	assert.Equal(t, []string{"A"}, plan.Layers[0])
	assert.Equal(t, []string{"B"}, plan.Layers[1])
	assert.Equal(t, []string{"C"}, plan.Layers[2])
}

func TestCompile_DiamondSharesLayer(t *testing.T) {
	def := types.WorkflowDefinition{
		Key: "diamond",
		Nodes: map[string]types.WorkflowNode{
			"A": {TaskKey: "a"},
			"B": {TaskKey: "b", DependsOn: []string{"A"}},
			"C": {TaskKey: "c", DependsOn: []string{"A"}},
			"D": {TaskKey: "d", DependsOn: []string{"B", "C"}},
		},
	}

	plan, err := Compile(def)
	require.NoError(t, err)
	require.Len(t, plan.Layers, 3)
	assert.ElementsMatch(t, []string{"B", "C"}, plan.Layers[1])
	assert.Equal(t, []string{"D"}, plan.Layers[2])
}

func TestCompile_CycleReturnsCyclicWorkflowError(t *testing.T) {
	def := types.WorkflowDefinition{
		Key: "cyclic",
		Nodes: map[string]types.WorkflowNode{
			"A": {TaskKey: "a", DependsOn: []string{"B"}},
			"B": {TaskKey: "b", DependsOn: []string{"A"}},
		},
	}

	_, err := Compile(def)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindCyclicWorkflow))
}
