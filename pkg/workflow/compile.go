package workflow

import (
	"sort"

	"github.com/lesleslie/oneiric/pkg/types"
)

// Plan is a compiled WorkflowDefinition: nodes grouped into layers where
// every node in a layer only depends on nodes in earlier layers. Layers
// run sequentially; nodes within a layer run concurrently.
type Plan struct {
	Layers [][]string
}

// Compile topologically sorts def's DAG into layers using Kahn's
// algorithm. A node left over after the algorithm exhausts every
// zero-indegree frontier means the graph has a cycle.
func Compile(def types.WorkflowDefinition) (Plan, error) {
	indegree := make(map[string]int, len(def.Nodes))
	dependents := make(map[string][]string, len(def.Nodes))

	for key, node := range def.Nodes {
		if _, ok := indegree[key]; !ok {
			indegree[key] = 0
		}
		for _, dep := range node.DependsOn {
			indegree[key]++
			dependents[dep] = append(dependents[dep], key)
		}
	}

	var plan Plan
	remaining := len(indegree)
	for remaining > 0 {
		frontier := make([]string, 0)
		for key, deg := range indegree {
			if deg == 0 {
				frontier = append(frontier, key)
			}
		}
		if len(frontier) == 0 {
			return Plan{}, types.NewError(types.KindCyclicWorkflow, "workflow "+def.Key+" has a cycle")
		}
		sort.Strings(frontier)

		layer := make([]string, 0, len(frontier))
		for _, key := range frontier {
			layer = append(layer, key)
			delete(indegree, key)
			remaining--
		}
		for _, key := range frontier {
			for _, dep := range dependents[key] {
				indegree[dep]--
			}
		}
		plan.Layers = append(plan.Layers, layer)
	}

	return plan, nil
}
