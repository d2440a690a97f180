package indexing

import "fmt"

// DependencyNode is anything with an id and a set of ids it depends on.
// The weaver's summarization scheduling uses this to model "a Summary must
// not be generated before all of its covered_message_ids have committed
// embeddings": one node per covered message id, plus a summary node whose
// Requires lists every one of those message ids.
type DependencyNode struct {
	ID       string
	Requires []string
}

// ValidateDAG reports an error if nodes contains a circular dependency,
// using a depth-first search with recursion-stack cycle detection,
// generalized from scheduled-action ordering to arbitrary dependency nodes.
func ValidateDAG(nodes []DependencyNode) error {
	byID := make(map[string]DependencyNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(id string) error
	visit = func(id string) error {
		visited[id] = true
		onStack[id] = true
		defer func() { onStack[id] = false }()

		node, ok := byID[id]
		if !ok {
			return nil // dependency not yet scheduled; nothing to validate transitively
		}
		for _, dep := range node.Requires {
			if onStack[dep] {
				return fmt.Errorf("indexing: circular dependency detected: %s -> %s", id, dep)
			}
			if !visited[dep] {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, n := range nodes {
		if !visited[n.ID] {
			if err := visit(n.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// ExecutionOrder returns nodes in topological order via Kahn's algorithm —
// nodes with no unmet dependency first, then whatever depends on them, and
// so on. Generalized the same way as ValidateDAG above.
func ExecutionOrder(nodes []DependencyNode) ([]DependencyNode, error) {
	graph := make(map[string][]DependencyNode)
	inDegree := make(map[string]int, len(nodes))
	for _, n := range nodes {
		inDegree[n.ID] = 0
	}
	for _, n := range nodes {
		for _, dep := range n.Requires {
			if _, ok := inDegree[dep]; !ok {
				continue // dependency outside this batch, treated as already satisfied
			}
			graph[dep] = append(graph[dep], n)
			inDegree[n.ID]++
		}
	}

	var queue []DependencyNode
	for _, n := range nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n)
		}
	}

	var result []DependencyNode
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		result = append(result, cur)
		for _, dependent := range graph[cur.ID] {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) != len(nodes) {
		return nil, fmt.Errorf("indexing: circular dependency detected in task graph")
	}
	return result, nil
}
