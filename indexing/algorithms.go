package indexing

import "container/heap"

// GraphView is a read-only borrowed view over a graph. Callers
// build one from storage.Coordinator.OutgoingEdges/IncomingEdges; the
// algorithms below never touch a KV environment directly.
type GraphView interface {
	// Neighbors returns the outgoing neighbor ids of node, each paired with
	// an edge weight.
	Neighbors(node string) map[string]float64
}

// MapGraph is the simplest GraphView: a plain adjacency map, useful for
// tests and for small subgraphs already materialized in memory.
type MapGraph map[string]map[string]float64

func (g MapGraph) Neighbors(node string) map[string]float64 { return g[node] }

// pqItem is one entry in Dijkstra/A*'s priority queue.
type pqItem struct {
	node string
	dist float64
}

type priorityQueue []pqItem

func (pq priorityQueue) Len() int            { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool  { return pq[i].dist < pq[j].dist }
func (pq priorityQueue) Swap(i, j int)       { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x interface{}) { *pq = append(*pq, x.(pqItem)) }
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	v := old[n-1]
	*pq = old[:n-1]
	return v
}

// Dijkstra computes shortest-path distances from source to every reachable
// node, along with the predecessor needed to reconstruct a path. Edge
// weights must be non-negative.
func Dijkstra(g GraphView, source string) (dist map[string]float64, prev map[string]string) {
	dist = map[string]float64{source: 0}
	prev = map[string]string{}
	visited := map[string]bool{}

	pq := &priorityQueue{{node: source, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(pqItem)
		if visited[cur.node] {
			continue
		}
		visited[cur.node] = true

		for nb, w := range g.Neighbors(cur.node) {
			nd := cur.dist + w
			if existing, ok := dist[nb]; !ok || nd < existing {
				dist[nb] = nd
				prev[nb] = cur.node
				heap.Push(pq, pqItem{node: nb, dist: nd})
			}
		}
	}
	return dist, prev
}

// AStar finds a shortest path from source to target using heuristic h
// (admissible: never overestimates true distance), returning the path
// (inclusive of both endpoints) and its total cost.
func AStar(g GraphView, source, target string, h func(node string) float64) (path []string, cost float64, found bool) {
	gScore := map[string]float64{source: 0}
	fScore := map[string]float64{source: h(source)}
	prev := map[string]string{}

	pq := &priorityQueue{{node: source, dist: fScore[source]}}
	heap.Init(pq)
	visited := map[string]bool{}

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(pqItem)
		if visited[cur.node] {
			continue
		}
		if cur.node == target {
			return reconstructPath(prev, source, target), gScore[target], true
		}
		visited[cur.node] = true

		for nb, w := range g.Neighbors(cur.node) {
			tentative := gScore[cur.node] + w
			if existing, ok := gScore[nb]; !ok || tentative < existing {
				gScore[nb] = tentative
				fScore[nb] = tentative + h(nb)
				prev[nb] = cur.node
				heap.Push(pq, pqItem{node: nb, dist: fScore[nb]})
			}
		}
	}
	return nil, 0, false
}

func reconstructPath(prev map[string]string, source, target string) []string {
	var path []string
	for at := target; ; {
		path = append([]string{at}, path...)
		if at == source {
			break
		}
		p, ok := prev[at]
		if !ok {
			return nil
		}
		at = p
	}
	return path
}

// BellmanFord computes shortest-path distances from source, tolerating
// negative edge weights (unlike Dijkstra) and reporting whether a
// negative-weight cycle reachable from source was detected.
func BellmanFord(g GraphView, nodes []string, source string) (dist map[string]float64, negativeCycle bool) {
	dist = make(map[string]float64, len(nodes))
	for _, n := range nodes {
		dist[n] = posInf
	}
	dist[source] = 0

	for i := 0; i < len(nodes)-1; i++ {
		changed := false
		for _, u := range nodes {
			du := dist[u]
			if du == posInf {
				continue
			}
			for v, w := range g.Neighbors(u) {
				if nd := du + w; nd < dist[v] {
					dist[v] = nd
					changed = true
				}
			}
		}
		if !changed {
			break
		}
	}

	for _, u := range nodes {
		du := dist[u]
		if du == posInf {
			continue
		}
		for v, w := range g.Neighbors(u) {
			if du+w < dist[v] {
				return dist, true
			}
		}
	}
	return dist, false
}

const posInf = 1e18

// PageRank runs the classic power-iteration PageRank over nodes, using
// damping factor d (typically 0.85) for up to maxIter iterations or until
// the L1 delta between iterations falls below tol.
func PageRank(g GraphView, nodes []string, d float64, maxIter int, tol float64) map[string]float64 {
	n := float64(len(nodes))
	if n == 0 {
		return nil
	}
	rank := make(map[string]float64, len(nodes))
	for _, node := range nodes {
		rank[node] = 1 / n
	}

	outWeight := make(map[string]float64, len(nodes))
	for _, node := range nodes {
		var sum float64
		for _, w := range g.Neighbors(node) {
			sum += w
		}
		outWeight[node] = sum
	}

	for iter := 0; iter < maxIter; iter++ {
		next := make(map[string]float64, len(nodes))
		base := (1 - d) / n
		for _, node := range nodes {
			next[node] = base
		}
		var dangling float64
		for _, node := range nodes {
			if outWeight[node] == 0 {
				dangling += rank[node]
			}
		}
		for _, node := range nodes {
			next[node] += d * dangling / n
		}
		for _, u := range nodes {
			if outWeight[u] == 0 {
				continue
			}
			for v, w := range g.Neighbors(u) {
				next[v] += d * rank[u] * (w / outWeight[u])
			}
		}

		var delta float64
		for _, node := range nodes {
			diff := next[node] - rank[node]
			if diff < 0 {
				diff = -diff
			}
			delta += diff
		}
		rank = next
		if delta < tol {
			break
		}
	}
	return rank
}

// TarjanSCC returns the strongly connected components of the subgraph
// induced by nodes, each as a slice of node ids.
func TarjanSCC(g GraphView, nodes []string) [][]string {
	index := 0
	indices := make(map[string]int)
	lowlink := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	var result [][]string

	var strongconnect func(v string)
	strongconnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for w := range g.Neighbors(v) {
			if _, seen := indices[w]; !seen {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if indices[w] < lowlink[v] {
					lowlink[v] = indices[w]
				}
			}
		}

		if lowlink[v] == indices[v] {
			var component []string
			for {
				n := len(stack) - 1
				w := stack[n]
				stack = stack[:n]
				onStack[w] = false
				component = append(component, w)
				if w == v {
					break
				}
			}
			result = append(result, component)
		}
	}

	for _, v := range nodes {
		if _, seen := indices[v]; !seen {
			strongconnect(v)
		}
	}
	return result
}

// ArticulationPoints returns the cut vertices of the undirected graph
// induced by nodes (treating edges as bidirectional), via the standard
// DFS low-link algorithm.
func ArticulationPoints(g GraphView, nodes []string) []string {
	adj := make(map[string]map[string]bool)
	link := func(a, b string) {
		if adj[a] == nil {
			adj[a] = make(map[string]bool)
		}
		adj[a][b] = true
	}
	for _, n := range nodes {
		for v := range g.Neighbors(n) {
			link(n, v)
			link(v, n)
		}
	}

	visited := make(map[string]bool)
	disc := make(map[string]int)
	low := make(map[string]int)
	parent := make(map[string]string)
	isCut := make(map[string]bool)
	timer := 0

	var dfs func(u string)
	dfs = func(u string) {
		visited[u] = true
		disc[u] = timer
		low[u] = timer
		timer++
		children := 0

		for v := range adj[u] {
			if !visited[v] {
				children++
				parent[v] = u
				dfs(v)
				if low[v] < low[u] {
					low[u] = low[v]
				}
				if _, hasParent := parent[u]; hasParent && low[v] >= disc[u] {
					isCut[u] = true
				}
				if _, hasParent := parent[u]; !hasParent && children > 1 {
					isCut[u] = true
				}
			} else if v != parent[u] {
				if disc[v] < low[u] {
					low[u] = disc[v]
				}
			}
		}
	}

	for _, n := range nodes {
		if !visited[n] {
			dfs(n)
		}
	}

	out := make([]string, 0, len(isCut))
	for n := range isCut {
		out = append(out, n)
	}
	return out
}

// Community is one detected cluster, used by the Louvain-style detector
// below.
type Community struct {
	ID    int
	Nodes []string
}

// LouvainCommunities runs a Louvain-inspired greedy modularity
// optimization: each pass moves every node into whichever neighboring
// community most increases modularity, and passes repeat until one makes
// no move or 20 passes have run. This is
// a simplified, single-level version of full multi-level Louvain — enough
// to "community detection (Louvain or similar)"
// without pulling in a full graph-analysis dependency the rest of the pack
// never reaches for.
func LouvainCommunities(g GraphView, nodes []string) []Community {
	community := make(map[string]int, len(nodes))
	for i, n := range nodes {
		community[n] = i
	}

	degree := make(map[string]float64, len(nodes))
	var totalWeight float64
	for _, n := range nodes {
		for _, w := range g.Neighbors(n) {
			degree[n] += w
			totalWeight += w
		}
	}
	if totalWeight == 0 {
		totalWeight = 1
	}

	improved := true
	for pass := 0; improved && pass < 20; pass++ {
		improved = false
		for _, n := range nodes {
			best := community[n]
			bestGain := 0.0
			neighborCommunities := map[int]float64{}
			for nb, w := range g.Neighbors(n) {
				neighborCommunities[community[nb]] += w
			}
			for c, linkWeight := range neighborCommunities {
				if c == community[n] {
					continue
				}
				gain := linkWeight - degree[n]*degree[n]/(2*totalWeight)
				if gain > bestGain {
					bestGain = gain
					best = c
				}
			}
			if best != community[n] {
				community[n] = best
				improved = true
			}
		}
	}

	groups := map[int][]string{}
	for _, n := range nodes {
		c := community[n]
		groups[c] = append(groups[c], n)
	}
	out := make([]Community, 0, len(groups))
	for id, members := range groups {
		out = append(out, Community{ID: id, Nodes: members})
	}
	return out
}
