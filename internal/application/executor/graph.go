package executor

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/flowrun/flowrun/internal/domain"
)

// WorkflowGraph is the in-memory adjacency structure built from a
// domain.Workflow aggregate, used by the planner, the join/merge
// coordinator, and the variable binder for topology queries the aggregate
// itself doesn't expose directly (predecessors, waves, cycle-free ordering).
type WorkflowGraph struct {
	nodes       map[uuid.UUID]domain.Node
	nodesByName map[string]domain.Node
	outgoing    map[uuid.UUID][]domain.Edge
	incoming    map[uuid.UUID][]domain.Edge
	mergeNodes  map[uuid.UUID]bool
}

// NewWorkflowGraph builds a graph from a workflow's current nodes and edges.
func NewWorkflowGraph(workflow domain.Workflow) (*WorkflowGraph, error) {
	g := &WorkflowGraph{
		nodes:       make(map[uuid.UUID]domain.Node),
		nodesByName: make(map[string]domain.Node),
		outgoing:    make(map[uuid.UUID][]domain.Edge),
		incoming:    make(map[uuid.UUID][]domain.Edge),
		mergeNodes:  make(map[uuid.UUID]bool),
	}

	for _, n := range workflow.GetAllNodes() {
		g.nodes[n.ID()] = n
		g.nodesByName[n.Name()] = n
		if n.Type() == domain.NodeTypeMerge {
			g.mergeNodes[n.ID()] = true
		}
	}

	for _, e := range workflow.GetAllEdges() {
		if _, ok := g.nodes[e.FromNodeID()]; !ok {
			return nil, fmt.Errorf("edge %s references unknown source node %s", e.ID(), e.FromNodeID())
		}
		if _, ok := g.nodes[e.ToNodeID()]; !ok {
			return nil, fmt.Errorf("edge %s references unknown target node %s", e.ID(), e.ToNodeID())
		}
		g.outgoing[e.FromNodeID()] = append(g.outgoing[e.FromNodeID()], e)
		g.incoming[e.ToNodeID()] = append(g.incoming[e.ToNodeID()], e)
	}

	return g, nil
}

func (g *WorkflowGraph) GetNode(id uuid.UUID) (domain.Node, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s not found in graph", id)
	}
	return n, nil
}

func (g *WorkflowGraph) GetNodeByName(name string) (domain.Node, error) {
	n, ok := g.nodesByName[name]
	if !ok {
		return nil, fmt.Errorf("node %q not found in graph", name)
	}
	return n, nil
}

func (g *WorkflowGraph) GetAllNodes() []domain.Node {
	out := make([]domain.Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	return out
}

func (g *WorkflowGraph) GetNodeCount() int {
	return len(g.nodes)
}

func (g *WorkflowGraph) GetOutgoingEdges(nodeID uuid.UUID) []domain.Edge {
	return g.outgoing[nodeID]
}

func (g *WorkflowGraph) GetIncomingEdges(nodeID uuid.UUID) []domain.Edge {
	return g.incoming[nodeID]
}

// GetPredecessors returns the source node IDs of every incoming edge,
// excluding loop-back edges (sourcePort == domain.LoopPort) since those
// belong to the next loop iteration, not the current wave's dependencies.
func (g *WorkflowGraph) GetPredecessors(nodeID uuid.UUID) []uuid.UUID {
	edges := g.incoming[nodeID]
	out := make([]uuid.UUID, 0, len(edges))
	for _, e := range edges {
		if e.IsLoopBack() {
			continue
		}
		out = append(out, e.FromNodeID())
	}
	return out
}

// GetEntryNodes returns nodes with no non-loop-back incoming edges.
func (g *WorkflowGraph) GetEntryNodes() []uuid.UUID {
	out := make([]uuid.UUID, 0)
	for id := range g.nodes {
		if len(g.GetPredecessors(id)) == 0 {
			out = append(out, id)
		}
	}
	return out
}

func (g *WorkflowGraph) IsJoinNode(nodeID uuid.UUID) bool {
	return g.mergeNodes[nodeID]
}

// GetJoinStrategy reads a merge node's join strategy out of its config,
// defaulting to wait_all when unset or unparseable.
func (g *WorkflowGraph) GetJoinStrategy(nodeID uuid.UUID) domain.JoinStrategy {
	n, ok := g.nodes[nodeID]
	if !ok {
		return domain.JoinStrategyWaitAll
	}
	if raw, ok := n.Config()["strategy"].(string); ok {
		s := domain.JoinStrategy(raw)
		if s.IsValid() {
			return s
		}
	}
	return domain.JoinStrategyWaitAll
}

// TopologicalSort returns a Kahn-order traversal of the graph, treating
// loop-back edges as absent so a splitInBatches loop body doesn't register
// as a cycle.
func (g *WorkflowGraph) TopologicalSort() ([]uuid.UUID, error) {
	inDegree := make(map[uuid.UUID]int, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] = len(g.GetPredecessors(id))
	}

	queue := make([]uuid.UUID, 0)
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	sorted := make([]uuid.UUID, 0, len(g.nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, id)

		for _, e := range g.outgoing[id] {
			if e.IsLoopBack() {
				continue
			}
			to := e.ToNodeID()
			inDegree[to]--
			if inDegree[to] == 0 {
				queue = append(queue, to)
			}
		}
	}

	if len(sorted) != len(g.nodes) {
		return nil, domain.NewDomainError(domain.ErrCodeCyclicDependency,
			"workflow graph contains a cycle outside any loop scope", nil)
	}

	return sorted, nil
}

// GetParallelizableNodes groups the graph into waves: layer k contains every
// node whose non-loop-back predecessors all finished in layers < k. Nodes
// within a wave have no dependency on one another and may run concurrently.
func (g *WorkflowGraph) GetParallelizableNodes() ([][]uuid.UUID, error) {
	if _, err := g.TopologicalSort(); err != nil {
		return nil, err
	}

	layer := make(map[uuid.UUID]int, len(g.nodes))
	remaining := make(map[uuid.UUID]bool, len(g.nodes))
	for id := range g.nodes {
		remaining[id] = true
	}

	placed := 0
	for currentLayer := 0; len(remaining) > 0; currentLayer++ {
		wave := make([]uuid.UUID, 0)
		for id := range remaining {
			ready := true
			for _, depID := range g.GetPredecessors(id) {
				if remaining[depID] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, id)
			}
		}
		if len(wave) == 0 {
			return nil, domain.NewDomainError(domain.ErrCodeCyclicDependency,
				"unable to make progress building execution waves; check for a cycle", nil)
		}
		for _, id := range wave {
			layer[id] = currentLayer
			delete(remaining, id)
			placed++
		}
	}

	waves := make([][]uuid.UUID, 0)
	for id, l := range layer {
		for len(waves) <= l {
			waves = append(waves, []uuid.UUID{})
		}
		waves[l] = append(waves[l], id)
	}
	_ = placed
	return waves, nil
}
