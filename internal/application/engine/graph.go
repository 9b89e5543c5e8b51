package engine

import (
	"github.com/aescanero/flowfarm/internal/domain"
)

// Graph is a compiled, read-only view of a workflow definition
type Graph struct {
	def      *domain.WorkflowDefinition
	nodes    map[string]domain.Node
	outgoing map[string][]domain.Edge
	start    string
}

// Compile indexes a definition. Node configs are merged over the
// workflow defaults. The definition is copied, so later edits to def do not
// reach a running graph.
func Compile(def *domain.WorkflowDefinition) (*Graph, error) {
	if def == nil || len(def.Nodes) == 0 {
		return nil, &domain.ConfigError{Field: "nodes", Message: "workflow has no nodes"}
	}
	def = def.Clone()

	g := &Graph{
		def:      def,
		nodes:    make(map[string]domain.Node, len(def.Nodes)),
		outgoing: make(map[string][]domain.Edge),
	}
	for _, n := range def.Nodes {
		n.Config = n.Config.Merge(def.Defaults)
		g.nodes[n.ID] = n
		if g.start == "" && n.Kind == domain.KindStart {
			g.start = n.ID
		}
	}
	if g.start == "" {
		return nil, &domain.ConfigError{Field: "nodes", Message: "workflow has no start node"}
	}
	for _, e := range def.Edges {
		if _, ok := g.nodes[e.Target]; !ok {
			return nil, &domain.ConfigError{Field: "edges", Message: "edge " + e.ID + " targets unknown node " + e.Target}
		}
		g.outgoing[e.Source] = append(g.outgoing[e.Source], e)
	}
	return g, nil
}

// Definition returns the compiled copy of the workflow
func (g *Graph) Definition() *domain.WorkflowDefinition {
	return g.def
}

// Start returns the designated start node id
func (g *Graph) Start() string {
	return g.start
}

// Node returns a node with its merged config
func (g *Graph) Node(id string) (domain.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Outgoing returns the edges leaving id in declaration order
func (g *Graph) Outgoing(id string) []domain.Edge {
	return g.outgoing[id]
}

// Next selects the edge to follow from id given the previous step's branch.
// A single edge is taken unconditionally; with several, the edge tagged with
// branch wins and the first declared edge is the fallback.
func (g *Graph) Next(id, branch string) (domain.Node, bool) {
	edges := g.outgoing[id]
	if len(edges) == 0 {
		return domain.Node{}, false
	}
	chosen := edges[0]
	if len(edges) > 1 {
		for _, e := range edges {
			if e.Branch == branch {
				chosen = e
				break
			}
		}
	}
	n, ok := g.nodes[chosen.Target]
	return n, ok
}
