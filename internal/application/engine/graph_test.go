package engine

import (
	"testing"

	"github.com/aescanero/flowfarm/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func branchingWorkflow() *domain.WorkflowDefinition {
	return &domain.WorkflowDefinition{
		ID: "wf",
		Nodes: []domain.Node{
			{ID: "start", Kind: domain.KindStart},
			{ID: "check", Kind: domain.KindCondition},
			{ID: "yes", Kind: domain.KindLog, Config: domain.NodeConfig{"message": "yes"}},
			{ID: "no", Kind: domain.KindLog},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "start", Target: "check"},
			{ID: "e2", Source: "check", Target: "no", Branch: domain.BranchFalse},
			{ID: "e3", Source: "check", Target: "yes", Branch: domain.BranchTrue},
		},
		Defaults: domain.NodeConfig{"timeout": 5.0, "message": "default"},
	}
}

func TestCompile(t *testing.T) {
	g, err := Compile(branchingWorkflow())
	require.NoError(t, err)
	assert.Equal(t, "start", g.Start())
	assert.Len(t, g.Outgoing("check"), 2)

	yes, ok := g.Node("yes")
	require.True(t, ok)
	assert.Equal(t, "yes", yes.Config.String("message"), "node config wins over defaults")
	assert.Equal(t, 5.0, yes.Config.Float("timeout", 0))
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		def  *domain.WorkflowDefinition
	}{
		{"nil", nil},
		{"no nodes", &domain.WorkflowDefinition{ID: "wf"}},
		{"no start", &domain.WorkflowDefinition{ID: "wf", Nodes: []domain.Node{{ID: "a", Kind: domain.KindLog}}}},
		{"unknown target", &domain.WorkflowDefinition{
			ID:    "wf",
			Nodes: []domain.Node{{ID: "s", Kind: domain.KindStart}},
			Edges: []domain.Edge{{ID: "e", Source: "s", Target: "missing"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.def)
			require.Error(t, err)
			assert.True(t, domain.IsConfigError(err))
		})
	}
}

func TestCompileCopiesDefinition(t *testing.T) {
	def := branchingWorkflow()
	g, err := Compile(def)
	require.NoError(t, err)

	def.Nodes[2].Config["message"] = "changed"
	def.Edges[1].Target = "yes"

	yes, _ := g.Node("yes")
	assert.Equal(t, "yes", yes.Config.String("message"))
	next, ok := g.Next("check", domain.BranchFalse)
	require.True(t, ok)
	assert.Equal(t, "no", next.ID)
}

func TestGraphNext(t *testing.T) {
	g, err := Compile(branchingWorkflow())
	require.NoError(t, err)

	t.Run("single edge is unconditional", func(t *testing.T) {
		next, ok := g.Next("start", domain.BranchFalse)
		require.True(t, ok)
		assert.Equal(t, "check", next.ID)
	})

	t.Run("tagged edge wins", func(t *testing.T) {
		next, ok := g.Next("check", domain.BranchTrue)
		require.True(t, ok)
		assert.Equal(t, "yes", next.ID)

		next, ok = g.Next("check", domain.BranchFalse)
		require.True(t, ok)
		assert.Equal(t, "no", next.ID)
	})

	t.Run("first edge is the fallback", func(t *testing.T) {
		next, ok := g.Next("check", "other")
		require.True(t, ok)
		assert.Equal(t, "no", next.ID)
	})

	t.Run("no outgoing edge ends the walk", func(t *testing.T) {
		_, ok := g.Next("yes", domain.BranchTrue)
		assert.False(t, ok)
	})
}
