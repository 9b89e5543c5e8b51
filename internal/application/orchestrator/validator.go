package orchestrator

import (
	"fmt"

	"github.com/aescanero/flowfarm/internal/domain"
)

// Validator validates workflow graphs
type Validator struct{}

// NewValidator creates a new workflow validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a workflow structure. Unknown step kinds are accepted:
// they run as warning no-ops.
func (v *Validator) Validate(wf *domain.WorkflowDefinition) error {
	if wf == nil {
		return invalid("workflow", "workflow is nil")
	}

	// Check basic fields
	if wf.ID == "" {
		return invalid("id", "workflow ID is required")
	}

	if len(wf.Nodes) == 0 {
		return invalid("nodes", "workflow must have at least one node")
	}

	// Validate nodes
	nodeIDs := make(map[string]bool, len(wf.Nodes))
	starts := 0
	for _, node := range wf.Nodes {
		if err := v.validateNode(node); err != nil {
			return err
		}

		// Check for duplicate node IDs
		if nodeIDs[node.ID] {
			return invalid("nodes", fmt.Sprintf("duplicate node ID: %s", node.ID))
		}
		nodeIDs[node.ID] = true

		if node.Kind == domain.KindStart {
			starts++
		}
	}

	if starts == 0 {
		return invalid("nodes", "workflow has no start node")
	}
	if starts > 1 {
		return invalid("nodes", fmt.Sprintf("workflow has %d start nodes", starts))
	}

	// Validate edges
	edgeIDs := make(map[string]bool, len(wf.Edges))
	for _, edge := range wf.Edges {
		if edge.ID != "" {
			if edgeIDs[edge.ID] {
				return invalid("edges", fmt.Sprintf("duplicate edge ID: %s", edge.ID))
			}
			edgeIDs[edge.ID] = true
		}
		if !nodeIDs[edge.Source] {
			return invalid("edges", fmt.Sprintf("edge references non-existent source node: %s", edge.Source))
		}
		if !nodeIDs[edge.Target] {
			return invalid("edges", fmt.Sprintf("edge references non-existent target node: %s", edge.Target))
		}
		if edge.Branch != "" && edge.Branch != domain.BranchTrue && edge.Branch != domain.BranchFalse {
			return invalid("edges", fmt.Sprintf("edge %s has invalid branch %q", edge.ID, edge.Branch))
		}
	}

	return nil
}

// validateNode validates a single node
func (v *Validator) validateNode(node domain.Node) error {
	if node.ID == "" {
		return invalid("nodes", "node ID is required")
	}

	if node.Kind == "" {
		return invalid("nodes", fmt.Sprintf("node %s has no kind", node.ID))
	}

	if node.Kind == domain.KindLoop && node.Config.Int("max", 1) < 0 {
		return invalid("nodes", fmt.Sprintf("loop node %s has negative max", node.ID))
	}

	return nil
}

func invalid(field, msg string) error {
	return &domain.ConfigError{Field: field, Message: msg}
}
