package steps

import (
	"context"
	"fmt"

	"github.com/aescanero/flowfarm/internal/application/engine"
	"github.com/aescanero/flowfarm/internal/domain"
	"github.com/aescanero/flowfarm/internal/ports"
)

type statusSteps struct {
	store ports.EntityStore
}

func (s *statusSteps) update(ctx context.Context, ec *engine.Context, node domain.Node) (engine.Outcome, error) {
	if s.store == nil {
		return engine.OutcomeNone, errNoStore
	}
	status, err := requireOption(ec, node, "status")
	if err != nil {
		return engine.OutcomeNone, err
	}
	if err := s.store.UpdateAccountStatus(ctx, ec.Account.ID, status); err != nil {
		return engine.OutcomeNone, fmt.Errorf("update status of %s: %w", ec.Account.Key(), err)
	}
	previous := ec.Account.Status
	ec.Account.Status = status
	ec.Logf(domain.LogLevelInfo, "status %s -> %s", previous, status)
	return engine.OutcomeNone, nil
}
