package steps

import (
	"context"
	"fmt"

	"github.com/aescanero/flowfarm/internal/application/engine"
	"github.com/aescanero/flowfarm/internal/domain"
	"github.com/aescanero/flowfarm/internal/ports"
	"go.uber.org/zap"
)

// Release keys registered on the context
const (
	releasePage          = "page.close"
	releaseProfileStop   = "profile.stop"
	releaseProfileDelete = "profile.delete"
	releaseMail          = "mail.close"
)

type profileSteps struct {
	profiles ports.ProfileProvisioner
	browser  ports.Browser
	logger   *zap.Logger
}

func (p *profileSteps) create(ctx context.Context, ec *engine.Context, node domain.Node) (engine.Outcome, error) {
	if p.profiles == nil {
		return engine.OutcomeNone, errNoProvisioner
	}

	name := ec.ResolveOption(node.Config, "name")
	if name == "" {
		name = ec.Account.Key()
	}
	id, err := p.profiles.CreateProfile(ctx, ports.ProfileSpec{
		Name:     name,
		Proxy:    ec.Proxy,
		StartURL: ec.ResolveOption(node.Config, "start_url"),
	})
	if err != nil {
		return engine.OutcomeNone, fmt.Errorf("create profile: %w", err)
	}

	ec.UpdateSession(func(s *engine.Session) { s.ProfileID = id })
	if !ec.ResolveBool(node.Config, "keep", false) {
		profiles := p.profiles
		ec.Defer(releaseProfileDelete, func(ctx context.Context) error {
			return profiles.DeleteProfile(ctx, id)
		})
	}
	ec.Logf(domain.LogLevelInfo, "created profile %s", id)
	return engine.OutcomeNone, nil
}

func (p *profileSteps) start(ctx context.Context, ec *engine.Context, node domain.Node) (engine.Outcome, error) {
	if p.profiles == nil {
		return engine.OutcomeNone, errNoProvisioner
	}
	if p.browser == nil {
		return engine.OutcomeNone, errNoBrowser
	}
	id := profileID(ec, node)
	if id == "" {
		return engine.OutcomeNone, errNoProfile
	}

	endpoint, err := p.profiles.StartProfile(ctx, id)
	if err != nil {
		return engine.OutcomeNone, fmt.Errorf("start profile %s: %w", id, err)
	}
	profiles := p.profiles
	ec.Defer(releaseProfileStop, func(ctx context.Context) error {
		return profiles.StopProfile(ctx, id)
	})

	page, err := p.browser.Connect(ctx, endpoint)
	if err != nil {
		return engine.OutcomeNone, fmt.Errorf("connect to %s: %w", endpoint, err)
	}
	ec.Defer(releasePage, func(context.Context) error {
		return page.Close()
	})
	ec.UpdateSession(func(s *engine.Session) {
		s.ProfileID = id
		s.Endpoint = endpoint
		s.Page = page
	})

	p.logger.Debug("profile started",
		zap.String("profile_id", id),
		zap.String("endpoint", endpoint))
	ec.Logf(domain.LogLevelInfo, "started profile %s", id)
	return engine.OutcomeNone, nil
}

func (p *profileSteps) stop(ctx context.Context, ec *engine.Context, node domain.Node) (engine.Outcome, error) {
	if p.profiles == nil {
		return engine.OutcomeNone, errNoProvisioner
	}
	sess := ec.Session()
	if sess.Page != nil {
		if err := sess.Page.Close(); err != nil {
			ec.Logf(domain.LogLevelWarn, "closing page: %v", err)
		}
		ec.Undefer(releasePage)
	}
	id := profileID(ec, node)
	if id == "" {
		return engine.OutcomeNone, errNoProfile
	}
	if err := p.profiles.StopProfile(ctx, id); err != nil {
		return engine.OutcomeNone, fmt.Errorf("stop profile %s: %w", id, err)
	}
	ec.Undefer(releaseProfileStop)
	ec.UpdateSession(func(s *engine.Session) {
		s.Page = nil
		s.Endpoint = ""
	})
	ec.Logf(domain.LogLevelInfo, "stopped profile %s", id)
	return engine.OutcomeNone, nil
}

func (p *profileSteps) delete(ctx context.Context, ec *engine.Context, node domain.Node) (engine.Outcome, error) {
	if p.profiles == nil {
		return engine.OutcomeNone, errNoProvisioner
	}
	id := profileID(ec, node)
	if id == "" {
		return engine.OutcomeNone, errNoProfile
	}
	if err := p.profiles.DeleteProfile(ctx, id); err != nil {
		return engine.OutcomeNone, fmt.Errorf("delete profile %s: %w", id, err)
	}
	ec.Undefer(releaseProfileDelete)
	ec.UpdateSession(func(s *engine.Session) { s.ProfileID = "" })
	ec.Logf(domain.LogLevelInfo, "deleted profile %s", id)
	return engine.OutcomeNone, nil
}

func profileID(ec *engine.Context, node domain.Node) string {
	if id := ec.ResolveOption(node.Config, "profile_id"); id != "" {
		return id
	}
	return ec.Session().ProfileID
}
