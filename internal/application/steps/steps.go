package steps

import (
	"errors"

	"github.com/aescanero/flowfarm/internal/application/engine"
	"github.com/aescanero/flowfarm/internal/domain"
	"github.com/aescanero/flowfarm/internal/ports"
	"go.uber.org/zap"
)

var (
	errNoPage        = errors.New("no browser page open, add a start_profile step first")
	errNoProfile     = errors.New("no profile in context, add a create_profile step first")
	errNoProvisioner = errors.New("profile provisioning is not configured")
	errNoBrowser     = errors.New("browser automation is not configured")
	errNoMailbox     = errors.New("mailbox access is not configured")
	errNoStore       = errors.New("entity store is not configured")
)

// Deps are the external capabilities used by the handlers. Any of them may
// be nil; the steps that need a missing capability fail with an error.
type Deps struct {
	Store    ports.EntityStore
	Profiles ports.ProfileProvisioner
	Browser  ports.Browser
	Mail     ports.MailboxProvider
	Logger   *zap.Logger
}

// Register binds every built-in kind on reg
func Register(reg *engine.Registry, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	reg.MustRegister(domain.KindStart, engine.HandlerFunc(noop))
	reg.MustRegister(domain.KindEnd, engine.HandlerFunc(noop))
	reg.MustRegister(domain.KindSetVariables, engine.HandlerFunc(setVariables))
	reg.MustRegister(domain.KindCondition, engine.HandlerFunc(condition))
	reg.MustRegister(domain.KindLoop, engine.HandlerFunc(loop))
	reg.MustRegister(domain.KindWait, engine.HandlerFunc(wait))
	reg.MustRegister(domain.KindLog, engine.HandlerFunc(logLine))

	p := &profileSteps{profiles: deps.Profiles, browser: deps.Browser, logger: deps.Logger}
	reg.MustRegister(domain.KindCreateProfile, engine.HandlerFunc(p.create))
	reg.MustRegister(domain.KindStartProfile, engine.HandlerFunc(p.start))
	reg.MustRegister(domain.KindStopProfile, engine.HandlerFunc(p.stop))
	reg.MustRegister(domain.KindDeleteProfile, engine.HandlerFunc(p.delete))

	reg.MustRegister(domain.KindNavigate, engine.HandlerFunc(navigate))
	reg.MustRegister(domain.KindWaitSelector, engine.HandlerFunc(waitForSelector))
	reg.MustRegister(domain.KindClick, engine.HandlerFunc(click))
	reg.MustRegister(domain.KindFill, engine.HandlerFunc(fill))
	reg.MustRegister(domain.KindExtractText, engine.HandlerFunc(extractText))
	reg.MustRegister(domain.KindHTTPRequest, engine.HandlerFunc(httpRequest))
	reg.MustRegister(domain.KindCheckChallenge, engine.HandlerFunc(checkChallenge))

	m := &mailSteps{provider: deps.Mail, logger: deps.Logger}
	reg.MustRegister(domain.KindReadMail, engine.HandlerFunc(m.read))
	reg.MustRegister(domain.KindDeleteMail, engine.HandlerFunc(m.delete))

	s := &statusSteps{store: deps.Store}
	reg.MustRegister(domain.KindUpdateStatus, engine.HandlerFunc(s.update))
}

// NewRegistry returns a registry with every built-in kind bound
func NewRegistry(deps Deps) *engine.Registry {
	reg := engine.NewRegistry()
	Register(reg, deps)
	return reg
}
