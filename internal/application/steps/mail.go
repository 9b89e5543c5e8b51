package steps

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/aescanero/flowfarm/internal/application/engine"
	"github.com/aescanero/flowfarm/internal/domain"
	"github.com/aescanero/flowfarm/internal/ports"
	"go.uber.org/zap"
)

// DefaultCodePattern captures a six digit one-time code
const DefaultCodePattern = `\b(\d{6})\b`

type mailSteps struct {
	provider ports.MailboxProvider
	logger   *zap.Logger
}

// session returns the entity's mailbox session, opening it on first use
func (m *mailSteps) session(ctx context.Context, ec *engine.Context) (ports.MailSession, error) {
	if s := ec.Session().Mail; s != nil {
		return s, nil
	}
	if m.provider == nil {
		return nil, errNoMailbox
	}

	s, err := m.provider.Open(ctx, ports.MailCredentials{
		Address:      ec.Account.Email,
		ClientID:     ec.Account.ClientID,
		RefreshToken: ec.Account.RefreshToken,
	})
	if err != nil {
		return nil, fmt.Errorf("open mailbox %s: %w", ec.Account.Email, err)
	}
	ec.UpdateSession(func(sess *engine.Session) { sess.Mail = s })
	ec.Defer(releaseMail, func(context.Context) error {
		return s.Close()
	})
	return s, nil
}

func mailQuery(ec *engine.Context, node domain.Node, defaultWithin float64) ports.MailQuery {
	q := ports.MailQuery{
		From:    ec.ResolveOption(node.Config, "from"),
		Subject: ec.ResolveOption(node.Config, "subject"),
		Limit:   ec.ResolveInt(node.Config, "limit", 10),
	}
	if within := ec.ResolveFloat(node.Config, "within_minutes", defaultWithin); within > 0 {
		q.Since = time.Now().Add(-time.Duration(within * float64(time.Minute)))
	}
	return q
}

// read polls the mailbox until a message matching the query contains the
// pattern. The capture is stored in "save_as" (default otp). The poll
// interval is a cancellable wait. False once poll_timeout elapses.
func (m *mailSteps) read(ctx context.Context, ec *engine.Context, node domain.Node) (engine.Outcome, error) {
	pattern := node.Config.String("pattern")
	if pattern == "" {
		pattern = DefaultCodePattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return engine.OutcomeNone, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	saveAs := node.Config.String("save_as")
	if saveAs == "" {
		saveAs = "otp"
	}
	pollTimeout := ec.ResolveSeconds(node.Config, "poll_timeout", 45*time.Second)
	interval := ec.ResolveSeconds(node.Config, "poll_interval", 5*time.Second)

	sess, err := m.session(ctx, ec)
	if err != nil {
		return engine.OutcomeNone, err
	}

	query := mailQuery(ec, node, 10)
	deadline := time.Now().Add(pollTimeout)
	for attempt := 1; ; attempt++ {
		msgs, err := sess.Search(ctx, query)
		if err != nil {
			return engine.OutcomeNone, fmt.Errorf("search mailbox: %w", err)
		}
		for _, msg := range msgs {
			if v := firstMatch(re, msg.Subject+"\n"+msg.Body); v != "" {
				ec.Set(saveAs, v)
				ec.Logf(domain.LogLevelSuccess, "found code in %q (%s)", msg.Subject, msg.Folder)
				return engine.OutcomeTrue, nil
			}
		}

		if !time.Now().Add(interval).Before(deadline) {
			ec.Logf(domain.LogLevelWarn, "no matching mail after %d checks", attempt)
			return engine.OutcomeFalse, nil
		}
		m.logger.Debug("no matching mail yet",
			zap.String("account", ec.Account.Key()),
			zap.Int("attempt", attempt))
		if err := ec.Sleep(ctx, interval, "mail poll"); err != nil {
			return engine.OutcomeNone, err
		}
	}
}

func (m *mailSteps) delete(ctx context.Context, ec *engine.Context, node domain.Node) (engine.Outcome, error) {
	sess, err := m.session(ctx, ec)
	if err != nil {
		return engine.OutcomeNone, err
	}
	n, err := sess.Delete(ctx, mailQuery(ec, node, 0))
	if err != nil {
		return engine.OutcomeNone, fmt.Errorf("delete mail: %w", err)
	}
	ec.Logf(domain.LogLevelInfo, "deleted %d messages", n)
	return engine.OutcomeNone, nil
}
