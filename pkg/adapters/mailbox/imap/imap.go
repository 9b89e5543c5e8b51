package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aescanero/flowfarm/internal/ports"
	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// DefaultFolders is the folder set searched by a session
var DefaultFolders = []string{"INBOX", "Junk"}

// Config holds mailbox settings
type Config struct {
	Addr      string
	TokenURL  string
	Scopes    []string
	Mechanism string
	Folders   []string
	Timeout   time.Duration
	TLS       *tls.Config
}

// Provider implements ports.MailboxProvider
type Provider struct {
	cfg    Config
	logger *zap.Logger

	// dial is replaced in tests
	dial func(addr string, cfg *tls.Config) (*client.Client, error)
}

// NewProvider creates a new IMAP mailbox provider
func NewProvider(cfg Config, logger *zap.Logger) *Provider {
	if len(cfg.Folders) == 0 {
		cfg.Folders = DefaultFolders
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Provider{
		cfg:    cfg,
		logger: logger,
		dial:   client.DialTLS,
	}
}

// AccessToken exchanges the refresh token for an access token
func (p *Provider) AccessToken(ctx context.Context, creds ports.MailCredentials) (string, error) {
	if creds.RefreshToken == "" {
		return "", errors.New("account has no refresh token")
	}
	conf := &oauth2.Config{
		ClientID: creds.ClientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  p.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: p.cfg.Scopes,
	}
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken}).Token()
	if err != nil {
		return "", fmt.Errorf("failed to refresh access token: %w", err)
	}
	return tok.AccessToken, nil
}

// Open authenticates and returns a session over the configured folders
func (p *Provider) Open(ctx context.Context, creds ports.MailCredentials) (ports.MailSession, error) {
	token, err := p.AccessToken(ctx, creds)
	if err != nil {
		return nil, err
	}

	c, err := p.dial(p.cfg.Addr, p.cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", p.cfg.Addr, err)
	}
	c.Timeout = p.cfg.Timeout

	auth, err := saslClient(p.cfg.Mechanism, creds.Address, token)
	if err != nil {
		_ = c.Logout()
		return nil, err
	}
	if err := c.Authenticate(auth); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to authenticate %s: %w", creds.Address, err)
	}

	p.logger.Debug("mailbox opened", zap.String("address", creds.Address))
	return &Session{
		client:  c,
		folders: p.cfg.Folders,
		address: creds.Address,
		logger:  p.logger,
	}, nil
}

// Session implements ports.MailSession on one IMAP connection
type Session struct {
	mu      sync.Mutex
	client  *client.Client
	folders []string
	address string
	logger  *zap.Logger
}

// guard terminates the connection if ctx ends mid-command; IMAP commands
// cannot be cancelled in place
func (s *Session) guard(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() {
		_ = s.client.Terminate()
	})
}

// Search returns matching messages across the folders, newest first
func (s *Session) Search(ctx context.Context, query ports.MailQuery) ([]ports.MailMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.guard(ctx)()

	var out []ports.MailMessage
	for _, folder := range s.folders {
		uids, err := s.searchFolder(folder, query)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if len(uids) == 0 {
			continue
		}
		msgs, err := s.fetch(folder, uids)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		out = append(out, msgs...)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

// Delete flags matching messages deleted and expunges each folder
func (s *Session) Delete(ctx context.Context, query ports.MailQuery) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.guard(ctx)()

	deleted := 0
	for _, folder := range s.folders {
		uids, err := s.searchFolder(folder, query)
		if err != nil {
			return deleted, err
		}
		if len(uids) == 0 {
			continue
		}
		if query.Limit > 0 && len(uids) > query.Limit-deleted {
			uids = uids[len(uids)-(query.Limit-deleted):]
		}

		seqset := new(goimap.SeqSet)
		seqset.AddNum(uids...)
		item := goimap.FormatFlagsOp(goimap.AddFlags, true)
		if err := s.client.UidStore(seqset, item, []interface{}{goimap.DeletedFlag}, nil); err != nil {
			return deleted, fmt.Errorf("failed to flag messages in %s: %w", folder, err)
		}
		if err := s.client.Expunge(nil); err != nil {
			return deleted, fmt.Errorf("failed to expunge %s: %w", folder, err)
		}
		deleted += len(uids)
		if query.Limit > 0 && deleted >= query.Limit {
			break
		}
	}
	return deleted, nil
}

// searchFolder selects folder and returns the UIDs matching query in
// ascending order. A folder the server does not have yields no UIDs.
func (s *Session) searchFolder(folder string, query ports.MailQuery) ([]uint32, error) {
	if _, err := s.client.Select(folder, false); err != nil {
		s.logger.Debug("skipping mail folder",
			zap.String("address", s.address),
			zap.String("folder", folder),
			zap.Error(err))
		if s.client.State() == goimap.LogoutState {
			return nil, fmt.Errorf("mailbox connection closed: %w", err)
		}
		return nil, nil
	}

	criteria := goimap.NewSearchCriteria()
	if !query.Since.IsZero() {
		criteria.Since = query.Since
	}
	if query.From != "" {
		criteria.Header.Add("From", query.From)
	}
	if query.Subject != "" {
		criteria.Header.Add("Subject", query.Subject)
	}

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", folder, err)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (s *Session) fetch(folder string, uids []uint32) ([]ports.MailMessage, error) {
	seqset := new(goimap.SeqSet)
	seqset.AddNum(uids...)

	section := &goimap.BodySectionName{Peek: true}
	items := []goimap.FetchItem{goimap.FetchUid, goimap.FetchEnvelope, section.FetchItem()}

	messages := make(chan *goimap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqset, items, messages)
	}()

	var out []ports.MailMessage
	for msg := range messages {
		m, err := parseMessage(folder, msg, section)
		if err != nil {
			s.logger.Debug("skipping unparsable message",
				zap.String("folder", folder),
				zap.Uint32("uid", msg.Uid),
				zap.Error(err))
			continue
		}
		out = append(out, m)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch from %s: %w", folder, err)
	}
	return out, nil
}

func parseMessage(folder string, msg *goimap.Message, section *goimap.BodySectionName) (ports.MailMessage, error) {
	out := ports.MailMessage{Folder: folder, UID: msg.Uid}
	if env := msg.Envelope; env != nil {
		out.Subject = env.Subject
		out.Date = env.Date
		if len(env.From) > 0 {
			out.From = env.From[0].Address()
		}
	}

	r := msg.GetBody(section)
	if r == nil {
		return out, nil
	}
	body, err := readBody(r)
	if err != nil {
		return out, err
	}
	out.Body = body
	return out, nil
}

// readBody concatenates the text parts of a message, plain before HTML
func readBody(r io.Reader) (string, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", err
	}
	defer mr.Close()

	var plain, html []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		b, err := io.ReadAll(part.Body)
		if err != nil {
			return "", err
		}
		ct, _, _ := h.ContentType()
		if ct == "text/html" {
			html = append(html, string(b))
		} else {
			plain = append(plain, string(b))
		}
	}
	return strings.Join(append(plain, html...), "\n"), nil
}

// Close logs out
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client.State() == goimap.LogoutState {
		return nil
	}
	return s.client.Logout()
}
