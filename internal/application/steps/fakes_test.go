package steps

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aescanero/flowfarm/internal/ports"
)

type fakeProfiles struct {
	mu      sync.Mutex
	created []ports.ProfileSpec
	calls   []string
	failOn  string
}

func (f *fakeProfiles) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.failOn != "" && strings.HasPrefix(call, f.failOn) {
		return errors.New(f.failOn + " failed")
	}
	return nil
}

func (f *fakeProfiles) CreateProfile(_ context.Context, spec ports.ProfileSpec) (string, error) {
	if err := f.record("create " + spec.Name); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, spec)
	return fmt.Sprintf("p-%d", len(f.created)), nil
}

func (f *fakeProfiles) StartProfile(_ context.Context, id string) (string, error) {
	if err := f.record("start " + id); err != nil {
		return "", err
	}
	return "ws://127.0.0.1:9222/devtools/browser/" + id, nil
}

func (f *fakeProfiles) StopProfile(_ context.Context, id string) error {
	return f.record("stop " + id)
}

func (f *fakeProfiles) DeleteProfile(_ context.Context, id string) error {
	return f.record("delete " + id)
}

func (f *fakeProfiles) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeBrowser struct {
	page *fakePage
}

func (b *fakeBrowser) Connect(_ context.Context, endpoint string) (ports.Page, error) {
	b.page.endpoint = endpoint
	return b.page, nil
}

type fakePage struct {
	mu       sync.Mutex
	endpoint string
	actions  []string
	texts    map[string]string
	present  map[string]bool
	content  string
	response *ports.HTTPResponse
	requests []ports.HTTPRequest
	closed   int
}

func newFakePage() *fakePage {
	return &fakePage{texts: map[string]string{}, present: map[string]bool{}}
}

func (p *fakePage) act(a string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, a)
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.act("navigate " + url)
	return nil
}

func (p *fakePage) WaitVisible(_ context.Context, sel string) error {
	p.act("wait " + sel)
	return nil
}

func (p *fakePage) Click(_ context.Context, sel string) error {
	p.act("click " + sel)
	return nil
}

func (p *fakePage) Fill(_ context.Context, sel, value string) error {
	p.act("fill " + sel + "=" + value)
	return nil
}

func (p *fakePage) Text(_ context.Context, sel string) (string, error) {
	return p.texts[sel], nil
}

func (p *fakePage) Exists(_ context.Context, sel string) (bool, error) {
	return p.present[sel], nil
}

func (p *fakePage) Content(context.Context) (string, error) {
	return p.content, nil
}

func (p *fakePage) Fetch(_ context.Context, req ports.HTTPRequest) (*ports.HTTPResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.response == nil {
		return &ports.HTTPResponse{Status: 200}, nil
	}
	return p.response, nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

type fakeMail struct {
	mu       sync.Mutex
	opened   []ports.MailCredentials
	batches  [][]ports.MailMessage
	searches int
	deleted  []ports.MailQuery
	closed   int
}

func (m *fakeMail) Open(_ context.Context, creds ports.MailCredentials) (ports.MailSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = append(m.opened, creds)
	return m, nil
}

// Search returns the configured batches in order, then the last one
func (m *fakeMail) Search(context.Context, ports.MailQuery) ([]ports.MailMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searches++
	if len(m.batches) == 0 {
		return nil, nil
	}
	i := m.searches - 1
	if i >= len(m.batches) {
		i = len(m.batches) - 1
	}
	return m.batches[i], nil
}

func (m *fakeMail) Delete(_ context.Context, q ports.MailQuery) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, q)
	return 2, nil
}

func (m *fakeMail) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}
