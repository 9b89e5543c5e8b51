package chromedp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/aescanero/flowfarm/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const loginPage = `<!doctype html>
<html><body>
<h1 id="title">Sign in</h1>
<form onsubmit="document.getElementById('result').textContent = 'hello ' + document.getElementById('user').value; return false;">
<input id="user" type="text" value="placeholder">
<button id="go" type="submit">Go</button>
</form>
<p id="result"></p>
</body></html>`

// startHeadless launches a local headless Chrome and returns its DevTools
// websocket endpoint
func startHeadless(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping headless browser test in short mode")
	}

	var bin string
	for _, name := range []string{"headless-shell", "chromium", "chromium-browser", "google-chrome", "google-chrome-stable"} {
		if p, err := exec.LookPath(name); err == nil {
			bin = p
			break
		}
	}
	if bin == "" {
		t.Skip("no Chrome or Chromium binary on PATH")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, bin,
		"--headless=new",
		"--no-sandbox",
		"--disable-gpu",
		"--no-first-run",
		"--remote-debugging-address=127.0.0.1",
		"--remote-debugging-port=0",
		"--user-data-dir="+t.TempDir(),
		"about:blank",
	)
	stderr, err := cmd.StderrPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		cancel()
		_ = cmd.Wait()
	})

	found := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := scanner.Text()
			if i := strings.Index(line, "ws://"); i >= 0 && strings.Contains(line, "DevTools listening on") {
				found <- strings.TrimSpace(line[i:])
				break
			}
		}
		_, _ = io.Copy(io.Discard, stderr)
	}()

	select {
	case ws := <-found:
		return ws
	case <-time.After(20 * time.Second):
		t.Fatal("browser did not report a DevTools endpoint")
		return ""
	}
}

func TestConnectUnreachableEndpoint(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := NewBrowser(zap.NewNop()).Connect(ctx, "ws://127.0.0.1:1/devtools/browser/none")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to ws://127.0.0.1:1")
}

func TestConnectCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBrowser(zap.NewNop()).Connect(ctx, "ws://127.0.0.1:1/devtools/browser/none")
	require.Error(t, err)
}

func TestPageActionsAfterConnect(t *testing.T) {
	endpoint := startHeadless(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/me":
			w.Header().Set("Content-Type", "application/json")
			_, _ = fmt.Fprintf(w, `{"method":%q}`, r.Method)
		default:
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(loginPage))
		}
	}))
	defer srv.Close()

	// Connect's context ends right away; the page must stay usable
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 15*time.Second)
	page, err := NewBrowser(zap.NewNop()).Connect(connectCtx, endpoint)
	cancelConnect()
	require.NoError(t, err)
	defer func() { assert.NoError(t, page.Close()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	require.NoError(t, page.Navigate(ctx, srv.URL+"/login"))
	require.NoError(t, page.WaitVisible(ctx, "#title"))

	title, err := page.Text(ctx, "#title")
	require.NoError(t, err)
	assert.Equal(t, "Sign in", title)

	found, err := page.Exists(ctx, `input[id="user"]`)
	require.NoError(t, err)
	assert.True(t, found)
	found, err = page.Exists(ctx, "#captcha")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, page.Fill(ctx, "#user", "alice"))
	require.NoError(t, page.Click(ctx, "#go"))
	require.Eventually(t, func() bool {
		text, err := page.Text(ctx, "#result")
		return err == nil && text == "hello alice"
	}, 5*time.Second, 50*time.Millisecond)

	resp, err := page.Fetch(ctx, ports.HTTPRequest{Method: "post", URL: "/api/me", Body: "{}"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.JSONEq(t, `{"method":"POST"}`, resp.Body)

	html, err := page.Content(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, `id="result"`)
}

func TestPageActionRespectsContext(t *testing.T) {
	endpoint := startHeadless(t)

	page, err := NewBrowser(zap.NewNop()).Connect(context.Background(), endpoint)
	require.NoError(t, err)
	defer page.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err = page.WaitVisible(ctx, "#never")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// a timed-out action leaves the tab attached
	live, cancelLive := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelLive()
	found, err := page.Exists(live, "body")
	require.NoError(t, err)
	assert.True(t, found)
}
