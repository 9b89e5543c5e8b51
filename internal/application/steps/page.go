package steps

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/aescanero/flowfarm/internal/application/engine"
	"github.com/aescanero/flowfarm/internal/domain"
	"github.com/aescanero/flowfarm/internal/ports"
	"github.com/tidwall/gjson"
)

// DefaultChallengeSelector matches the usual captcha and interstitial frames
const DefaultChallengeSelector = `iframe[src*="captcha"], iframe[src*="challenge"], #challenge-form, #cf-challenge-running`

func currentPage(ec *engine.Context) (ports.Page, error) {
	page := ec.Session().Page
	if page == nil {
		return nil, errNoPage
	}
	return page, nil
}

func requireOption(ec *engine.Context, node domain.Node, key string) (string, error) {
	v := ec.ResolveOption(node.Config, key)
	if v == "" {
		return "", fmt.Errorf("option %q is required", key)
	}
	return v, nil
}

func navigate(ctx context.Context, ec *engine.Context, node domain.Node) (engine.Outcome, error) {
	page, err := currentPage(ec)
	if err != nil {
		return engine.OutcomeNone, err
	}
	url, err := requireOption(ec, node, "url")
	if err != nil {
		return engine.OutcomeNone, err
	}
	if err := page.Navigate(ctx, url); err != nil {
		return engine.OutcomeNone, fmt.Errorf("navigate to %s: %w", url, err)
	}
	return engine.OutcomeNone, nil
}

func waitForSelector(ctx context.Context, ec *engine.Context, node domain.Node) (engine.Outcome, error) {
	page, err := currentPage(ec)
	if err != nil {
		return engine.OutcomeNone, err
	}
	sel, err := requireOption(ec, node, "selector")
	if err != nil {
		return engine.OutcomeNone, err
	}
	if err := page.WaitVisible(ctx, sel); err != nil {
		return engine.OutcomeNone, fmt.Errorf("wait for %s: %w", sel, err)
	}
	return engine.OutcomeNone, nil
}

func click(ctx context.Context, ec *engine.Context, node domain.Node) (engine.Outcome, error) {
	page, err := currentPage(ec)
	if err != nil {
		return engine.OutcomeNone, err
	}
	sel, err := requireOption(ec, node, "selector")
	if err != nil {
		return engine.OutcomeNone, err
	}
	if err := page.Click(ctx, sel); err != nil {
		return engine.OutcomeNone, fmt.Errorf("click %s: %w", sel, err)
	}
	return engine.OutcomeNone, nil
}

func fill(ctx context.Context, ec *engine.Context, node domain.Node) (engine.Outcome, error) {
	page, err := currentPage(ec)
	if err != nil {
		return engine.OutcomeNone, err
	}
	sel, err := requireOption(ec, node, "selector")
	if err != nil {
		return engine.OutcomeNone, err
	}
	if err := page.Fill(ctx, sel, ec.ResolveOption(node.Config, "value")); err != nil {
		return engine.OutcomeNone, fmt.Errorf("fill %s: %w", sel, err)
	}
	return engine.OutcomeNone, nil
}

// extractText stores the text of an element, optionally narrowed by the
// first capture group of "pattern". True when something was captured.
func extractText(ctx context.Context, ec *engine.Context, node domain.Node) (engine.Outcome, error) {
	page, err := currentPage(ec)
	if err != nil {
		return engine.OutcomeNone, err
	}
	sel, err := requireOption(ec, node, "selector")
	if err != nil {
		return engine.OutcomeNone, err
	}
	text, err := page.Text(ctx, sel)
	if err != nil {
		return engine.OutcomeNone, fmt.Errorf("read text of %s: %w", sel, err)
	}
	text = strings.TrimSpace(text)

	if pattern := node.Config.String("pattern"); pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return engine.OutcomeNone, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		text = firstMatch(re, text)
	}

	saveAs := node.Config.String("save_as")
	if saveAs == "" {
		saveAs = "text"
	}
	ec.Set(saveAs, text)
	return engine.OutcomeOf(text != ""), nil
}

// httpRequest issues a request from the page's session. The status code is
// stored in "save_status" (default http_status), the body optionally in
// "save_body", and each "var=json.path" line of "extract" is read from the
// body with gjson. True for 2xx responses.
func httpRequest(ctx context.Context, ec *engine.Context, node domain.Node) (engine.Outcome, error) {
	page, err := currentPage(ec)
	if err != nil {
		return engine.OutcomeNone, err
	}
	url, err := requireOption(ec, node, "url")
	if err != nil {
		return engine.OutcomeNone, err
	}
	method := strings.ToUpper(ec.ResolveOption(node.Config, "method"))
	if method == "" {
		method = "GET"
	}

	resp, err := page.Fetch(ctx, ports.HTTPRequest{
		Method:  method,
		URL:     url,
		Headers: parseHeaders(ec.ResolveOption(node.Config, "headers")),
		Body:    ec.ResolveOption(node.Config, "body"),
	})
	if err != nil {
		return engine.OutcomeNone, fmt.Errorf("%s %s: %w", method, url, err)
	}

	statusVar := node.Config.String("save_status")
	if statusVar == "" {
		statusVar = "http_status"
	}
	ec.Set(statusVar, fmt.Sprint(resp.Status))
	if bodyVar := node.Config.String("save_body"); bodyVar != "" {
		ec.Set(bodyVar, resp.Body)
	}
	for _, a := range ParseAssignments(node.Config.String("extract")) {
		ec.Set(a.Key, gjson.Get(resp.Body, a.Value).String())
	}

	ec.Logf(domain.LogLevelInfo, "%s %s -> %d", method, url, resp.Status)
	return engine.OutcomeOf(resp.Status >= 200 && resp.Status < 300), nil
}

// checkChallenge returns true when a bot challenge is on the page
func checkChallenge(ctx context.Context, ec *engine.Context, node domain.Node) (engine.Outcome, error) {
	page, err := currentPage(ec)
	if err != nil {
		return engine.OutcomeNone, err
	}

	sel := ec.ResolveOption(node.Config, "selector")
	if sel == "" {
		sel = DefaultChallengeSelector
	}
	found, err := page.Exists(ctx, sel)
	if err != nil {
		return engine.OutcomeNone, fmt.Errorf("look for challenge: %w", err)
	}

	if marker := ec.ResolveOption(node.Config, "marker"); !found && marker != "" {
		content, err := page.Content(ctx)
		if err != nil {
			return engine.OutcomeNone, fmt.Errorf("read page content: %w", err)
		}
		found = strings.Contains(strings.ToLower(content), strings.ToLower(marker))
	}

	if found {
		ec.Logf(domain.LogLevelWarn, "bot challenge detected")
	}
	return engine.OutcomeOf(found), nil
}

func parseHeaders(text string) map[string]string {
	headers := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		headers[k] = strings.TrimSpace(v)
	}
	return headers
}

func firstMatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	switch {
	case m == nil:
		return ""
	case len(m) > 1:
		return m[1]
	default:
		return m[0]
	}
}
