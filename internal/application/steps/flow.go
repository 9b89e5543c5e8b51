package steps

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/aescanero/flowfarm/internal/application/engine"
	"github.com/aescanero/flowfarm/internal/domain"
)

func noop(context.Context, *engine.Context, domain.Node) (engine.Outcome, error) {
	return engine.OutcomeNone, nil
}

// Assignment is one key=value line of a set_variables step
type Assignment struct {
	Key   string
	Value string
}

// ParseAssignments splits newline separated key=value pairs. Blank lines,
// lines starting with # and lines without a key are skipped. Only the first
// "=" separates key from value.
func ParseAssignments(text string) []Assignment {
	var out []Assignment
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		if key == "" {
			continue
		}
		out = append(out, Assignment{Key: key, Value: strings.TrimSpace(line[idx+1:])})
	}
	return out
}

func setVariables(_ context.Context, ec *engine.Context, node domain.Node) (engine.Outcome, error) {
	for _, a := range ParseAssignments(node.Config.String("variables")) {
		ec.Set(a.Key, ec.Resolve(a.Value))
	}
	return engine.OutcomeNone, nil
}

func condition(_ context.Context, ec *engine.Context, node domain.Node) (engine.Outcome, error) {
	left := ec.ResolveOption(node.Config, "left")
	right := ec.ResolveOption(node.Config, "right")
	op := strings.ToLower(strings.TrimSpace(node.Config.String("operator")))
	if op == "" {
		op = "equals"
	}

	ok, err := Compare(left, op, right)
	if err != nil {
		return engine.OutcomeNone, err
	}
	return engine.OutcomeOf(ok), nil
}

// Compare evaluates a condition operator over two resolved strings
func Compare(left, op, right string) (bool, error) {
	switch op {
	case "equals", "eq", "==":
		return left == right, nil
	case "not_equals", "ne", "!=":
		return left != right, nil
	case "contains":
		return strings.Contains(left, right), nil
	case "not_contains":
		return !strings.Contains(left, right), nil
	case "empty":
		return strings.TrimSpace(left) == "", nil
	case "not_empty":
		return strings.TrimSpace(left) != "", nil
	case "matches":
		re, err := regexp.Compile(right)
		if err != nil {
			return false, fmt.Errorf("invalid pattern %q: %w", right, err)
		}
		return re.MatchString(left), nil
	case "gt", ">", "lt", "<":
		l, lerr := strconv.ParseFloat(strings.TrimSpace(left), 64)
		r, rerr := strconv.ParseFloat(strings.TrimSpace(right), 64)
		if lerr != nil || rerr != nil {
			return false, nil
		}
		if op == "gt" || op == ">" {
			return l > r, nil
		}
		return l < r, nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

// loop counts visits in the context under the node's own id. Up to max
// visits return true; the next one clears the counter and returns false.
func loop(_ context.Context, ec *engine.Context, node domain.Node) (engine.Outcome, error) {
	limit := ec.ResolveInt(node.Config, "max", 1)
	n := ec.IncrementCounter(node.ID)
	if n <= limit {
		ec.Logf(domain.LogLevelInfo, "loop %s iteration %d/%d", node.ID, n, limit)
		return engine.OutcomeTrue, nil
	}
	ec.ResetCounter(node.ID)
	return engine.OutcomeFalse, nil
}

func wait(ctx context.Context, ec *engine.Context, node domain.Node) (engine.Outcome, error) {
	d := ec.ResolveSeconds(node.Config, "seconds", 0)
	if err := ec.Sleep(ctx, d, "wait step"); err != nil {
		return engine.OutcomeNone, err
	}
	return engine.OutcomeNone, nil
}

func logLine(_ context.Context, ec *engine.Context, node domain.Node) (engine.Outcome, error) {
	level := domain.LogLevel(node.Config.String("level"))
	switch level {
	case domain.LogLevelInfo, domain.LogLevelWarn, domain.LogLevelError, domain.LogLevelSuccess:
	default:
		level = domain.LogLevelInfo
	}
	ec.Logf(level, "%s", ec.ResolveOption(node.Config, "message"))
	return engine.OutcomeNone, nil
}
