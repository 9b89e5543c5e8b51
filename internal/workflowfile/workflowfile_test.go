package workflowfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aescanero/flowfarm/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlWorkflow = `
id: signup
name: Sign up
defaults:
  timeout: 30
nodes:
  - id: start
    kind: start
  - id: open
    kind: navigate
    config:
      url: "https://example.com/{{email}}"
      retries: 2
  - id: done
    kind: end
edges:
  - {id: e1, source: start, target: open}
  - {id: e2, source: open, target: done, branch: "true"}
`

const jsonWorkflow = `{
  "name": "Check",
  "nodes": [
    {"id": "start", "kind": "start"},
    {"id": "wait", "kind": "wait", "config": {"seconds": 1.5}}
  ],
  "edges": [{"id": "e1", "source": "start", "target": "wait"}]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	wf, err := Load(writeFile(t, "signup.yaml", yamlWorkflow))
	require.NoError(t, err)

	assert.Equal(t, "signup", wf.ID)
	assert.Equal(t, "Sign up", wf.Name)
	require.Len(t, wf.Nodes, 3)
	assert.Equal(t, domain.KindNavigate, wf.Nodes[1].Kind)
	assert.Equal(t, "https://example.com/{{email}}", wf.Nodes[1].Config.String("url"))
	assert.Equal(t, 2, wf.Nodes[1].Config.Int("retries", 0))
	assert.Equal(t, 30*time.Second, wf.Defaults.Seconds("timeout", 0))
	require.Len(t, wf.Edges, 2)
	assert.Equal(t, domain.BranchTrue, wf.Edges[1].Branch)
}

func TestLoadJSONDefaultsIDToFileName(t *testing.T) {
	wf, err := Load(writeFile(t, "check-mail.json", jsonWorkflow))
	require.NoError(t, err)

	assert.Equal(t, "check-mail", wf.ID)
	assert.Equal(t, 1.5, wf.Nodes[1].Config.Float("seconds", 0))
}

func TestLoadSniffsFormat(t *testing.T) {
	wf, err := Load(writeFile(t, "flow", jsonWorkflow))
	require.NoError(t, err)
	assert.Equal(t, "Check", wf.Name)

	wf, err = Load(writeFile(t, "flow.txt", yamlWorkflow))
	require.NoError(t, err)
	assert.Equal(t, "signup", wf.ID)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read workflow file")

	_, err = Load(writeFile(t, "bad.yaml", "nodes:\n  - id: a\n    typo: start\n"))
	assert.ErrorContains(t, err, "invalid YAML workflow")

	_, err = Load(writeFile(t, "bad.json", `{"nodes": [], "extra": true}`))
	assert.ErrorContains(t, err, "invalid JSON workflow")
}

func TestDetect(t *testing.T) {
	assert.Equal(t, FormatJSON, Detect([]byte("  \n{\"id\": \"x\"}")))
	assert.Equal(t, FormatYAML, Detect([]byte("id: x")))

	_, err := Parse([]byte("id: x"), Format("toml"))
	assert.Error(t, err)
}
