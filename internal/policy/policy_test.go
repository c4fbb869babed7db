package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScreenFlagsOrchestrationText(t *testing.T) {
	adv := NewAdvisor()

	assert.Empty(t, adv.Screen("fix flaky test", "the parser test fails on CI"))

	warning := adv.Screen("Spawn agents for the migration", "")
	assert.Contains(t, warning, "spawn agents")

	warning = adv.Screen("cleanup", "then ORCHESTRATE the rollout across workers")
	assert.NotEmpty(t, warning)

	assert.NotEmpty(t, adv.Screen("run the next worker round", ""))
	assert.NotEmpty(t, adv.Screen("coordinate the swarm", ""))
}

func TestNewAdvisorFromFileMergesKeywords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keywords.yaml")
	require.NoError(t, os.WriteFile(path, []byte("keywords:\n  - deploy fleet\n  - Orchestrate\n"), 0o644))

	adv, err := NewAdvisorFromFile(path)
	require.NoError(t, err)

	assert.NotEmpty(t, adv.Screen("deploy fleet to staging", ""))
	// built-ins survive the merge
	assert.NotEmpty(t, adv.Screen("spawn agent", ""))
}

func TestNewAdvisorFromFileErrors(t *testing.T) {
	_, err := NewAdvisorFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
