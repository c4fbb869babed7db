// Package policy implements the governance advisory for task creation.
// Tasks whose text reads like orchestration work (spawning agents, managing
// other workers) get a non-blocking warning attached to the create result;
// the hub stays a coordination surface, not a process manager.
package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultKeywords flag task text that describes orchestrating other agents.
var defaultKeywords = []string{
	"spawn agent",
	"spawn agents",
	"launch agent",
	"launch agents",
	"start worker",
	"start workers",
	"orchestrate",
	"orchestration",
	"orchestrator",
	"swarm",
	"worker round",
	"manage agents",
	"kill agent",
	"restart agent",
	"scale workers",
	"supervise agents",
}

// Advisor screens task text against an orchestration keyword list.
type Advisor struct {
	keywords []string
}

// NewAdvisor creates an advisor with the built-in keyword list.
func NewAdvisor() *Advisor {
	return &Advisor{keywords: defaultKeywords}
}

// keywordsFile is the YAML shape of an external keyword list.
type keywordsFile struct {
	Keywords []string `yaml:"keywords"`
}

// NewAdvisorFromFile loads a YAML keyword list and merges it with the
// built-in set.
func NewAdvisorFromFile(path string) (*Advisor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy keywords file: %w", err)
	}
	var file keywordsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse policy keywords file: %w", err)
	}

	merged := append([]string(nil), defaultKeywords...)
	seen := make(map[string]bool, len(merged))
	for _, kw := range merged {
		seen[kw] = true
	}
	for _, kw := range file.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && !seen[kw] {
			merged = append(merged, kw)
			seen[kw] = true
		}
	}
	return &Advisor{keywords: merged}, nil
}

// Screen returns an advisory warning when the task text matches an
// orchestration keyword, or "" when it is clean. Matching is case-insensitive
// substring search; the advisory never blocks creation.
func (a *Advisor) Screen(title, description string) string {
	text := strings.ToLower(title + " " + description)
	for _, kw := range a.keywords {
		if strings.Contains(text, kw) {
			return fmt.Sprintf(
				"task text matches orchestration keyword %q; the hub coordinates work but does not manage agent processes",
				kw)
		}
	}
	return ""
}
