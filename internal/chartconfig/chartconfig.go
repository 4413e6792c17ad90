// Package chartconfig defines the stored chart configuration: per-tab
// script sources plus chart-level metadata. A config is immutable for the
// duration of one request.
package chartconfig

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"
)

// Type identifies the chart kind; it selects post-processing behavior
// (comments, markdown rendering) in the orchestrator.
type Type string

const (
	TypeGraphNode       Type = "graph_node"
	TypeGraphWizardNode Type = "graph_wizard_node"
	TypeGraphQLNode     Type = "graph_ql_node"
	TypeTableNode       Type = "table_node"
	TypeMarkdownNode    Type = "markdown_node"
	TypeMetricNode      Type = "metric_node"
	TypeControlNode     Type = "control_node"
)

// HasComments reports whether the chart kind supports the comments
// post-processing step.
func (t Type) HasComments() bool {
	switch t {
	case TypeGraphNode, TypeGraphWizardNode, TypeGraphQLNode:
		return true
	}
	return false
}

// IsMarkdown reports whether the chart renders markdown output.
func (t Type) IsMarkdown() bool {
	return t == TypeMarkdownNode
}

// Tab names double as log bucket keys in the processor.
const (
	TabParams     = "Params"
	TabShared     = "Shared"
	TabSources    = "Sources"
	TabConfig     = "Config"
	TabPrepare    = "Prepare"
	TabControls   = "Controls"
	TabHighcharts = "Highcharts"
)

// Tabs holds the raw script text of each authored tab. Absent tabs are
// empty strings.
type Tabs struct {
	Params     string `toml:"params"`
	Shared     string `toml:"shared"`
	Sources    string `toml:"sources"`
	Config     string `toml:"config"`
	Prepare    string `toml:"prepare"`
	Controls   string `toml:"controls"`
	Highcharts string `toml:"highcharts"`
}

// ChartConfig identifies a chart and carries its tab scripts.
type ChartConfig struct {
	Key     string `toml:"key"`
	EntryID string `toml:"entry_id"`
	RevID   string `toml:"rev_id"`
	Type    Type   `toml:"type"`

	CreatedAt time.Time `toml:"created_at"`
	Author    string    `toml:"author,omitempty"`

	Tabs Tabs `toml:"tabs"`

	// Modules lists shared library modules the tabs import, beyond
	// those discovered by scanning the tab sources.
	Modules []string `toml:"modules,omitempty"`

	// Comments carries the chart-level comments configuration consumed
	// by the comments post-processing step.
	Comments map[string]any `toml:"comments,omitempty"`
}

var (
	// ErrChartConfig is the base error type for chart config errors.
	ErrChartConfig = errors.New("chart config error")

	// ErrMissingEntryID indicates the config has neither key nor entry id.
	ErrMissingEntryID = fmt.Errorf("%w: missing key and entry id", ErrChartConfig)

	// ErrMissingType indicates no chart type was set.
	ErrMissingType = fmt.Errorf("%w: missing chart type", ErrChartConfig)

	// ErrNoTabs indicates a config without a single script tab.
	ErrNoTabs = fmt.Errorf("%w: no script tabs", ErrChartConfig)
)

// Validate checks the config for structural problems.
func (c *ChartConfig) Validate() error {
	var errs []error

	if c.Key == "" && c.EntryID == "" {
		errs = append(errs, ErrMissingEntryID)
	}
	if c.Type == "" {
		errs = append(errs, ErrMissingType)
	}
	if c.Tabs == (Tabs{}) {
		errs = append(errs, ErrNoTabs)
	}

	return errors.Join(errs...)
}

// ID returns the best chart identifier available.
func (c *ChartConfig) ID() string {
	if c.EntryID != "" {
		return c.EntryID
	}
	return c.Key
}

func (c *ChartConfig) String() string {
	if c == nil {
		return "ChartConfig(nil)"
	}
	return fmt.Sprintf("ChartConfig(%s type=%s rev=%s)", c.ID(), c.Type, c.RevID)
}

// Tab scripts reference shared modules through the injected modules map.
var moduleRefRe = regexp.MustCompile(`modules(?:\[\"|\.get\(\")([^"]+)\"`)

// RequiredModules returns the union of explicitly declared modules and
// module references discovered in the tab sources, sorted and
// de-duplicated.
func (c *ChartConfig) RequiredModules() []string {
	seen := map[string]struct{}{}
	for _, name := range c.Modules {
		seen[name] = struct{}{}
	}
	for _, code := range []string{
		c.Tabs.Params, c.Tabs.Sources, c.Tabs.Config,
		c.Tabs.Prepare, c.Tabs.Controls, c.Tabs.Highcharts,
	} {
		for _, match := range moduleRefRe.FindAllStringSubmatch(code, -1) {
			seen[match[1]] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
