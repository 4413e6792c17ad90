// Package fancy renders chart configurations as styled trees for CLI
// output.
package fancy

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"

	"github.com/akrasnov87/charts-engine/internal/chartconfig"
)

var (
	rootStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")).
			Italic(true)

	branchStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// ChartTree renders a chart config as a tree: identity, tab inventory and
// required modules.
func ChartTree(cfg *chartconfig.ChartConfig) string {
	t := tree.New()
	t.EnumeratorStyle(branchStyle)
	t.Enumerator(tree.RoundedEnumerator)
	t.Root(rootStyle.Render(cfg.ID()))

	identity := tree.New().Root(sectionStyle.Render("chart"))
	identity.Child(infoStyle.Render(fmt.Sprintf("type: %s", cfg.Type)))
	if cfg.Key != "" {
		identity.Child(infoStyle.Render(fmt.Sprintf("key: %s", cfg.Key)))
	}
	if cfg.RevID != "" {
		identity.Child(infoStyle.Render(fmt.Sprintf("revision: %s", cfg.RevID)))
	}
	t.Child(identity)

	tabs := tree.New().Root(sectionStyle.Render("tabs"))
	for _, tab := range presentTabs(cfg.Tabs) {
		tabs.Child(tab)
	}
	t.Child(tabs)

	if modules := cfg.RequiredModules(); len(modules) > 0 {
		section := tree.New().Root(sectionStyle.Render("modules"))
		for _, module := range modules {
			section.Child(infoStyle.Render(module))
		}
		t.Child(section)
	}

	return t.String()
}

func presentTabs(tabs chartconfig.Tabs) []string {
	var out []string
	for _, entry := range []struct {
		name string
		code string
	}{
		{chartconfig.TabParams, tabs.Params},
		{chartconfig.TabShared, tabs.Shared},
		{chartconfig.TabSources, tabs.Sources},
		{chartconfig.TabConfig, tabs.Config},
		{chartconfig.TabPrepare, tabs.Prepare},
		{chartconfig.TabControls, tabs.Controls},
		{chartconfig.TabHighcharts, tabs.Highcharts},
	} {
		if entry.code != "" {
			out = append(out, entry.name)
		}
	}
	return out
}
