package fancy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/akrasnov87/charts-engine/internal/chartconfig"
)

func TestChartTree(t *testing.T) {
	t.Parallel()

	cfg := &chartconfig.ChartConfig{
		Key:     "reports/sales",
		EntryID: "entry-1",
		RevID:   "rev-3",
		Type:    chartconfig.TypeGraphNode,
		Tabs: chartconfig.Tabs{
			Params:  `{"region": ["eu"]}`,
			Prepare: `m := modules["date-utils"]`,
		},
	}

	out := ChartTree(cfg)
	assert.Contains(t, out, "entry-1")
	assert.Contains(t, out, "graph_node")
	assert.Contains(t, out, chartconfig.TabParams)
	assert.Contains(t, out, chartconfig.TabPrepare)
	assert.NotContains(t, out, chartconfig.TabControls)
	assert.Contains(t, out, "date-utils")
}
