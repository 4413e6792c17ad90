package interpolation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpand(t *testing.T) {
	t.Setenv("CHARTS_TEST_HOST", "data.internal")

	t.Run("empty_input", func(t *testing.T) {
		out, err := Expand("")
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("no_references", func(t *testing.T) {
		out, err := Expand("https://example.com/api")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/api", out)
	})

	t.Run("set_variable", func(t *testing.T) {
		out, err := Expand("https://${CHARTS_TEST_HOST}/api")
		require.NoError(t, err)
		assert.Equal(t, "https://data.internal/api", out)
	})

	t.Run("default_used_when_unset", func(t *testing.T) {
		out, err := Expand("${CHARTS_TEST_UNSET:fallback.host}")
		require.NoError(t, err)
		assert.Equal(t, "fallback.host", out)
	})

	t.Run("empty_default", func(t *testing.T) {
		out, err := Expand("prefix-${CHARTS_TEST_UNSET:}-suffix")
		require.NoError(t, err)
		assert.Equal(t, "prefix--suffix", out)
	})

	t.Run("env_wins_over_default", func(t *testing.T) {
		out, err := Expand("${CHARTS_TEST_HOST:ignored}")
		require.NoError(t, err)
		assert.Equal(t, "data.internal", out)
	})

	t.Run("missing_without_default", func(t *testing.T) {
		out, err := Expand("${CHARTS_TEST_UNSET}")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "CHARTS_TEST_UNSET")
		assert.Equal(t, "${CHARTS_TEST_UNSET}", out)
	})

	t.Run("multiple_missing_joined", func(t *testing.T) {
		_, err := Expand("${CHARTS_TEST_A}/${CHARTS_TEST_B}")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "CHARTS_TEST_A")
		assert.Contains(t, err.Error(), "CHARTS_TEST_B")
	})
}

func TestApply(t *testing.T) {
	t.Setenv("CHARTS_TEST_TOKEN", "secret-token")

	type inner struct {
		URL string `env_interpolation:"yes"`
	}
	type outer struct {
		Plain   string
		Tagged  string            `env_interpolation:"yes"`
		Headers map[string]string `env_interpolation:"yes"`
		Hosts   []string          `env_interpolation:"yes"`
		Nested  inner
		Ptr     *inner
	}

	t.Run("nil_value", func(t *testing.T) {
		require.NoError(t, Apply(nil))
	})

	t.Run("nil_pointer", func(t *testing.T) {
		var cfg *outer
		require.NoError(t, Apply(cfg))
	})

	t.Run("non_struct", func(t *testing.T) {
		value := "nope"
		require.Error(t, Apply(&value))
	})

	t.Run("tagged_fields_expanded", func(t *testing.T) {
		cfg := &outer{
			Plain:   "${CHARTS_TEST_TOKEN}",
			Tagged:  "Bearer ${CHARTS_TEST_TOKEN}",
			Headers: map[string]string{"Authorization": "OAuth ${CHARTS_TEST_TOKEN}"},
			Hosts:   []string{"${CHARTS_TEST_TOKEN}.svc", "static.svc"},
			Nested:  inner{URL: "https://${CHARTS_TEST_TOKEN}"},
			Ptr:     &inner{URL: "${CHARTS_TEST_TOKEN}"},
		}
		require.NoError(t, Apply(cfg))

		assert.Equal(t, "${CHARTS_TEST_TOKEN}", cfg.Plain, "untagged fields stay verbatim")
		assert.Equal(t, "Bearer secret-token", cfg.Tagged)
		assert.Equal(t, "OAuth secret-token", cfg.Headers["Authorization"])
		assert.Equal(t, []string{"secret-token.svc", "static.svc"}, cfg.Hosts)
		assert.Equal(t, "https://secret-token", cfg.Nested.URL)
		assert.Equal(t, "secret-token", cfg.Ptr.URL)
	})

	t.Run("missing_variable_reports_field", func(t *testing.T) {
		cfg := &outer{Tagged: "${CHARTS_TEST_UNSET}"}
		err := Apply(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Tagged")
		assert.Contains(t, err.Error(), "CHARTS_TEST_UNSET")
	})
}
