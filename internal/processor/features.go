package processor

import "time"

// FeatureSet carries the server-level feature switches that gate
// post-processing behavior.
type FeatureSet struct {
	// DisableFnAndHtml forces enableJsAndHtml off for every chart.
	DisableFnAndHtml bool

	// NoJSONFn disables function-preserving serialization of config
	// exports regardless of per-chart settings.
	NoJSONFn bool

	// ChartComments enables best-effort comments resolution for graph
	// chart types.
	ChartComments bool

	// ResponseConfig allows echoing the stored chart config back to
	// callers that ask for it.
	ResponseConfig bool

	// JSAndHTMLCutoff disallows function and HTML output for charts
	// created at or after this instant. Zero means no cutoff.
	JSAndHTMLCutoff time.Time
}

func (f FeatureSet) jsAndHTMLAllowed(createdAt time.Time) bool {
	if f.DisableFnAndHtml {
		return false
	}
	if f.JSAndHTMLCutoff.IsZero() {
		return true
	}
	return createdAt.Before(f.JSAndHTMLCutoff)
}

// SecureConfig carries per-request redaction rules.
type SecureConfig struct {
	// PrivateParams lists parameter names whose UI controls must be
	// disabled. The controls stay visible; only interaction is blocked.
	PrivateParams []string

	// ForbiddenFields lists response field names removed before the
	// response is returned.
	ForbiddenFields []string
}
