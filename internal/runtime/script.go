package runtime

import "strings"

// Tab scripts run wrapped between a preamble and a collector tail. The
// preamble defines the console and Editor APIs plus named bindings for the
// stage globals; the tail packs exports and the script-declared metadata
// into a single result map that crosses the isolation boundary as plain
// values. Console rows do not travel in the envelope: each console.log
// call is pushed to a host-side sink immediately, so output emitted before
// a throw or a deadline is not lost with the envelope.
//
// Stack traces surfaced to script authors subtract the preamble's line
// count so reported line numbers match the author's source.

// consoleSinkKey is the global under which the host log sink is injected.
const consoleSinkKey = "__console__"

const scriptPreamble = `let __handles__ = ctx.get("__handles__", {})
let __sink__ = ctx.get("` + consoleSinkKey + `", null)
let params = ctx.get("params", {})
let usedParams = ctx.get("usedParams", {})
let actionParams = ctx.get("actionParams", {})
let data = ctx.get("data", {})
let sources = ctx.get("sources", {})
let shared = ctx.get("shared", {})
let modules = ctx.get("modules", {})
let widgetConfig = ctx.get("widgetConfig", {})
let __meta__ = {"hostCalls": [], "dataSourcesInfos": {}, "extra": {}}
function __fmt_log(v) {
	if (type(v) == "string") {
		return {"type": "string", "value": v}
	}
	return {"type": "json", "value": try { encode(v, "json") } catch (e) { string(v) }}
}
let console = {
	"log": function(...items) {
		if (__sink__ != null) {
			__sink__(items.map(v => __fmt_log(v)))
		}
	},
}
let Editor = {
	"updateParams": function(v) { __meta__["userParamsOverride"] = v },
	"updateActionParams": function(v) { __meta__["userActionParamsOverride"] = v },
	"updateConfig": function(v) { __meta__["userConfigOverride"] = v },
	"updateLibraryConfig": function(v) { __meta__["libraryConfigOverride"] = v },
	"setExportFilename": function(v) { __meta__["exportFilename"] = v },
	"setChartsInsights": function(v) { __meta__["chartsInsights"] = v },
	"setSideMarkdown": function(v) { __meta__["sideMarkdown"] = v },
	"setDataSourceInfo": function(name, v) { __meta__["dataSourcesInfos"][name] = v },
	"setExtra": function(name, v) { __meta__["extra"][name] = v },
	"callHost": function(handle, args=[]) { __meta__["hostCalls"].append({"handle": handle, "args": args}) },
}
let __exports__ = (function() {
`

const scriptTail = `
})()
{"exports": __exports__, "meta": __meta__}
`

// preambleLines is the line offset injected ahead of user code.
var preambleLines = strings.Count(scriptPreamble, "\n")

// wrapScript embeds user code into the execution envelope.
func wrapScript(code string) string {
	return scriptPreamble + code + scriptTail
}
