package runtime

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Raw traces reference the wrapped script, so line numbers include the
// injected preamble. prepareStackTrace shifts every line reference back by
// offset; frames that land inside the preamble itself are dropped.

var (
	lineWordRe  = regexp.MustCompile(`\bline (\d+)\b`)
	lineColonRe = regexp.MustCompile(`:(\d+)(:(\d+))?\b`)
)

func prepareStackTrace(trace string, offset int) string {
	lines := strings.Split(trace, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		rewritten, internal := rewriteLine(line, offset)
		if internal {
			continue
		}
		out = append(out, rewritten)
	}
	return strings.Join(out, "\n")
}

func rewriteLine(line string, offset int) (string, bool) {
	internal := false
	rewrite := func(match, numText string, format func(int) string) string {
		n, err := strconv.Atoi(numText)
		if err != nil {
			return match
		}
		if n <= offset {
			internal = true
			return match
		}
		return format(n - offset)
	}

	if m := lineWordRe.FindStringSubmatchIndex(line); m != nil {
		numText := line[m[2]:m[3]]
		replaced := rewrite(line[m[0]:m[1]], numText, func(n int) string {
			return fmt.Sprintf("line %d", n)
		})
		return line[:m[0]] + replaced + line[m[1]:], internal
	}

	if m := lineColonRe.FindStringSubmatchIndex(line); m != nil {
		numText := line[m[2]:m[3]]
		tail := ""
		if m[4] >= 0 {
			tail = line[m[4]:m[5]]
		}
		replaced := rewrite(line[m[0]:m[1]], numText, func(n int) string {
			return fmt.Sprintf(":%d%s", n, tail)
		})
		return line[:m[0]] + replaced + line[m[1]:], internal
	}

	return line, false
}
