package diff

import (
	"fmt"
	"html"
	"strconv"
	"strings"
)

// Mode selects how the HTML output is framed.
type Mode string

// Render modes. Both carry identical diff content; ModeInline is a
// fragment for embedding in a page while ModeDownload is a complete
// standalone document.
const (
	ModeInline   Mode = "inline-view"
	ModeDownload Mode = "download"
)

// ParseMode converts a string into a Mode. The empty string defaults
// to inline view.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", string(ModeInline), "view":
		return ModeInline, nil
	case string(ModeDownload):
		return ModeDownload, nil
	default:
		return "", fmt.Errorf("unknown render mode: %q", s)
	}
}

const diffStyles = `.diff-report table{border-collapse:collapse;width:100%;font-family:monospace;font-size:13px}
.diff-report td{padding:1px 6px;vertical-align:top;white-space:pre-wrap}
.diff-report td.lineno{color:#888;text-align:right;width:3em;user-select:none}
.diff-report tr.equal td.line{background:#fff}
.diff-report tr.added td.line{background:#dfd}
.diff-report tr.removed td.line{background:#fdd}
.diff-report tr.changed td.line{background:#ffe9a8}
.diff-report p.identical{font-family:monospace;color:#484}`

// HTML compares the two line sequences and renders the result in the
// given mode. Output is deterministic: identical inputs always produce
// byte-identical output.
func HTML(expected, actual []string, mode Mode) string {
	return Render(Compute(expected, actual), mode)
}

// Render produces the HTML for precomputed diff groups in the given
// mode.
func Render(groups []Group, mode Mode) string {
	var body string
	if Identical(groups) {
		body = `<p class="identical">No differences found.</p>`
	} else {
		body = renderTable(groups)
	}

	if mode == ModeDownload {
		var b strings.Builder

		b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
		b.WriteString(`<meta charset="utf-8">` + "\n")
		b.WriteString("<title>Output diff</title>\n<style>\n")
		b.WriteString(diffStyles)
		b.WriteString("\n</style>\n</head>\n<body>\n")
		b.WriteString(`<div class="diff-report">` + "\n")
		b.WriteString(body)
		b.WriteString("\n</div>\n</body>\n</html>\n")

		return b.String()
	}

	var b strings.Builder

	b.WriteString(`<div class="diff-report"><style>`)
	b.WriteString(diffStyles)
	b.WriteString("</style>\n")
	b.WriteString(body)
	b.WriteString("\n</div>")

	return b.String()
}

// renderTable writes the side-by-side comparison table. Each row pairs
// an expected line with its aligned actual line; pure additions and
// removals leave the opposite side blank.
func renderTable(groups []Group) string {
	var b strings.Builder

	b.WriteString(`<table><tbody>` + "\n")

	for _, g := range groups {
		class := string(g.Op)
		rows := len(g.Expected)

		if len(g.Actual) > rows {
			rows = len(g.Actual)
		}

		for i := 0; i < rows; i++ {
			var leftNo, leftLine, rightNo, rightLine string

			if i < len(g.Expected) {
				leftNo = strconv.Itoa(g.ExpectedStart + i)
				leftLine = html.EscapeString(strings.TrimRight(g.Expected[i], "\n"))
			}

			if i < len(g.Actual) {
				rightNo = strconv.Itoa(g.ActualStart + i)
				rightLine = html.EscapeString(strings.TrimRight(g.Actual[i], "\n"))
			}

			b.WriteString(`<tr class="` + class + `">`)
			b.WriteString(`<td class="lineno">` + leftNo + `</td>`)
			b.WriteString(`<td class="line">` + leftLine + `</td>`)
			b.WriteString(`<td class="lineno">` + rightNo + `</td>`)
			b.WriteString(`<td class="line">` + rightLine + `</td>`)
			b.WriteString("</tr>\n")
		}
	}

	b.WriteString(`</tbody></table>`)

	return b.String()
}
