// Package htmlfmt turns the assistant's lightweight markup into HTML. The
// pipeline is a fixed sequence of passes whose order matters: bold before
// italic so ** spans are not swallowed, inline passes before line handling,
// list detection before break cleanup. Formatting never fails; unmatched
// delimiters stay literal.
package htmlfmt

import (
	"regexp"
	"strings"
)

var (
	boldPattern   = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicPattern = regexp.MustCompile(`\*(.*?)\*`)
	linkPattern   = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	bulletPattern = regexp.MustCompile(`^\s*(?:-|•|\d+\.)\s*(.*)$`)
)

func Format(text string) string {
	formatted := linkSpans(italicSpans(boldSpans(text)))
	formatted = listBlocks(formatted)
	return cleanupBreaks(formatted)
}

// boldSpans rewrites **span** pairs to <b>span</b>.
func boldSpans(text string) string {
	return boldPattern.ReplaceAllString(text, "<b>$1</b>")
}

// italicSpans rewrites remaining *span* pairs to <i>span</i>. Must run after
// boldSpans or the lazy match would split a ** delimiter.
func italicSpans(text string) string {
	return italicPattern.ReplaceAllString(text, "<i>$1</i>")
}

// linkSpans rewrites [label](url) to an anchor opening in a new tab.
func linkSpans(text string) string {
	return linkPattern.ReplaceAllString(text, `<a href="$2" target="_blank">$1</a>`)
}

// listBlocks converts bullet runs that immediately follow a line ending in a
// colon into <ul><li>...</li></ul> blocks, and joins every other line with
// <br>. Hyphen, round-bullet, and "N." markers all count as bullets.
func listBlocks(text string) string {
	lines := strings.Split(text, "\n")

	type segment struct {
		content string
		isList  bool
	}
	segments := make([]segment, 0, len(lines))

	i := 0
	for i < len(lines) {
		if i > 0 && strings.HasSuffix(strings.TrimSpace(lines[i-1]), ":") && isBullet(lines[i]) {
			var items strings.Builder
			for i < len(lines) && isBullet(lines[i]) {
				items.WriteString("<li>")
				items.WriteString(bulletContent(lines[i]))
				items.WriteString("</li>")
				i++
			}
			segments = append(segments, segment{content: "<ul>" + items.String() + "</ul>", isList: true})
			continue
		}
		segments = append(segments, segment{content: lines[i]})
		i++
	}

	var out strings.Builder
	for idx, seg := range segments {
		if idx > 0 && !seg.isList && !segments[idx-1].isList {
			out.WriteString("<br>")
		}
		out.WriteString(seg.content)
	}
	return out.String()
}

// cleanupBreaks drops break markers butted against list-item boundaries.
func cleanupBreaks(text string) string {
	text = strings.ReplaceAll(text, "<br><li>", "<li>")
	return strings.ReplaceAll(text, "</li><br>", "</li>")
}

func isBullet(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	return bulletPattern.MatchString(line)
}

func bulletContent(line string) string {
	match := bulletPattern.FindStringSubmatch(line)
	if match == nil {
		return line
	}
	return strings.TrimSpace(match[1])
}
