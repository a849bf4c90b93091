// Package studentview extracts the student-visible portions of model
// output. The model writes its private scratchpad (problem statements,
// worked solutions) around <to_student> tags; only the tagged text is
// ever shown to the student.
package studentview

import (
	"strings"

	"golang.org/x/net/html"
)

// ToStudent returns the text of every <to_student> block in raw, joined
// with single spaces. Returns "" when the message has no student-facing
// content.
func ToStudent(raw string) string {
	return strings.Join(extractTag(raw, "to_student"), " ")
}

// FromStudent returns the text of every <from_student> block, joined
// with single spaces.
func FromStudent(raw string) string {
	return strings.Join(extractTag(raw, "from_student"), " ")
}

// extractTag collects the text content of each occurrence of the named
// tag. The tokenizer is lenient about the surrounding text not being
// well-formed markup, which suits model output.
func extractTag(raw, tag string) []string {
	var (
		segments []string
		buf      strings.Builder
		depth    int
	)

	z := html.NewTokenizer(strings.NewReader(raw))
	for {
		switch z.Next() {
		case html.ErrorToken:
			if depth > 0 && buf.Len() > 0 {
				segments = append(segments, strings.TrimSpace(buf.String()))
			}
			return segments
		case html.StartTagToken:
			name, _ := z.TagName()
			if string(name) == tag {
				if depth == 0 {
					buf.Reset()
				}
				depth++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == tag && depth > 0 {
				depth--
				if depth == 0 {
					segments = append(segments, strings.TrimSpace(buf.String()))
				}
			}
		case html.TextToken:
			if depth > 0 {
				buf.Write(z.Text())
			}
		}
	}
}
