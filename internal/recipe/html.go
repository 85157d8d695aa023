package recipe

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FlattenHTML turns instructions the model sometimes returns as HTML into plain
// text, one step per line. Plain text is returned trimmed.
func FlattenHTML(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "<") {
		return s
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}

	var lines []string
	doc.Find("p, li, h1, h2, h3, h4").Each(func(_ int, sel *goquery.Selection) {
		// Nested blocks are emitted by their innermost element only.
		if sel.Find("p, li").Length() > 0 {
			return
		}
		text := strings.Join(strings.Fields(sel.Text()), " ")
		if text == "" {
			return
		}
		if goquery.NodeName(sel) == "li" && goquery.NodeName(sel.Parent()) == "ol" {
			text = fmt.Sprintf("%d. %s", sel.Index()+1, text)
		}
		lines = append(lines, text)
	})
	if len(lines) == 0 {
		return strings.Join(strings.Fields(doc.Text()), " ")
	}
	return strings.Join(lines, "\n")
}
