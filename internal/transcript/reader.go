package transcript

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// OpenTranscript opens an export file and returns a reader over its plain
// text. PDF and HTML exports are converted to text first; everything else is
// streamed as-is. The returned closer must be closed by the caller.
func OpenTranscript(path string) (io.Reader, io.Closer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return openPDF(path)
	case ".html", ".htm":
		return openHTML(path)
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening transcript: %w", err)
		}
		return f, f, nil
	}
}

func openPDF(path string) (io.Reader, io.Closer, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening pdf transcript: %w", err)
	}
	text, err := r.GetPlainText()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("extracting pdf text: %w", err)
	}
	return text, f, nil
}

func openHTML(path string) (io.Reader, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening html transcript: %w", err)
	}
	defer f.Close()

	doc, err := html.Parse(f)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing html transcript: %w", err)
	}
	var b strings.Builder
	collectText(doc, &b)
	return strings.NewReader(b.String()), io.NopCloser(nil), nil
}

// collectText walks the document and emits the text of block-level nodes one
// per line, so line-oriented parsing works the same as on a .txt export.
func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script", "style", "head":
			return
		}
	}
	if n.Type == html.TextNode {
		if text := strings.TrimSpace(n.Data); text != "" {
			b.WriteString(text)
			b.WriteByte(' ')
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
	if n.Type == html.ElementNode {
		switch n.Data {
		case "p", "div", "li", "br", "tr":
			b.WriteByte('\n')
		}
	}
}
