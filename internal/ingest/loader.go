package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/kalambet/finrag/internal/prices"
)

// Source types recorded on documents and passages.
const (
	TypePDF       = "pdf"
	TypeCSV       = "csv"
	TypeStockData = "stock_data"
	TypeText      = "text"
	TypeHTML      = "html"
)

// SourceType maps a file name to the type it is loaded as, or "" when the
// file is not ingested. CSV files may turn out to be TypeStockData once their
// header has been read.
func SourceType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return TypePDF
	case ".csv":
		return TypeCSV
	case ".txt", ".md":
		return TypeText
	case ".html", ".htm":
		return TypeHTML
	}
	return ""
}

// Loaded is the extracted text of one source file.
type Loaded struct {
	Text       string
	SourceType string
}

// Load extracts searchable text from the file at path.
func Load(path string) (Loaded, error) {
	typ := SourceType(path)
	switch typ {
	case TypePDF:
		text, err := extractPDFText(path)
		return Loaded{Text: text, SourceType: typ}, err
	case TypeCSV:
		return loadCSV(path)
	case TypeText:
		b, err := os.ReadFile(path)
		if err != nil {
			return Loaded{}, fmt.Errorf("reading %s: %w", path, err)
		}
		return Loaded{Text: string(b), SourceType: typ}, nil
	case TypeHTML:
		b, err := os.ReadFile(path)
		if err != nil {
			return Loaded{}, fmt.Errorf("reading %s: %w", path, err)
		}
		text, err := htmlToText(string(b))
		return Loaded{Text: text, SourceType: typ}, err
	}
	return Loaded{}, fmt.Errorf("unsupported file type: %s", filepath.Base(path))
}

// extractPDFText returns the plain text of every non-empty page, each
// preceded by a "--- Page N ---" marker. Corrupt PDFs can panic inside the
// reader, so panics are turned into errors.
func extractPDFText(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("panic during PDF extraction: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening PDF %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil || strings.TrimSpace(pageText) == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n--- Page %d ---\n%s\n", i, pageText)
	}
	return sb.String(), nil
}

// loadCSV renders a price table as its yearly summary and any other table
// as pipe-separated rows.
func loadCSV(path string) (Loaded, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, fmt.Errorf("reading %s: %w", path, err)
	}

	series, err := prices.ParseCSV(bytes.NewReader(raw))
	switch {
	case err == nil:
		return Loaded{Text: series.Summary(filepath.Base(path)), SourceType: TypeStockData}, nil
	case !errors.Is(err, prices.ErrMissingColumns):
		return Loaded{}, fmt.Errorf("parsing price table %s: %w", filepath.Base(path), err)
	}

	text, err := tableText(bytes.NewReader(raw))
	if err != nil {
		return Loaded{}, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return Loaded{Text: text, SourceType: TypeCSV}, nil
}

func tableText(r io.Reader) (string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var sb strings.Builder
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		sb.WriteString(strings.Join(row, " | "))
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// htmlToText converts the page body to Markdown. The document title is
// kept as a heading when the body does not already repeat it.
func htmlToText(src string) (string, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return "", fmt.Errorf("parsing HTML: %w", err)
	}

	var body bytes.Buffer
	if n := findElement(doc, atom.Body); n != nil {
		if err := html.Render(&body, n); err != nil {
			return "", fmt.Errorf("rendering HTML body: %w", err)
		}
	}

	converted, err := md.NewConverter("", true, nil).ConvertString(body.String())
	if err != nil {
		return "", fmt.Errorf("converting HTML: %w", err)
	}

	title := ""
	if n := findElement(doc, atom.Title); n != nil {
		title = strings.Join(strings.Fields(nodeText(n)), " ")
	}
	if title != "" && !strings.Contains(converted, title) {
		converted = "# " + title + "\n\n" + converted
	}
	return converted, nil
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
