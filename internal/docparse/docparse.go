package docparse

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	pdf "github.com/ledongthuc/pdf"

	"github.com/yungbote/mnemosyne-backend/internal/apperr"
)

// ParsedDocument is the result of extracting text from one uploaded file.
type ParsedDocument struct {
	Text             string
	PageCount        int
	FileType         string
	OriginalFilename string
}

var supportedExtensions = map[string]struct{}{
	".txt":  {},
	".md":   {},
	".pdf":  {},
	".docx": {},
}

// Supports reports whether path's extension has a registered parser.
func Supports(path string) bool {
	_, ok := supportedExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Parse extracts text from a document by extension. Unsupported or
// malformed files fail with a parse_failure; retries cannot succeed.
func Parse(path string) (ParsedDocument, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".txt", ".md":
		return parseText(path, ext)
	case ".pdf":
		return parsePDF(path)
	case ".docx":
		return parseDOCX(path)
	default:
		return ParsedDocument{}, apperr.New(apperr.CodeParseFailure, "doc_parse",
			fmt.Sprintf("unsupported extension %q", ext), nil)
	}
}

func parseText(path, ext string) (ParsedDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ParsedDocument{}, apperr.New(apperr.CodeParseFailure, "doc_parse", "read text file failed", err)
	}
	return ParsedDocument{
		Text:             string(raw),
		PageCount:        1,
		FileType:         strings.TrimPrefix(ext, "."),
		OriginalFilename: filepath.Base(path),
	}, nil
}

// parsePDF extracts per-page plain text and joins pages with a blank line,
// skipping pages with no extractable text.
func parsePDF(path string) (ParsedDocument, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return ParsedDocument{}, apperr.New(apperr.CodeParseFailure, "doc_parse", "open pdf failed", err)
	}
	defer f.Close()

	numPages := r.NumPage()
	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(content) != "" {
			pages = append(pages, content)
		}
	}
	return ParsedDocument{
		Text:             strings.Join(pages, "\n\n"),
		PageCount:        numPages,
		FileType:         "pdf",
		OriginalFilename: filepath.Base(path),
	}, nil
}

// parseDOCX reads word/document.xml from the zip container and gathers the
// text runs per paragraph, joining non-empty paragraphs with a blank line.
func parseDOCX(path string) (ParsedDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ParsedDocument{}, apperr.New(apperr.CodeParseFailure, "doc_parse", "read docx failed", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return ParsedDocument{}, apperr.New(apperr.CodeParseFailure, "doc_parse", "docx is not a valid zip container", err)
	}

	var docXML []byte
	for _, zf := range zr.File {
		if zf.Name == "word/document.xml" {
			rc, err := zf.Open()
			if err != nil {
				return ParsedDocument{}, apperr.New(apperr.CodeParseFailure, "doc_parse", "open word/document.xml failed", err)
			}
			docXML, err = io.ReadAll(rc)
			_ = rc.Close()
			if err != nil {
				return ParsedDocument{}, apperr.New(apperr.CodeParseFailure, "doc_parse", "read word/document.xml failed", err)
			}
			break
		}
	}
	if docXML == nil {
		return ParsedDocument{}, apperr.New(apperr.CodeParseFailure, "doc_parse", "docx has no word/document.xml", nil)
	}

	paragraphs, err := extractDOCXParagraphs(docXML)
	if err != nil {
		return ParsedDocument{}, apperr.New(apperr.CodeParseFailure, "doc_parse", "decode document xml failed", err)
	}
	return ParsedDocument{
		Text:             strings.Join(paragraphs, "\n\n"),
		PageCount:        1,
		FileType:         "docx",
		OriginalFilename: filepath.Base(path),
	}, nil
}

// extractDOCXParagraphs walks the WordprocessingML stream: <w:p> elements
// delimit paragraphs, <w:t> elements carry the text runs.
func extractDOCXParagraphs(docXML []byte) ([]string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(docXML))

	var paragraphs []string
	var current strings.Builder
	inText := false

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if s := strings.TrimSpace(current.String()); s != "" {
					paragraphs = append(paragraphs, s)
				}
				current.Reset()
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		paragraphs = append(paragraphs, s)
	}
	return paragraphs, nil
}
