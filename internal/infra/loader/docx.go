package loader

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/jinford/docqa/internal/core/document"
)

// ErrInvalidDOCX は word/document.xml を持たないファイルの場合のエラー
var ErrInvalidDOCX = fmt.Errorf("%w: invalid docx", document.ErrUnreadableDocument)

const docxBodyPart = "word/document.xml"

// DOCXLoader は本文の段落テキストを 1 件の Document として読み込む
type DOCXLoader struct{}

func NewDOCXLoader() *DOCXLoader {
	return &DOCXLoader{}
}

func (l *DOCXLoader) Load(_ context.Context, path string) ([]document.Document, error) {
	zr, err := zip.OpenReader(path)
	if errors.Is(err, zip.ErrFormat) {
		return nil, fmt.Errorf("%w: not a zip container", ErrInvalidDOCX)
	}
	if err != nil {
		return nil, fmt.Errorf("docx open: %w", err)
	}
	defer zr.Close()

	var body *zip.File
	for _, f := range zr.File {
		if f.Name == docxBodyPart {
			body = f
			break
		}
	}
	if body == nil {
		return nil, fmt.Errorf("%w: %s not found", ErrInvalidDOCX, docxBodyPart)
	}

	rc, err := body.Open()
	if err != nil {
		return nil, fmt.Errorf("docx open %s: %w", docxBodyPart, err)
	}
	defer rc.Close()

	text, err := extractDOCXText(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalidDOCX, docxBodyPart, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	return []document.Document{{
		Content:    text,
		SourceName: filepath.Base(path),
	}}, nil
}

// extractDOCXText は <w:t> のテキストを段落 (<w:p>) ごとに改行で連結する
func extractDOCXText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var (
		out       strings.Builder
		paragraph strings.Builder
		inText    bool
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				paragraph.WriteString("\t")
			case "br", "cr":
				paragraph.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				out.WriteString(strings.TrimRight(paragraph.String(), " \t"))
				out.WriteString("\n")
				paragraph.Reset()
			}
		case xml.CharData:
			if inText {
				paragraph.Write(t)
			}
		}
	}

	if paragraph.Len() > 0 {
		out.WriteString(paragraph.String())
	}
	return strings.TrimRight(out.String(), "\n"), nil
}
