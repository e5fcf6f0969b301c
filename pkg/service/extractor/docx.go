package extractor

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

const docxBodyPath = "word/document.xml"

// extractDOCX reads word/document.xml and emits one paragraph per w:p, separated by
// blank lines so that paragraph chunking keeps them apart.
func extractDOCX(data []byte) (string, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", goerr.Wrap(err, "docx is not a zip archive")
	}

	for _, file := range archive.File {
		if file.Name != docxBodyPath {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", goerr.Wrap(err, "failed to open docx body")
		}
		defer rc.Close()
		return parseDocumentXML(rc)
	}

	return "", goerr.New("docx body not found", goerr.V("path", docxBodyPath))
}

func parseDocumentXML(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)

	var (
		out    strings.Builder
		para   strings.Builder
		inText bool
	)
	flush := func() {
		p := strings.TrimSpace(para.String())
		para.Reset()
		if p == "" {
			return
		}
		if out.Len() > 0 {
			out.WriteString("\n\n")
		}
		out.WriteString(p)
	}

	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", goerr.Wrap(err, "malformed docx xml")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				para.WriteString("\t")
			case "br", "cr":
				para.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				flush()
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	flush()

	return out.String(), nil
}
