package types

import (
	"fmt"
	"path/filepath"
	"strings"
)

// FileType is the format of an uploaded file
type FileType string

const (
	FileTypePDF      FileType = "pdf"
	FileTypeDOCX     FileType = "docx"
	FileTypeText     FileType = "txt"
	FileTypeMarkdown FileType = "md"
)

// IsValid checks if the file type is supported by the extractor
func (f FileType) IsValid() bool {
	switch f {
	case FileTypePDF, FileTypeDOCX, FileTypeText, FileTypeMarkdown:
		return true
	default:
		return false
	}
}

func (f FileType) String() string {
	return string(f)
}

// ParseFileType accepts an extension ("pdf", ".pdf"), a file name or a MIME type.
func ParseFileType(s string) (FileType, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "application/pdf":
		return FileTypePDF, nil
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return FileTypeDOCX, nil
	case "text/plain":
		return FileTypeText, nil
	case "text/markdown", "markdown":
		return FileTypeMarkdown, nil
	case "text":
		return FileTypeText, nil
	}

	if ext := filepath.Ext(v); ext != "" {
		v = ext
	}
	v = strings.TrimPrefix(v, ".")

	ft := FileType(v)
	if !ft.IsValid() {
		return "", fmt.Errorf("unsupported file type: %s", s)
	}
	return ft, nil
}
