package extractor_test

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/service/extractor"
)

func buildDOCX(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	gt.NoError(t, err).Required()
	_, err = w.Write([]byte(body))
	gt.NoError(t, err).Required()
	gt.NoError(t, zw.Close()).Required()
	return buf.Bytes()
}

func TestExtract_Text(t *testing.T) {
	ext := extractor.New()

	result, err := ext.Extract(context.Background(), []byte("\xef\xbb\xbfHello world.\n\nSecond paragraph.  "), types.FileTypeText)
	gt.NoError(t, err).Required()

	gt.Value(t, result.Text).Equal("Hello world.\n\nSecond paragraph.")
	gt.Value(t, result.WordCount).Equal(4)
	gt.Value(t, result.CharCount).Equal(len("Hello world.\n\nSecond paragraph."))
	gt.Value(t, len(result.ContentHash)).Equal(64)

	meta := result.Metadata()
	gt.Value(t, meta[model.MetaWordCount]).Equal(4)
	gt.Map(t, meta).HasKey(model.MetaContentHash)
}

func TestFromText(t *testing.T) {
	ext := extractor.New()
	a := ext.FromText("  same words here ")
	b := ext.FromText("same words here")

	gt.Value(t, a.Text).Equal("same words here")
	gt.Value(t, a.WordCount).Equal(3)
	gt.Value(t, a.ContentHash).Equal(b.ContentHash)
	gt.Value(t, a.PageCount).Equal(0)
}

func TestExtract_InvalidUTF8(t *testing.T) {
	_, err := extractor.New().Extract(context.Background(), []byte{0xff, 0xfe, 0xfd}, types.FileTypeMarkdown)
	gt.Error(t, err).Is(model.ErrExtraction)
}

func TestExtract_DOCX(t *testing.T) {
	body := `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First </w:t></w:r><w:r><w:t>paragraph.</w:t></w:r></w:p>
    <w:p></w:p>
    <w:p><w:r><w:t>Second</w:t><w:tab/><w:t>paragraph.</w:t></w:r></w:p>
  </w:body>
</w:document>`

	result, err := extractor.New().Extract(context.Background(), buildDOCX(t, body), types.FileTypeDOCX)
	gt.NoError(t, err).Required()
	gt.Value(t, result.Text).Equal("First paragraph.\n\nSecond\tparagraph.")
}

func TestExtract_Errors(t *testing.T) {
	ext := extractor.New(extractor.WithMaxSize(16))

	t.Run("unsupported type", func(t *testing.T) {
		_, err := ext.Extract(context.Background(), []byte("x"), types.FileType("png"))
		gt.Error(t, err).Is(model.ErrUnsupportedFileType)
	})

	t.Run("too large", func(t *testing.T) {
		_, err := ext.Extract(context.Background(), bytes.Repeat([]byte("a"), 17), types.FileTypeText)
		gt.Error(t, err).Is(model.ErrExtraction)
	})

	t.Run("corrupt docx", func(t *testing.T) {
		_, err := ext.Extract(context.Background(), []byte("not a zip"), types.FileTypeDOCX)
		gt.Error(t, err).Is(model.ErrExtraction)
	})

	t.Run("corrupt pdf", func(t *testing.T) {
		_, err := ext.Extract(context.Background(), []byte("%PDF-garbage"), types.FileTypePDF)
		gt.Error(t, err).Is(model.ErrExtraction)
	})
}
