package extractor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/utils/logging"
)

// Result is the plain text of a file and statistics about it
type Result struct {
	Text        string
	PageCount   int
	WordCount   int
	CharCount   int
	ContentHash string
	ExtractedAt time.Time
}

// Metadata returns the statistics as document metadata values
func (r *Result) Metadata() map[string]any {
	meta := map[string]any{
		model.MetaWordCount:   r.WordCount,
		model.MetaCharCount:   r.CharCount,
		model.MetaContentHash: r.ContentHash,
		model.MetaExtractedAt: r.ExtractedAt.Format(time.RFC3339),
	}
	if r.PageCount > 0 {
		meta[model.MetaPageCount] = r.PageCount
	}
	return meta
}

// Extractor converts raw file bytes into plain text
type Extractor struct {
	maxSize int
	now     func() time.Time
}

// Option is a functional option for Extractor
type Option func(*Extractor)

// WithMaxSize rejects inputs larger than n bytes. Zero disables the limit.
func WithMaxSize(n int) Option {
	return func(e *Extractor) {
		e.maxSize = n
	}
}

// New creates an Extractor. The default size limit is 50MB.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		maxSize: 50 * 1024 * 1024,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract dispatches to the extractor matching fileType. Failures wrap
// model.ErrExtraction or model.ErrUnsupportedFileType.
func (e *Extractor) Extract(ctx context.Context, data []byte, fileType types.FileType) (*Result, error) {
	if e.maxSize > 0 && len(data) > e.maxSize {
		return nil, goerr.Wrap(model.ErrExtraction, "file too large",
			goerr.V("size", len(data)), goerr.V("max_size", e.maxSize))
	}

	var (
		text  string
		pages int
		err   error
	)
	switch fileType {
	case types.FileTypePDF:
		text, pages, err = extractPDF(data)
	case types.FileTypeDOCX:
		text, err = extractDOCX(data)
	case types.FileTypeText, types.FileTypeMarkdown:
		text, err = extractPlain(data)
	default:
		return nil, goerr.Wrap(model.ErrUnsupportedFileType, "cannot extract text", goerr.V("file_type", fileType))
	}
	if err != nil {
		return nil, goerr.Wrap(model.ErrExtraction, err.Error(), goerr.V("file_type", fileType), goerr.V("cause", err))
	}

	result := e.result(text, pages)
	logging.From(ctx).Debug("text extracted",
		"file_type", fileType,
		"bytes", len(data),
		"chars", result.CharCount,
		"pages", result.PageCount,
	)
	return result, nil
}

// FromText computes the statistics of already extracted text
func (e *Extractor) FromText(text string) *Result {
	return e.result(text, 0)
}

func (e *Extractor) result(text string, pages int) *Result {
	text = strings.TrimSpace(text)
	sum := sha256.Sum256([]byte(text))
	return &Result{
		Text:        text,
		PageCount:   pages,
		WordCount:   len(strings.Fields(text)),
		CharCount:   utf8.RuneCountInString(text),
		ContentHash: hex.EncodeToString(sum[:]),
		ExtractedAt: e.now().UTC(),
	}
}

func extractPlain(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return "", goerr.New("text file is not valid UTF-8")
	}
	return string(data), nil
}

func extractPDF(data []byte) (text string, pages int, err error) {
	if len(data) == 0 {
		return "", 0, goerr.New("empty pdf")
	}

	// the pdf reader panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			err = goerr.New("corrupt pdf", goerr.V("panic", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, goerr.Wrap(err, "failed to open pdf")
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", 0, goerr.Wrap(err, "failed to read pdf text")
	}
	out, err := io.ReadAll(plain)
	if err != nil {
		return "", 0, goerr.Wrap(err, "failed to read pdf text")
	}

	return string(out), reader.NumPage(), nil
}
