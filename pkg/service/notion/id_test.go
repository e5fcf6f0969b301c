package notion_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/mnemosyne/pkg/service/notion"
)

func TestParseDatabaseID(t *testing.T) {
	const want = "0123abcd-ef45-6789-0123-456789abcdef"

	tests := []struct {
		name    string
		ref     string
		wantErr bool
	}{
		{name: "raw", ref: "0123abcdef4567890123456789abcdef"},
		{name: "dashed", ref: want},
		{name: "upper case", ref: "0123ABCDEF4567890123456789ABCDEF"},
		{name: "url", ref: "https://www.notion.so/acme/0123abcdef4567890123456789abcdef?v=1"},
		{name: "url with title slug", ref: "https://notion.so/acme/Runbooks-0123abcdef4567890123456789abcdef"},
		{name: "empty", ref: "", wantErr: true},
		{name: "too short", ref: "0123abcd", wantErr: true},
		{name: "not hex", ref: "zz23abcdef4567890123456789abcdef", wantErr: true},
		{name: "other host", ref: "https://example.com/0123abcdef4567890123456789abcdef", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := notion.ParseDatabaseID(tt.ref)
			if tt.wantErr {
				gt.Error(t, err).Is(notion.ErrInvalidDatabaseID)
				return
			}
			gt.NoError(t, err).Required()
			gt.Value(t, got).Equal(want)
		})
	}
}
