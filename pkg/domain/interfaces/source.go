package interfaces

import (
	"context"
	"iter"
	"time"

	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// SourceClient fetches items changed since a point in time from an external system
type SourceClient interface {
	SourceType() types.SourceType
	FetchUpdated(ctx context.Context, since time.Time) iter.Seq2[*model.SourceItem, error]
}
