package usecase

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/utils/logging"
)

// SyncUseCase ingests items of external sources as documents of one user
type SyncUseCase struct {
	repo     interfaces.Repository
	document *DocumentUseCase
	userID   string
	sources  []interfaces.SourceClient
	lookback time.Duration

	mu       sync.Mutex
	lastSync map[types.SourceType]time.Time
	now      func() time.Time
}

// NewSyncUseCase creates a SyncUseCase that ingests items as userID
func NewSyncUseCase(repo interfaces.Repository, document *DocumentUseCase, userID string, sources []interfaces.SourceClient, lookback time.Duration) *SyncUseCase {
	return &SyncUseCase{
		repo:     repo,
		document: document,
		userID:   userID,
		sources:  sources,
		lookback: lookback,
		lastSync: make(map[types.SourceType]time.Time),
		now:      time.Now,
	}
}

// SyncStats counts the outcome of one source pass
type SyncStats struct {
	SourceType types.SourceType
	Ingested   int
	Skipped    int
	Failed     int
}

// Enabled reports whether any source is configured
func (uc *SyncUseCase) Enabled() bool {
	return len(uc.sources) > 0 && uc.userID != ""
}

// SyncAll runs every source once. A failing source does not stop the others; the
// joined error is returned after all have run.
func (uc *SyncUseCase) SyncAll(ctx context.Context) error {
	if !uc.Enabled() {
		return goerr.Wrap(ErrSyncDisabled, "no source to sync")
	}

	var errs []error
	for _, src := range uc.sources {
		stats, err := uc.SyncSource(ctx, src)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		logging.From(ctx).Info("source synced",
			"source_type", stats.SourceType,
			"ingested", stats.Ingested,
			"skipped", stats.Skipped,
			"failed", stats.Failed,
		)
	}
	return errors.Join(errs...)
}

// SyncSource ingests items of src changed since its previous successful pass. Item
// level failures are counted and logged; the watermark only advances when listing
// itself succeeded.
func (uc *SyncUseCase) SyncSource(ctx context.Context, src interfaces.SourceClient) (*SyncStats, error) {
	sourceType := src.SourceType()
	started := uc.now()
	since := uc.since(sourceType, started)
	stats := &SyncStats{SourceType: sourceType}
	logger := logging.From(ctx).With("source_type", sourceType)

	for item, err := range src.FetchUpdated(ctx, since) {
		if err != nil {
			if ctx.Err() != nil {
				return stats, goerr.Wrap(ctx.Err(), "sync interrupted", goerr.V("source_type", sourceType))
			}
			logger.Warn("failed to fetch source item", "error", err)
			stats.Failed++
			continue
		}

		ingested, err := uc.ingest(ctx, sourceType, item)
		switch {
		case err != nil:
			logger.Warn("failed to ingest source item", "error", err, "source_id", item.SourceID)
			stats.Failed++
		case ingested:
			stats.Ingested++
		default:
			stats.Skipped++
		}
	}

	uc.mu.Lock()
	uc.lastSync[sourceType] = started
	uc.mu.Unlock()
	return stats, nil
}

func (uc *SyncUseCase) since(sourceType types.SourceType, now time.Time) time.Time {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if t, ok := uc.lastSync[sourceType]; ok {
		return t
	}
	return now.Add(-uc.lookback)
}

// ingest returns false when the stored document is already at the item's version
func (uc *SyncUseCase) ingest(ctx context.Context, sourceType types.SourceType, item *model.SourceItem) (bool, error) {
	existing, err := uc.repo.Document().FindBySource(ctx, uc.userID, sourceType, item.SourceID)
	if err != nil {
		return false, goerr.Wrap(err, "failed to look up synced document", goerr.V("source_id", item.SourceID))
	}
	if existing != nil && existing.Status == types.DocumentStatusProcessed &&
		existing.SourceUpdatedAt != nil && !item.UpdatedAt.After(*existing.SourceUpdatedAt) {
		return false, nil
	}
	if item.Content == "" {
		return false, nil
	}

	createdAt, updatedAt := item.CreatedAt, item.UpdatedAt
	meta := maps.Clone(item.Metadata)
	if meta == nil {
		meta = make(map[string]any, 1)
	}
	if item.URL != "" {
		meta[model.MetaSourceURL] = item.URL
	}

	_, err = uc.document.ProcessDocument(ctx, ProcessDocumentInput{
		UserID:          uc.userID,
		Title:           item.Title,
		RawContent:      item.Content,
		SourceType:      sourceType,
		SourceID:        item.SourceID,
		SourceCreatedAt: &createdAt,
		SourceUpdatedAt: &updatedAt,
		Metadata:        meta,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
