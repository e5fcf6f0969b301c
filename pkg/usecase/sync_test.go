package usecase_test

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/repository/memory"
	"github.com/secmon-lab/mnemosyne/pkg/usecase"
)

type mockSource struct {
	sourceType types.SourceType
	FetchFn    func(ctx context.Context, since time.Time) ([]*model.SourceItem, []error)
	sinces     []time.Time
}

func (m *mockSource) SourceType() types.SourceType { return m.sourceType }

func (m *mockSource) FetchUpdated(ctx context.Context, since time.Time) iter.Seq2[*model.SourceItem, error] {
	m.sinces = append(m.sinces, since)
	items, errs := m.FetchFn(ctx, since)
	return func(yield func(*model.SourceItem, error) bool) {
		for _, err := range errs {
			if !yield(nil, err) {
				return
			}
		}
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}

func TestSyncSource(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	updated := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	items := []*model.SourceItem{
		{SourceID: "page-1", Title: "Onboarding", Content: "Request laptop access on day one.", URL: "https://notion.so/page-1", CreatedAt: updated, UpdatedAt: updated},
		{SourceID: "page-2", Title: "Empty", Content: "", UpdatedAt: updated},
	}
	src := &mockSource{
		sourceType: types.SourceTypeNotion,
		FetchFn: func(context.Context, time.Time) ([]*model.SourceItem, []error) {
			return items, nil
		},
	}
	uc := newUseCases(t, repo, &mockEmbedder{}, &mockLLM{}, usecase.WithSources("user-1", src), usecase.WithSyncLookback(24*time.Hour))
	gt.Bool(t, uc.Sync.Enabled()).True()

	stats, err := uc.Sync.SyncSource(ctx, src)
	gt.NoError(t, err).Required()
	gt.Value(t, stats.Ingested).Equal(1)
	gt.Value(t, stats.Skipped).Equal(1)
	gt.Bool(t, time.Since(src.sinces[0]) >= 24*time.Hour).True()

	doc, err := repo.Document().FindBySource(ctx, "user-1", types.SourceTypeNotion, "page-1")
	gt.NoError(t, err).Required()
	gt.Value(t, doc).NotNil()
	gt.Value(t, doc.Title).Equal("Onboarding")
	gt.Value(t, doc.Status).Equal(types.DocumentStatusProcessed)
	gt.Value(t, doc.Metadata[model.MetaSourceURL]).Equal(any("https://notion.so/page-1"))

	// unchanged items are skipped and the watermark moves forward
	stats, err = uc.Sync.SyncSource(ctx, src)
	gt.NoError(t, err).Required()
	gt.Value(t, stats.Ingested).Equal(0)
	gt.Value(t, stats.Skipped).Equal(2)
	gt.Bool(t, src.sinces[1].After(src.sinces[0])).True()

	// a newer version is re-ingested into the same record
	newer := updated.Add(time.Hour)
	items[0] = &model.SourceItem{SourceID: "page-1", Title: "Onboarding v2", Content: "Request laptop access before day one.", CreatedAt: updated, UpdatedAt: newer}
	stats, err = uc.Sync.SyncSource(ctx, src)
	gt.NoError(t, err).Required()
	gt.Value(t, stats.Ingested).Equal(1)

	docs, err := repo.Document().List(ctx, "user-1")
	gt.NoError(t, err).Required()
	gt.Array(t, docs).Length(1)
	gt.Value(t, docs[0].ID).Equal(doc.ID)
	gt.Value(t, docs[0].Title).Equal("Onboarding v2")

	chunks, err := repo.Chunk().ListByDocument(ctx, "user-1", doc.ID)
	gt.NoError(t, err).Required()
	gt.Array(t, chunks).Length(1)
	gt.Value(t, chunks[0].Content).Equal("Request laptop access before day one.")
}

func TestSyncSource_ItemErrorsAreCounted(t *testing.T) {
	src := &mockSource{
		sourceType: types.SourceTypeGoogleCalendar,
		FetchFn: func(context.Context, time.Time) ([]*model.SourceItem, []error) {
			return []*model.SourceItem{
				{SourceID: "evt-1", Title: "Standup", Content: "Daily standup", UpdatedAt: time.Now()},
			}, []error{errors.New("calendar unavailable")}
		},
	}
	uc := newUseCases(t, memory.New(), &mockEmbedder{}, &mockLLM{}, usecase.WithSources("user-1", src))

	stats, err := uc.Sync.SyncSource(context.Background(), src)
	gt.NoError(t, err).Required()
	gt.Value(t, stats.Failed).Equal(1)
	gt.Value(t, stats.Ingested).Equal(1)
}

func TestSyncAll(t *testing.T) {
	t.Run("disabled without sources", func(t *testing.T) {
		uc := newUseCases(t, memory.New(), &mockEmbedder{}, &mockLLM{})
		gt.Bool(t, uc.Sync.Enabled()).False()
		gt.Error(t, uc.Sync.SyncAll(context.Background())).Is(usecase.ErrSyncDisabled)
	})

	t.Run("cancelled context is reported", func(t *testing.T) {
		src := &mockSource{
			sourceType: types.SourceTypeNotion,
			FetchFn: func(ctx context.Context, _ time.Time) ([]*model.SourceItem, []error) {
				return nil, []error{ctx.Err()}
			},
		}
		uc := newUseCases(t, memory.New(), &mockEmbedder{}, &mockLLM{}, usecase.WithSources("user-1", src))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := uc.Sync.SyncAll(ctx)
		gt.Error(t, err).Is(context.Canceled)
	})
}
