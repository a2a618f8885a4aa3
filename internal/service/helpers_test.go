package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/lazywriting/api/internal/client"
	"github.com/lazywriting/api/internal/config"
	"github.com/lazywriting/api/internal/model"
	"github.com/lazywriting/api/internal/store"
	"github.com/lazywriting/api/internal/store/storetest"
	"github.com/lazywriting/api/internal/stream/streamtest"
)

const transcript = "我今天想聊聊远程工作的效率问题"

type recordingDispatcher struct {
	mu       sync.Mutex
	payloads []*model.GenerationPayload
	err      error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, p *model.GenerationPayload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.payloads = append(d.payloads, p)
	return nil
}

func (d *recordingDispatcher) byStage(stage model.Stage) []*model.GenerationPayload {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*model.GenerationPayload
	for _, p := range d.payloads {
		if p.Stage == stage {
			out = append(out, p)
		}
	}
	return out
}

type noopGenerator struct{}

func (noopGenerator) Generate(context.Context, client.Request, func(string) error) (string, error) {
	return "", nil
}

type fixture struct {
	db         *gorm.DB
	orch       *Orchestrator
	articles   *store.ArticleStore
	users      *store.UserStore
	dispatcher *recordingDispatcher
	events     *streamtest.Recorder
	barrier    *Barrier
}

func testStages() config.StagesConfig {
	return config.StagesConfig{
		Brainstorm: config.StageConfig{Timeout: 30 * time.Second, MaxTokens: 1024, Temperature: 0.9, Streaming: true},
		Draft:      config.StageConfig{Timeout: 120 * time.Second, MaxTokens: 4096, Temperature: 0.7, Streaming: true},
		Fusion:     config.StageConfig{Timeout: 120 * time.Second, MaxTokens: 4096, Temperature: 0.7, Streaming: true},
	}
}

func testRegistry() *client.Registry {
	r := &client.Registry{}
	for _, p := range model.Roster {
		r.Add(client.ProviderEntry{ID: p, DisplayName: string(p), Enabled: true, Client: noopGenerator{}})
	}
	return r
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	db := storetest.NewDB(t)
	f := &fixture{
		db:         db,
		articles:   store.NewArticleStore(db),
		users:      store.NewUserStore(db, 5),
		dispatcher: &recordingDispatcher{},
		events:     streamtest.NewRecorder(),
		barrier:    NewBarrier(rdb),
	}
	f.orch = NewOrchestrator(Deps{
		Articles:   f.articles,
		Users:      f.users,
		Registry:   testRegistry(),
		Dispatcher: f.dispatcher,
		Publisher:  f.events,
		Barrier:    f.barrier,
		Stages:     testStages(),
		Fusion:     config.FusionConfig{Provider: model.ProviderDeepSeek},
		Logger:     zaptest.NewLogger(t),
	})
	return f
}

// complete simulates a finished task by writing its content directly
func (f *fixture) complete(t *testing.T, p *model.GenerationPayload, text string) {
	t.Helper()
	require.NoError(t, f.articles.SetContent(context.Background(), p.Key(), p.Generation, text))
}

// failResultInserts makes result row creation fail for provider
func (f *fixture) failResultInserts(t *testing.T, provider model.Provider) {
	t.Helper()
	err := f.db.Callback().Create().Before("gorm:create").Register("test:fail_result_insert", func(tx *gorm.DB) {
		if row, ok := tx.Statement.Dest.(*model.ArticleResult); ok && row.Provider == provider {
			_ = tx.AddError(errors.New("disk I/O error"))
		}
	})
	require.NoError(t, err)
}
