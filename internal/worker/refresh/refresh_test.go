package refresh

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/marketbrief/internal/briefing"
	"github.com/hitoshi/marketbrief/internal/model"
)

type mockBuilder struct {
	mu       sync.Mutex
	requests []briefing.Request
	errFor   map[model.Timeframe]error
}

func (m *mockBuilder) BuildSnapshot(_ context.Context, req briefing.Request) (*model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if err := m.errFor[req.Timeframe]; err != nil {
		return nil, err
	}
	return &model.Snapshot{ID: "snap-" + string(req.Timeframe)}, nil
}

func (m *mockBuilder) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnce_BuildsAllTimeframes(t *testing.T) {
	builder := &mockBuilder{}
	r := NewRefresher(builder, discardLogger(), nil, []string{"earnings"})

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() がエラーを返した: %v", err)
	}

	if len(builder.requests) != 2 {
		t.Fatalf("build count = %d, want 2", len(builder.requests))
	}

	seen := map[model.Timeframe]bool{}
	for _, req := range builder.requests {
		seen[req.Timeframe] = true
		if len(req.Filters) != 1 || req.Filters[0] != "earnings" {
			t.Errorf("filters = %v, want [earnings]", req.Filters)
		}
	}
	if !seen[model.TimeframeToday] || !seen[model.TimeframeWeek] {
		t.Errorf("timeframes built = %v, want today and week", seen)
	}
}

func TestRunOnce_OneTimeframeFails_OthersStillBuilt(t *testing.T) {
	builder := &mockBuilder{
		errFor: map[model.Timeframe]error{
			model.TimeframeToday: errors.New("all sources down"),
		},
	}
	r := NewRefresher(builder, discardLogger(), nil, nil)

	err := r.RunOnce(context.Background())
	if err == nil {
		t.Fatal("失敗があった場合はエラーを返すべき")
	}

	// 失敗したタイムフレームの後続も構築されていること
	if len(builder.requests) != 2 {
		t.Errorf("build count = %d, want 2", len(builder.requests))
	}
}

func TestRunOnce_ExplicitTimeframes(t *testing.T) {
	builder := &mockBuilder{}
	r := NewRefresher(builder, discardLogger(), []model.Timeframe{model.TimeframeToday}, nil)

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() がエラーを返した: %v", err)
	}

	if len(builder.requests) != 1 {
		t.Fatalf("build count = %d, want 1", len(builder.requests))
	}
	if builder.requests[0].Timeframe != model.TimeframeToday {
		t.Errorf("timeframe = %s, want today", builder.requests[0].Timeframe)
	}
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	builder := &mockBuilder{}
	r := NewRefresher(builder, discardLogger(), []model.Timeframe{model.TimeframeToday}, nil)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		r.Start(ctx, time.Hour)
		close(done)
	}()

	// 起動直後の1回が実行されるのを待ってからキャンセル
	deadline := time.After(2 * time.Second)
	for builder.requestCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("起動直後の実行が行われなかった")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("コンテキストキャンセル後にStartが終了しなかった")
	}
}
