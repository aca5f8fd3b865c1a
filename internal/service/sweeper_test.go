package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

// mockExpirer — мок StaleUploadExpirer.
type mockExpirer struct {
	expireFn func(ctx context.Context, before time.Time, limit int) (int, error)
	active   int
}

func (m *mockExpirer) ExpireStaleUploads(ctx context.Context, before time.Time, limit int) (int, error) {
	if m.expireFn != nil {
		return m.expireFn(ctx, before, limit)
	}
	return 0, nil
}

func (m *mockExpirer) ActiveUploads(context.Context) (int, error) {
	return m.active, nil
}

// mockOrphans — мок OrphanReleaser.
type mockOrphans struct {
	releaseFn func(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

func (m *mockOrphans) ReleaseOrphans(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	if m.releaseFn != nil {
		return m.releaseFn(ctx, olderThan, limit)
	}
	return 0, nil
}

// TestSweeper_RunOnce проверяет расчёт порога и подсчёт результатов.
func TestSweeper_RunOnce(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	wantCutoff := now.Add(-24 * time.Hour)

	expirer := &mockExpirer{
		expireFn: func(_ context.Context, before time.Time, limit int) (int, error) {
			if !before.Equal(wantCutoff) {
				t.Errorf("before = %v, ожидалось %v", before, wantCutoff)
			}
			if limit != sweepBatch {
				t.Errorf("limit = %d, ожидалось %d", limit, sweepBatch)
			}
			return 3, nil
		},
	}
	orphans := &mockOrphans{
		releaseFn: func(context.Context, time.Time, int) (int, error) { return 2, nil },
	}

	sw := NewUploadSweeper(expirer, orphans, 24*time.Hour, time.Minute, slog.Default())
	sw.now = func() time.Time { return now }

	result := sw.RunOnce(context.Background())
	if result.Expired != 3 || result.Released != 2 || result.Errors != 0 {
		t.Errorf("результат = %+v", result)
	}
}

// TestSweeper_RunOnceContinuesAfterError проверяет, что ошибка первого шага
// не отменяет второй.
func TestSweeper_RunOnceContinuesAfterError(t *testing.T) {
	orphansCalled := false
	expirer := &mockExpirer{
		expireFn: func(context.Context, time.Time, int) (int, error) {
			return 1, errors.New("db timeout")
		},
	}
	orphans := &mockOrphans{
		releaseFn: func(context.Context, time.Time, int) (int, error) {
			orphansCalled = true
			return 0, nil
		},
	}

	sw := NewUploadSweeper(expirer, orphans, time.Hour, time.Minute, slog.Default())
	result := sw.RunOnce(context.Background())

	if !orphansCalled {
		t.Error("ReleaseOrphans не вызван после ошибки")
	}
	if result.Errors != 1 || result.Expired != 1 {
		t.Errorf("результат = %+v", result)
	}
}

// TestSweeper_StartStop проверяет запуск и остановку фоновой горутины.
func TestSweeper_StartStop(t *testing.T) {
	runs := make(chan struct{}, 10)
	expirer := &mockExpirer{
		expireFn: func(context.Context, time.Time, int) (int, error) {
			runs <- struct{}{}
			return 0, nil
		},
	}

	sw := NewUploadSweeper(expirer, &mockOrphans{}, time.Hour, time.Hour, slog.Default())
	sw.Start(context.Background())

	select {
	case <-runs:
	case <-time.After(5 * time.Second):
		t.Fatal("первый цикл не выполнен при старте")
	}

	sw.Stop()
	// Повторный Stop не блокируется: done уже закрыт
	sw.Stop()
}
