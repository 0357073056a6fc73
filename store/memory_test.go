package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"blafast-backend/models"
)

func newRecord(t *testing.T, m *Memory, mutate func(*models.DeferredRequest)) *models.DeferredRequest {
	t.Helper()
	rec := &models.DeferredRequest{
		OrganizationId: "org-1",
		UserId:         "user-1",
		HttpMethod:     "POST",
		Endpoint:       "/api/v1/reports/generate",
		Status:         models.StatusPending,
		Priority:       models.PriorityHigh,
		TimeoutSeconds: 300,
		MaxAttempts:    3,
		ExpiresAt:      time.Now().Add(time.Hour),
	}
	if mutate != nil {
		mutate(rec)
	}
	if err := m.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return rec
}

func TestClaimForProcessingIsIdempotent(t *testing.T) {
	m := NewMemory()
	rec := newRecord(t, m, nil)
	ctx := context.Background()

	const deliveries = 8
	var wg sync.WaitGroup
	wins := make(chan *models.DeferredRequest, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r, ok, err := m.ClaimForProcessing(ctx, rec.Id); err != nil {
				t.Errorf("ClaimForProcessing error: %v", err)
			} else if ok {
				wins <- r
			}
		}()
	}
	wg.Wait()
	close(wins)

	var n int
	for r := range wins {
		n++
		if r.Status != models.StatusProcessing {
			t.Errorf("winner status = %s, want processing", r.Status)
		}
		if r.Attempts != 1 {
			t.Errorf("winner attempts = %d, want 1", r.Attempts)
		}
		if r.StartedAt == nil {
			t.Error("winner must have started_at set")
		}
	}
	if n != 1 {
		t.Errorf("got %d Pending->Processing transitions for concurrent deliveries, want exactly 1", n)
	}
}

func TestClaimRespectsMaxAttempts(t *testing.T) {
	m := NewMemory()
	rec := newRecord(t, m, func(r *models.DeferredRequest) { r.MaxAttempts = 2 })
	ctx := context.Background()

	for attempt := 1; attempt <= 2; attempt++ {
		if _, ok, _ := m.ClaimForProcessing(ctx, rec.Id); !ok {
			t.Fatalf("attempt %d: claim should succeed", attempt)
		}
		if won, _ := m.Fail(ctx, rec.Id, models.ErrCodeExecution, "boom"); !won {
			t.Fatalf("attempt %d: fail transition should win", attempt)
		}
	}

	if _, ok, _ := m.ClaimForProcessing(ctx, rec.Id); ok {
		t.Error("claim beyond max_attempts must be a no-op")
	}
	got, _ := m.Get(ctx, rec.Id)
	if got.Status != models.StatusFailed {
		t.Errorf("exhausted record status = %s, want failed", got.Status)
	}
	if got.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", got.Attempts)
	}
}

func TestTerminalStatusesAreMonotonic(t *testing.T) {
	ctx := context.Background()

	t.Run("late complete after cancel is discarded", func(t *testing.T) {
		m := NewMemory()
		rec := newRecord(t, m, nil)

		if _, ok, _ := m.ClaimForProcessing(ctx, rec.Id); !ok {
			t.Fatal("claim should succeed")
		}
		if won, _ := m.Cancel(ctx, rec.Id); !won {
			t.Fatal("cancel of processing record should win")
		}

		// The in-flight execution finishes after cancellation.
		if won, _ := m.Complete(ctx, rec.Id, []byte(`{"late":true}`), 200); won {
			t.Error("complete after cancel must lose the CAS")
		}

		got, _ := m.Get(ctx, rec.Id)
		if got.Status != models.StatusCancelled {
			t.Errorf("status = %s, want cancelled", got.Status)
		}
		if len(got.Result) != 0 {
			t.Error("discarded result must not be persisted")
		}
	})

	t.Run("completed record cannot be cancelled or re-claimed", func(t *testing.T) {
		m := NewMemory()
		rec := newRecord(t, m, nil)

		if _, ok, _ := m.ClaimForProcessing(ctx, rec.Id); !ok {
			t.Fatal("claim should succeed")
		}
		if won, _ := m.Complete(ctx, rec.Id, []byte(`{}`), 200); !won {
			t.Fatal("complete should win")
		}

		if won, _ := m.Cancel(ctx, rec.Id); won {
			t.Error("cancel after complete must lose")
		}
		if _, ok, _ := m.ClaimForProcessing(ctx, rec.Id); ok {
			t.Error("re-claim of completed record must be a no-op")
		}
	})

	t.Run("fail after cancel is discarded", func(t *testing.T) {
		m := NewMemory()
		rec := newRecord(t, m, nil)

		if _, ok, _ := m.ClaimForProcessing(ctx, rec.Id); !ok {
			t.Fatal("claim should succeed")
		}
		if won, _ := m.Cancel(ctx, rec.Id); !won {
			t.Fatal("cancel should win")
		}
		if won, _ := m.Fail(ctx, rec.Id, models.ErrCodeTimeout, "late timeout"); won {
			t.Error("fail after cancel must lose the CAS")
		}
	})
}

func TestCompleteSetsInvariantFields(t *testing.T) {
	m := NewMemory()
	rec := newRecord(t, m, nil)
	ctx := context.Background()

	if _, ok, _ := m.ClaimForProcessing(ctx, rec.Id); !ok {
		t.Fatal("claim should succeed")
	}
	if won, _ := m.Complete(ctx, rec.Id, []byte(`{"total":5}`), 200); !won {
		t.Fatal("complete should win")
	}

	got, _ := m.Get(ctx, rec.Id)
	if got.ResultStatusCode == nil || *got.ResultStatusCode != 200 {
		t.Error("completed record must carry result_status_code")
	}
	if len(got.Result) == 0 {
		t.Error("completed record must carry result")
	}
	if got.CompletedAt == nil {
		t.Error("completed record must carry completed_at")
	}
	if got.Progress == nil || *got.Progress != 100 {
		t.Error("completed record must report progress 100")
	}
}

func TestDeleteExpired(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	old := newRecord(t, m, func(r *models.DeferredRequest) {
		r.ExpiresAt = now.Add(-8 * 24 * time.Hour)
		r.Status = models.StatusCompleted
	})
	fresh := newRecord(t, m, func(r *models.DeferredRequest) {
		r.ExpiresAt = now.Add(-24 * time.Hour)
		r.Status = models.StatusCompleted
	})

	retention := 7 * 24 * time.Hour
	deleted, err := m.DeleteExpired(ctx, now.Add(-retention))
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if _, err := m.Get(ctx, old.Id); err != ErrNotFound {
		t.Error("record expired 8 days ago must be deleted with 7-day retention")
	}
	if _, err := m.Get(ctx, fresh.Id); err != nil {
		t.Error("record expired 1 day ago must survive 7-day retention")
	}
}

func TestNonTerminalExpired(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	stuck := newRecord(t, m, func(r *models.DeferredRequest) {
		r.ExpiresAt = now.Add(-8 * 24 * time.Hour)
		r.Status = models.StatusProcessing
	})
	newRecord(t, m, func(r *models.DeferredRequest) {
		r.ExpiresAt = now.Add(-8 * 24 * time.Hour)
		r.Status = models.StatusCompleted
	})

	got, err := m.NonTerminalExpired(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("NonTerminalExpired failed: %v", err)
	}
	if len(got) != 1 || got[0].Id != stuck.Id {
		t.Errorf("expected only the stuck processing record, got %d records", len(got))
	}
}
