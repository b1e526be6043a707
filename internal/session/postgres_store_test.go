//go:build integration

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hireloop/proctord/internal/testutil"
)

func seedPG(t *testing.T, store *PostgresStore) *Session {
	t.Helper()
	ctx := context.Background()

	app := &Application{ID: "app_aaaaaaaaaaaaaaaaaaaaaaaa", Status: ApplicationPending}
	if err := store.CreateApplication(ctx, app); err != nil {
		t.Fatalf("create application: %v", err)
	}

	sess := &Session{
		ID:            "sess_aaaaaaaaaaaaaaaaaaaaaaaa",
		ApplicationID: app.ID,
		Status:        StatusInProgress,
		StartTime:     time.Now().UTC(),
	}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func TestPostgres_SessionRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	sess := seedPG(t, store)
	ctx := context.Background()

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusInProgress || got.WarningCount != 0 {
		t.Errorf("got %+v", got)
	}
	if got.TerminatedReason != "" || got.EndTime != nil {
		t.Errorf("fresh session has terminal fields: %+v", got)
	}

	if _, err := store.Get(ctx, "sess_ffffffffffffffffffffffff"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestPostgres_AddWarningsConcurrent(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	sess := seedPG(t, store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := store.AddWarnings(ctx, sess.ID, 1); err != nil {
				t.Errorf("AddWarnings: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.WarningCount != 20 {
		t.Errorf("WarningCount = %d after 20 concurrent increments, want 20", got.WarningCount)
	}
}

func TestPostgres_TerminateCascade(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	sess := seedPG(t, store)
	ctx := context.Background()

	end := time.Now().UTC().Truncate(time.Millisecond)
	ok, err := store.Terminate(ctx, sess.ID, "Excessive Tab Switching", end)
	if err != nil || !ok {
		t.Fatalf("Terminate = (%v, %v)", ok, err)
	}

	got, _ := store.Get(ctx, sess.ID)
	if got.Status != StatusTerminated || got.TerminatedReason != "Excessive Tab Switching" {
		t.Errorf("got %+v", got)
	}
	if got.EndTime == nil {
		t.Fatal("EndTime not set")
	}

	app, err := store.GetApplication(ctx, sess.ApplicationID)
	if err != nil {
		t.Fatalf("GetApplication: %v", err)
	}
	if app.Status != ApplicationRejected {
		t.Errorf("application Status = %s, want REJECTED", app.Status)
	}

	// Second terminate and warning adds are no-ops.
	ok, err = store.Terminate(ctx, sess.ID, "other reason", time.Now())
	if err != nil || ok {
		t.Errorf("repeat Terminate = (%v, %v), want (false, nil)", ok, err)
	}
	n, ok, err := store.AddWarnings(ctx, sess.ID, 1)
	if err != nil || ok || n != 0 {
		t.Errorf("AddWarnings after terminate = (%d, %v, %v), want (0, false, nil)", n, ok, err)
	}
}

func TestPostgres_Complete(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	sess := seedPG(t, store)
	ctx := context.Background()

	ok, err := store.Complete(ctx, sess.ID, time.Now().UTC())
	if err != nil || !ok {
		t.Fatalf("Complete = (%v, %v)", ok, err)
	}

	got, _ := store.Get(ctx, sess.ID)
	if got.Status != StatusCompleted || got.EndTime == nil {
		t.Errorf("got %+v", got)
	}

	// Completed sessions can't be terminated.
	ok, err = store.Terminate(ctx, sess.ID, "Excessive Tab Switching", time.Now())
	if err != nil || ok {
		t.Errorf("Terminate after Complete = (%v, %v), want (false, nil)", ok, err)
	}
	app, _ := store.GetApplication(ctx, sess.ApplicationID)
	if app.Status != ApplicationPending {
		t.Errorf("application Status = %s, want PENDING", app.Status)
	}
}
