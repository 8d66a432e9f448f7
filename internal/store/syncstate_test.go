package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/mailsift/mailsift/internal/testutil"
)

func TestSyncState_NeverSynced(t *testing.T) {
	st := testutil.NewTestStore(t)

	state, err := st.GetSyncState(context.Background())
	testutil.MustNoErr(t, err, "GetSyncState")
	if state == nil {
		t.Fatal("expected zero state, got nil")
	}
	if state.LastHistoryID != 0 || state.TotalEmailsSynced != 0 || !state.LastFullSync.IsZero() {
		t.Errorf("fresh state not zero: %+v", state)
	}
}

func TestUpdateSyncState_Accumulates(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()

	first := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	testutil.MustNoErr(t, st.UpdateSyncState(ctx, 500, first, 120), "UpdateSyncState")

	second := first.Add(time.Hour)
	testutil.MustNoErr(t, st.UpdateSyncState(ctx, 620, second, 7), "UpdateSyncState again")

	state, err := st.GetSyncState(ctx)
	testutil.MustNoErr(t, err, "GetSyncState")
	if state.LastHistoryID != 620 {
		t.Errorf("LastHistoryID = %d, want 620", state.LastHistoryID)
	}
	// The lifetime counter accumulates across runs.
	if state.TotalEmailsSynced != 127 {
		t.Errorf("TotalEmailsSynced = %d, want 127", state.TotalEmailsSynced)
	}
	if !state.LastFullSync.Equal(second) {
		t.Errorf("LastFullSync = %v, want %v", state.LastFullSync, second)
	}
	if state.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be stamped")
	}
}

func TestUpdateSyncState_ZeroAdded(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()

	at := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	testutil.MustNoErr(t, st.UpdateSyncState(ctx, 500, at, 40), "UpdateSyncState")
	testutil.MustNoErr(t, st.UpdateSyncState(ctx, 510, at.Add(time.Minute), 0), "UpdateSyncState no-op pass")

	state, err := st.GetSyncState(ctx)
	testutil.MustNoErr(t, err, "GetSyncState")
	if state.TotalEmailsSynced != 40 {
		t.Errorf("TotalEmailsSynced = %d, want 40", state.TotalEmailsSynced)
	}
	if state.LastHistoryID != 510 {
		t.Errorf("LastHistoryID = %d, want 510", state.LastHistoryID)
	}
}
