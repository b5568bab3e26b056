package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE audit_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			target_id TEXT NOT NULL,
			target_type TEXT NOT NULL,
			action_type TEXT NOT NULL,
			new_value TEXT,
			changed_by TEXT,
			ip_address TEXT,
			request_id TEXT,
			created_at TIMESTAMP NOT NULL
		);
	`)
	require.NoError(t, err)

	return db
}

func TestDBEmitter_RecordAndSearch(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	emitter, err := NewDBEmitter(db)
	require.NoError(t, err)

	actor := uuid.New()
	roleID := uuid.New().String()

	require.NoError(t, emitter.Record(ctx, Entry{
		TargetID:   roleID,
		TargetType: TargetRole,
		ActionType: ActionRoleCreate,
		NewValue:   MarshalValue(map[string]string{"name": "auditor"}),
		ChangedBy:  &actor,
		RequestID:  "req-1",
	}))
	require.NoError(t, emitter.Record(ctx, Entry{
		TargetID:   uuid.New().String(),
		TargetType: TargetUser,
		ActionType: ActionUserRolesUpdate,
		ChangedBy:  &actor,
	}))

	entries, err := emitter.Search(ctx, Filter{TargetType: TargetRole})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, roleID, entries[0].TargetID)
	assert.Equal(t, ActionRoleCreate, entries[0].ActionType)
	assert.JSONEq(t, `{"name":"auditor"}`, string(entries[0].NewValue))
	require.NotNil(t, entries[0].ChangedBy)
	assert.Equal(t, actor, *entries[0].ChangedBy)
	assert.Equal(t, "req-1", entries[0].RequestID)

	entries, err = emitter.Search(ctx, Filter{ChangedBy: &actor})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	other := uuid.New()
	entries, err = emitter.Search(ctx, Filter{ChangedBy: &other})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDBEmitter_SearchTimeRangeAndPagination(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	emitter, err := NewDBEmitter(db)
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, emitter.Record(ctx, Entry{
			TargetID:   uuid.New().String(),
			TargetType: TargetRole,
			ActionType: ActionRoleUpdate,
			CreatedAt:  base.Add(time.Duration(i) * time.Hour),
		}))
	}

	start := base.Add(90 * time.Minute)
	entries, err := emitter.Search(ctx, Filter{StartTime: &start})
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	entries, err = emitter.Search(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Newest first
	assert.Equal(t, base.Add(4*time.Hour), entries[0].CreatedAt.UTC())

	entries, err = emitter.Search(ctx, Filter{Limit: 2, Offset: 4})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, base, entries[0].CreatedAt.UTC())
}

func TestDBEmitter_Cleanup(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	emitter, err := NewDBEmitter(db)
	require.NoError(t, err)

	old := time.Now().UTC().Add(-100 * 24 * time.Hour)
	require.NoError(t, emitter.Record(ctx, Entry{
		TargetID: "old", TargetType: TargetRole, ActionType: ActionRoleDelete, CreatedAt: old,
	}))
	require.NoError(t, emitter.Record(ctx, Entry{
		TargetID: "recent", TargetType: TargetRole, ActionType: ActionRoleDelete,
	}))

	removed, err := emitter.Cleanup(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	entries, err := emitter.Search(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "recent", entries[0].TargetID)
}

func TestNewDBEmitter_RequiresDB(t *testing.T) {
	_, err := NewDBEmitter(nil)
	assert.Error(t, err)
}
