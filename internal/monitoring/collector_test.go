package monitoring

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homereach/contact-cli/internal/model"
	"github.com/homereach/contact-cli/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "monitoring.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedJob(t *testing.T, st *store.SQLiteStore, tenant string, portal model.Portal) *model.ContactJob {
	t.Helper()
	job, err := st.CreateJob(context.Background(), model.ContactJob{
		TenantID:   tenant,
		LeadID:     "lead-" + string(portal),
		Portal:     portal,
		ListingURL: "https://" + string(portal) + ".example/listing/7",
		Title:      "Ático con terraza",
	})
	require.NoError(t, err)
	return job
}

func finishJob(t *testing.T, st *store.SQLiteStore, id string, res model.ContactResult) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.ClaimJob(ctx, id))
	require.NoError(t, st.FinishJob(ctx, id, res))
}

func TestCollector_Collect(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	done := seedJob(t, st, "t1", model.PortalCasalia)
	finishJob(t, st, done.ID, model.ContactResult{Success: true, Phone: "612345678", MessageSent: true})

	failed := seedJob(t, st, "t1", model.PortalHogarix)
	finishJob(t, st, failed.ID, model.ContactResult{Error: "login_failed: portal: login failed"})

	seedJob(t, st, "t1", model.PortalPisea)

	require.NoError(t, st.SaveSession(ctx, &model.Session{
		TenantID: "t1", Portal: model.PortalHogarix, Cookies: []byte("[]"), IsValid: true,
	}))
	require.NoError(t, st.SaveSession(ctx, &model.Session{
		TenantID: "t1", Portal: model.PortalVentora, Cookies: []byte("[]"), IsValid: true,
	}))
	require.NoError(t, st.InvalidateSession(ctx, "t1", model.PortalVentora))

	snap, err := NewCollector(st).Collect(ctx, "t1")
	require.NoError(t, err)

	assert.Equal(t, "t1", snap.Tenant)
	assert.Equal(t, 3, snap.Jobs.Total)
	assert.Equal(t, 1, snap.Jobs.ByState[string(model.JobStateCompleted)])
	assert.Equal(t, 1, snap.Jobs.ByState[string(model.JobStateFailed)])
	assert.Equal(t, 1, snap.Jobs.ByState[string(model.JobStatePending)])
	assert.Equal(t, 1, snap.Jobs.PhonesFound)
	assert.Equal(t, 1, snap.Jobs.MessagesSent)
	assert.Equal(t, 1, snap.ValidSessions)
	assert.Equal(t, 1, snap.StaleSessions)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_Collect_EmptyQueue(t *testing.T) {
	st := newTestStore(t)

	snap, err := NewCollector(st).Collect(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, 0, snap.Jobs.Total)
	assert.Equal(t, 0, snap.ValidSessions)
	assert.Equal(t, 0, snap.StaleSessions)
}
