package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdulrahimiqbal/RoluATM-sub000/db"
	"github.com/abdulrahimiqbal/RoluATM-sub000/db/dbtest"
)

func Test_KioskModel_Touch(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()
	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	models, err := NewModels(dbConnectionPool)
	require.NoError(t, err)

	t.Run("returns an error for an empty kiosk id", func(t *testing.T) {
		_, err := models.Kiosks.Touch(ctx, dbConnectionPool, "", time.Now())
		assert.ErrorIs(t, err, ErrMissingInput)
	})

	t.Run("🎉 registers an unseen kiosk", func(t *testing.T) {
		now := time.Now()
		kiosk, err := models.Kiosks.Touch(ctx, dbConnectionPool, "kiosk-1", now)
		require.NoError(t, err)

		assert.Equal(t, "kiosk-1", kiosk.ID)
		assert.Equal(t, ActiveKioskStatus, kiosk.Status)
		assert.WithinDuration(t, now, kiosk.LastSeenAt, time.Second)
	})

	t.Run("accepts any opaque id the agent presents", func(t *testing.T) {
		kiosk, err := models.Kiosks.Touch(ctx, dbConnectionPool, "booth:7f/rev-A", time.Now())
		require.NoError(t, err)
		assert.Equal(t, "booth:7f/rev-A", kiosk.ID)
	})

	t.Run("refreshes last-seen and reactivates a known kiosk", func(t *testing.T) {
		first, err := models.Kiosks.Touch(ctx, dbConnectionPool, "kiosk-2", time.Now().Add(-time.Hour))
		require.NoError(t, err)

		err = models.Kiosks.UpdateStatus(ctx, dbConnectionPool, "kiosk-2", InactiveKioskStatus)
		require.NoError(t, err)

		later := time.Now()
		second, err := models.Kiosks.Touch(ctx, dbConnectionPool, "kiosk-2", later)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, ActiveKioskStatus, second.Status)
		assert.True(t, second.LastSeenAt.After(first.LastSeenAt))
	})
}

func Test_KioskModel_GetAll(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()
	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	models, err := NewModels(dbConnectionPool)
	require.NoError(t, err)

	_, err = models.Kiosks.Touch(ctx, dbConnectionPool, "kiosk-old", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = models.Kiosks.Touch(ctx, dbConnectionPool, "kiosk-new", time.Now())
	require.NoError(t, err)

	kiosks, err := models.Kiosks.GetAll(ctx, dbConnectionPool)
	require.NoError(t, err)

	require.Len(t, kiosks, 2)
	assert.Equal(t, "kiosk-new", kiosks[0].ID)
	assert.Equal(t, "kiosk-old", kiosks[1].ID)
}

func Test_KioskModel_UpdateStatus(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()
	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	models, err := NewModels(dbConnectionPool)
	require.NoError(t, err)

	t.Run("returns an error for an invalid status", func(t *testing.T) {
		err := models.Kiosks.UpdateStatus(ctx, dbConnectionPool, "kiosk-1", KioskStatus("broken"))
		assert.ErrorContains(t, err, "invalid kiosk status")
	})

	t.Run("returns ErrRecordNotFound for an unknown kiosk", func(t *testing.T) {
		err := models.Kiosks.UpdateStatus(ctx, dbConnectionPool, "kiosk-unknown", MaintenanceKioskStatus)
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("🎉 updates the status", func(t *testing.T) {
		_, err := models.Kiosks.Touch(ctx, dbConnectionPool, "kiosk-1", time.Now())
		require.NoError(t, err)

		err = models.Kiosks.UpdateStatus(ctx, dbConnectionPool, "kiosk-1", MaintenanceKioskStatus)
		require.NoError(t, err)

		kiosk, err := models.Kiosks.Get(ctx, dbConnectionPool, "kiosk-1")
		require.NoError(t, err)
		assert.Equal(t, MaintenanceKioskStatus, kiosk.Status)
	})
}
