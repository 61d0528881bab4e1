package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scanfleet/internal/scan"
)

func sampleResult(now time.Time) scan.ScanResult {
	return scan.ScanResult{
		ID:        "scan-1",
		Location:  scan.Location{Latitude: 40.7, Longitude: -74.0},
		ScannedAt: now,
		Creatures: []scan.Creature{{ID: "c1", SpeciesID: 25, Latitude: 40.7, Longitude: -74.0, DisappearsAt: now.Add(time.Minute)}},
		PointsOfInterest: []scan.PointOfInterest{
			{ID: "p1", Latitude: 40.71, Longitude: -74.01, Enabled: true},
		},
		Structures: []scan.Structure{
			{ID: "s1", Latitude: 40.72, Longitude: -74.02, TeamID: 1, GuardSpeciesID: 131, Points: 2000, Enabled: true, LastModified: now},
		},
	}
}

func TestSaveScanUpsertsInTransaction(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewEntityStoreWithPool(mock, Tables{})
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	result := sampleResult(now)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO scans").
		WithArgs("scan-1", pgxmock.AnyArg(), now, 1, 1, 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO creatures").
		WithArgs("c1", 25, pgxmock.AnyArg(), pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO points_of_interest").
		WithArgs("p1", true, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO structures").
		WithArgs("s1", 1, 131, 2000, true, pgxmock.AnyArg(), pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.SaveScan(context.Background(), result))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveScanRollsBackOnError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewEntityStoreWithPool(mock, Tables{})
	require.NoError(t, err)

	result := sampleResult(time.Unix(1700000000, 0).UTC())
	result.ID = ""

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO creatures").
		WithArgs("c1", 25, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	err = store.SaveScan(context.Background(), result)
	require.ErrorContains(t, err, "upsert creature c1")
	require.ErrorContains(t, err, "deadlock detected")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateCreatesTables(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewEntityStoreWithPool(mock, Tables{Creatures: "sightings"})
	require.NoError(t, err)

	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS postgis").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS scans").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sightings").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS points_of_interest").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS structures").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTableNamesValidated(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewEntityStoreWithPool(mock, Tables{Scans: "scans; DROP TABLE x"})
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewEntityStoreWithPool(nil, Tables{})
	require.Error(t, err)

	_, err = NewEntityStore(context.Background(), Config{})
	require.ErrorContains(t, err, "dsn is required")
}
