package overrides

import (
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/intuis-community/intuis-monitor/internal/intuis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_Load(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta(selectOverridesSQL)).
		WillReturnRows(sqlmock.NewRows([]string{"room_id", "mode", "temp", "end_at", "sticky", "last_reapply"}).
			AddRow("room-1", intuis.ModeManual, 21.5, int64(1700000000), true, int64(1699999000)).
			AddRow("room-2", intuis.ModeAway, 16.0, int64(1700014400), true, int64(0)))

	overrides, err := NewSQLiteStoreWithDB(db).Load()
	require.NoError(t, err)
	require.Len(t, overrides, 2)
	assert.Equal(t, Override{
		RoomID: "room-1", Mode: intuis.ModeManual, TargetTemp: 21.5,
		EndAt: 1700000000, Sticky: true, LastReapplyAt: 1699999000,
	}, overrides["room-1"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_Load_Fails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta(selectOverridesSQL)).WillReturnError(errors.New("disk I/O error"))

	_, err = NewSQLiteStoreWithDB(db).Load()
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_Save(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(deleteOverridesSQL)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertOverrideSQL)).
		WithArgs("room-1", intuis.ModeBoost, 22.0, int64(1700001800), true, int64(1700000000)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err = NewSQLiteStoreWithDB(db).Save(map[string]Override{
		"room-1": {RoomID: "room-1", Mode: intuis.ModeBoost, TargetTemp: 22, EndAt: 1700001800, Sticky: true, LastReapplyAt: 1700000000},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_Save_RollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(deleteOverridesSQL)).WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	err = NewSQLiteStoreWithDB(db).Save(map[string]Override{})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "overrides.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	overrides, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, overrides)

	saved := map[string]Override{
		"room-1": {RoomID: "room-1", Mode: intuis.ModeManual, TargetTemp: 21.5, EndAt: 1700000000, Sticky: true, LastReapplyAt: 1699999000},
	}
	require.NoError(t, store.Save(saved))

	overrides, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, saved, overrides)
}
