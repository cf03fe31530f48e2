package data

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"Bulwark/internal/model"
	"Bulwark/pkg/breaker"
	pkgerrors "Bulwark/pkg/errors"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-kratos/kratos/v2/log"
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// setupTestDB creates a test database connection with sqlmock
func setupTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	cleanup := func() {
		sqlDB.Close()
	}

	return gormDB, mock, cleanup
}

func setupEntityStore(t *testing.T) (*EntityStore, sqlmock.Sqlmock, func()) {
	db, mock, cleanup := setupTestDB(t)
	d := &Data{
		db:        db,
		breakers:  breaker.NewRegistry(log.DefaultLogger),
		dbBreaker: breaker.DatabaseConfig(),
	}
	return NewEntityStore(d, log.DefaultLogger), mock, cleanup
}

func TestEntityStore_ScanRows_KeysetBatches(t *testing.T) {
	store, mock, cleanup := setupEntityStore(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `users` ORDER BY `id` LIMIT ?")).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), "alice").
			AddRow(int64(2), []byte("bob")))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `users` WHERE `id` > ? ORDER BY `id` LIMIT ?")).
		WithArgs(int64(2), 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(3), "carol"))

	var batches [][]model.EntityRow
	err := store.ScanRows(context.Background(), "users", "id", 2, func(rows []model.EntityRow) error {
		batches = append(batches, rows)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 2)
	assert.Equal(t, "bob", batches[0][1]["name"], "raw bytes become strings")
	assert.Equal(t, int64(3), batches[1][0]["id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityStore_ScanRows_ExactMultipleEndsOnEmptyBatch(t *testing.T) {
	store, mock, cleanup := setupEntityStore(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `orders` ORDER BY `order_no` LIMIT ?")).
		WillReturnRows(sqlmock.NewRows([]string{"order_no"}).AddRow("a").AddRow("b"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `orders` WHERE `order_no` > ? ORDER BY `order_no` LIMIT ?")).
		WithArgs("b", 2).
		WillReturnRows(sqlmock.NewRows([]string{"order_no"}))

	calls := 0
	err := store.ScanRows(context.Background(), "orders", "order_no", 2, func([]model.EntityRow) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityStore_ScanRows_ClassifiesErrors(t *testing.T) {
	store, mock, cleanup := setupEntityStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT").WillReturnError(&gomysql.MySQLError{Number: 1146, Message: "Table 'app.users' doesn't exist"})

	err := store.ScanRows(context.Background(), "users", "id", 10, func([]model.EntityRow) error { return nil })
	require.Error(t, err)

	var dbErr *pkgerrors.DatabaseError
	require.True(t, errors.As(err, &dbErr))
	assert.Equal(t, pkgerrors.ErrorTypeNoSuchTable, dbErr.Type)
	assert.False(t, pkgerrors.IsTransient(err))
}

func TestEntityStore_ScanRows_VisitErrorStops(t *testing.T) {
	store, mock, cleanup := setupEntityStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))

	stop := errors.New("stop")
	err := store.ScanRows(context.Background(), "users", "id", 2, func([]model.EntityRow) error { return stop })
	assert.ErrorIs(t, err, stop)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityStore_ScanRows_CircuitOpen(t *testing.T) {
	store, _, cleanup := setupEntityStore(t)
	defer cleanup()

	_, err := store.data.breakers.CreateBreaker(BreakerMySQL, nil, &store.data.dbBreaker)
	require.NoError(t, err)
	require.NoError(t, store.data.breakers.Open(BreakerMySQL))

	err = store.ScanRows(context.Background(), "users", "id", 2, func([]model.EntityRow) error { return nil })
	assert.True(t, breaker.IsCircuitOpen(err))
}

func TestEntityStore_ScanRows_NoDatabase(t *testing.T) {
	store := NewEntityStore(&Data{}, log.DefaultLogger)
	err := store.ScanRows(context.Background(), "users", "id", 2, func([]model.EntityRow) error { return nil })
	assert.ErrorIs(t, err, ErrDatabaseUnavailable)
}
