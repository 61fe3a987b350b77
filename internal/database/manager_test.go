package database

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newMockManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	mock.ExpectPing()
	m, err := NewManager(context.Background(), ManagerConfig{
		Dialector:           postgres.New(postgres.Config{Conn: sqlDB}),
		Logger:              quietLogger(),
		ConnectionTimeout:   time.Second,
		HealthCheckInterval: time.Hour,
	})
	require.NoError(t, err)
	return m, mock
}

func TestNewManager(t *testing.T) {
	m, mock := newMockManager(t)

	db, err := m.DB()
	require.NoError(t, err)
	assert.NotNil(t, db)

	stats := m.GetStats()
	assert.Equal(t, true, stats["is_healthy"])
	assert.Equal(t, "closed", stats["circuit_breaker"])
	assert.Contains(t, stats, "open_connections")

	mock.ExpectClose()
	require.NoError(t, m.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewManager_PingFails(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	_, err = NewManager(context.Background(), ManagerConfig{
		Dialector:         postgres.New(postgres.Config{Conn: sqlDB}),
		Logger:            quietLogger(),
		ConnectionTimeout: time.Second,
	})
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestHealth(t *testing.T) {
	m, mock := newMockManager(t)

	mock.ExpectPing()
	require.NoError(t, m.Health(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("server closed the connection"))
	require.Error(t, m.Health(context.Background()))
	assert.Equal(t, false, m.GetStats()["is_healthy"])

	mock.ExpectPing()
	require.NoError(t, m.Health(context.Background()))
	assert.Equal(t, true, m.GetStats()["is_healthy"])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealth_CircuitOpens(t *testing.T) {
	m, mock := newMockManager(t)

	for i := 0; i < 5; i++ {
		mock.ExpectPing().WillReturnError(errors.New("timeout"))
		_ = m.Health(context.Background())
	}

	assert.ErrorIs(t, m.Health(context.Background()), ErrCircuitOpen)
	_, err := m.DB()
	assert.ErrorIs(t, err, ErrCircuitOpen)

	stats := m.GetStats()
	assert.Equal(t, "open", stats["circuit_breaker"])
	assert.Equal(t, int64(1), stats["circuit_breaker_trips"])
}
