package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
)

var (
	ErrConnectionFailed = errors.New("failed to establish database connection")
	ErrCircuitOpen      = errors.New("circuit breaker is open, database unavailable")
)

// ManagerConfig holds configuration for the database manager
type ManagerConfig struct {
	DSN                 string
	Dialector           gorm.Dialector // overrides DSN when set
	Logger              *logrus.Logger
	MaxOpenConns        int           // Default: 25
	MaxIdleConns        int           // Default: 10
	ConnMaxLifetime     time.Duration // Default: 1 hour
	ConnectionTimeout   time.Duration // Default: 10 seconds
	HealthCheckInterval time.Duration // Default: 30 seconds
}

// Manager owns the service's Postgres connection pool, guards reconnects with
// a circuit breaker and tracks pool health in the background
type Manager struct {
	mu     sync.RWMutex
	db     *gorm.DB
	cb     *gobreaker.CircuitBreaker
	config ManagerConfig
	logger *logrus.Logger

	healthy     bool
	healthCheck time.Time
	connectedAt time.Time

	failedConnections   int64
	circuitBreakerTrips int64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager connects to the database and starts background health checks
func NewManager(ctx context.Context, config ManagerConfig) (*Manager, error) {
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 25
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 10
	}
	if config.ConnMaxLifetime == 0 {
		config.ConnMaxLifetime = time.Hour
	}
	if config.ConnectionTimeout == 0 {
		config.ConnectionTimeout = 10 * time.Second
	}
	if config.HealthCheckInterval == 0 {
		config.HealthCheckInterval = 30 * time.Second
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config: config,
		logger: config.Logger,
		ctx:    bgCtx,
		cancel: cancel,
	}
	m.cb = m.newCircuitBreaker()

	result, err := m.cb.Execute(func() (interface{}, error) {
		return m.connectWithTimeout(ctx)
	})
	if err != nil {
		cancel()
		m.failedConnections++
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	m.db = result.(*gorm.DB)
	m.healthy = true
	m.connectedAt = time.Now()
	m.healthCheck = m.connectedAt

	go m.startHealthChecks()

	m.logger.Info("Database connection established")
	return m, nil
}

// DB returns the connection pool. It fails fast while the breaker is open.
func (m *Manager) DB() (*gorm.DB, error) {
	if m.cb.State() == gobreaker.StateOpen {
		return nil, ErrCircuitOpen
	}
	return m.db, nil
}

// connectWithTimeout establishes a database connection with timeout
func (m *Manager) connectWithTimeout(ctx context.Context) (*gorm.DB, error) {
	ctx, cancel := context.WithTimeout(ctx, m.config.ConnectionTimeout)
	defer cancel()

	type result struct {
		db  *gorm.DB
		err error
	}
	done := make(chan result, 1)

	go func() {
		dialector := m.config.Dialector
		if dialector == nil {
			dialector = postgres.Open(m.config.DSN)
		}
		db, err := gorm.Open(dialector, &gorm.Config{
			Logger:               logger.Default.LogMode(logger.Silent),
			DisableAutomaticPing: true,
			NowFunc: func() time.Time {
				return time.Now().UTC()
			},
		})
		if err != nil {
			done <- result{nil, err}
			return
		}

		sqlDB, err := db.DB()
		if err != nil {
			done <- result{nil, err}
			return
		}
		sqlDB.SetMaxOpenConns(m.config.MaxOpenConns)
		sqlDB.SetMaxIdleConns(m.config.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(m.config.ConnMaxLifetime)

		if err := sqlDB.PingContext(ctx); err != nil {
			done <- result{nil, err}
			return
		}
		done <- result{db, nil}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.db, r.err
	}
}

// Migrate creates or updates every table the service owns
func (m *Manager) Migrate() error {
	return Migrate(m.db)
}

// Migrate runs AutoMigrate for all models on db
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Region{},
		&models.City{},
		&models.User{},
		&models.Pharmacy{},
		&models.Request{},
		&models.StatusEntry{},
		&models.Message{},
		&models.Complaint{},
	)
}

func (m *Manager) newCircuitBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "postgres",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				m.mu.Lock()
				m.circuitBreakerTrips++
				m.mu.Unlock()
			}
			m.logger.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from":            from.String(),
				"to":              to.String(),
			}).Info("Circuit breaker state changed")
		},
	})
}

// startHealthChecks pings the pool periodically
func (m *Manager) startHealthChecks() {
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if err := m.Health(m.ctx); err != nil {
				m.logger.WithError(err).Warn("Database health check failed")
			}
		}
	}
}

// Health pings the database through the circuit breaker
func (m *Manager) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := m.cb.Execute(func() (interface{}, error) {
		sqlDB, err := m.db.DB()
		if err != nil {
			return nil, err
		}
		return nil, sqlDB.PingContext(ctx)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = err == nil
	m.healthCheck = time.Now()
	if errors.Is(err, gobreaker.ErrOpenState) {
		return ErrCircuitOpen
	}
	return err
}

// GetStats returns connection manager statistics
func (m *Manager) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := map[string]interface{}{
		"is_healthy":            m.healthy,
		"connected_at":          m.connectedAt,
		"health_check":          m.healthCheck,
		"circuit_breaker":       m.cb.State().String(),
		"failed_connections":    m.failedConnections,
		"circuit_breaker_trips": m.circuitBreakerTrips,
	}
	if sqlDB, err := m.db.DB(); err == nil {
		s := sqlDB.Stats()
		stats["open_connections"] = s.OpenConnections
		stats["in_use"] = s.InUse
		stats["idle"] = s.Idle
	}
	return stats
}

// Close stops background tasks and closes the pool
func (m *Manager) Close() error {
	m.cancel()

	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
