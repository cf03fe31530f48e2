package data

import (
	"context"
	"fmt"
	"time"

	"Bulwark/internal/conf"
	pkglog "Bulwark/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	defaultMaxIdleConns    = 10
	defaultMaxOpenConns    = 100
	defaultConnMaxLifetime = time.Hour
	connMaxIdleTime        = 10 * time.Minute
	slowQueryThreshold     = 200 * time.Millisecond
)

// NewMySQLClient opens the system of record. Unlike Redis it is required:
// every reconciliation fix treats the database as the authority.
func NewMySQLClient(c *conf.Data, l log.Logger) (*gorm.DB, func(), error) {
	logHelper := pkglog.NewLogHelper(l)

	if c == nil || c.Database == nil || c.Database.Source == "" {
		return nil, nil, fmt.Errorf("data: database source is required")
	}

	db, err := gorm.Open(mysql.Open(c.Database.Source), &gorm.Config{
		Logger: logger.New(&gormLogAdapter{log: logHelper}, logger.Config{
			SlowThreshold:             slowQueryThreshold,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		// keyset scans are read-only; run history inserts are single rows
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("mysql pool: %w", err)
	}
	configurePool(sqlDB, c.Database)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("ping mysql: %w", err)
	}

	logHelper.Startup("mysql connected",
		"max_open", c.Database.MaxOpenConns,
		"max_idle", c.Database.MaxIdleConns)

	cleanup := func() {
		if err := sqlDB.Close(); err != nil {
			logHelper.Errorw("msg", "failed to close mysql", "type", "database", "error", err)
			return
		}
		logHelper.Database("mysql connection closed")
	}
	return db, cleanup, nil
}

// gormLogAdapter routes gorm's slow-query and error lines to the service log.
type gormLogAdapter struct {
	log *pkglog.LogHelper
}

// Printf implements logger.Writer.
func (g *gormLogAdapter) Printf(format string, v ...interface{}) {
	g.log.Warnw("msg", fmt.Sprintf(format, v...), "type", "database")
}

type poolConfigurer interface {
	SetMaxIdleConns(n int)
	SetMaxOpenConns(n int)
	SetConnMaxLifetime(d time.Duration)
	SetConnMaxIdleTime(d time.Duration)
}

// configurePool applies the pool settings; zero values keep the defaults.
func configurePool(db poolConfigurer, c *conf.Data_Database) {
	maxIdle, maxOpen, lifetime := defaultMaxIdleConns, defaultMaxOpenConns, defaultConnMaxLifetime
	if c.MaxIdleConns > 0 {
		maxIdle = int(c.MaxIdleConns)
	}
	if c.MaxOpenConns > 0 {
		maxOpen = int(c.MaxOpenConns)
	}
	if d := c.ConnMaxLifetime.AsDuration(); d > 0 {
		lifetime = d
	}
	db.SetMaxIdleConns(maxIdle)
	db.SetMaxOpenConns(maxOpen)
	db.SetConnMaxLifetime(lifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)
}
