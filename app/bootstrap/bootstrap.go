// Package bootstrap wires infrastructure and flows shared by the HTTP service and the CLI tools
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	businessflow "github.com/amirphl/pallet-allocator/business_flow"
	"github.com/amirphl/pallet-allocator/config"
	"github.com/amirphl/pallet-allocator/repository"
	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Flows groups the business flows built on top of one database and cache
type Flows struct {
	Allocator   businessflow.PalletAllocator
	Series      businessflow.SeriesGenerator
	Reservation businessflow.ReservationFlow
	Harness     businessflow.ConcurrencyHarness
}

// ConfigureLogging routes the standard logger to stdout, a rotating file, or both.
// The returned closer flushes the file writer and is safe to call when no file is used.
func ConfigureLogging(cfg config.LoggingConfig) io.Closer {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.LUTC)

	if cfg.Output == "stdout" || cfg.FilePath == "" {
		log.SetOutput(os.Stdout)
		return io.NopCloser(nil)
	}

	rotating := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	if cfg.Output == "both" {
		log.SetOutput(io.MultiWriter(os.Stdout, rotating))
	} else {
		log.SetOutput(rotating)
	}
	return rotating
}

// GormLogLevel maps the service log level onto gorm's. Debug also logs every statement.
func GormLogLevel(level string) logger.LogLevel {
	switch level {
	case "debug":
		return logger.Info
	case "error":
		return logger.Error
	default:
		return logger.Warn
	}
}

// OpenDatabase initializes the database connection with connection pooling.
// Driver errors are translated so unique violations surface as gorm.ErrDuplicatedKey.
func OpenDatabase(cfg config.DatabaseConfig, logLevel string) (*gorm.DB, error) {
	slowThreshold := time.Duration(0)
	if cfg.SlowQueryLog {
		slowThreshold = cfg.SlowQueryTime
	}
	gormConfig := &gorm.Config{
		TranslateError: true,
		Logger: logger.New(log.Default(), logger.Config{
			SlowThreshold:             slowThreshold,
			LogLevel:                  GormLogLevel(logLevel),
			IgnoreRecordNotFoundError: true,
		}),
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB for connection pooling configuration
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// OpenCache initializes the Redis client and verifies connectivity.
// Returns nil without error when the cache is disabled.
func OpenCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled || cfg.Provider != "redis" {
		log.Println("Series claim cache disabled, relying on database lookups only")
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established (db=%d)", cfg.RedisDB)
	return rc, nil
}

// StartCacheHealthMonitor periodically pings Redis to surface connectivity issues.
// The returned function stops the monitor.
func StartCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
	if client == nil {
		return func() {}
	}
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(context.Background(), 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Printf("Redis healthcheck failed, series claims will degrade to database checks: %v", err)
				}
				c()
			}
		}
	}()
	return cancel
}

// BuildFlows creates repositories and flows over db and the optional Redis client
func BuildFlows(cfg *config.ProductionConfig, db *gorm.DB, rc *redis.Client) *Flows {
	counterRepo := repository.NewSequenceCounterRepository(db)
	palletInfoRepo := repository.NewPalletInfoRepository(db)
	reservationRepo := repository.NewPalletReservationRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)
	claims := repository.NewSeriesClaimCache(rc, cfg.Cache.RedisPrefix, cfg.Allocator.SeriesClaimTTL)

	allocator := businessflow.NewPalletAllocator(counterRepo, cfg.Allocator)
	series := businessflow.NewSeriesGenerator(palletInfoRepo, claims, cfg.Allocator)
	reservation := businessflow.NewReservationFlow(
		allocator,
		series,
		counterRepo,
		reservationRepo,
		auditRepo,
		claims,
		repository.NewTransactor(db),
		cfg.Allocator,
	)
	harness := businessflow.NewConcurrencyHarness(reservation, auditRepo, cfg.Allocator)

	log.Printf("Allocator ready: timezone=%s max_batch=%d series_attempts=%d",
		cfg.Allocator.Timezone, cfg.Allocator.MaxBatch, cfg.Allocator.SeriesMaxAttempts)

	return &Flows{
		Allocator:   allocator,
		Series:      series,
		Reservation: reservation,
		Harness:     harness,
	}
}
