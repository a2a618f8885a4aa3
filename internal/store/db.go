package store

import (
	"github.com/cockroachdb/errors"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lazywriting/api/internal/config"
	"github.com/lazywriting/api/internal/model"
)

var (
	// ErrNotFound is returned when the addressed article or user does not exist
	ErrNotFound = errors.New("record not found")
	// ErrStale means the write carried a generation that has been superseded
	ErrStale = errors.New("stale generation")
	// ErrAllowanceExhausted is returned when a user has no articles left
	ErrAllowanceExhausted = errors.New("allowance exhausted")
)

// Open connects to the configured database
func Open(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, errors.Newf("unsupported database driver: %s (supported: postgres, sqlite)", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect database")
	}

	if cfg.Driver == "sqlite" {
		// SQLite allows a single writer
		sqlDB, err := db.DB()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get sql.DB")
		}
		sqlDB.SetMaxOpenConns(1)
	}

	log.Info("Database connected", zap.String("driver", cfg.Driver))
	return db, nil
}

// Migrate creates or updates the schema
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.User{}, &model.Article{}, &model.ArticleResult{}); err != nil {
		return errors.Wrap(err, "failed to migrate schema")
	}
	return nil
}
