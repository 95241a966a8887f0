package database

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"metalcalc_backend/pkg/config"
)

// Open connects to Postgres and returns the shared handle. The handle is
// created once per process and passed by reference to every component.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	pgConfig := postgres.Config{
		DSN:                  cfg.URL,
		PreferSimpleProtocol: true, // pgbouncer in transaction mode rejects prepared statements
	}

	gormConfig := &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Error),
		PrepareStmt: false,
	}

	db, err := gorm.Open(postgres.New(pgConfig), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)

	log.Info().Msg("Database connected")
	return db, nil
}

func Migrate(db *gorm.DB, models ...interface{}) error {
	for _, model := range models {
		if !db.Migrator().HasTable(model) {
			if err := db.Migrator().CreateTable(model); err != nil {
				return err
			}
			log.Info().Str("model", fmt.Sprintf("%T", model)).Msg("Created table")
		} else {
			if err := db.Migrator().AutoMigrate(model); err != nil {
				return err
			}
			log.Debug().Str("model", fmt.Sprintf("%T", model)).Msg("Updated table")
		}
	}
	return nil
}

func IsPostgres(db *gorm.DB) bool {
	return db.Dialector.Name() == "postgres"
}

// Notify queues a NOTIFY on channel. Postgres delivers it only if the
// surrounding transaction commits; other dialects ignore it.
func Notify(tx *gorm.DB, channel, payload string) error {
	if !IsPostgres(tx) {
		return nil
	}
	return tx.Exec("SELECT pg_notify(?, ?)", channel, payload).Error
}
