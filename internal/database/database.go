package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wnt/stakepool/internal/config"
	"github.com/wnt/stakepool/internal/models"
)

// Connect opens the postgres database described by cfg and migrates the schema
func Connect(cfg config.Config) (*gorm.DB, error) {
	if cfg.DBHost == "" || cfg.DBName == "" {
		return nil, fmt.Errorf("failed to connect to database: host and name are required")
	}
	return Open(postgres.Open(cfg.DSN()))
}

// Open connects through dialector and migrates the schema
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	// Configure GORM with optimized settings
	gormConfig := &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Silent),
		PrepareStmt: true, // Prepare statement for better performance
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Set connection pool settings
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	// Set connection pool limits
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// Migrate database schema
	if err := migrateSchema(db); err != nil {
		return nil, err
	}

	return db, nil
}

func migrateSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Pool{},
		&models.UserPosition{},
		&models.Operation{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// Composite indexes for common query patterns
	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_user_positions_pool_owner ON user_positions(pool_address, owner)").Error; err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_operations_pool_applied_at ON operations(pool_address, applied_at)").Error; err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}
