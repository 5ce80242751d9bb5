package cli

import (
	"pipecrm/internal/config"
	"pipecrm/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if cfg.Monitoring.Tracing.Enabled {
		_ = db.Use(gormtracing.NewPlugin())
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	return db, nil
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{}, &models.Workspace{},
		&models.Pipeline{}, &models.Stage{},
		&models.Company{}, &models.Contact{},
		&models.Deal{}, &models.DealContact{}, &models.Tag{},
		&models.Task{}, &models.Activity{},
		&models.AutomationRule{}, &models.AutomationExecution{},
	)
}
