package persistence

import (
	"database/sql"
	"fmt"

	"publish-pipeline/domain/repository"
	"publish-pipeline/infrastructure/configuration"
	"publish-pipeline/infrastructure/logger"
)

// Stores bundles the repositories opened for the configured vendor.
type Stores struct {
	Credentials repository.ICredentialStore
	// History is only kept on PostgreSQL; nil for the other vendors.
	History repository.IPublishHistory
	Close   func() error
}

// OpenStores connects to the configured vendor and ensures the schema.
func OpenStores(cfg configuration.Database) (*Stores, error) {
	lg := logger.GetLogger().WithField("vendor", cfg.Vendor)
	switch cfg.Vendor {
	case "", "postgres":
		db, err := NewPostgreSQLDB(cfg.Psql)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := ensureAll(db, EnsureIntegrationSchema, EnsurePublishRecordSchema); err != nil {
			_ = db.Close()
			return nil, err
		}
		lg.Info("credential store and publish history ready")
		return &Stores{
			Credentials: NewIntegrationRepository(db),
			History:     NewPublishRecordRepository(db),
			Close:       db.Close,
		}, nil
	case "mssql":
		db, err := NewMSSQLDB(cfg.Mssql)
		if err != nil {
			return nil, fmt.Errorf("connect mssql: %w", err)
		}
		if err := ensureAll(db, EnsureIntegrationSchemaMSSQL); err != nil {
			_ = db.Close()
			return nil, err
		}
		lg.Info("credential store ready")
		return &Stores{Credentials: NewIntegrationRepositoryMSSQL(db), Close: db.Close}, nil
	case "mysql":
		db, err := NewMySQLGorm(cfg.MySql)
		if err != nil {
			return nil, fmt.Errorf("connect mysql: %w", err)
		}
		if err := EnsureIntegrationSchemaGorm(db); err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		lg.Info("credential store ready")
		return &Stores{Credentials: NewIntegrationRepositoryGorm(db), Close: sqlDB.Close}, nil
	}
	return nil, fmt.Errorf("unsupported database vendor %q", cfg.Vendor)
}

func ensureAll(db *sql.DB, fns ...func(*sql.DB) error) error {
	for _, fn := range fns {
		if err := fn(db); err != nil {
			return err
		}
	}
	return nil
}
