package cmd

import (
	"fmt"
	"log/slog"

	"github.com/frahmantamala/crm-authz/internal"
	"github.com/frahmantamala/crm-authz/internal/audit"
	accessDatamodel "github.com/frahmantamala/crm-authz/internal/core/datamodel/access"
	"github.com/frahmantamala/crm-authz/internal/rowstore/postgres"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// store bundles the handles every command needs to reach the database.
type store struct {
	SQL     *sqlx.DB
	Gorm    *gorm.DB
	Gateway *postgres.Gateway
}

func (s *store) Close() error {
	return s.SQL.Close()
}

// openStore connects with the configured driver. Postgres goes through pgx via
// sqlx; SQLite is for local runs and gets its schema from the gorm models.
func openStore(cfg internal.DatabaseConfig, lg *slog.Logger) (*store, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}

	var (
		sqlDB  *sqlx.DB
		gormDB *gorm.DB
		err    error
	)
	switch cfg.GetDriver() {
	case "sqlite":
		gormDB, err = gorm.Open(sqlite.Open(cfg.GetDSN()), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		raw, err := gormDB.DB()
		if err != nil {
			return nil, err
		}
		// sqlite allows one writer
		raw.SetMaxOpenConns(1)
		sqlDB = sqlx.NewDb(raw, "sqlite3")
		if err := gormDB.AutoMigrate(accessDatamodel.All()...); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
		}
	default:
		sqlDB, err = initDB(cfg)
		if err != nil {
			return nil, err
		}
		gormDB, err = gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: sqlDB.DB}), gormCfg)
		if err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to open gorm session: %w", err)
		}
	}

	gw := postgres.NewGateway(gormDB, lg)
	audit.RegisterProcedures(gw)
	return &store{SQL: sqlDB, Gorm: gormDB, Gateway: gw}, nil
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}
