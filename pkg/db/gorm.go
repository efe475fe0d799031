package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	TypeMySQL  = "mysql"
	TypeSQLite = "sqlite"

	defaultMySQLDSN  = "root:@tcp(127.0.0.1:3306)/assistant_dispatch?charset=utf8mb4&parseTime=True&loc=Local"
	defaultSQLiteDSN = "assistant_history.db"
)

// NewGormDB opens a GORM DB. dbType is "mysql" or "sqlite" (the default);
// an empty dsn selects a local development database.
func NewGormDB(dbType, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch dbType {
	case TypeMySQL:
		if dsn == "" {
			dsn = defaultMySQLDSN
			hlog.Infof("DB: using default MySQL DSN %s", dsn)
		}
		dialector = mysql.Open(dsn)
	case TypeSQLite, "":
		if dsn == "" {
			dsn = defaultSQLiteDSN
			hlog.Infof("DB: using default SQLite DSN %s", dsn)
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported DB_TYPE %q", dbType)
	}

	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if dialector.Name() == TypeSQLite {
		// SQLite allows a single writer.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sqlite pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	hlog.Infof("DB: %s connection established", dialector.Name())
	return db, nil
}

// AutoMigrate performs auto-migration for the given GORM models.
func AutoMigrate(db *gorm.DB, models ...interface{}) error {
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	hlog.Infof("DB: migration completed for %d model(s)", len(models))
	return nil
}
