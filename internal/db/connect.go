// Package db opens the turn journal database.
package db

import (
	"fmt"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported journal drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Dialector returns the gorm dialector for driver and dsn.
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db: dsn is required")
	}
	switch driver {
	case DriverSQLite, "":
		return sqlite.Open(dsn), nil
	case DriverMySQL:
		c, err := gomysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("db: parse mysql dsn: %w", err)
		}
		c.ParseTime = true
		return mysql.New(mysql.Config{DSN: c.FormatDSN(), DSNConfig: c}), nil
	default:
		return nil, fmt.Errorf("db: unsupported driver %q (want sqlite or mysql)", driver)
	}
}

// Connect opens a GORM connection with the named driver. SQLite DSNs are
// file paths (or ":memory:"); MySQL DSNs use the go-sql-driver format and
// always get parseTime=true.
func Connect(driver, dsn string) (*gorm.DB, error) {
	d, err := Dialector(driver, dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(d, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect %s: %w", driver, err)
	}
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("db: close: %w", err)
	}
	return sqlDB.Close()
}
