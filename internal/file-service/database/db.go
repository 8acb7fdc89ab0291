package database

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	sqliteGo "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

const CustomDriverName = "sqlite3_extended"

const DefaultFile = "file-service.db"

var ErrRecordNotFound = gorm.ErrRecordNotFound

func init() {
	sql.Register(CustomDriverName,
		&sqliteGo.SQLiteDriver{
			ConnectHook: func(conn *sqliteGo.SQLiteConn) error {
				if _, err := conn.Exec("PRAGMA foreign_keys = ON", nil); err != nil {
					return err
				}
				return conn.RegisterFunc(
					"gen_random_uuid",
					func(arguments ...interface{}) (string, error) {
						u, err := uuid.NewRandom()
						if err != nil {
							return "", err
						}
						return u.String(), nil
					},
					true,
				)
			},
		},
	)
}

// NewDb opens the sqlite file and migrates the metadata tables.
// gorm messages go to l, at Info level when debug is set and Warn otherwise.
func NewDb(file string, l *log.Entry, debug bool) (*gorm.DB, error) {
	conn, err := sql.Open(CustomDriverName, file)
	if err != nil {
		return nil, err
	}

	level := logger.Warn
	if debug {
		level = logger.Info
	}

	db, err := gorm.Open(sqlite.Dialector{
		DriverName: CustomDriverName,
		DSN:        file,
		Conn:       conn,
	}, &gorm.Config{
		Logger: logger.New(l.WithField("component", "gorm"), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
		NamingStrategy:           schema.NamingStrategy{SingularTable: true},
		TranslateError:           true,
		SkipDefaultTransaction:   true,
		DisableNestedTransaction: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Category{}, &SubCategory{}, &FileRecord{}, &Label{}); err != nil {
		return nil, err
	}
	return db, nil
}

// IsUniqueViolation reports whether err comes from a unique index.
func IsUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var sqliteErr sqliteGo.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqliteGo.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqliteGo.ErrConstraintPrimaryKey
	}
	return false
}
