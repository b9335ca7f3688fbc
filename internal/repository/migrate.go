package repository

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	"github.com/bassista/go_tilecache/internal/logger"
)

//go:embed migrations
var migrationsFS embed.FS

// goose keeps its configuration in package globals.
var migrateMu sync.Mutex

// gooseLogger forwards goose output to logrus. Fatalf does not exit so the error
// reaches the caller.
type gooseLogger struct {
	entry *logrus.Entry
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.entry.Infof(format, v...)
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	l.entry.Errorf(format, v...)
}

func migrate(db *sql.DB, d dialect) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(gooseLogger{entry: logger.WithComponent("migrate")})

	if err := goose.SetDialect(d.gooseDialect); err != nil {
		return fmt.Errorf("set migration dialect %s: %w", d.gooseDialect, err)
	}
	if err := goose.Up(db, d.migrationsDir); err != nil {
		return fmt.Errorf("run %s migrations: %w", d.name, err)
	}
	return nil
}
