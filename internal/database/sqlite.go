package database

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// sqliteBusyTimeoutMS makes concurrent document writers wait for the lock
// instead of failing with "database is locked".
const sqliteBusyTimeoutMS = 5000

func openSQLite(cfg Config) (*gorm.DB, error) {
	dsn, err := buildSQLiteDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", sqliteBusyTimeoutMS),
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("sqlite %q: %w", pragma, err)
		}
	}
	return db, nil
}

// buildSQLiteDSN resolves the connection string. A configured DSN is kept
// as is apart from a default busy timeout; otherwise Path selects a file in
// WAL mode or a shared in-memory database.
func buildSQLiteDSN(cfg Config) (string, error) {
	if dsn := strings.TrimSpace(cfg.DSN); dsn != "" {
		// _timeout is the driver's alias for _busy_timeout.
		if strings.Contains(dsn, "_timeout") {
			return dsn, nil
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return fmt.Sprintf("%s%s_busy_timeout=%d", dsn, sep, sqliteBusyTimeoutMS), nil
	}

	options := map[string]string{
		"_foreign_keys": "1",
		"_busy_timeout": fmt.Sprint(sqliteBusyTimeoutMS),
	}
	target := "file::memory:"
	path := strings.TrimSpace(cfg.Path)
	switch {
	case path == "", strings.EqualFold(path, ":memory:"):
		options["cache"] = "shared"
	default:
		if err := ensureDir(path); err != nil {
			return "", err
		}
		target = "file:" + filepath.ToSlash(path)
		options["_journal_mode"] = "WAL"
		options["_synchronous"] = "NORMAL"
	}
	for key, value := range cfg.Options {
		options[key] = value
	}

	keys := make([]string, 0, len(options))
	for key := range options {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	params := make([]string, 0, len(keys))
	for _, key := range keys {
		params = append(params, key+"="+options[key])
	}
	return target + "?" + strings.Join(params, "&"), nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
