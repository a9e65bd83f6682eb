package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

const (
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

// Migration 是一对同名的 up / down 脚本。
type Migration struct {
	Name string
	Up   string
	Down string
}

// Load 从 fsys 根目录读取迁移脚本，按名称排序。缺少 up 脚本的条目视为错误。
func Load(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migration files: %w", err)
	}

	byName := map[string]*Migration{}
	for _, entry := range entries {
		fileName := entry.Name()
		if entry.IsDir() {
			continue
		}
		var name string
		var up bool
		switch {
		case strings.HasSuffix(fileName, upSuffix):
			name, up = strings.TrimSuffix(fileName, upSuffix), true
		case strings.HasSuffix(fileName, downSuffix):
			name = strings.TrimSuffix(fileName, downSuffix)
		default:
			continue
		}

		data, err := fs.ReadFile(fsys, fileName)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fileName, err)
		}
		mig, ok := byName[name]
		if !ok {
			mig = &Migration{Name: name}
			byName[name] = mig
		}
		if up {
			mig.Up = string(data)
		} else {
			mig.Down = string(data)
		}
	}

	migrations := make([]Migration, 0, len(byName))
	for _, mig := range byName {
		if mig.Up == "" {
			return nil, fmt.Errorf("migration %s has no up script", mig.Name)
		}
		migrations = append(migrations, *mig)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Name < migrations[j].Name })
	return migrations, nil
}

// Apply 执行全部尚未记录的 up 迁移，返回本次执行的数量。
func Apply(ctx context.Context, db *sql.DB, fsys fs.FS, log zerolog.Logger) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("nil database connection")
	}
	if err := ensureSchemaMigrations(ctx, db); err != nil {
		return 0, err
	}

	applied, err := fetchApplied(ctx, db)
	if err != nil {
		return 0, err
	}
	migrations, err := Load(fsys)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range Pending(migrations, applied) {
		if err := runInTx(ctx, db, mig.Name, mig.Up, `INSERT INTO schema_migrations (name) VALUES ($1)`); err != nil {
			return count, err
		}
		log.Info().Str("migration", mig.Name).Msg("migration applied")
		count++
	}
	return count, nil
}

// Rollback 按逆序回滚最近 steps 个已执行的迁移。
func Rollback(ctx context.Context, db *sql.DB, fsys fs.FS, steps int, log zerolog.Logger) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("nil database connection")
	}
	if err := ensureSchemaMigrations(ctx, db); err != nil {
		return 0, err
	}

	applied, err := fetchApplied(ctx, db)
	if err != nil {
		return 0, err
	}
	migrations, err := Load(fsys)
	if err != nil {
		return 0, err
	}

	count := 0
	for i := len(migrations) - 1; i >= 0 && count < steps; i-- {
		mig := migrations[i]
		if !applied[mig.Name] {
			continue
		}
		if mig.Down == "" {
			return count, fmt.Errorf("migration %s has no down script", mig.Name)
		}
		if err := runInTx(ctx, db, mig.Name, mig.Down, `DELETE FROM schema_migrations WHERE name = $1`); err != nil {
			return count, err
		}
		log.Info().Str("migration", mig.Name).Msg("migration rolled back")
		count++
	}
	return count, nil
}

// Pending 返回尚未执行的迁移，保持原有顺序。
func Pending(migrations []Migration, applied map[string]bool) []Migration {
	var pending []Migration
	for _, mig := range migrations {
		if !applied[mig.Name] {
			pending = append(pending, mig)
		}
	}
	return pending
}

func ensureSchemaMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func fetchApplied(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("select schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

func runInTx(ctx context.Context, db *sql.DB, name, script, bookkeeping string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}

	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("run migration %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, name); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}
