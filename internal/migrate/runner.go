// Package migrate 按版本顺序执行 SQL 迁移，已执行版本记录在 schema_migrations。
package migrate

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed sql/*_up.sql
var embedded embed.FS

// Runner 迁移执行器
type Runner struct {
	FS  fs.FS
	Log *zap.Logger
}

// New 使用内置迁移文件
func New(log *zap.Logger) Runner {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return Runner{FS: sub, Log: log}
}

// Migration 一个向上迁移文件
type Migration struct {
	Version int64
	Path    string
}

// Discover 扫描 <version>_<name>_up.sql，按版本排序；版本重复时报错
func (r Runner) Discover() ([]Migration, error) {
	var files []Migration
	seen := make(map[int64]string)
	err := fs.WalkDir(r.FS, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := path.Base(p)
		if !strings.HasSuffix(name, "_up.sql") {
			return nil
		}
		prefix, _, _ := strings.Cut(name, "_")
		ver, err := strconv.ParseInt(prefix, 10, 64)
		if err != nil {
			return nil
		}
		if other, dup := seen[ver]; dup {
			return fmt.Errorf("migration version %d defined by %s and %s", ver, other, p)
		}
		seen[ver] = p
		files = append(files, Migration{Version: ver, Path: p})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}

// Up 执行未应用的迁移，每个文件一个事务；返回本次执行的数量
func (r Runner) Up(ctx context.Context, db *pgxpool.Pool) (int, error) {
	if _, err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
        version BIGINT PRIMARY KEY,
        applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    )`); err != nil {
		return 0, fmt.Errorf("ensure schema_migrations: %w", err)
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return 0, err
	}
	ups, err := r.Discover()
	if err != nil {
		return 0, err
	}

	n := 0
	for _, m := range ups {
		if applied[m.Version] {
			continue
		}
		content, err := fs.ReadFile(r.FS, m.Path)
		if err != nil {
			return n, err
		}
		err = pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(content)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES($1,$2)`, m.Version, time.Now())
			return err
		})
		if err != nil {
			return n, fmt.Errorf("migration %s: %w", m.Path, err)
		}
		r.Log.Info("migration applied", zap.Int64("version", m.Version), zap.String("file", m.Path))
		n++
	}
	return n, nil
}

// Apply 以 dsn 建立临时连接池执行内置迁移
func Apply(ctx context.Context, dsn string, log *zap.Logger) (int, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return 0, fmt.Errorf("open migration pool: %w", err)
	}
	defer pool.Close()
	return New(log).Up(ctx, pool)
}

func appliedVersions(ctx context.Context, db *pgxpool.Pool) (map[int64]bool, error) {
	rows, err := db.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()
	res := make(map[int64]bool)
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		res[v] = true
	}
	return res, rows.Err()
}
