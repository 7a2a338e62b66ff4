package app

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/taoyao-code/ant-server/internal/config"
	"github.com/taoyao-code/ant-server/internal/health"
	"github.com/taoyao-code/ant-server/internal/migrate"
	"github.com/taoyao-code/ant-server/internal/storage"
	"github.com/taoyao-code/ant-server/internal/storage/gormrepo"
)

// ConnectDB 按需执行 SQL 迁移后建立数据库连接；未启用时返回 nil, nil
func ConnectDB(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	if !cfg.Enabled {
		log.Info("database is disabled, journal off")
		return nil, nil
	}
	if cfg.SQLMigrations {
		n, err := migrate.Apply(ctx, cfg.DSN, log.Named("migrate"))
		if err != nil {
			log.Error("db migrate error", zap.Error(err))
			return nil, err
		}
		log.Info("sql migrations done", zap.Int("applied", n))
	}
	db, err := gormrepo.Open(ctx, cfg, log)
	if err != nil {
		log.Error("db connect error", zap.Error(err))
		return nil, err
	}
	return db, nil
}

// NewJournal 创建接收数据日志；retention > 0 时按小时清理过期记录
func NewJournal(db *gorm.DB, cfg config.DatabaseConfig, instanceID string, log *zap.Logger) (*storage.Journal, storage.JournalRepo) {
	repo := gormrepo.New(db)
	return storage.NewJournal(repo, instanceID,
		storage.WithJournalLogger(log.Named("journal")),
		storage.WithRetention(cfg.Retention, 0)), repo
}

// AddDatabaseChecker 添加数据库检查器到聚合器
func AddDatabaseChecker(aggregator *health.Aggregator, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	aggregator.AddChecker(health.NewDatabaseChecker(sqlDB))
	return nil
}
