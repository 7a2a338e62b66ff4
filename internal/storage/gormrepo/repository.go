package gormrepo

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/taoyao-code/ant-server/internal/config"
	"github.com/taoyao-code/ant-server/internal/storage"
	"github.com/taoyao-code/ant-server/internal/storage/models"
)

const defaultListLimit = 100

// Repository 基于 GORM 的 JournalRepo 实现。
type Repository struct {
	db *gorm.DB
}

// New 返回一个使用给定 *gorm.DB 的 JournalRepo 实例。
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

var _ storage.JournalRepo = (*Repository)(nil)

// Open 建立 PostgreSQL 连接，配置连接池，并按需自动迁移
func Open(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	// 探活
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := db.WithContext(ctx).AutoMigrate(models.All()...); err != nil {
			log.Error("db migrate error", zap.Error(err))
			return db, fmt.Errorf("auto migrate: %w", err)
		}
		log.Info("db migrations applied")
	}
	return db, nil
}

// AppendData 写入一条接收数据
func (r *Repository) AppendData(ctx context.Context, rec *models.DataMessage) error {
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

// AppendEvent 写入一条通道事件
func (r *Repository) AppendEvent(ctx context.Context, rec *models.ChannelEvent) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// ListData 按接收时间倒序分页返回
func (r *Repository) ListData(ctx context.Context, instance string, channel *uint8, limit int) ([]models.DataMessage, error) {
	var out []models.DataMessage
	q := r.db.WithContext(ctx).Where("instance = ?", instance)
	if channel != nil {
		q = q.Where("channel = ?", int16(*channel))
	}
	if err := q.Order("received_at DESC, id DESC").Limit(clampLimit(limit)).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListEvents 按创建时间倒序分页返回
func (r *Repository) ListEvents(ctx context.Context, instance string, channel *uint8, limit int) ([]models.ChannelEvent, error) {
	var out []models.ChannelEvent
	q := r.db.WithContext(ctx).Where("instance = ?", instance)
	if channel != nil {
		q = q.Where("channel = ?", int16(*channel))
	}
	if err := q.Order("created_at DESC, id DESC").Limit(clampLimit(limit)).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// PurgeBefore 在一个事务中清理两张表的过期记录
func (r *Repository) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("received_at < ?", before).Delete(&models.DataMessage{})
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected
		res = tx.Where("created_at < ?", before).Delete(&models.ChannelEvent{})
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected
		return nil
	})
	return total, err
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultListLimit
	}
	return limit
}
