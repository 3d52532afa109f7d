package dao

import (
	"context"
	"fmt"

	"goim-channel/apps/channel-service/model"
	"goim-channel/pkg/database"
)

// auditDAO 审计日志，写入 PostgreSQL
type auditDAO struct {
	db *database.PostgreSQL
}

// NewAuditDAO 创建审计DAO
func NewAuditDAO(db *database.PostgreSQL) AuditDAO {
	return &auditDAO{db: db}
}

// MigrateAudit 迁移审计表结构
func MigrateAudit(db *database.PostgreSQL) error {
	return db.AutoMigrate(&model.ModerationLog{})
}

// RecordAction 写入审计记录
func (d *auditDAO) RecordAction(ctx context.Context, log *model.ModerationLog) error {
	if err := d.db.GetDB().WithContext(ctx).Create(log).Error; err != nil {
		return fmt.Errorf("failed to record moderation action: %w", err)
	}
	return nil
}

// ListActions 按时间升序列出频道的审计记录
func (d *auditDAO) ListActions(ctx context.Context, channelID string) ([]*model.ModerationLog, error) {
	var logs []*model.ModerationLog
	err := d.db.GetDB().WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("created_at ASC, id ASC").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list moderation actions: %w", err)
	}
	return logs, nil
}
