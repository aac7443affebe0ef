package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/brooksjoey/MnemosyneOS/internal/database"
	"github.com/brooksjoey/MnemosyneOS/types"
)

// ====== GORM 行模型 ======

// recordRow 记忆记录表。嵌入向量不入库，元数据序列化为 JSON 文本。
type recordRow struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	Namespace    string     `gorm:"size:64;not null;index:idx_records_dedup,priority:1;index:idx_records_scan,priority:1" json:"namespace"`
	Layer        string     `gorm:"size:16;not null;index:idx_records_dedup,priority:2" json:"layer"`
	Text         string     `gorm:"type:text;not null" json:"text"`
	ContentHash  string     `gorm:"size:64;not null;index:idx_records_dedup,priority:3" json:"content_hash"`
	Source       string     `gorm:"size:255" json:"source"`
	Metadata     string     `gorm:"type:text" json:"metadata"`
	CreatedAt    time.Time  `gorm:"not null;index:idx_records_scan,priority:2" json:"created_at"`
	TombstonedAt *time.Time `gorm:"index" json:"tombstoned_at,omitempty"`
}

func (recordRow) TableName() string { return "memory_records" }

// pinRow 命名空间嵌入身份钉
type pinRow struct {
	Namespace  string    `gorm:"primaryKey;size:64" json:"namespace"`
	ProviderID string    `gorm:"size:128;not null" json:"provider_id"`
	Dimension  int       `gorm:"not null" json:"dimension"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

func (pinRow) TableName() string { return "namespace_pins" }

// markRow 反思高水位
type markRow struct {
	Namespace     string    `gorm:"primaryKey;size:64" json:"namespace"`
	LastSuccessAt time.Time `gorm:"not null" json:"last_success_at"`
}

func (markRow) TableName() string { return "reflection_marks" }

func toRecordRow(r *types.MemoryRecord) (*recordRow, error) {
	meta := ""
	if len(r.Metadata) > 0 {
		b, err := json.Marshal(r.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal record metadata: %w", err)
		}
		meta = string(b)
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return &recordRow{
		ID:          r.ID,
		Namespace:   r.Namespace,
		Layer:       string(r.Layer),
		Text:        r.Text,
		ContentHash: r.ContentHash,
		Source:      r.Source,
		Metadata:    meta,
		CreatedAt:   createdAt,
	}, nil
}

func fromRecordRow(row *recordRow) (*types.MemoryRecord, error) {
	var meta map[string]any
	if row.Metadata != "" {
		if err := json.Unmarshal([]byte(row.Metadata), &meta); err != nil {
			return nil, fmt.Errorf("unmarshal record metadata: %w", err)
		}
	}
	return &types.MemoryRecord{
		ID:          row.ID,
		Namespace:   row.Namespace,
		Layer:       types.MemoryLayer(row.Layer),
		Text:        row.Text,
		ContentHash: row.ContentHash,
		Source:      row.Source,
		Metadata:    meta,
		CreatedAt:   row.CreatedAt,
	}, nil
}

// ====== GormStore ======

// GormStore 基于 GORM 的记录存储，支持 sqlite / postgres / mysql。
// 连接池与健康检查由 internal/database.PoolManager 托管。
type GormStore struct {
	pool   *database.PoolManager
	driver string
	logger *zap.Logger
}

// NewGormStore 在已打开的 gorm.DB 上构建记录存储并确保表结构最新。
func NewGormStore(db *gorm.DB, driver string, poolCfg database.PoolConfig, logger *zap.Logger) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// 先收紧连接池再建表，:memory: 库依赖单连接存续
	pool, err := database.NewPoolManager(db, poolCfg, logger)
	if err != nil {
		return nil, err
	}

	if err := pool.DB().AutoMigrate(&recordRow{}, &pinRow{}, &markRow{}); err != nil {
		return nil, fmt.Errorf("auto migrate record store: %w", err)
	}

	return &GormStore{
		pool:   pool,
		driver: driver,
		logger: logger.With(
			zap.String("component", "record_store"),
			zap.String("driver", driver)),
	}, nil
}

func (s *GormStore) db() *gorm.DB { return s.pool.DB() }

// Insert 持久化一条新记录
func (s *GormStore) Insert(ctx context.Context, record *types.MemoryRecord) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}

	row, err := toRecordRow(record)
	if err != nil {
		return err
	}
	if err := s.db().WithContext(ctx).Create(row).Error; err != nil {
		return unavailable(s.driver, err)
	}

	s.logger.Debug("record inserted",
		zap.String("namespace", record.Namespace),
		zap.String("id", record.ID),
		zap.String("layer", string(record.Layer)))
	return nil
}

// FindByDedupKey 去重键查找，命中多条时返回最早的
func (s *GormStore) FindByDedupKey(ctx context.Context, namespace string, layer types.MemoryLayer, contentHash string) (*types.MemoryRecord, error) {
	var row recordRow
	err := s.db().WithContext(ctx).
		Where("namespace = ? AND layer = ? AND content_hash = ? AND tombstoned_at IS NULL",
			namespace, string(layer), contentHash).
		Order("created_at ASC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(s.driver, err)
	}
	return fromRecordRow(&row)
}

// Get 返回单条可见记录
func (s *GormStore) Get(ctx context.Context, namespace, id string) (*types.MemoryRecord, error) {
	var row recordRow
	err := s.db().WithContext(ctx).
		Where("namespace = ? AND id = ? AND tombstoned_at IS NULL", namespace, id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(s.driver, err)
	}
	return fromRecordRow(&row)
}

// GetMany 批量读取可见记录
func (s *GormStore) GetMany(ctx context.Context, namespace string, ids []string) ([]*types.MemoryRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var rows []recordRow
	err := s.db().WithContext(ctx).
		Where("namespace = ? AND id IN ? AND tombstoned_at IS NULL", namespace, ids).
		Find(&rows).Error
	if err != nil {
		return nil, unavailable(s.driver, err)
	}

	records := make([]*types.MemoryRecord, 0, len(rows))
	for i := range rows {
		rec, err := fromRecordRow(&rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Delete 硬删除，墓碑行也会被移除
func (s *GormStore) Delete(ctx context.Context, namespace, id string) (bool, error) {
	res := s.db().WithContext(ctx).
		Where("namespace = ? AND id = ?", namespace, id).
		Delete(&recordRow{})
	if res.Error != nil {
		return false, unavailable(s.driver, res.Error)
	}

	deleted := res.RowsAffected > 0
	if deleted {
		s.logger.Debug("record deleted",
			zap.String("namespace", namespace),
			zap.String("id", id))
	}
	return deleted, nil
}

// Tombstone 落墓碑；目标不存在或已墓碑时为空操作
func (s *GormStore) Tombstone(ctx context.Context, namespace, id string) error {
	res := s.db().WithContext(ctx).Model(&recordRow{}).
		Where("namespace = ? AND id = ? AND tombstoned_at IS NULL", namespace, id).
		Update("tombstoned_at", time.Now().UTC())
	if res.Error != nil {
		return unavailable(s.driver, res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Warn("record tombstoned",
			zap.String("namespace", namespace),
			zap.String("id", id))
	}
	return nil
}

// ListSince 返回窗口 (since, until] 内的可见记录，时间升序
func (s *GormStore) ListSince(ctx context.Context, namespace string, layers []types.MemoryLayer, since, until time.Time, limit int) ([]*types.MemoryRecord, error) {
	q := s.db().WithContext(ctx).
		Where("namespace = ? AND tombstoned_at IS NULL", namespace)

	if len(layers) > 0 {
		ls := make([]string, len(layers))
		for i, l := range layers {
			ls[i] = string(l)
		}
		q = q.Where("layer IN ?", ls)
	}
	if !since.IsZero() {
		q = q.Where("created_at > ?", since)
	}
	if !until.IsZero() {
		q = q.Where("created_at <= ?", until)
	}

	// 倒序取最近 limit 条，再反转回时间升序
	q = q.Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []recordRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, unavailable(s.driver, err)
	}

	records := make([]*types.MemoryRecord, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		rec, err := fromRecordRow(&rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Stats 汇总命名空间的可见记录
func (s *GormStore) Stats(ctx context.Context, namespace string) (*types.MemoryStats, error) {
	type layerCount struct {
		Layer string
		Count int64
	}

	var counts []layerCount
	err := s.db().WithContext(ctx).Model(&recordRow{}).
		Select("layer, COUNT(*) AS count").
		Where("namespace = ? AND tombstoned_at IS NULL", namespace).
		Group("layer").
		Scan(&counts).Error
	if err != nil {
		return nil, unavailable(s.driver, err)
	}

	stats := &types.MemoryStats{
		Namespace: namespace,
		ByLayer:   make(map[string]int64),
	}
	for _, c := range counts {
		stats.ByLayer[c.Layer] = c.Count
		stats.TotalRecords += c.Count
	}

	if stats.TotalRecords > 0 {
		// 用带类型的整行读取边界时间，避免各驱动对聚合列的时间解析差异
		var oldest, newest recordRow
		base := s.db().WithContext(ctx).
			Where("namespace = ? AND tombstoned_at IS NULL", namespace)
		if err := base.Session(&gorm.Session{}).Order("created_at ASC").First(&oldest).Error; err != nil {
			return nil, unavailable(s.driver, err)
		}
		if err := base.Session(&gorm.Session{}).Order("created_at DESC").First(&newest).Error; err != nil {
			return nil, unavailable(s.driver, err)
		}
		stats.OldestRecord = oldest.CreatedAt
		stats.NewestRecord = newest.CreatedAt
	}
	return stats, nil
}

// Namespaces 列出持有可见记录的命名空间
func (s *GormStore) Namespaces(ctx context.Context) ([]string, error) {
	var namespaces []string
	err := s.db().WithContext(ctx).Model(&recordRow{}).
		Where("tombstoned_at IS NULL").
		Distinct().
		Order("namespace").
		Pluck("namespace", &namespaces).Error
	if err != nil {
		return nil, unavailable(s.driver, err)
	}
	return namespaces, nil
}

// GetPin 返回命名空间钉
func (s *GormStore) GetPin(ctx context.Context, namespace string) (*types.NamespacePin, error) {
	var row pinRow
	err := s.db().WithContext(ctx).
		Where("namespace = ?", namespace).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(s.driver, err)
	}
	return &types.NamespacePin{
		Namespace:  row.Namespace,
		ProviderID: row.ProviderID,
		Dimension:  row.Dimension,
		CreatedAt:  row.CreatedAt,
	}, nil
}

// SetPin 仅在钉不存在时写入，已有钉不覆盖
func (s *GormStore) SetPin(ctx context.Context, pin *types.NamespacePin) error {
	if pin == nil || pin.Namespace == "" {
		return fmt.Errorf("pin namespace is required")
	}

	row := &pinRow{
		Namespace:  pin.Namespace,
		ProviderID: pin.ProviderID,
		Dimension:  pin.Dimension,
		CreatedAt:  pin.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	err := s.db().WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row).Error
	if err != nil {
		return unavailable(s.driver, err)
	}
	return nil
}

// GetReflectionMark 返回反思高水位，未设置时为零值
func (s *GormStore) GetReflectionMark(ctx context.Context, namespace string) (time.Time, error) {
	var row markRow
	err := s.db().WithContext(ctx).
		Where("namespace = ?", namespace).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, unavailable(s.driver, err)
	}
	return row.LastSuccessAt, nil
}

// SetReflectionMark 推进反思高水位
func (s *GormStore) SetReflectionMark(ctx context.Context, namespace string, at time.Time) error {
	row := &markRow{Namespace: namespace, LastSuccessAt: at}
	err := s.db().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "namespace"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_success_at"}),
		}).
		Create(row).Error
	if err != nil {
		return unavailable(s.driver, err)
	}
	return nil
}

// Ping 探测数据库连通性
func (s *GormStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable(s.driver, err)
	}
	return nil
}

// PoolStats 返回底层连接池统计，不在 Store 接口内，/health 输出用
func (s *GormStore) PoolStats() database.PoolStats {
	return s.pool.GetStats()
}

// Close 关闭连接池
func (s *GormStore) Close() error {
	return s.pool.Close()
}
