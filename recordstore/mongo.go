package recordstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/brooksjoey/MnemosyneOS/types"
)

// MongoConfig MongoDB 记录存储配置
type MongoConfig struct {
	URI      string        `json:"uri"`
	Database string        `json:"database"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// ====== 文档模型（bson 标签随 Mongo 生态用 camelCase）======

type mongoRecord struct {
	ID           string         `bson:"_id"`
	Namespace    string         `bson:"namespace"`
	Layer        string         `bson:"layer"`
	Text         string         `bson:"text"`
	ContentHash  string         `bson:"contentHash"`
	Source       string         `bson:"source,omitempty"`
	Metadata     map[string]any `bson:"metadata,omitempty"`
	CreatedAt    time.Time      `bson:"createdAt"`
	TombstonedAt *time.Time     `bson:"tombstonedAt,omitempty"`
}

type mongoPin struct {
	Namespace  string    `bson:"_id"`
	ProviderID string    `bson:"providerId"`
	Dimension  int       `bson:"dimension"`
	CreatedAt  time.Time `bson:"createdAt"`
}

type mongoMark struct {
	Namespace     string    `bson:"_id"`
	LastSuccessAt time.Time `bson:"lastSuccessAt"`
}

func toMongoRecord(r *types.MemoryRecord) *mongoRecord {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return &mongoRecord{
		ID:          r.ID,
		Namespace:   r.Namespace,
		Layer:       string(r.Layer),
		Text:        r.Text,
		ContentHash: r.ContentHash,
		Source:      r.Source,
		Metadata:    r.Metadata,
		CreatedAt:   createdAt,
	}
}

func fromMongoRecord(doc *mongoRecord) *types.MemoryRecord {
	return &types.MemoryRecord{
		ID:          doc.ID,
		Namespace:   doc.Namespace,
		Layer:       types.MemoryLayer(doc.Layer),
		Text:        doc.Text,
		ContentHash: doc.ContentHash,
		Source:      doc.Source,
		Metadata:    doc.Metadata,
		CreatedAt:   doc.CreatedAt,
	}
}

// mongoVisible 追加可见性条件：tombstonedAt 为 null 或缺失
func mongoVisible(filter bson.M) bson.M {
	filter["tombstonedAt"] = nil
	return filter
}

// ====== MongoStore ======

// MongoStore 基于 mongo-driver/v2 的记录存储。
// 记录、钉和高水位各占一个集合；钉与高水位以命名空间为 _id。
type MongoStore struct {
	client  *mongo.Client
	records *mongo.Collection
	pins    *mongo.Collection
	marks   *mongo.Collection
	logger  *zap.Logger
}

// NewMongoStore 连接 MongoDB 并准备集合与索引。
// 驱动的连接是惰性的，这里显式 Ping 让不可达尽早暴露。
func NewMongoStore(ctx context.Context, cfg MongoConfig, logger *zap.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	uri := cfg.URI
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	dbName := cfg.Database
	if dbName == "" {
		dbName = "mnemosyne"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, unavailable("mongo", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, unavailable("mongo", err)
	}

	db := client.Database(dbName)
	s := &MongoStore{
		client:  client,
		records: db.Collection("memory_records"),
		pins:    db.Collection("namespace_pins"),
		marks:   db.Collection("reflection_marks"),
		logger: logger.With(
			zap.String("component", "record_store"),
			zap.String("driver", "mongo")),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		s.logger.Warn("mongo index creation failed", zap.Error(err))
	}

	s.logger.Info("mongo record store connected", zap.String("database", dbName))
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.records.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "namespace", Value: 1},
			{Key: "layer", Value: 1},
			{Key: "contentHash", Value: 1},
		}},
		{Keys: bson.D{
			{Key: "namespace", Value: 1},
			{Key: "createdAt", Value: 1},
		}},
	})
	return err
}

// Insert 持久化一条新记录
func (s *MongoStore) Insert(ctx context.Context, record *types.MemoryRecord) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}

	if _, err := s.records.InsertOne(ctx, toMongoRecord(record)); err != nil {
		return unavailable("mongo", err)
	}

	s.logger.Debug("record inserted",
		zap.String("namespace", record.Namespace),
		zap.String("id", record.ID),
		zap.String("layer", string(record.Layer)))
	return nil
}

// FindByDedupKey 去重键查找，命中多条时返回最早的
func (s *MongoStore) FindByDedupKey(ctx context.Context, namespace string, layer types.MemoryLayer, contentHash string) (*types.MemoryRecord, error) {
	filter := mongoVisible(bson.M{
		"namespace":   namespace,
		"layer":       string(layer),
		"contentHash": contentHash,
	})

	var doc mongoRecord
	err := s.records.FindOne(ctx, filter,
		options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: 1}})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("mongo", err)
	}
	return fromMongoRecord(&doc), nil
}

// Get 返回单条可见记录
func (s *MongoStore) Get(ctx context.Context, namespace, id string) (*types.MemoryRecord, error) {
	var doc mongoRecord
	err := s.records.FindOne(ctx,
		mongoVisible(bson.M{"namespace": namespace, "_id": id})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("mongo", err)
	}
	return fromMongoRecord(&doc), nil
}

// GetMany 批量读取可见记录
func (s *MongoStore) GetMany(ctx context.Context, namespace string, ids []string) ([]*types.MemoryRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	filter := mongoVisible(bson.M{
		"namespace": namespace,
		"_id":       bson.M{"$in": ids},
	})
	cur, err := s.records.Find(ctx, filter)
	if err != nil {
		return nil, unavailable("mongo", err)
	}

	var docs []mongoRecord
	if err := cur.All(ctx, &docs); err != nil {
		return nil, unavailable("mongo", err)
	}

	records := make([]*types.MemoryRecord, 0, len(docs))
	for i := range docs {
		records = append(records, fromMongoRecord(&docs[i]))
	}
	return records, nil
}

// Delete 硬删除，墓碑文档也会被移除
func (s *MongoStore) Delete(ctx context.Context, namespace, id string) (bool, error) {
	res, err := s.records.DeleteOne(ctx, bson.M{"namespace": namespace, "_id": id})
	if err != nil {
		return false, unavailable("mongo", err)
	}

	deleted := res.DeletedCount > 0
	if deleted {
		s.logger.Debug("record deleted",
			zap.String("namespace", namespace),
			zap.String("id", id))
	}
	return deleted, nil
}

// Tombstone 落墓碑；目标不存在或已墓碑时为空操作
func (s *MongoStore) Tombstone(ctx context.Context, namespace, id string) error {
	res, err := s.records.UpdateOne(ctx,
		mongoVisible(bson.M{"namespace": namespace, "_id": id}),
		bson.M{"$set": bson.M{"tombstonedAt": time.Now().UTC()}})
	if err != nil {
		return unavailable("mongo", err)
	}
	if res.ModifiedCount > 0 {
		s.logger.Warn("record tombstoned",
			zap.String("namespace", namespace),
			zap.String("id", id))
	}
	return nil
}

// ListSince 返回窗口 (since, until] 内的可见记录，时间升序
func (s *MongoStore) ListSince(ctx context.Context, namespace string, layers []types.MemoryLayer, since, until time.Time, limit int) ([]*types.MemoryRecord, error) {
	filter := mongoVisible(bson.M{"namespace": namespace})
	if len(layers) > 0 {
		ls := make([]string, len(layers))
		for i, l := range layers {
			ls[i] = string(l)
		}
		filter["layer"] = bson.M{"$in": ls}
	}
	created := bson.M{}
	if !since.IsZero() {
		created["$gt"] = since
	}
	if !until.IsZero() {
		created["$lte"] = until
	}
	if len(created) > 0 {
		filter["createdAt"] = created
	}

	// 倒序取最近 limit 条，再反转回时间升序
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}

	cur, err := s.records.Find(ctx, filter, opts)
	if err != nil {
		return nil, unavailable("mongo", err)
	}
	var docs []mongoRecord
	if err := cur.All(ctx, &docs); err != nil {
		return nil, unavailable("mongo", err)
	}

	records := make([]*types.MemoryRecord, 0, len(docs))
	for i := len(docs) - 1; i >= 0; i-- {
		records = append(records, fromMongoRecord(&docs[i]))
	}
	return records, nil
}

// Stats 聚合命名空间的可见记录
func (s *MongoStore) Stats(ctx context.Context, namespace string) (*types.MemoryStats, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: mongoVisible(bson.M{"namespace": namespace})}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$layer"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "oldest", Value: bson.D{{Key: "$min", Value: "$createdAt"}}},
			{Key: "newest", Value: bson.D{{Key: "$max", Value: "$createdAt"}}},
		}}},
	}

	cur, err := s.records.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, unavailable("mongo", err)
	}

	var groups []struct {
		Layer  string    `bson:"_id"`
		Count  int64     `bson:"count"`
		Oldest time.Time `bson:"oldest"`
		Newest time.Time `bson:"newest"`
	}
	if err := cur.All(ctx, &groups); err != nil {
		return nil, unavailable("mongo", err)
	}

	stats := &types.MemoryStats{
		Namespace: namespace,
		ByLayer:   make(map[string]int64),
	}
	for _, g := range groups {
		stats.ByLayer[g.Layer] = g.Count
		stats.TotalRecords += g.Count
		if stats.OldestRecord.IsZero() || g.Oldest.Before(stats.OldestRecord) {
			stats.OldestRecord = g.Oldest
		}
		if g.Newest.After(stats.NewestRecord) {
			stats.NewestRecord = g.Newest
		}
	}
	return stats, nil
}

// Namespaces 列出持有可见记录的命名空间
func (s *MongoStore) Namespaces(ctx context.Context) ([]string, error) {
	res := s.records.Distinct(ctx, "namespace", bson.M{"tombstonedAt": nil})
	if err := res.Err(); err != nil {
		return nil, unavailable("mongo", err)
	}

	var namespaces []string
	if err := res.Decode(&namespaces); err != nil {
		return nil, unavailable("mongo", err)
	}
	sort.Strings(namespaces)
	return namespaces, nil
}

// GetPin 返回命名空间钉
func (s *MongoStore) GetPin(ctx context.Context, namespace string) (*types.NamespacePin, error) {
	var doc mongoPin
	err := s.pins.FindOne(ctx, bson.M{"_id": namespace}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("mongo", err)
	}
	return &types.NamespacePin{
		Namespace:  doc.Namespace,
		ProviderID: doc.ProviderID,
		Dimension:  doc.Dimension,
		CreatedAt:  doc.CreatedAt,
	}, nil
}

// SetPin 仅在钉不存在时写入（$setOnInsert + upsert），已有钉不覆盖
func (s *MongoStore) SetPin(ctx context.Context, pin *types.NamespacePin) error {
	if pin == nil || pin.Namespace == "" {
		return fmt.Errorf("pin namespace is required")
	}

	createdAt := pin.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.pins.UpdateOne(ctx,
		bson.M{"_id": pin.Namespace},
		bson.M{"$setOnInsert": bson.M{
			"providerId": pin.ProviderID,
			"dimension":  pin.Dimension,
			"createdAt":  createdAt,
		}},
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		return unavailable("mongo", err)
	}
	return nil
}

// GetReflectionMark 返回反思高水位，未设置时为零值
func (s *MongoStore) GetReflectionMark(ctx context.Context, namespace string) (time.Time, error) {
	var doc mongoMark
	err := s.marks.FindOne(ctx, bson.M{"_id": namespace}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, unavailable("mongo", err)
	}
	return doc.LastSuccessAt, nil
}

// SetReflectionMark 推进反思高水位
func (s *MongoStore) SetReflectionMark(ctx context.Context, namespace string, at time.Time) error {
	_, err := s.marks.ReplaceOne(ctx,
		bson.M{"_id": namespace},
		mongoMark{Namespace: namespace, LastSuccessAt: at},
		options.Replace().SetUpsert(true))
	if err != nil {
		return unavailable("mongo", err)
	}
	return nil
}

// Ping 探测 MongoDB 连通性
func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return unavailable("mongo", err)
	}
	return nil
}

// Close 断开 MongoDB 连接
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
