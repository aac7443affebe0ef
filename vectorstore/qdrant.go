package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brooksjoey/MnemosyneOS/internal/tlsutil"
)

// QdrantConfig configures the Qdrant-backed Store.
//
// Notes:
// - Qdrant point IDs are UUIDs; a stable UUIDv5 is derived from the record id.
// - Layer/created_at/content_hash live in the point payload; layer gets a
//   keyword payload index so filtered search stays fast.
type QdrantConfig struct {
	BaseURL          string        `json:"base_url"`
	APIKey           string        `json:"api_key,omitempty"`
	CollectionPrefix string        `json:"collection_prefix"`
	Timeout          time.Duration `json:"timeout,omitempty"`
	Distance         string        `json:"distance,omitempty"` // Cosine (default), Dot, Euclid
	Wait             *bool         `json:"wait,omitempty"`     // Wait for operation completion (default true)
}

// QdrantStore implements Store using Qdrant's REST API.
// 每个命名空间一个集合，集合名为 CollectionPrefix + namespace。
type QdrantStore struct {
	cfg QdrantConfig

	baseURL string
	client  *http.Client
	logger  *zap.Logger

	mu      sync.Mutex
	ensured map[string]bool
}

// NewQdrantStore creates a Qdrant-backed Store.
func NewQdrantStore(cfg QdrantConfig, logger *zap.Logger) *QdrantStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Distance == "" {
		cfg.Distance = "Cosine"
	}
	if cfg.CollectionPrefix == "" {
		cfg.CollectionPrefix = "mnemo_"
	}
	if cfg.Wait == nil {
		wait := true
		cfg.Wait = &wait
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:6333"
	}

	return &QdrantStore{
		cfg:     cfg,
		baseURL: baseURL,
		client:  tlsutil.SecureHTTPClient(cfg.Timeout),
		logger:  logger.With(zap.String("component", "qdrant_store")),
		ensured: make(map[string]bool),
	}
}

var qdrantNamespace = uuid.MustParse("b5f1c3d7-9e42-4a78-8c15-2f0a6e9d4b31")

func qdrantPointID(recordID string) string {
	// Stable UUIDv5 derived from the record id (supports any string input).
	return uuid.NewSHA1(qdrantNamespace, []byte(recordID)).String()
}

func (s *QdrantStore) collectionName(namespace string) string {
	return s.cfg.CollectionPrefix + namespace
}

// errQdrantNotFound marks a 404, which the callers translate into empty
// semantics (missing collection means no vectors yet).
var errQdrantNotFound = errors.New("qdrant: not found")

func (s *QdrantStore) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(s.cfg.APIKey) != "" {
		// Qdrant convention.
		req.Header.Set("api-key", s.cfg.APIKey)
	}
}

func (s *QdrantStore) doJSON(ctx context.Context, method, path string, in any, out any) error {
	endpoint := s.baseURL + path

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	s.applyHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return unavailable("qdrant", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return errQdrantNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return unavailable("qdrant",
			fmt.Errorf("method=%s path=%s status=%d body=%s", method, path, resp.StatusCode, string(raw)))
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ensureCollection 懒创建集合。集合已存在（409）时跳过；只有新建成功
// 才创建 layer 的 keyword payload 索引，进程重启后由 409 分支接管.
func (s *QdrantStore) ensureCollection(ctx context.Context, collection string, vectorSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ensured[collection] {
		return nil
	}
	if vectorSize <= 0 {
		return fmt.Errorf("qdrant vector size must be > 0")
	}

	created, err := s.createCollection(ctx, collection, vectorSize)
	if err != nil {
		return err
	}
	if created {
		if err := s.createLayerIndex(ctx, collection); err != nil {
			s.logger.Warn("qdrant layer index creation failed",
				zap.String("collection", collection), zap.Error(err))
		}
	}

	s.ensured[collection] = true
	return nil
}

func (s *QdrantStore) createCollection(ctx context.Context, collection string, vectorSize int) (bool, error) {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": s.cfg.Distance,
		},
	}

	endpoint := fmt.Sprintf("%s/collections/%s", s.baseURL, url.PathEscape(collection))
	reqBody, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return false, err
	}
	s.applyHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return false, unavailable("qdrant", err)
	}
	defer resp.Body.Close()

	// Qdrant returns 409 if collection exists.
	if resp.StatusCode == http.StatusConflict {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return false, unavailable("qdrant",
			fmt.Errorf("create collection failed: status=%d body=%s", resp.StatusCode, string(raw)))
	}
	return true, nil
}

func (s *QdrantStore) createLayerIndex(ctx context.Context, collection string) error {
	body := map[string]any{
		"field_name":   "layer",
		"field_schema": "keyword",
	}
	path := fmt.Sprintf("/collections/%s/index", url.PathEscape(collection))
	if s.wait() {
		path += "?wait=true"
	}
	return s.doJSON(ctx, http.MethodPut, path, body, nil)
}

func (s *QdrantStore) wait() bool {
	return s.cfg.Wait == nil || *s.cfg.Wait
}

// Upsert 按 id 幂等写入
func (s *QdrantStore) Upsert(ctx context.Context, namespace string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	// Validate vectors and determine the collection vector size.
	vectorSize := 0
	for i, p := range points {
		if p.ID == "" {
			return fmt.Errorf("point[%d] has empty id", i)
		}
		if len(p.Vector) == 0 {
			return fmt.Errorf("point[%d] has no vector", i)
		}
		if vectorSize == 0 {
			vectorSize = len(p.Vector)
		}
		if len(p.Vector) != vectorSize {
			return fmt.Errorf("point[%d] vector dimension mismatch: got=%d want=%d", i, len(p.Vector), vectorSize)
		}
	}

	collection := s.collectionName(namespace)
	if err := s.ensureCollection(ctx, collection, vectorSize); err != nil {
		return err
	}

	type qdrantPoint struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload,omitempty"`
	}

	qpoints := make([]qdrantPoint, 0, len(points))
	for _, p := range points {
		qpoints = append(qpoints, qdrantPoint{
			ID:     qdrantPointID(p.ID),
			Vector: p.Vector,
			Payload: map[string]any{
				"record_id":    p.ID,
				"layer":        p.Layer,
				"created_at":   p.CreatedAt.UTC().Format(time.RFC3339Nano),
				"content_hash": p.ContentHash,
			},
		})
	}

	req := struct {
		Points []qdrantPoint `json:"points"`
	}{
		Points: qpoints,
	}

	path := fmt.Sprintf("/collections/%s/points", url.PathEscape(collection))
	if s.wait() {
		path += "?wait=true"
	}

	var resp any
	if err := s.doJSON(ctx, http.MethodPut, path, req, &resp); err != nil {
		return err
	}

	s.logger.Debug("qdrant upsert completed",
		zap.String("namespace", namespace),
		zap.Int("count", len(points)))
	return nil
}

// Query 余弦相似度检索；层过滤下推为 payload filter（match any）.
func (s *QdrantStore) Query(ctx context.Context, namespace string, vector []float32, k int, filter *Filter) ([]Hit, error) {
	if k <= 0 {
		return []Hit{}, nil
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is required")
	}

	type qdrantMatch struct {
		Any []string `json:"any"`
	}
	type qdrantCondition struct {
		Key   string      `json:"key"`
		Match qdrantMatch `json:"match"`
	}
	type qdrantFilter struct {
		Must []qdrantCondition `json:"must"`
	}

	req := struct {
		Vector      []float32     `json:"vector"`
		Limit       int           `json:"limit"`
		WithPayload bool          `json:"with_payload"`
		WithVector  bool          `json:"with_vector"`
		Filter      *qdrantFilter `json:"filter,omitempty"`
	}{
		Vector:      vector,
		Limit:       k,
		WithPayload: true,
		WithVector:  false,
	}
	if filter != nil && len(filter.Layers) > 0 {
		req.Filter = &qdrantFilter{
			Must: []qdrantCondition{{Key: "layer", Match: qdrantMatch{Any: filter.Layers}}},
		}
	}

	type qdrantResult struct {
		ID      any            `json:"id"`
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	}
	var resp struct {
		Result []qdrantResult `json:"result"`
		Status string         `json:"status"`
	}

	path := fmt.Sprintf("/collections/%s/points/search", url.PathEscape(s.collectionName(namespace)))
	if err := s.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		if errors.Is(err, errQdrantNotFound) {
			return []Hit{}, nil
		}
		return nil, err
	}

	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hit := Hit{Score: r.Score}

		if r.Payload != nil {
			if v, ok := r.Payload["record_id"].(string); ok {
				hit.ID = v
			}
			if v, ok := r.Payload["layer"].(string); ok {
				hit.Layer = v
			}
			if v, ok := r.Payload["created_at"].(string); ok {
				hit.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
			}
		}
		if hit.ID == "" {
			// Fallback to the point ID if payload does not include record_id.
			hit.ID = fmt.Sprint(r.ID)
		}

		hits = append(hits, hit)
	}

	sortHits(hits)
	return hits, nil
}

// Delete 按 id 删除；集合不存在或 id 未知都是空操作.
func (s *QdrantStore) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	points := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			continue
		}
		points = append(points, qdrantPointID(id))
	}
	if len(points) == 0 {
		return nil
	}

	req := struct {
		Points []string `json:"points"`
	}{
		Points: points,
	}

	path := fmt.Sprintf("/collections/%s/points/delete", url.PathEscape(s.collectionName(namespace)))
	if s.wait() {
		path += "?wait=true"
	}

	var resp any
	if err := s.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		if errors.Is(err, errQdrantNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// Count 返回命名空间内的向量数量；集合不存在时为 0.
func (s *QdrantStore) Count(ctx context.Context, namespace string) (int, error) {
	req := struct {
		Exact bool `json:"exact"`
	}{
		Exact: true,
	}

	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}

	path := fmt.Sprintf("/collections/%s/points/count", url.PathEscape(s.collectionName(namespace)))
	if err := s.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		if errors.Is(err, errQdrantNotFound) {
			return 0, nil
		}
		return 0, err
	}

	return resp.Result.Count, nil
}
