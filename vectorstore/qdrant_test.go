package vectorstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/brooksjoey/MnemosyneOS/types"
)

func TestQdrantStore_BasicFlow(t *testing.T) {
	t.Parallel()

	var createCalls, indexCalls, upsertCalls, searchCalls, deleteCalls, countCalls atomic.Int64

	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	mux := http.NewServeMux()
	mux.HandleFunc("/collections/mnemo_agents", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("create collection method = %s", r.Method)
		}
		var req struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode create collection: %v", err)
		}
		if req.Vectors.Size != 3 {
			t.Errorf("vector size = %d, want 3", req.Vectors.Size)
		}
		if req.Vectors.Distance != "Cosine" {
			t.Errorf("distance = %s, want Cosine", req.Vectors.Distance)
		}
		createCalls.Add(1)
		w.Write([]byte(`{"result":true,"status":"ok"}`))
	})
	mux.HandleFunc("/collections/mnemo_agents/index", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("create index method = %s", r.Method)
		}
		var req struct {
			FieldName   string `json:"field_name"`
			FieldSchema string `json:"field_schema"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode create index: %v", err)
		}
		if req.FieldName != "layer" || req.FieldSchema != "keyword" {
			t.Errorf("index request = %+v", req)
		}
		indexCalls.Add(1)
		w.Write([]byte(`{"result":{"status":"acknowledged"},"status":"ok"}`))
	})
	mux.HandleFunc("/collections/mnemo_agents/points", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("upsert method = %s", r.Method)
		}
		if r.URL.Query().Get("wait") != "true" {
			t.Errorf("upsert wait param = %q, want true", r.URL.Query().Get("wait"))
		}
		var req struct {
			Points []struct {
				ID      string         `json:"id"`
				Vector  []float32      `json:"vector"`
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode upsert: %v", err)
		}
		if len(req.Points) != 2 {
			t.Errorf("upsert points = %d, want 2", len(req.Points))
		}
		for _, p := range req.Points {
			if p.ID != qdrantPointID(p.Payload["record_id"].(string)) {
				t.Errorf("point id %s is not the UUIDv5 of %v", p.ID, p.Payload["record_id"])
			}
			if _, ok := p.Payload["layer"].(string); !ok {
				t.Errorf("payload missing layer: %+v", p.Payload)
			}
			if ts, ok := p.Payload["created_at"].(string); !ok {
				t.Errorf("payload missing created_at: %+v", p.Payload)
			} else if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
				t.Errorf("created_at not RFC3339Nano: %v", err)
			}
			if _, ok := p.Payload["content_hash"].(string); !ok {
				t.Errorf("payload missing content_hash: %+v", p.Payload)
			}
		}
		upsertCalls.Add(1)
		w.Write([]byte(`{"result":{"status":"completed"},"status":"ok"}`))
	})
	mux.HandleFunc("/collections/mnemo_agents/points/search", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("search method = %s", r.Method)
		}
		var req struct {
			Vector      []float32 `json:"vector"`
			Limit       int       `json:"limit"`
			WithPayload bool      `json:"with_payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode search: %v", err)
		}
		if req.Limit != 3 {
			t.Errorf("search limit = %d, want 3", req.Limit)
		}
		if !req.WithPayload {
			t.Error("search should request payloads")
		}
		searchCalls.Add(1)
		resp := map[string]any{
			"status": "ok",
			"result": []map[string]any{
				{
					"id":    qdrantPointID("old"),
					"score": 0.93,
					"payload": map[string]any{
						"record_id":  "old",
						"layer":      "episodic",
						"created_at": older.Format(time.RFC3339Nano),
					},
				},
				{
					"id":    qdrantPointID("new"),
					"score": 0.93,
					"payload": map[string]any{
						"record_id":  "new",
						"layer":      "semantic",
						"created_at": newer.Format(time.RFC3339Nano),
					},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/collections/mnemo_agents/points/delete", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("delete method = %s", r.Method)
		}
		var req struct {
			Points []string `json:"points"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode delete: %v", err)
		}
		if len(req.Points) != 1 || req.Points[0] != qdrantPointID("old") {
			t.Errorf("delete points = %v", req.Points)
		}
		deleteCalls.Add(1)
		w.Write([]byte(`{"result":{"status":"completed"},"status":"ok"}`))
	})
	mux.HandleFunc("/collections/mnemo_agents/points/count", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Exact bool `json:"exact"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode count: %v", err)
		}
		if !req.Exact {
			t.Error("count should be exact")
		}
		countCalls.Add(1)
		w.Write([]byte(`{"result":{"count":2},"status":"ok"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store := NewQdrantStore(QdrantConfig{BaseURL: srv.URL}, zap.NewNop())
	ctx := context.Background()

	err := store.Upsert(ctx, "agents", []Point{
		testPoint("old", "episodic", []float32{1, 0, 0}, older),
		testPoint("new", "semantic", []float32{0, 1, 0}, newer),
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	// 再次写入复用已确保的集合，不再触发创建
	err = store.Upsert(ctx, "agents", []Point{
		testPoint("old", "episodic", []float32{1, 0, 0}, older),
		testPoint("new", "semantic", []float32{0, 1, 0}, newer),
	})
	if err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}

	hits, err := store.Query(ctx, "agents", []float32{1, 0, 0}, 3, nil)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("Query() hits = %d, want 2", len(hits))
	}
	// 得分相同时较新的在前
	if hits[0].ID != "new" || hits[1].ID != "old" {
		t.Errorf("hit order = [%s %s], want [new old]", hits[0].ID, hits[1].ID)
	}
	if hits[0].Layer != "semantic" {
		t.Errorf("hit layer = %s, want semantic", hits[0].Layer)
	}
	if !hits[0].CreatedAt.Equal(newer) {
		t.Errorf("hit created_at = %v, want %v", hits[0].CreatedAt, newer)
	}

	if err := store.Delete(ctx, "agents", []string{"old", "  "}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	count, err := store.Count(ctx, "agents")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 2 {
		t.Errorf("Count() = %d, want 2", count)
	}

	// 确保终点被击中。
	if createCalls.Load() != 1 {
		t.Errorf("create collection calls = %d, want 1", createCalls.Load())
	}
	if indexCalls.Load() != 1 {
		t.Errorf("create index calls = %d, want 1", indexCalls.Load())
	}
	if upsertCalls.Load() != 2 {
		t.Errorf("upsert calls = %d, want 2", upsertCalls.Load())
	}
	if searchCalls.Load() != 1 {
		t.Errorf("search calls = %d, want 1", searchCalls.Load())
	}
	if deleteCalls.Load() != 1 {
		t.Errorf("delete calls = %d, want 1", deleteCalls.Load())
	}
	if countCalls.Load() != 1 {
		t.Errorf("count calls = %d, want 1", countCalls.Load())
	}
}

func TestQdrantStore_ExistingCollectionSkipsIndex(t *testing.T) {
	t.Parallel()

	var indexCalls atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/collections/mnemo_agents", func(w http.ResponseWriter, r *http.Request) {
		// 集合已存在
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"status":{"error":"already exists"}}`))
	})
	mux.HandleFunc("/collections/mnemo_agents/index", func(w http.ResponseWriter, r *http.Request) {
		indexCalls.Add(1)
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/collections/mnemo_agents/points", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"status":"completed"},"status":"ok"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store := NewQdrantStore(QdrantConfig{BaseURL: srv.URL}, zap.NewNop())
	err := store.Upsert(context.Background(), "agents", []Point{
		testPoint("r1", "episodic", []float32{1, 0}, time.Now()),
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if indexCalls.Load() != 0 {
		t.Errorf("index calls = %d, want 0 for existing collection", indexCalls.Load())
	}
}

func TestQdrantStore_SearchFilterPushdown(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/collections/mnemo_agents/points/search", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Filter struct {
				Must []struct {
					Key   string `json:"key"`
					Match struct {
						Any []string `json:"any"`
					} `json:"match"`
				} `json:"must"`
			} `json:"filter"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode search: %v", err)
		}
		if len(req.Filter.Must) != 1 {
			t.Fatalf("filter must conditions = %d, want 1", len(req.Filter.Must))
		}
		cond := req.Filter.Must[0]
		if cond.Key != "layer" {
			t.Errorf("filter key = %s, want layer", cond.Key)
		}
		if len(cond.Match.Any) != 2 || cond.Match.Any[0] != "episodic" || cond.Match.Any[1] != "semantic" {
			t.Errorf("filter match any = %v", cond.Match.Any)
		}
		w.Write([]byte(`{"result":[],"status":"ok"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store := NewQdrantStore(QdrantConfig{BaseURL: srv.URL}, zap.NewNop())
	hits, err := store.Query(context.Background(), "agents", []float32{1, 0}, 5,
		&Filter{Layers: []string{"episodic", "semantic"}})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("Query() hits = %d, want 0", len(hits))
	}
}

func TestQdrantStore_MissingCollectionEmptySemantics(t *testing.T) {
	t.Parallel()

	// 所有端点都返回 404：集合从未被写入过
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"status":{"error":"Collection not found"}}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store := NewQdrantStore(QdrantConfig{BaseURL: srv.URL}, zap.NewNop())
	ctx := context.Background()

	hits, err := store.Query(ctx, "ghost", []float32{1, 0}, 5, nil)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("Query() hits = %d, want 0", len(hits))
	}

	count, err := store.Count(ctx, "ghost")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 0 {
		t.Errorf("Count() = %d, want 0", count)
	}

	if err := store.Delete(ctx, "ghost", []string{"r1"}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
}

func TestQdrantStore_ServerErrorMapped(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"status":{"error":"service loading"}}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store := NewQdrantStore(QdrantConfig{BaseURL: srv.URL}, zap.NewNop())
	_, err := store.Query(context.Background(), "agents", []float32{1, 0}, 3, nil)
	if err == nil {
		t.Fatal("Query() expected error for 500 response")
	}
	if code := types.GetErrorCode(err); code != types.ErrBackendUnavailable {
		t.Errorf("error code = %s, want %s", code, types.ErrBackendUnavailable)
	}
	if !types.IsRetryable(err) {
		t.Error("backend unavailable should be retryable")
	}
}

func TestQdrantStore_APIKeyHeader(t *testing.T) {
	t.Parallel()

	var sawKey atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") == "secret" {
			sawKey.Add(1)
		}
		w.Write([]byte(`{"result":{"count":0},"status":"ok"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store := NewQdrantStore(QdrantConfig{BaseURL: srv.URL, APIKey: "secret"}, zap.NewNop())
	if _, err := store.Count(context.Background(), "agents"); err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if sawKey.Load() != 1 {
		t.Errorf("api-key header seen %d times, want 1", sawKey.Load())
	}
}

func TestQdrantStore_Defaults(t *testing.T) {
	t.Parallel()

	store := NewQdrantStore(QdrantConfig{}, nil)

	if store.baseURL != "http://localhost:6333" {
		t.Errorf("default base url = %s", store.baseURL)
	}
	if store.cfg.CollectionPrefix != "mnemo_" {
		t.Errorf("default prefix = %s", store.cfg.CollectionPrefix)
	}
	if store.cfg.Distance != "Cosine" {
		t.Errorf("default distance = %s", store.cfg.Distance)
	}
	if !store.wait() {
		t.Error("wait should default to true")
	}
	if store.client.Timeout != 30*time.Second {
		t.Errorf("default timeout = %v", store.client.Timeout)
	}
	if got := store.collectionName("agents"); got != "mnemo_agents" {
		t.Errorf("collection name = %s", got)
	}
}

func TestQdrantPointID_Stable(t *testing.T) {
	t.Parallel()

	a := qdrantPointID("record-1")
	b := qdrantPointID("record-1")
	c := qdrantPointID("record-2")

	if a != b {
		t.Errorf("same record id produced different point ids: %s vs %s", a, b)
	}
	if a == c {
		t.Errorf("different record ids produced the same point id: %s", a)
	}
	if len(a) != 36 {
		t.Errorf("point id %s is not a canonical UUID", a)
	}
}
