// Package types provides unified type definitions for the MnemosyneOS engine.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MemoryLayer defines the semantic category of a memory record.
// Every record belongs to exactly one of the seven fixed layers; the layer
// participates in the dedup key and is filterable at search time.
type MemoryLayer string

const (
	// LayerEpisodic holds event-based experiential memories: chat turns,
	// feed items, things that happened at a point in time.
	LayerEpisodic MemoryLayer = "episodic"

	// LayerSemantic holds factual knowledge and learned information.
	LayerSemantic MemoryLayer = "semantic"

	// LayerProcedural holds how-to knowledge and learned procedures.
	LayerProcedural MemoryLayer = "procedural"

	// LayerReflective holds derived summaries produced by reflection runs.
	// Only the reflection path writes this layer.
	LayerReflective MemoryLayer = "reflective"

	// LayerAffective holds emotional context and sentiment-bearing memories.
	LayerAffective MemoryLayer = "affective"

	// LayerIdentity holds self-model and profile information.
	LayerIdentity MemoryLayer = "identity"

	// LayerMeta holds memories about the memory system itself.
	LayerMeta MemoryLayer = "meta"
)

// AllMemoryLayers lists every valid layer in canonical order.
var AllMemoryLayers = []MemoryLayer{
	LayerEpisodic,
	LayerSemantic,
	LayerProcedural,
	LayerReflective,
	LayerAffective,
	LayerIdentity,
	LayerMeta,
}

// Valid reports whether l is one of the seven fixed layers.
func (l MemoryLayer) Valid() bool {
	switch l {
	case LayerEpisodic, LayerSemantic, LayerProcedural, LayerReflective,
		LayerAffective, LayerIdentity, LayerMeta:
		return true
	}
	return false
}

// ParseMemoryLayer converts a string into a MemoryLayer.
func ParseMemoryLayer(s string) (MemoryLayer, error) {
	l := MemoryLayer(s)
	if !l.Valid() {
		return "", fmt.Errorf("unknown memory layer %q", s)
	}
	return l, nil
}

var namespaceRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateNamespace checks the namespace identifier format: lowercase
// alphanumerics plus '-' and '_', at most 64 characters.
func ValidateNamespace(ns string) error {
	if !namespaceRe.MatchString(ns) {
		return fmt.Errorf("invalid namespace %q", ns)
	}
	return nil
}

// NormalizeForHash canonicalizes text for dedup hashing: lowercase,
// whitespace runs collapsed to single spaces, trimmed. The stored text is
// never normalized, only the hash input.
func NormalizeForHash(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// HashContent returns the dedup content hash: SHA-256 hex of the
// normalized text.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(NormalizeForHash(text)))
	return hex.EncodeToString(sum[:])
}

// MemoryRecord is the atomic unit of storage: one embedded piece of text
// filed into a layer within a namespace.
//
// The record store persists everything except Embedding; the vector lives
// only in the vector index, joined by ID.
type MemoryRecord struct {
	ID          string         `json:"id"`
	Namespace   string         `json:"namespace"`
	Layer       MemoryLayer    `json:"layer"`
	Text        string         `json:"text"`
	Embedding   []float32      `json:"embedding,omitempty"`
	ContentHash string         `json:"content_hash"`
	Source      string         `json:"source,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NamespacePin records the embedding identity a namespace was first written
// with. Once pinned, every later ingest and search must use the same
// provider and dimension.
type NamespacePin struct {
	Namespace  string    `json:"namespace"`
	ProviderID string    `json:"provider_id"`
	Dimension  int       `json:"dimension"`
	CreatedAt  time.Time `json:"created_at"`
}

// Matches reports whether the given provider identity is compatible with
// the pin.
func (p NamespacePin) Matches(providerID string, dimension int) bool {
	return p.ProviderID == providerID && p.Dimension == dimension
}

// ReflectionStatus is the state of a reflection pass for one namespace.
type ReflectionStatus string

const (
	ReflectionIdle    ReflectionStatus = "idle"
	ReflectionRunning ReflectionStatus = "running"
	ReflectionFailed  ReflectionStatus = "failed"
)

// ReflectionRun is the bookkeeping entity for one reflection pass over a
// namespace and time window.
type ReflectionRun struct {
	Namespace   string           `json:"namespace"`
	WindowStart time.Time        `json:"window_start"`
	WindowEnd   time.Time        `json:"window_end"`
	Status      ReflectionStatus `json:"status"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at,omitempty"`
	SourceCount int              `json:"source_count"`
	Created     int              `json:"created"`
	Error       string           `json:"error,omitempty"`
}

// MemoryStats summarizes the visible records of one namespace.
type MemoryStats struct {
	Namespace    string           `json:"namespace"`
	TotalRecords int64            `json:"total_records"`
	ByLayer      map[string]int64 `json:"by_layer"`
	OldestRecord time.Time        `json:"oldest_record,omitempty"`
	NewestRecord time.Time        `json:"newest_record,omitempty"`
}

// EventType identifies an engine event published to subscribers.
type EventType string

const (
	EventRecordCreated       EventType = "record_created"
	EventRecordDeduplicated  EventType = "record_deduplicated"
	EventRecordDeleted       EventType = "record_deleted"
	EventReflectionCompleted EventType = "reflection_completed"
)

// Event is a lightweight notification about a state change in the engine.
type Event struct {
	Type      EventType   `json:"type"`
	Namespace string      `json:"namespace"`
	RecordID  string      `json:"record_id,omitempty"`
	Layer     MemoryLayer `json:"layer,omitempty"`
	At        time.Time   `json:"at"`
}
