// Package embedding implements the Embedding Store (spec §4.E): it keeps a
// vector per visible tool, re-embeds only tools whose content hash changed,
// and serves cosine-similarity top-K search against a hot-swapped index.
// Modeled on the teacher's internal/finder/embedder.Finder (provider
// caching, version counter bumped on change) generalized from "cache one
// embedder client per config id" to "cache one vector per tool content
// hash", and on its on-disk registry persistence idiom applied to a
// three-file vectors/metadata/hashes layout.
package embedding

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/MagicBeansAI/magictunnel/internal/log"
	"github.com/MagicBeansAI/magictunnel/internal/mcperr"
)

// Provider produces embedding vectors for a batch of texts, grounded on the
// teacher's genai/embedder/provider/base.Embedder interface shape.
type Provider interface {
	Embed(ctx context.Context, texts []string) (vectors [][]float32, totalTokens int, err error)
}

// entry is one tool's persisted embedding.
type entry struct {
	Name      string
	Dim       int
	Vector    []float32
}

// metadataFile mirrors metadata.json: the shared vector dimension plus an
// ordered list of tool names, each with its content hash, so vectors.bin
// can be a flat float32 blob addressed by offset = index*dim.
type metadataFile struct {
	Dim     int             `json:"dim"`
	Entries []metadataEntry `json:"entries"`
}

type metadataEntry struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
}

// Index is an immutable, hot-swappable snapshot of every tool's current
// embedding, searched by cosine similarity.
type Index struct {
	dim     int
	names   []string
	hashes  map[string]string
	vectors map[string][]float32
}

func newEmptyIndex() *Index {
	return &Index{hashes: map[string]string{}, vectors: map[string][]float32{}}
}

// Hash returns the content hash the index has on file for name, or "" if
// the tool has never been embedded.
func (ix *Index) Hash(name string) string {
	if ix == nil {
		return ""
	}
	return ix.hashes[name]
}

// Scored is one ranked search result.
type Scored struct {
	Name  string
	Score float64
}

// TopK returns the K tools whose vectors are most cosine-similar to query,
// descending by score.
func (ix *Index) TopK(query []float32, k int) []Scored {
	if ix == nil || k <= 0 {
		return nil
	}
	out := make([]Scored, 0, len(ix.vectors))
	for name, vec := range ix.vectors {
		out = append(out, Scored{Name: name, Score: cosine(query, vec)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Store owns on-disk persistence and re-embedding for an Index, published
// via an atomic.Pointer so readers (Smart Discovery) never block on a
// rebuild (spec §4.E, same hot-swap idiom as internal/registry.Catalog).
type Store struct {
	dir      string
	provider Provider
	batch    int

	current atomic.Pointer[Index]
	mu      sync.Mutex // serializes Reconcile/persist
}

// NewStore constructs a Store rooted at dir (vectors.bin/metadata.json/
// hashes.json live directly under it) and loads any existing index.
func NewStore(dir string, provider Provider, batchSize int) (*Store, error) {
	if batchSize <= 0 {
		batchSize = 16
	}
	s := &Store{dir: dir, provider: provider, batch: batchSize}
	idx, err := loadIndex(dir)
	if err != nil {
		return nil, err
	}
	s.current.Store(idx)
	return s, nil
}

// Get returns the currently published Index.
func (s *Store) Get() *Index { return s.current.Load() }

// ToolSource is one tool whose embedding text and content hash are known to
// the caller (internal/registry.Snapshot is the usual source).
type ToolSource struct {
	Name string
	Hash string
	Text string // text rendered for embedding: name + description (+enhancement)
}

// Reconcile re-embeds every ToolSource whose Hash differs from what's on
// file (or that's new), drops stale tools no longer present, and
// atomically publishes the updated Index (spec §4.E content-hash trigger).
func (s *Store) Reconcile(ctx context.Context, sources []ToolSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()
	next := newEmptyIndex()

	var toEmbed []ToolSource
	for _, src := range sources {
		if prev != nil && prev.hashes[src.Name] == src.Hash {
			next.vectors[src.Name] = prev.vectors[src.Name]
			next.hashes[src.Name] = src.Hash
			next.dim = prev.dim
			continue
		}
		toEmbed = append(toEmbed, src)
	}

	for i := 0; i < len(toEmbed); i += s.batch {
		end := i + s.batch
		if end > len(toEmbed) {
			end = len(toEmbed)
		}
		chunk := toEmbed[i:end]
		texts := make([]string, len(chunk))
		for j, c := range chunk {
			texts[j] = c.Text
		}
		vectors, _, err := s.provider.Embed(ctx, texts)
		if err != nil {
			return mcperr.Wrap(mcperr.KindBackend, "embedding provider call failed", err)
		}
		if len(vectors) != len(chunk) {
			return mcperr.New(mcperr.KindBackend, "embedding provider returned mismatched vector count")
		}
		for j, c := range chunk {
			next.vectors[c.Name] = vectors[j]
			next.hashes[c.Name] = c.Hash
			if next.dim == 0 {
				next.dim = len(vectors[j])
			}
		}
	}

	next.names = make([]string, 0, len(next.vectors))
	for name := range next.vectors {
		next.names = append(next.names, name)
	}
	sort.Strings(next.names)

	if err := persistIndex(s.dir, next); err != nil {
		return err
	}
	s.current.Store(next)
	log.Emit(log.Info, "embedding", "index reconciled", map[string]interface{}{
		"total": len(next.names), "re_embedded": len(toEmbed),
	})
	return nil
}

func loadIndex(dir string) (*Index, error) {
	metaPath := filepath.Join(dir, "metadata.json")
	metaBytes, err := os.ReadFile(metaPath)
	if os.IsNotExist(err) {
		return newEmptyIndex(), nil
	}
	if err != nil {
		return nil, err
	}
	var meta metadataFile
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, mcperr.Wrap(mcperr.KindParse, "malformed metadata.json", err)
	}

	vecBytes, err := os.ReadFile(filepath.Join(dir, "vectors.bin"))
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindParse, "missing vectors.bin for existing metadata.json", err)
	}

	idx := newEmptyIndex()
	idx.dim = meta.Dim
	floatsPerEntry := meta.Dim
	for i, e := range meta.Entries {
		off := i * floatsPerEntry * 4
		if off+floatsPerEntry*4 > len(vecBytes) {
			return nil, mcperr.New(mcperr.KindParse, "vectors.bin truncated relative to metadata.json")
		}
		vec := make([]float32, floatsPerEntry)
		for j := 0; j < floatsPerEntry; j++ {
			bits := binary.LittleEndian.Uint32(vecBytes[off+j*4 : off+j*4+4])
			vec[j] = math.Float32frombits(bits)
		}
		idx.vectors[e.Name] = vec
		idx.hashes[e.Name] = e.Hash
		idx.names = append(idx.names, e.Name)
	}
	return idx, nil
}

// persistIndex writes vectors.bin/metadata.json/hashes.json via
// temp-file-then-rename so a crash mid-write never leaves a torn index
// (spec §4.E atomic persistence).
func persistIndex(dir string, idx *Index) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	meta := metadataFile{Dim: idx.dim}
	vecBuf := make([]byte, 0, len(idx.names)*idx.dim*4)
	hashes := map[string]string{}
	for _, name := range idx.names {
		vec := idx.vectors[name]
		meta.Entries = append(meta.Entries, metadataEntry{Name: name, Hash: idx.hashes[name]})
		hashes[name] = idx.hashes[name]
		for _, f := range vec {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(f))
			vecBuf = append(vecBuf, b[:]...)
		}
	}

	if err := writeAtomic(filepath.Join(dir, "vectors.bin"), vecBuf); err != nil {
		return err
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(dir, "metadata.json"), metaBytes); err != nil {
		return err
	}
	hashBytes, err := json.Marshal(hashes)
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, "hashes.json"), hashBytes)
}

func writeAtomic(path string, data []byte) error {
	tmp := fmt.Sprintf("%s.tmp-%d", path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
