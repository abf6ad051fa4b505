// Package registry implements the Catalog Loader & Registry (spec §4.R):
// discovery of catalog files, parsing of tool definitions, and a
// hot-swappable, lock-free-for-readers snapshot, grounded in the teacher's
// generic internal/registry.Registry[T] (atomic version counter over a
// guarded map) generalized here to an immutable, atomically-swapped
// snapshot rather than a mutable map.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/MagicBeansAI/magictunnel/internal/routing"
)

// Origin identifies where a ToolDef came from.
type Origin struct {
	LocalFile  string `json:"localFile,omitempty"`
	ExternalID string `json:"externalId,omitempty"`
}

// Enhancement carries the smart-discovery-facing augmentation block.
type Enhancement struct {
	EnhancedDescription string   `yaml:"enhancedDescription,omitempty" json:"enhancedDescription,omitempty"`
	Keywords            []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	Categories          []string `yaml:"categories,omitempty" json:"categories,omitempty"`
	UseCases            []string `yaml:"useCases,omitempty" json:"useCases,omitempty"`
}

// ToolDef is the immutable tool record (spec §3 ToolDef). Once placed in a
// Snapshot it is never mutated.
type ToolDef struct {
	Name        string                 `yaml:"name" json:"name"`
	Description string                 `yaml:"description" json:"description"`
	InputSchema map[string]interface{} `yaml:"inputSchema" json:"inputSchema"`
	Routing     routing.Descriptor     `yaml:"routing" json:"routing"`
	Hidden      bool                   `yaml:"hidden,omitempty" json:"hidden,omitempty"`
	Annotations map[string]interface{} `yaml:"annotations,omitempty" json:"annotations,omitempty"`

	Origin      Origin       `yaml:"-" json:"origin"`
	Enhancement *Enhancement `yaml:"enhancement,omitempty" json:"enhancement,omitempty"`
}

// ContentHash returns a SHA-256 hex digest over the fields that drive
// embedding invalidation (I6): enhanced description + schema + keywords.
func (t ToolDef) ContentHash() string {
	h := sha256.New()
	desc := t.Description
	var keywords []string
	if t.Enhancement != nil {
		if t.Enhancement.EnhancedDescription != "" {
			desc = t.Enhancement.EnhancedDescription
		}
		keywords = append(keywords, t.Enhancement.Keywords...)
	}
	sort.Strings(keywords)
	schemaBytes, _ := json.Marshal(t.InputSchema)
	h.Write([]byte(t.Name))
	h.Write([]byte{0})
	h.Write([]byte(desc))
	h.Write([]byte{0})
	h.Write(schemaBytes)
	h.Write([]byte{0})
	for _, k := range keywords {
		h.Write([]byte(k))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Snapshot is an immutable, atomically-published catalog view (spec §3
// RegistrySnapshot). Readers never block writers (I5).
type Snapshot struct {
	tools        map[string]ToolDef
	visibleNames []string
	contentHash  string
	buildTime    time.Time
}

// Lookup returns a tool definition by name regardless of visibility;
// hidden/dispatchable-but-unadvertised tools remain callable (spec §4.R
// visibility rules).
func (s *Snapshot) Lookup(name string) (ToolDef, bool) {
	if s == nil {
		return ToolDef{}, false
	}
	t, ok := s.tools[name]
	return t, ok
}

// VisibleNames returns the tool names advertised via tools/list, in stable
// sorted order.
func (s *Snapshot) VisibleNames() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.visibleNames))
	copy(out, s.visibleNames)
	return out
}

// AllNames returns every dispatchable tool name (visible or not).
func (s *Snapshot) AllNames() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.tools))
	for name := range s.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ContentHash is the aggregate hash used by the Embedding Store and
// Discovery cache to detect catalog-wide changes.
func (s *Snapshot) ContentHash() string {
	if s == nil {
		return ""
	}
	return s.contentHash
}

// BuildTime is when this snapshot was published.
func (s *Snapshot) BuildTime() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.buildTime
}

// Len reports the number of dispatchable tools.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.tools)
}
