package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/MagicBeansAI/magictunnel/internal/log"
)

// VisibilitySettings captures the global level of the three-level override
// chain (spec §4.R): per-file and per-tool overrides are carried on
// ParsedFile/RawToolDef and applied on top of this default.
type VisibilitySettings struct {
	DefaultHidden          bool
	SmartDiscoveryOnly     bool
	SmartDiscoveryToolName string
}

// ExternalTool is a tool contributed by the External-MCP Manager (§4.X),
// already carrying its conflict-resolved final name.
type ExternalTool struct {
	Tool     ToolDef
	ServerID string
}

// Builder assembles a Snapshot from parsed local files and external tools.
type Builder struct {
	vis VisibilitySettings
}

func NewBuilder(vis VisibilitySettings) *Builder {
	return &Builder{vis: vis}
}

// FileLoadError records a catalog file that failed to parse.
type FileLoadError struct {
	Path string
	Err  error
}

// Build merges local file tools (last-write-wins on name collision, logged)
// and external tools (already conflict-resolved by internal/external) into
// one Snapshot, then applies visibility rules (I1).
func (b *Builder) Build(localFiles []ParsedFile, external []ExternalTool) (*Snapshot, []FileLoadError) {
	tools := map[string]ToolDef{}
	var fileErrs []FileLoadError

	for _, pf := range localFiles {
		if pf.Err != nil {
			fileErrs = append(fileErrs, FileLoadError{Path: pf.Path, Err: pf.Err})
			continue
		}
		for _, raw := range pf.Tools {
			if _, exists := tools[raw.Name]; exists {
				log.Emit(log.Warn, "registry", "duplicate tool name within snapshot, last write wins", map[string]interface{}{
					"name": raw.Name, "file": pf.Path,
				})
			}
			hidden := b.vis.DefaultHidden
			if pf.HasFileHidden {
				hidden = pf.FileHidden
			}
			if raw.Hidden != nil {
				hidden = *raw.Hidden
			}
			tools[raw.Name] = ToolDef{
				Name:        raw.Name,
				Description: raw.Description,
				InputSchema: raw.InputSchema,
				Routing:     raw.Routing,
				Hidden:      hidden,
				Annotations: raw.Annotations,
				Enhancement: raw.Enhancement,
				Origin:      Origin{LocalFile: pf.Path},
			}
		}
	}

	for _, ext := range external {
		t := ext.Tool
		t.Origin = Origin{ExternalID: ext.ServerID}
		if _, exists := tools[t.Name]; exists {
			// internal/external resolves conflicts before tools reach here; a
			// name that still collides (as the remote_first strategy allows)
			// keeps the local tool, and the event is logged loudly (I4).
			log.Emit(log.Error, "registry", "external tool collides with existing name after conflict resolution", map[string]interface{}{
				"name": t.Name, "server": ext.ServerID,
			})
			continue
		}
		tools[t.Name] = t
	}

	var visible []string
	for name, t := range tools {
		if b.isVisible(name, t) {
			visible = append(visible, name)
		}
	}
	sort.Strings(visible)

	return &Snapshot{
		tools:        tools,
		visibleNames: visible,
		contentHash:  aggregateHash(tools),
		buildTime:    time.Now(),
	}, fileErrs
}

func (b *Builder) isVisible(name string, t ToolDef) bool {
	if b.vis.SmartDiscoveryOnly {
		return name == b.vis.SmartDiscoveryToolName
	}
	return !t.Hidden
}

func aggregateHash(tools map[string]ToolDef) string {
	names := make([]string, 0, len(tools))
	for n := range tools {
		names = append(names, n)
	}
	sort.Strings(names)
	h := sha256.New()
	for _, n := range names {
		h.Write([]byte(n))
		h.Write([]byte{0})
		h.Write([]byte(tools[n].ContentHash()))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
