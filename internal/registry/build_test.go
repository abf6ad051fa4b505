package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MagicBeansAI/magictunnel/internal/routing"
)

func rawTool(name string, hidden *bool) RawToolDef {
	return RawToolDef{
		Name:        name,
		Description: "desc " + name,
		InputSchema: map[string]interface{}{"type": "object"},
		Routing:     routing.Descriptor{Kind: routing.KindSubprocess, Subprocess: &routing.SubprocessConfig{Command: "true"}},
		Hidden:      hidden,
	}
}

func boolPtr(b bool) *bool { return &b }

func TestBuilder_VisibilityChain(t *testing.T) {
	b := NewBuilder(VisibilitySettings{DefaultHidden: true})
	files := []ParsedFile{
		{Path: "f1.yaml", Tools: []RawToolDef{rawTool("a", nil)}},                     // inherits global default: hidden
		{Path: "f2.yaml", HasFileHidden: true, FileHidden: false, Tools: []RawToolDef{rawTool("b", nil)}}, // file overrides to visible
		{Path: "f3.yaml", HasFileHidden: true, FileHidden: false, Tools: []RawToolDef{rawTool("c", boolPtr(true))}}, // tool overrides back to hidden
	}
	snap, errs := b.Build(files, nil)
	require.Empty(t, errs)

	toolA, ok := snap.Lookup("a")
	require.True(t, ok)
	assert.True(t, toolA.Hidden)

	toolB, ok := snap.Lookup("b")
	require.True(t, ok)
	assert.False(t, toolB.Hidden)

	toolC, ok := snap.Lookup("c")
	require.True(t, ok)
	assert.True(t, toolC.Hidden)

	assert.ElementsMatch(t, []string{"b"}, snap.VisibleNames())
	assert.ElementsMatch(t, []string{"a", "b", "c"}, snap.AllNames())
}

func TestBuilder_SmartDiscoveryOnlyMode(t *testing.T) {
	b := NewBuilder(VisibilitySettings{
		SmartDiscoveryOnly:     true,
		SmartDiscoveryToolName: "smart_tool_discovery",
	})
	files := []ParsedFile{
		{Path: "f1.yaml", Tools: []RawToolDef{rawTool("a", boolPtr(false)), rawTool("smart_tool_discovery", nil)}},
	}
	snap, errs := b.Build(files, nil)
	require.Empty(t, errs)
	assert.Equal(t, []string{"smart_tool_discovery"}, snap.VisibleNames())
	// "a" is still dispatchable even though not advertised.
	_, ok := snap.Lookup("a")
	assert.True(t, ok)
}

func TestBuilder_DuplicateNameLastWriteWins(t *testing.T) {
	b := NewBuilder(VisibilitySettings{})
	files := []ParsedFile{
		{Path: "f1.yaml", Tools: []RawToolDef{{Name: "dup", Description: "first"}}},
		{Path: "f2.yaml", Tools: []RawToolDef{{Name: "dup", Description: "second"}}},
	}
	snap, _ := b.Build(files, nil)
	tool, ok := snap.Lookup("dup")
	require.True(t, ok)
	assert.Equal(t, "second", tool.Description)
}

func TestBuilder_FileErrorsDoNotInvalidateSnapshot(t *testing.T) {
	b := NewBuilder(VisibilitySettings{})
	files := []ParsedFile{
		{Path: "bad.yaml", Err: assertError("boom")},
		{Path: "good.yaml", Tools: []RawToolDef{rawTool("ok", boolPtr(false))}},
	}
	snap, errs := b.Build(files, nil)
	require.Len(t, errs, 1)
	assert.Equal(t, "bad.yaml", errs[0].Path)
	_, ok := snap.Lookup("ok")
	assert.True(t, ok)
}

func TestBuilder_ExternalToolConflictKeepsLocal(t *testing.T) {
	b := NewBuilder(VisibilitySettings{})
	files := []ParsedFile{{Path: "f1.yaml", Tools: []RawToolDef{rawTool("shared", boolPtr(false))}}}
	external := []ExternalTool{{ServerID: "srv1", Tool: ToolDef{Name: "shared", Description: "external"}}}
	snap, _ := b.Build(files, external)
	tool, ok := snap.Lookup("shared")
	require.True(t, ok)
	assert.Equal(t, "desc shared", tool.Description) // local tool preserved, not renamed (I4)
}

func TestBuilder_ExternalToolAdded(t *testing.T) {
	b := NewBuilder(VisibilitySettings{})
	external := []ExternalTool{{ServerID: "srv1", Tool: ToolDef{Name: "srv1_remote_tool", Description: "external"}}}
	snap, _ := b.Build(nil, external)
	tool, ok := snap.Lookup("srv1_remote_tool")
	require.True(t, ok)
	assert.Equal(t, "srv1", tool.Origin.ExternalID)
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }
func assertError(s string) error  { return simpleErr(s) }
