package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	calls    int
	vectorOf map[string][]float32
}

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, int, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := f.vectorOf[t]
		if !ok {
			v = []float32{0, 0, 0}
		}
		out[i] = v
	}
	return out, len(texts), nil
}

func TestStore_ReconcileEmbedsOnlyChangedTools(t *testing.T) {
	dir := t.TempDir()
	prov := &fakeProvider{vectorOf: map[string][]float32{
		"search desc": {1, 0, 0},
		"fetch desc":  {0, 1, 0},
	}}
	s, err := NewStore(dir, prov, 10)
	require.NoError(t, err)

	err = s.Reconcile(context.Background(), []ToolSource{
		{Name: "search", Hash: "h1", Text: "search desc"},
		{Name: "fetch", Hash: "h2", Text: "fetch desc"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, prov.calls)
	assert.Equal(t, 2, len(s.Get().names))

	// Reconcile again with search unchanged, fetch's hash changed.
	prov.vectorOf["fetch desc v2"] = []float32{0, 0, 1}
	err = s.Reconcile(context.Background(), []ToolSource{
		{Name: "search", Hash: "h1", Text: "search desc"},
		{Name: "fetch", Hash: "h3", Text: "fetch desc v2"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, prov.calls)
	assert.Equal(t, "h3", s.Get().Hash("fetch"))
	assert.Equal(t, "h1", s.Get().Hash("search"))
}

func TestStore_PersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	prov := &fakeProvider{vectorOf: map[string][]float32{"a desc": {0.1, 0.2, 0.3}}}
	s, err := NewStore(dir, prov, 10)
	require.NoError(t, err)
	require.NoError(t, s.Reconcile(context.Background(), []ToolSource{{Name: "a", Hash: "h1", Text: "a desc"}}))

	s2, err := NewStore(dir, prov, 10)
	require.NoError(t, err)
	assert.Equal(t, "h1", s2.Get().Hash("a"))
	assert.Equal(t, 1, prov.calls, "reload must not re-embed")
}

func TestIndex_TopKRanksByCosineSimilarity(t *testing.T) {
	dir := t.TempDir()
	prov := &fakeProvider{vectorOf: map[string][]float32{
		"x": {1, 0},
		"y": {0, 1},
		"z": {0.9, 0.1},
	}}
	s, err := NewStore(dir, prov, 10)
	require.NoError(t, err)
	require.NoError(t, s.Reconcile(context.Background(), []ToolSource{
		{Name: "x", Hash: "hx", Text: "x"},
		{Name: "y", Hash: "hy", Text: "y"},
		{Name: "z", Hash: "hz", Text: "z"},
	}))

	top := s.Get().TopK([]float32{1, 0}, 2)
	require.Len(t, top, 2)
	assert.Equal(t, "x", top[0].Name)
	assert.Equal(t, "z", top[1].Name)
}
