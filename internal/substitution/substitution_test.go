package substitution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_Value(t *testing.T) {
	out, err := Render("hello {{name}}", Params{"name": "world"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestRender_NestedPath(t *testing.T) {
	out, err := Render("{{user.address.city}}", Params{
		"user": map[string]interface{}{
			"address": map[string]interface{}{"city": "Seattle"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Seattle", out)
}

func TestRender_MissingValueFails(t *testing.T) {
	_, err := Render("{{missing}}", Params{})
	require.Error(t, err)
}

func TestRender_Default(t *testing.T) {
	out, err := Render(`{{missing || "fallback"}}`, Params{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)

	out, err = Render(`{{present || "fallback"}}`, Params{"present": "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", out)
}

func TestRender_Env(t *testing.T) {
	t.Setenv("MT_TEST_VAR", "envvalue")
	out, err := Render("{{env.MT_TEST_VAR}}", Params{})
	require.NoError(t, err)
	assert.Equal(t, "envvalue", out)
}

func TestRender_Ternary(t *testing.T) {
	out, err := Render(`{{flag ? 'yes' : 'no'}}`, Params{"flag": true})
	require.NoError(t, err)
	assert.Equal(t, "yes", out)

	out, err = Render(`{{flag ? 'yes' : 'no'}}`, Params{"flag": false})
	require.NoError(t, err)
	assert.Equal(t, "no", out)

	out, err = Render(`{{missing ? 'yes' : 'no'}}`, Params{})
	require.NoError(t, err)
	assert.Equal(t, "no", out)
}

func TestRender_Each(t *testing.T) {
	out, err := Render("{{#each items}}[{{this}}]{{/each}}", Params{
		"items": []interface{}{"a", "b", "c"},
	})
	require.NoError(t, err)
	assert.Equal(t, "[a][b][c]", out)
}

func TestRender_EachWithFieldAccess(t *testing.T) {
	tmpl := "{{#each users}}{{this.name}},{{/each}}"
	out, err := Render(tmpl, Params{
		"users": []interface{}{
			map[string]interface{}{"name": "alice"},
			map[string]interface{}{"name": "bob"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "alice,bob,", out)
}

func TestRender_EachNotArrayFails(t *testing.T) {
	_, err := Render("{{#each items}}{{this}}{{/each}}", Params{"items": "not-an-array"})
	require.Error(t, err)
}

func TestRender_UnterminatedTagFails(t *testing.T) {
	_, err := Render("{{name", Params{"name": "x"})
	require.Error(t, err)
}

func TestRender_MissingEachCloseFails(t *testing.T) {
	_, err := Render("{{#each items}}{{this}}", Params{"items": []interface{}{"a"}})
	require.Error(t, err)
}

func TestParse_ReusableAcrossParams(t *testing.T) {
	tmpl, err := Parse("{{greeting}}, {{name}}!")
	require.NoError(t, err)

	out1, err := tmpl.Render(Params{"greeting": "Hi", "name": "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "Hi, Ann!", out1)

	out2, err := tmpl.Render(Params{"greeting": "Yo", "name": "Bo"})
	require.NoError(t, err)
	assert.Equal(t, "Yo, Bo!", out2)
}
