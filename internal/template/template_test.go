package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessString_JSONPath(t *testing.T) {
	p := New()
	data := Data{JSON: map[string]any{"user": map[string]any{"name": "ada"}}}
	out, err := p.ProcessString("hello {{json.user.name}}", data, Lenient)
	require.NoError(t, err)
	assert.Equal(t, "hello ada", out)
}

func TestProcessString_UndefinedIsEmptyInLenientMode(t *testing.T) {
	p := New()
	out, err := p.ProcessString("x={{json.missing}}", Data{JSON: map[string]any{}}, Lenient)
	require.NoError(t, err)
	assert.Equal(t, "x=", out)
}

func TestProcessString_StrictModeErrorsOnUnknownShape(t *testing.T) {
	p := New()
	_, err := p.ProcessString("{{not a real expr}}", Data{}, Strict)
	require.Error(t, err)
}

func TestProcessString_ArrayIndex(t *testing.T) {
	p := New()
	data := Data{JSON: map[string]any{"items": []any{"a", "b", "c"}}}
	out, err := p.ProcessString("{{json.items[1]}}", data, Lenient)
	require.NoError(t, err)
	assert.Equal(t, "b", out)
}

func TestProcessString_Uppercase(t *testing.T) {
	p := New()
	data := Data{JSON: map[string]any{"name": "ada"}}
	out, err := p.ProcessString("{{$uppercase(json.name)}}", data, Lenient)
	require.NoError(t, err)
	assert.Equal(t, "ADA", out)
}

func TestProcessString_RandomIntRange(t *testing.T) {
	p := New()
	out, err := p.ProcessString("{{$randomInt(1,1)}}", Data{}, Lenient)
	require.NoError(t, err)
	assert.Equal(t, "1", out)
}

func TestValidate_UnbalancedBraces(t *testing.T) {
	p := New()
	err := p.Validate("{{json.a")
	assert.Error(t, err)
}

func TestProcessString_ObjectIsJSONStringified(t *testing.T) {
	p := New()
	data := Data{JSON: map[string]any{"obj": map[string]any{"a": float64(1)}}}
	out, err := p.ProcessString("{{json.obj}}", data, Lenient)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, out)
}
