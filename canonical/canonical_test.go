package canonical_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle/canonical"
)

func mustJSON(t *testing.T, s string) canonical.Value {
	t.Helper()
	v, err := canonical.FromJSON([]byte(s))
	require.NoError(t, err)
	return v
}

func TestCanonicalize_SortsKeysAtEveryLevel(t *testing.T) {
	a := mustJSON(t, `{"b":1,"a":{"z":true,"y":[3,2,1]},"c":null}`)
	b := mustJSON(t, `{"c":null,"a":{"y":[3,2,1],"z":true},"b":1}`)

	assert.Equal(t, `{"a":{"y":[3,2,1],"z":true},"b":1,"c":null}`, canonical.Canonicalize(a))
	assert.Equal(t, canonical.Canonicalize(a), canonical.Canonicalize(b))
	assert.True(t, canonical.Equal(a, b))
}

func TestCanonicalize_ArrayOrderMatters(t *testing.T) {
	a := mustJSON(t, `[1,2,3]`)
	b := mustJSON(t, `[3,2,1]`)
	assert.NotEqual(t, canonical.Canonicalize(a), canonical.Canonicalize(b))
}

func TestCanonicalize_Scalars(t *testing.T) {
	tests := []struct {
		name string
		in   canonical.Value
		want string
	}{
		{"null", canonical.Null(), "null"},
		{"true", canonical.Bool(true), "true"},
		{"false", canonical.Bool(false), "false"},
		{"integer", canonical.Int(1000), "1000"},
		{"negative zero", canonical.Number(math.Copysign(0, -1)), "0"},
		{"fraction", canonical.Number(12.5), "12.5"},
		{"large", canonical.Number(1e21), "1e+21"},
		{"small", canonical.Number(1e-7), "1e-7"},
		{"nan", canonical.Number(math.NaN()), "null"},
		{"escapes", canonical.String("a\"b\\c\n\t\x01"), `"a\"b\\c\n\t\u0001"`},
		{"html kept", canonical.String("<a&b>"), `"<a&b>"`},
		{"unicode kept", canonical.String("héllo"), `"héllo"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, canonical.Canonicalize(tt.in))
		})
	}
}

func TestCanonicalize_NumbersIgnoreSourceSpelling(t *testing.T) {
	a := mustJSON(t, `{"n":1.0}`)
	b := mustJSON(t, `{"n":1}`)
	c := mustJSON(t, `{"n":1e0}`)
	assert.Equal(t, canonical.Canonicalize(a), canonical.Canonicalize(b))
	assert.Equal(t, canonical.Canonicalize(a), canonical.Canonicalize(c))
}

func TestFromJSON_RejectsTrailingData(t *testing.T) {
	_, err := canonical.FromJSON([]byte(`{"a":1} {"b":2}`))
	require.Error(t, err)

	_, err = canonical.FromJSON([]byte(`{"a":`))
	require.Error(t, err)
}

func TestMarshalJSON_KeepsInsertionOrder(t *testing.T) {
	v := canonical.Map(
		canonical.Member{Key: "z", Value: canonical.Int(1)},
		canonical.Member{Key: "a", Value: canonical.Int(2)},
	)
	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":2}`, string(data))
	assert.Equal(t, `{"a":2,"z":1}`, canonical.Canonicalize(v))
}

func TestUnmarshalJSON_RoundTripsThroughStructs(t *testing.T) {
	type wrapper struct {
		Product canonical.Value `json:"product"`
	}
	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"product":{"b":[1,{"y":2,"x":1}],"a":"s"}}`), &w))
	assert.Equal(t, `{"a":"s","b":[1,{"x":1,"y":2}]}`, canonical.Canonicalize(w.Product))
}

func TestFromAny(t *testing.T) {
	in := map[string]any{
		"display_name": "Pro",
		"stackable":    false,
		"prices": map[string]any{
			"monthly": map[string]any{"USD": "1000", "interval": []any{1, "month"}},
		},
		"count": int64(3),
		"ratio": 0.5,
		"items": map[any]any{"seats": 5},
	}
	v, err := canonical.FromAny(in)
	require.NoError(t, err)

	want := `{"count":3,"display_name":"Pro","items":{"seats":5},"prices":{"monthly":{"USD":"1000","interval":[1,"month"]}},"ratio":0.5,"stackable":false}`
	assert.Equal(t, want, canonical.Canonicalize(v))

	_, err = canonical.FromAny(map[any]any{1: "x"})
	require.Error(t, err)
}

func TestFromAny_RejectsNonFinite(t *testing.T) {
	for _, n := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := canonical.FromAny(map[string]any{"a": n})
		require.ErrorIs(t, err, canonical.ErrNonFinite, "%v", n)
	}
	_, err := canonical.FromAny([]any{float32(math.Inf(1))})
	require.ErrorIs(t, err, canonical.ErrNonFinite)

	_, err = canonical.FromJSON([]byte(`{"a":1e400}`))
	require.Error(t, err)
}

func TestValidate_FindsNestedNonFinite(t *testing.T) {
	ok := mustJSON(t, `{"a":[1,{"b":2.5}],"c":null}`)
	require.NoError(t, ok.Validate())

	bad := ok.With("d", canonical.List(canonical.Int(1), canonical.Map(
		canonical.Member{Key: "e", Value: canonical.Number(math.NaN())},
	)))
	err := bad.Validate()
	require.ErrorIs(t, err, canonical.ErrNonFinite)
	assert.Contains(t, err.Error(), "d: [1]: e:")
}

func TestFromJSON_RejectsDuplicateKeys(t *testing.T) {
	_, err := canonical.FromJSON([]byte(`{"a":1,"b":2,"a":3}`))
	require.ErrorIs(t, err, canonical.ErrDuplicateKey)

	_, err = canonical.FromJSON([]byte(`{"outer":{"x":true,"x":false}}`))
	require.ErrorIs(t, err, canonical.ErrDuplicateKey)

	var v canonical.Value
	require.Error(t, json.Unmarshal([]byte(`{"k":1,"k":1}`), &v))

	v = mustJSON(t, `{"a":{"a":1},"b":{"a":2}}`)
	assert.Equal(t, `{"a":{"a":1},"b":{"a":2}}`, canonical.Canonicalize(v))
}

func TestWithAndGet(t *testing.T) {
	base := canonical.Map(canonical.Member{Key: "a", Value: canonical.Int(1)})
	next := base.With("a", canonical.Int(2)).With("b", canonical.String("x"))

	got, ok := base.Get("a")
	require.True(t, ok)
	n, _ := got.AsNumber()
	assert.Equal(t, float64(1), n, "With must not mutate the receiver")

	got, ok = next.Get("a")
	require.True(t, ok)
	n, _ = got.AsNumber()
	assert.Equal(t, float64(2), n)
	assert.Len(t, next.Members(), 2)

	_, ok = canonical.String("x").Get("a")
	assert.False(t, ok)
}

func TestDeepUnequalValuesDiffer(t *testing.T) {
	docs := []string{
		`{}`, `[]`, `null`, `""`, `0`, `"0"`, `{"a":null}`, `{"a":[]}`, `{"a":{}}`,
		`[null]`, `[[]]`, `{"a":1}`, `{"a":"1"}`, `{"b":1}`, `[1,2]`, `[2,1]`, `true`, `false`,
	}
	seen := make(map[string]string)
	for _, d := range docs {
		c := canonical.Canonicalize(mustJSON(t, d))
		if prev, ok := seen[c]; ok {
			t.Fatalf("%s and %s canonicalize identically to %s", prev, d, c)
		}
		seen[c] = d
	}
}
