package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle"
)

const basicFixture = "../../store/fixture/testdata/basic.yaml"

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestOwnedCmd(t *testing.T) {
	out, err := run(t, "", "owned", "--fixture", basicFixture, "--customer", "alice", "--now", "2025-02-15T00:00:00Z")
	require.NoError(t, err)

	var owned []entitle.OwnedProduct
	require.NoError(t, json.Unmarshal([]byte(out), &owned))
	ids := make([]string, 0, len(owned))
	for _, o := range owned {
		ids = append(ids, *o.ProductID)
	}
	assert.ElementsMatch(t, []string{"pro", "boost"}, ids)
}

func TestQuantityCmd(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"direct", []string{"--now", "2025-02-15T00:00:00Z"}, "70\n"},
		{"after expiry", []string{"--now", "2025-02-21T00:00:00Z"}, "-30\n"},
		{"effective", []string{"--now", "2025-02-15T00:00:00Z", "--effective"}, "570\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"quantity", "--fixture", basicFixture, "--customer", "alice", "--item", "credits"}, tt.args...)
			out, err := run(t, "", args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestTransactionsCmd_Pages(t *testing.T) {
	out, err := run(t, "", "transactions", "--fixture", basicFixture, "--limit", "3")
	require.NoError(t, err)

	var page entitle.TransactionPage
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	assert.Len(t, page.Items, 3)
	require.NotEmpty(t, page.NextCursor)

	out, err = run(t, "", "transactions", "--fixture", basicFixture, "--limit", "3", "--cursor", page.NextCursor)
	require.NoError(t, err)
	var next entitle.TransactionPage
	require.NoError(t, json.Unmarshal([]byte(out), &next))
	assert.Len(t, next.Items, 1)
	assert.Empty(t, next.NextCursor)

	_, err = run(t, "", "transactions", "--fixture", basicFixture, "--cursor", "bogus")
	assert.ErrorIs(t, err, entitle.ErrInvalidCursor)
}

func TestSwitchOptionsCmd(t *testing.T) {
	out, err := run(t, "", "switch-options", "--fixture", basicFixture, "--product", "free")
	require.NoError(t, err)
	assert.Contains(t, out, `"product_id": "pro"`)
}

func TestCanonicalizeCmd(t *testing.T) {
	out, err := run(t, `{ "b": [true, null], "a": 1.50 }`, "canonicalize")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1.5,"b":[true,null]}`+"\n", out)
}

func TestVersionIDCmd(t *testing.T) {
	a, err := run(t, `{"b": 1, "a": 2}`, "version-id", "--product-id", "pro")
	require.NoError(t, err)
	b, err := run(t, `{"a": 2, "b": 1}`, "version-id", "--product-id", "pro")
	require.NoError(t, err)
	inline, err := run(t, `{"a": 2, "b": 1}`, "version-id")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, inline)
}

func TestMissingFixture(t *testing.T) {
	_, err := run(t, "", "owned", "--customer", "alice")
	assert.EqualError(t, err, "--fixture is required")
}
