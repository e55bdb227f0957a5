package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

const fixtureSig = "7oQsZXcMhJV6DQXXzswmU6jYL7atju2RU72PgxSMsXxV7ALheg6HsRDhTPo1fosPrY9QgPPJUAAbLxmuWgpcsVJ"

var fixturePath = filepath.Join("..", "..", "service", "decoder", "testdata", "transfers.json")

// runApp runs the CLI with args and returns what it wrote to stdout.
func runApp(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &bytes.Buffer{}
	app.Reader = strings.NewReader(stdin)
	err := app.Run(append([]string{"txdecode"}, args...))
	return out.String(), err
}

func TestCompileJQ(t *testing.T) {
	f, err := compileJQ("")
	require.NoError(t, err)
	assert.Nil(t, f, "empty expression means no filter")

	_, err = compileJQ(".foo[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse jq filter")

	_, err = compileJQ("$undefined")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to compile jq filter")
}

func TestJQFilter_Apply(t *testing.T) {
	f, err := compileJQ(".events[] | .type")
	require.NoError(t, err)

	out, err := f.Apply(map[string]interface{}{
		"events": []map[string]string{{"type": "SWAP"}, {"type": "TRANSFER"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"SWAP", "TRANSFER"}, out)

	out, err = f.Apply(json.RawMessage(`{"events":[{"type":"LIQUIDITY"}]}`))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"LIQUIDITY"}, out)

	_, err = f.Apply([]byte(`not json`))
	assert.Error(t, err)

	failing, err := compileJQ(`error("boom")`)
	require.NoError(t, err)
	_, err = failing.Apply(map[string]interface{}{})
	assert.ErrorContains(t, err, "boom")
}

func TestJQFilter_Match(t *testing.T) {
	tests := []struct {
		name   string
		filter string
		input  string
		want   bool
	}{
		{name: "true", filter: `.qc_status == "error"`, input: `{"qc_status":"error"}`, want: true},
		{name: "false", filter: `.qc_status == "error"`, input: `{"qc_status":"success"}`, want: false},
		{name: "null is falsy", filter: `.missing`, input: `{}`, want: false},
		{name: "value is truthy", filter: `.slot`, input: `{"slot":0}`, want: true},
		{name: "no output", filter: `empty`, input: `{}`, want: false},
		{name: "error", filter: `.a.b.c`, input: `{"a":1}`, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := compileJQ(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Match(json.RawMessage(tt.input)))
		})
	}
}

func TestIsTruthy(t *testing.T) {
	assert.False(t, isTruthy(nil))
	assert.False(t, isTruthy(false))
	assert.True(t, isTruthy(true))
	assert.True(t, isTruthy(0))
	assert.True(t, isTruthy(""))
	assert.True(t, isTruthy([]interface{}{}))
}

func TestEmit(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, emit(&buf, nil, map[string]int{"a": 1}))
	assert.JSONEq(t, `{"a":1}`, buf.String())

	f, err := compileJQ(".[]")
	require.NoError(t, err)
	buf.Reset()
	require.NoError(t, emit(&buf, f, []int{1, 2}))
	assert.Equal(t, "1\n2\n", buf.String())
}

func TestSignatureHelpers(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitSignatures("a, b,c"))
	assert.Empty(t, splitSignatures(" , "))
	assert.Equal(t, []string{"a", "b", "c"}, dedupe([]string{"a", "b", "a", "c", "b"}))
}

func TestReadSignatures_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sigs.txt")
	require.NoError(t, os.WriteFile(path, []byte("# retry list\nsig1\n\n  sig2  \nsig3,sig4\n"), 0o644))

	cmd := reprocessCommand()
	cmd.Action = func(c *cli.Context) error {
		sigs, err := readSignatures(c)
		require.NoError(t, err)
		assert.Equal(t, []string{"sig0", "sig1", "sig2", "sig3", "sig4"}, sigs)
		return nil
	}
	app := newApp()
	app.Commands = []*cli.Command{cmd}
	require.NoError(t, app.Run([]string{"txdecode", "reprocess", "--signatures", "sig0", "--signatures-file", path}))
}
