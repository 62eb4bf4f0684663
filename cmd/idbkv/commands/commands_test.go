package commands

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jeanedlune/idbkv/configs"
)

func writeConfig(t *testing.T, storage string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf("storage:\n  type: %s\n  data_dir: %s\nlog:\n  level: error\n  format: json\n",
		storage, filepath.Join(dir, "data"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// run executes one CLI invocation and returns its stdout.
func run(t *testing.T, config, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd, a := newRootCommand("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", config}, args...))

	err := cmd.ExecuteContext(context.Background())
	require.NoError(t, a.close())
	return out.String(), err
}

func TestKeyValueCommands(t *testing.T) {
	config := writeConfig(t, "bolt")

	_, err := run(t, config, "", "set", "b", `{"n": 1}`)
	require.NoError(t, err)
	_, err = run(t, config, "", "set", "a", "plain text", "--raw")
	require.NoError(t, err)

	out, err := run(t, config, "", "get", "b")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n": 1}`, out)

	out, err = run(t, config, "", "get", "a")
	require.NoError(t, err)
	assert.Equal(t, "\"plain text\"\n", out)

	out, err = run(t, config, "", "get", "missing")
	require.NoError(t, err)
	assert.Equal(t, "undefined\n", out)

	out, err = run(t, config, "", "keys")
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", out)

	_, err = run(t, config, "", "rm", "a")
	require.NoError(t, err)
	out, err = run(t, config, "", "keys")
	require.NoError(t, err)
	assert.Equal(t, "b\n", out)

	_, err = run(t, config, "", "clear")
	require.NoError(t, err)
	out, err = run(t, config, "", "keys")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCommandErrors(t *testing.T) {
	config := writeConfig(t, "sqlite")

	_, err := run(t, config, "", "set", "k", "{not json")
	assert.Error(t, err)

	_, err = run(t, config, "", "get")
	assert.Error(t, err)

	_, err = run(t, filepath.Join(t.TempDir(), "missing.yaml"), "", "keys")
	assert.Error(t, err)
}

func TestDumpAndRestoreCommands(t *testing.T) {
	src := writeConfig(t, "badger")
	_, err := run(t, src, "", "set", "x", `[1, 2]`)
	require.NoError(t, err)

	dump, err := run(t, src, "", "dump")
	require.NoError(t, err)

	file := filepath.Join(t.TempDir(), "snap.json")
	_, err = run(t, src, "", "dump", "--out", file)
	require.NoError(t, err)
	assert.FileExists(t, file)

	dst := writeConfig(t, "bolt")
	_, err = run(t, dst, dump, "restore")
	require.NoError(t, err)
	out, err := run(t, dst, "", "get", "x")
	require.NoError(t, err)
	assert.JSONEq(t, `[1, 2]`, out)

	other := writeConfig(t, "sqlite")
	_, err = run(t, other, "", "restore", "--in", file)
	require.NoError(t, err)
	out, err = run(t, other, "", "keys")
	require.NoError(t, err)
	assert.Equal(t, "x\n", out)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	config := configs.DefaultConfig()
	config.Storage.Type = "memory"
	store, err := config.OpenStore()
	require.NoError(t, err)
	a := &app{config: config, logger: zerolog.Nop(), store: store}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- a.serve(ctx, ln)
	}()

	url := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(url + "/ready")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
	require.NoError(t, a.close())
}
