package commands

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sum(data string) string {
	h := sha1.Sum([]byte(data))
	return hex.EncodeToString(h[:])
}

// setupIntegrationEnv 搭建 真实文件系统 + 本地 HTTP 服务器 + sqlite 运行记录 的集成环境
// 返回根目录和本地清单路径
func setupIntegrationEnv(t *testing.T) (string, string) {
	files := map[string]string{"/client.jar": "client-bytes"}
	asset := "sound-bytes"
	h := sum(asset)
	files["/res/"+h[:2]+"/"+h] = asset

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	index, err := json.Marshal(map[string]any{
		"objects": map[string]any{"sounds/a.ogg": map[string]any{"hash": h}},
	})
	require.NoError(t, err)
	files["/index.json"] = string(index)

	version, err := json.Marshal(map[string]any{
		"id":         "custom",
		"downloads":  map[string]any{"client": map[string]any{"url": srv.URL + "/client.jar", "sha1": sum("client-bytes")}},
		"assetIndex": map[string]any{"id": "custom", "url": srv.URL + "/index.json"},
	})
	require.NoError(t, err)

	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "custom.json")
	require.NoError(t, os.WriteFile(manifestPath, version, 0644))

	root := t.TempDir()
	t.Setenv("MCSYNC_ENDPOINTS_RESOURCES", srv.URL+"/res")
	t.Setenv("MCSYNC_LEDGER_DRIVER", "sqlite")
	t.Setenv("MCSYNC_LOG_LEVEL", "error")
	return root, manifestPath
}

// executeCommand 执行一次命令行，返回标准输出
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	// 子命令的参数变量是全局的，每次执行前复位
	dryRun, planOut = false, ""
	historyLimit, historyAll = 10, false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := Execute(context.Background())
	return out.String(), err
}

func TestIntegration_SyncVerifyHistory(t *testing.T) {
	root, manifestPath := setupIntegrationEnv(t)

	// 1. 首次 verify: 两个文件都缺失
	out, err := executeCommand(t, "--root", root, "verify", manifestPath)
	assert.Error(t, err)
	assert.Contains(t, out, "2 of 2 files need a transfer")

	// 2. sync
	out, err = executeCommand(t, "--root", root, "sync", manifestPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "2 downloaded")
	assert.FileExists(t, filepath.Join(filepath.Dir(manifestPath), "custom.jar"))

	// 3. 再次 verify 通过
	out, err = executeCommand(t, "--root", root, "verify", manifestPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "0 of 2 files need a transfer")

	// 4. 运行记录只包含 sync (verify 不记录)
	out, err = executeCommand(t, "--root", root, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "Last clean run: 1 (plan ")
	assert.Contains(t, out, "run 1")
	assert.Contains(t, out, "2 downloaded")
	assert.NotContains(t, out, "run 2")
}

func TestIntegration_PlanAndApply(t *testing.T) {
	root, manifestPath := setupIntegrationEnv(t)
	planPath := filepath.Join(t.TempDir(), "plan.cbor")

	out, err := executeCommand(t, "--root", root, "sync", "--dry-run", "--plan-out", planPath, manifestPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "missing")
	assert.FileExists(t, planPath)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(manifestPath), "custom.jar"))

	out, err = executeCommand(t, "--root", root, "apply", planPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "2 downloaded")
	assert.FileExists(t, filepath.Join(filepath.Dir(manifestPath), "custom.jar"))
}

func TestIntegration_HistoryWithoutCleanRun(t *testing.T) {
	root, _ := setupIntegrationEnv(t)

	out, err := executeCommand(t, "--root", root, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded yet.")

	// 有失败的运行不会成为 checkpoint
	missing := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(missing, []byte(`{"id":"broken","downloads":{"client":{"url":"http://127.0.0.1:1/x.jar"}}}`), 0644))
	t.Setenv("MCSYNC_TRANSFER_BASE_DELAY", "1ms")
	_, err = executeCommand(t, "--root", root, "sync", missing)
	require.ErrorIs(t, err, ErrIncomplete)

	out, err = executeCommand(t, "--root", root, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "Last clean run: none")
	assert.Contains(t, out, "run 1")
}

func TestIntegration_UnknownVersionFails(t *testing.T) {
	root, _ := setupIntegrationEnv(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	t.Setenv("MCSYNC_ENDPOINTS_CATALOG", srv.URL+"/catalog.json")
	t.Setenv("MCSYNC_FETCH_BASE_DELAY", "1ms")

	_, err := executeCommand(t, "--root", root, "sync", "1.0")
	assert.ErrorIs(t, err, ErrIncomplete)
}
