package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/batchsync/internal/demo"
	"github.com/Sternrassler/batchsync/pkg/batch"
	"github.com/Sternrassler/batchsync/pkg/config"
	"github.com/Sternrassler/batchsync/pkg/executor"
	"github.com/Sternrassler/batchsync/pkg/registry"
	"github.com/Sternrassler/batchsync/pkg/server"
	"github.com/Sternrassler/batchsync/pkg/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCmd_JSON(t *testing.T) {
	out, err := execute(t, "version", "--format", "json")
	require.NoError(t, err)

	var info VersionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
}

func TestVersionCmd_Text(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "batchsync "+Version))
}

func TestHandlersCmd(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		out, err := execute(t, "handlers")
		require.NoError(t, err)

		var infos []batch.HandlerInfo
		require.NoError(t, yaml.Unmarshal([]byte(out), &infos))
		require.Len(t, infos, 1)
		assert.Equal(t, demo.SequenceID, infos[0].ID)
		assert.Equal(t, "records", infos[0].PluralLabel)
	})

	t.Run("json", func(t *testing.T) {
		out, err := execute(t, "handlers", "--format", "json")
		require.NoError(t, err)

		var infos []batch.HandlerInfo
		require.NoError(t, json.Unmarshal([]byte(out), &infos))
		require.Len(t, infos, 1)
		assert.Equal(t, 25, infos[0].Limit)
	})

	t.Run("unsupported format", func(t *testing.T) {
		_, err := execute(t, "handlers", "--format", "xml")
		assert.Error(t, err)
	})
}

func TestRunCmd_Local(t *testing.T) {
	exportPath := filepath.Join(t.TempDir(), "activity.log")

	out, err := execute(t, "run", demo.SequenceID,
		"--option", "total=30",
		"--option", "fail_every=10",
		"--export-log", exportPath)
	require.NoError(t, err)

	assert.Contains(t, out, "batch 1:")
	assert.Contains(t, out, "batch 2:")
	assert.Contains(t, out, "Processed 27 records with 3 failures.")

	exported, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	assert.Contains(t, string(exported), "Processed record Record #1")
	assert.Contains(t, string(exported), "Failed record Record #10 - rejected by fail_every")
	assert.Contains(t, string(exported), "Processed 27 records with 3 failures.")
}

func TestRunCmd_Quiet(t *testing.T) {
	out, err := execute(t, "run", demo.SequenceID, "--option", "total=5", "--quiet")
	require.NoError(t, err)
	assert.Equal(t, "All 5 records processed successfully.\n", out)
}

func TestRunCmd_Failures(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown handler", []string{"run", "nope"}},
		{"missing scope", []string{"run", demo.SequenceID, "--scope", "other"}},
		{"invalid option", []string{"run", demo.SequenceID, "--option", "total"}},
		{"handler error", []string{"run", demo.SequenceID, "--option", "total=abc"}},
		{"missing handler arg", []string{"run"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func newDemoServer(t *testing.T) *httptest.Server {
	t.Helper()

	reg := registry.New(zerolog.Nop())
	require.NoError(t, demo.Register(reg))

	router, err := server.NewRouter(server.Config{
		Registry: reg,
		Executor: executor.New(executor.DefaultConfig(), zerolog.Nop()),
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunCmd_Remote(t *testing.T) {
	srv := newDemoServer(t)

	out, err := execute(t, "run", demo.SequenceID,
		"--server", srv.URL,
		"--option", "total=60")
	require.NoError(t, err)

	assert.Contains(t, out, "batch 3:")
	assert.Contains(t, out, "All 60 records processed successfully.")
}

func TestRunCmd_RemoteForbidden(t *testing.T) {
	srv := newDemoServer(t)

	out, err := execute(t, "run", demo.SequenceID, "--server", srv.URL, "--scope", "read-only")
	require.Error(t, err)
	assert.ErrorIs(t, err, batch.ErrForbidden)
	assert.Contains(t, out, "Failed after 0 batches")
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batchsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o600))

	_, err := execute(t, "--config", path, "handlers")
	assert.Error(t, err)
}

func TestRootCmd_MissingConfigFile(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "handlers")
	assert.Error(t, err)
}

func TestParseOptions(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    batch.Options
		wantErr bool
	}{
		{name: "none", pairs: nil, want: nil},
		{name: "pairs", pairs: []string{"total=10", "mode=full"}, want: batch.Options{"total": "10", "mode": "full"}},
		{name: "value with equals", pairs: []string{"filter=a=b"}, want: batch.Options{"filter": "a=b"}},
		{name: "empty value", pairs: []string{"mode="}, want: batch.Options{"mode": ""}},
		{name: "missing equals", pairs: []string{"mode"}, wantErr: true},
		{name: "empty key", pairs: []string{"=x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseOptions(tt.pairs)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServe_GracefulShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	cfg := config.Default().Server
	cfg.ShutdownTimeout = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, ln, handler, cfg, zerolog.Nop())
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServerConfig_RunsSessionsInProcess(t *testing.T) {
	cfg := config.Default()
	a := &app{cfg: &cfg, logger: zerolog.Nop()}

	srvCfg, err := a.newServerConfig(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, srvCfg.Sessions)
	assert.Nil(t, srvCfg.Status, "no status board without Redis")

	router, err := server.NewRouter(srvCfg)
	require.NoError(t, err)
	srv := httptest.NewServer(router)
	defer srv.Close()

	form := url.Values{}
	form.Set(transport.FieldOptions, `{"total":30}`)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/sessions/"+demo.SequenceID+"/start", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(transport.HeaderScopes, registry.DefaultScope)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	assert.Eventually(t, func() bool {
		return len(srvCfg.Sessions.Active()) == 0
	}, 5*time.Second, 10*time.Millisecond, "the server-side session runs to completion")
}
