package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/guessnum/app/store"
)

func Test_setupLogsWithLogsDisabled(t *testing.T) {
	opts.Log.Enabled = false
	assert.Equal(t, os.Stdout, setupLogs())
}

func Test_setupLogsDefaultKeepsWarnings(t *testing.T) {
	buf := &bytes.Buffer{}
	stderr = buf
	opts = options{}
	defer func() {
		stderr = os.Stderr
		setupLogs()
	}()

	setupLogs()
	log.Printf("[INFO] server started")
	log.Printf("[DEBUG] game result saved")
	log.Printf("[WARN] database connection failed: dial tcp: connection refused")
	log.Printf("[ERROR] failed to save game result: driver detail")

	out := buf.String()
	assert.Contains(t, out, "[WARN]")
	assert.Contains(t, out, "connection refused")
	assert.Contains(t, out, "[ERROR]")
	assert.Contains(t, out, "driver detail")
	assert.NotContains(t, out, "server started")
	assert.NotContains(t, out, "game result saved")
}

func Test_setupLogsToFile(t *testing.T) {
	tmpfile, err := os.CreateTemp(t.TempDir(), "")
	require.NoError(t, err)

	opts.Log.Enabled = true
	opts.Log.Filename = tmpfile.Name()
	opts.Log.MaxSize = 100
	opts.Log.MaxBackups = 7
	opts.Log.MaxAge = 0
	opts.Log.EnabledCompress = false
	defer func() { opts.Log.Enabled, opts.Log.Filename = false, "" }()

	out := setupLogs()
	assert.IsType(t, &lumberjack.Logger{}, out)

	logger := out.(*lumberjack.Logger)
	assert.Equal(t, tmpfile.Name(), logger.Filename)
	assert.Equal(t, 100, logger.MaxSize)
	assert.Equal(t, 7, logger.MaxBackups)
	assert.Equal(t, 0, logger.MaxAge)
	assert.False(t, logger.Compress)
	assert.NoError(t, logger.Close())
}

func Test_debugEnabled(t *testing.T) {
	defer func() { opts.Dbg, opts.FlaskDbg = false, "" }()

	opts.Dbg, opts.FlaskDbg = false, ""
	assert.False(t, debugEnabled())

	opts.FlaskDbg = "True"
	assert.True(t, debugEnabled())

	opts.Dbg, opts.FlaskDbg = true, "false"
	assert.True(t, debugEnabled())
}

func Test_validateListen(t *testing.T) {
	tests := []struct{ name, input, want string }{
		{"host and port", "127.0.0.1:5000", "127.0.0.1:5000"},
		{"port only", ":8080", ":8080"},
		{"bare port", "8080", ":8080"},
		{"spaces", " :8080 ", ":8080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := validateListen(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := validateListen(" ")
	assert.ErrorIs(t, err, errNoListen)
}

func Test_makeStoreParams(t *testing.T) {
	opts.DB.Server, opts.DB.Name, opts.DB.Driver = `db1\SQLEXPRESS`, "CodingPortfolio", "sqlserver"
	opts.DB.Username, opts.DB.Password, opts.DB.Timeout = "sa", "secret", 3*time.Second

	p := makeStoreParams()
	assert.Equal(t, store.Params{Server: `db1\SQLEXPRESS`, Database: "CodingPortfolio", Driver: "sqlserver",
		Username: "sa", Password: "secret", ConnectTimeout: 3 * time.Second, AppName: "guessnum"}, p)
	assert.Equal(t, store.AuthCredentials, p.AuthMode())
}

func Test_initSchema(t *testing.T) {
	ex := store.NewExecutor(store.Params{Driver: store.DriverSQLite, Database: filepath.Join(t.TempDir(), "test.db")}, nil)
	require.NoError(t, initSchema(context.Background(), ex))
	require.NoError(t, initSchema(context.Background(), ex), "second run is no-op")

	res := ex.Execute(context.Background(), "SELECT COUNT(*) FROM GameResults", nil, true)
	require.True(t, res.OK, res.Err)

	bad := store.NewExecutor(store.Params{Driver: store.DriverSQLite, Database: "/invalid/path/that/does/not/exist/test.db"}, nil)
	err := initSchema(context.Background(), bad)
	assert.EqualError(t, err, "failed to create GameResults table: "+store.ErrConnectionUnavailable)
}

func Test_run(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	opts = options{}
	opts.Listen = addr
	opts.Secret = "test-secret"
	opts.DB.Driver = store.DriverSQLite
	opts.DB.Name = filepath.Join(t.TempDir(), "games.db")
	opts.DB.Init = true
	opts.Game.Name, opts.Game.MinNumber, opts.Game.MaxNumber = "GuessTheNumber", 1, 100

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/ping")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	resp, err := http.Post("http://"+addr+"/api/game/result", "application/json", strings.NewReader(`{"attempts": 6, "won": true}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Get("http://" + addr + "/api/game/stats")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.JSONEq(t, `{"success": true, "stats": {"total_games": 1, "avg_attempts": 6, "best_score": 6}}`, string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return")
	}
}

func Test_runInvalidRange(t *testing.T) {
	opts = options{}
	opts.Listen = "127.0.0.1:0"
	opts.DB.Driver = store.DriverSQLite
	opts.DB.Name = filepath.Join(t.TempDir(), "games.db")
	opts.Game.MinNumber, opts.Game.MaxNumber = 10, 1

	err := run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid number range")
}
