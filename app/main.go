package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/guessnum/app/store"
	"github.com/umputun/guessnum/app/web"
)

const defaultSecret = "dev-key-change-in-production"

type options struct {
	Listen    string  `long:"listen" env:"LISTEN" default:"127.0.0.1:5000" description:"listen address"`
	Secret    string  `long:"secret" env:"SECRET_KEY" default:"dev-key-change-in-production" description:"application secret key"`
	RateLimit float64 `long:"rate" env:"RATE" default:"5" description:"result submissions per second per client, 0 to disable"`
	Dbg       bool    `long:"dbg" env:"DEBUG" description:"debug mode"`
	FlaskDbg  string  `long:"flask-dbg" env:"FLASK_DEBUG" hidden:"true" description:"legacy debug switch"`

	DB struct {
		Server   string        `long:"server" env:"DB_SERVER" default:"localhost" description:"database server"`
		Name     string        `long:"name" env:"DB_NAME" default:"CodingPortfolio" description:"database name, file path for sqlite"`
		Driver   string        `long:"driver" env:"DB_DRIVER" default:"sqlserver" choice:"sqlserver" choice:"sqlite" description:"database driver"`
		Username string        `long:"username" env:"DB_USERNAME" description:"database user, integrated auth if empty"`
		Password string        `long:"password" env:"DB_PASSWORD" description:"database password, integrated auth if empty"`
		Timeout  time.Duration `long:"timeout" env:"DB_TIMEOUT" default:"5s" description:"connect timeout"`
		Init     bool          `long:"init" env:"DB_INIT" description:"create GameResults table if missing"`
	} `group:"db" namespace:"db"`

	Game struct {
		Name      string `long:"name" env:"GAME_NAME" default:"GuessTheNumber" description:"game name recorded with results"`
		MinNumber int    `long:"min" env:"MIN_NUMBER" default:"1" description:"smallest secret number"`
		MaxNumber int    `long:"max" env:"MAX_NUMBER" default:"100" description:"largest secret number"`
	} `group:"game" namespace:"game"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"enable full logging, warnings and errors go to stderr otherwise"`
		Filename        string `long:"filename" env:"FILENAME" description:"file name to log to, stdout if empty"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"maximum size in megabytes of the log file before rotation"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"maximum number of old log files to retain"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"0" description:"maximum number of days to retain old log files"`
		EnabledCompress bool   `long:"enabled-compress" env:"ENABLED_COMPRESS" description:"compress rotated log files"`
	} `group:"log" namespace:"log" env-namespace:"LOG"`
}

var opts options

var revision = "unknown"

func main() {
	fmt.Printf("guessnum %s\n", revision)

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	logOut := setupLogs()
	if c, ok := logOut.(io.Closer); ok && logOut != os.Stdout {
		defer c.Close()
	}

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	signals(cancel) // handle SIGQUIT, SIGINT and SIGTERM

	if err := run(ctx); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
	log.Printf("[INFO] server terminated")
}

func run(ctx context.Context) error {
	if opts.Secret == defaultSecret && !debugEnabled() {
		log.Printf("[WARN] default secret key in use, set SECRET_KEY for production")
	}

	listen, err := validateListen(opts.Listen)
	if err != nil {
		return err
	}

	params := makeStoreParams()
	log.Printf("[INFO] database %s", params)
	executor := store.NewExecutor(params, nil)

	if opts.DB.Init {
		if err := initSchema(ctx, executor); err != nil {
			return err
		}
	}

	srv, err := web.New(web.Config{
		Store:     executor,
		GameName:  opts.Game.Name,
		MinNumber: opts.Game.MinNumber,
		MaxNumber: opts.Game.MaxNumber,
		Version:   revision,
		RateLimit: opts.RateLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to create web server: %w", err)
	}
	return srv.Run(ctx, listen)
}

func makeStoreParams() store.Params {
	return store.Params{
		Server:         opts.DB.Server,
		Database:       opts.DB.Name,
		Driver:         opts.DB.Driver,
		Username:       opts.DB.Username,
		Password:       opts.DB.Password,
		ConnectTimeout: opts.DB.Timeout,
		AppName:        "guessnum",
	}
}

// initSchema creates GameResults table if it doesn't exist yet
func initSchema(ctx context.Context, executor *store.Executor) error {
	ddl, err := store.GameResultsDDL(executor.Driver())
	if err != nil {
		return fmt.Errorf("failed to make schema: %w", err)
	}
	if res := executor.Execute(ctx, ddl, nil, false); !res.OK {
		return fmt.Errorf("failed to create GameResults table: %s", res.Err)
	}
	log.Printf("[INFO] GameResults table ready")
	return nil
}

// debugEnabled checks --dbg and the legacy FLASK_DEBUG switch
func debugEnabled() bool {
	return opts.Dbg || strings.EqualFold(opts.FlaskDbg, "true")
}

// setupLogs configures lgr and returns the writer used for log output
func setupLogs() io.Writer {
	secrets := []string{}
	for _, s := range []string{opts.DB.Password, opts.Secret} {
		if s != "" {
			secrets = append(secrets, s)
		}
	}

	if !opts.Log.Enabled {
		// warnings and errors still reach stderr, everything else is dropped
		log.Setup(log.Msec, log.LevelBraces, log.Out(warnFilter{w: stderr}), log.Err(io.Discard), log.Secret(secrets...))
		return os.Stdout
	}

	var out io.Writer = os.Stdout
	if opts.Log.Filename != "" {
		out = &lumberjack.Logger{
			Filename:   opts.Log.Filename,
			MaxSize:    opts.Log.MaxSize,
			MaxBackups: opts.Log.MaxBackups,
			MaxAge:     opts.Log.MaxAge,
			Compress:   opts.Log.EnabledCompress,
		}
	}

	logOpts := []log.Option{log.Msec, log.LevelBraces, log.Out(out), log.Secret(secrets...)}
	if debugEnabled() {
		logOpts = append(logOpts, log.Debug, log.CallerFunc, log.CallerPkg, log.CallerFile)
	}
	log.Setup(logOpts...)
	return out
}

// stderr is the destination of warnFilter, replaced in tests
var stderr io.Writer = os.Stderr

// warnFilter passes only [WARN] and [ERROR] lines, lgr writes each record with a single Write
type warnFilter struct {
	w io.Writer
}

func (f warnFilter) Write(p []byte) (int, error) {
	if !bytes.Contains(p, []byte("[WARN]")) && !bytes.Contains(p, []byte("[ERROR]")) {
		return len(p), nil
	}
	return f.w.Write(p)
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			log.Printf("[INFO] %v received, shutting down", sig)
			cancel()
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
}

// errNoListen is returned by validateListen for an empty address
var errNoListen = errors.New("empty listen address")

// validateListen normalizes listen address, bare port becomes ":port"
func validateListen(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", errNoListen
	}
	if !strings.Contains(addr, ":") {
		return ":" + addr, nil
	}
	return addr, nil
}
