package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/gwdesk/client/config"
	"github.com/gwdesk/client/desk"
	"github.com/gwdesk/client/logger"
	"github.com/gwdesk/client/middleware"
	"github.com/gwdesk/client/session"
	"github.com/gwdesk/client/ws"
)

var version = "dev"

const usage = `Usage: gwdesk <command> [flags]

Commands:
  init     write a default config file
  login    log in and store the session
  logout   log out and remove the session
  serve    run the local gateway for desk views
  tail     follow notifications, and one chat room with --room
  mcp      serve desk tools to AI agents over stdio
  version  print the version
`

type statusResponse struct {
	Version  string `json:"version"`
	LoggedIn bool   `json:"loggedIn"`
	UserID   string `json:"userId,omitempty"`
	Channel  string `json:"channel"`
	Unread   int    `json:"unread"`
}

func newHandler(token string, d *desk.Desk, rpcHandler http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			Version: version,
			Channel: d.Channel.State().String(),
			Unread:  d.Inbox.Unread(),
		}
		if sess := d.Session(); sess != nil {
			resp.LoggedIn = true
			resp.UserID = sess.UserID
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	// Authenticates in-band with the first JSON-RPC request.
	mux.Handle("GET /ws", rpcHandler)

	return middleware.Logging(middleware.Auth(token, "/health", "/ws")(mux))
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "init":
		err = runInit(args)
	case "login":
		err = runLogin(ctx, args)
	case "logout":
		err = runLogout(ctx, args)
	case "serve":
		err = runServe(ctx, args)
	case "tail":
		err = runTail(ctx, args)
	case "mcp":
		err = runMCP(ctx, args)
	case "version", "--version", "-v":
		fmt.Println(version)
	case "help", "--help", "-h":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// commonFlags registers the flags every command shares.
type commonFlags struct {
	configPath string
	dev        bool
}

func newFlagSet(name string) (*pflag.FlagSet, *commonFlags) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	cf := &commonFlags{}
	fs.StringVarP(&cf.configPath, "config", "c", "", "config file (default <data dir>/config.yaml)")
	fs.BoolVar(&cf.dev, "dev", false, "log to stderr")
	return fs, cf
}

// path resolves the config file: --config, then GWDESK_CONFIG, then
// config.yaml in the data directory.
func (cf *commonFlags) path() string {
	if cf.configPath != "" {
		return cf.configPath
	}
	if p, ok := os.LookupEnv("GWDESK_CONFIG"); ok && p != "" {
		return p
	}
	if dir, ok := os.LookupEnv("GWDESK_DATA_DIR"); ok && dir != "" {
		return config.Config{DataDir: dir}.Path()
	}
	return config.Default().Path()
}

// load reads the config and initializes logging.
func (cf *commonFlags) load() (config.Config, error) {
	cfg, err := config.Load(cf.path())
	if err != nil {
		return config.Config{}, err
	}
	if cf.dev {
		cfg.Gateway.DevMode = true
	}
	logger.Init(logger.Config{
		DataDir: cfg.DataDir,
		DevMode: cfg.Gateway.DevMode,
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		File:    cfg.Log.File,
		Version: version,
	})
	return cfg, nil
}

func runServe(ctx context.Context, args []string) error {
	fs, cf := newFlagSet("serve")
	addr := fs.String("addr", "", "listen address (overrides gateway.addr)")
	noQR := fs.Bool("no-qr", false, "do not print the attach QR code")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := cf.load()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Gateway.Addr = *addr
	}

	token := cfg.Gateway.Token
	if token == "" {
		token = uuid.NewString()
		slog.Info("generated gateway token for this run")
	}

	d, err := desk.New(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	if _, err := d.Resume(ctx); errors.Is(err, session.ErrNotLoggedIn) {
		slog.Warn("no stored session; views stay logged out until `gwdesk login`")
	} else if err != nil {
		return err
	}
	if err := d.StartWatching(); err != nil {
		slog.Warn("failed to watch session file", "error", err)
	}

	rpcHandler := ws.NewRPCHandler(token, version, cfg.Gateway.DevMode, d)
	defer rpcHandler.Stop()

	srv := &http.Server{
		Addr:              cfg.Gateway.Addr,
		Handler:           newHandler(token, d, rpcHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	attachURL := fmt.Sprintf("http://%s/#token=%s", cfg.Gateway.Addr, token)
	fmt.Printf("Gateway listening on %s\nAttach: %s\n", cfg.Gateway.Addr, attachURL)
	if !*noQR && term.IsTerminal(int(os.Stdout.Fd())) {
		qrterminal.GenerateHalfBlock(attachURL, qrterminal.L, os.Stdout)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway starting", "addr", cfg.Gateway.Addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("gateway shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
