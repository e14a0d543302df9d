// Command seqbrowse serves sequence browse sessions: selection and
// playback over HTTP, a websocket event stream and MCP tools, with a
// mirror hierarchy that follows the selected branch.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/net/netutil"

	"github.com/hazyhaar/seqbrowse/api"
	"github.com/hazyhaar/seqbrowse/browser"
	"github.com/hazyhaar/seqbrowse/config"
	"github.com/hazyhaar/seqbrowse/dbopen"
	"github.com/hazyhaar/seqbrowse/mirror"
	"github.com/hazyhaar/seqbrowse/player"
	"github.com/hazyhaar/seqbrowse/session"
	"github.com/hazyhaar/seqbrowse/store"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("SEQBROWSE_CONFIG"), "YAML config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	lvl, _ := cfg.Level()
	var logOut io.Writer = os.Stdout
	if cfg.MCPStdio {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll(), dbopen.WithSchema(store.Schema))
	if err != nil {
		slog.Error("open db", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	journal := store.NewJournal(db, store.JournalOptions{
		Logger:        logger,
		BufferSize:    cfg.Journal.BufferSize,
		FlushInterval: cfg.Journal.FlushInterval,
	})
	defer journal.Close()

	looped, skipping := cfg.Playback.Looped, cfg.Playback.ItemSkipping
	mgr, err := session.NewManager(session.ManagerOptions{
		Logger:      logger,
		Store:       store.New(db),
		MaxResident: cfg.MaxSessions,
		Defaults: session.Options{
			Playback: browser.Options{
				RateFPS:      cfg.Playback.RateFPS,
				Looped:       &looped,
				ItemSkipping: &skipping,
			},
			Synchronizer: mirror.New(cfg.MirrorOptions(logger)),
			Journal:      journal,
		},
	})
	if err != nil {
		slog.Error("session manager", "error", err)
		os.Exit(1)
	}
	defer mgr.Close()

	clock := player.New(mgr, player.Options{Resolution: cfg.Playback.Resolution, Logger: logger})
	go clock.Run(ctx)

	a := api.New(mgr, api.Options{
		Logger:     logger,
		TokenHash:  cfg.APITokenHash,
		Journal:    journal,
		RateLimit:  cfg.RateLimit,
		TrustProxy: cfg.TrustProxy,
	})
	if cfg.APITokenHash == "" {
		slog.Warn("api_token_hash is empty, HTTP API is unauthenticated")
	}

	if cfg.MCPStdio {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "seqbrowse", Version: version}, nil)
		a.RegisterMCP(mcpSrv)
		go func() {
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				slog.Error("mcp stdio", "error", err)
			}
			cancel()
		}()
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		slog.Error("listen", "addr", cfg.Addr, "error", err)
		os.Exit(1)
	}
	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		slog.Info("server starting", "addr", cfg.Addr, "version", version, "max_sessions", cfg.MaxSessions)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	st := clock.Stats()
	slog.Info("server stopped", "advances", st.Advances, "player_errors", st.Errors)
}
