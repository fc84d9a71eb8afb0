package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/crossbarhq/crossbar/internal/api"
	"github.com/crossbarhq/crossbar/internal/backend"
	"github.com/crossbarhq/crossbar/internal/cache"
	"github.com/crossbarhq/crossbar/internal/config"
	"github.com/crossbarhq/crossbar/internal/embed"
	"github.com/crossbarhq/crossbar/internal/ingest"
	"github.com/crossbarhq/crossbar/internal/ollama"
	"github.com/crossbarhq/crossbar/internal/retrieval"
	"github.com/crossbarhq/crossbar/internal/route"
	"github.com/crossbarhq/crossbar/internal/storage"
	"github.com/crossbarhq/crossbar/internal/truth"
	"github.com/crossbarhq/crossbar/internal/vecstore"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the crossbar gateway (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running crossbar gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway and pool status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "crossbar.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "crossbar version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse to double-start.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Make sure each endpoint holds the models it will serve.
	wanted := map[string][]string{
		cfg.Pools.Fast.Endpoint: {cfg.Pools.Fast.Model},
		cfg.Embedding.Endpoint:  {cfg.Embedding.Model},
	}
	wanted[cfg.Pools.Big.Endpoint] = append(wanted[cfg.Pools.Big.Endpoint], cfg.Pools.Big.Model)
	for endpoint, models := range wanted {
		if err := ollama.EnsureReady(ctx, ollama.New(endpoint), models, os.Stderr); err != nil {
			return err
		}
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// The embedding provider verifies the vector dimension at startup;
	// a dimension mismatch is fatal here, not at first query.
	embedClient := ollama.New(cfg.Embedding.Endpoint)
	provider, err := embed.NewProvider(ctx, embedClient, cfg.Embedding.Model, cfg.Embedding.Dim)
	if err != nil {
		var dimErr *embed.DimensionError
		if errors.As(err, &dimErr) {
			return fmt.Errorf("embedding model %s produces %d-dimensional vectors, config says %d; "+
				"fix embedding.dim or re-ingest the corpus: %w",
				cfg.Embedding.Model, dimErr.Got, dimErr.Want, err)
		}
		return fmt.Errorf("initializing embedding provider: %w", err)
	}

	vectors := vecstore.New(store.DB())
	queryCache := cache.New(provider, vectors, float32(cfg.Cache.SimilarityThreshold))
	retriever := retrieval.New(provider, vectors, nil, cfg.Retrieval.TopK)

	cwd, _ := os.Getwd()
	truthBuilder := truth.NewBuilder(time.Now, truth.NewGitProber(cwd), "crossbar")

	fastPool := route.Pool{Name: route.PoolFast, Endpoint: cfg.Pools.Fast.Endpoint, Model: cfg.Pools.Fast.Model}
	bigPool := route.Pool{Name: route.PoolBig, Endpoint: cfg.Pools.Big.Endpoint, Model: cfg.Pools.Big.Model}

	backendClient := backend.NewClient()
	prober := route.NewProber([]route.Pool{fastPool, bigPool}, backendClient, 0, slog.Default())
	prober.Start(ctx)
	defer prober.Stop()

	router := route.New(fastPool, bigPool, prober)
	metrics := api.NewMetrics()
	dispatcher := api.NewDispatcher(truthBuilder, queryCache, retriever, router, backendClient, metrics, slog.Default())

	handler := api.NewHandler(dispatcher, prober, metrics, api.Options{
		AuthToken: cfg.Auth.Token,
		RateRPS:   cfg.RateLimit.RequestsPerSecond,
		RateBurst: cfg.RateLimit.Burst,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: handler}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}

	// MCP over stdio for agent hosts.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Dispatcher: dispatcher,
		Router:     router,
		Health:     prober,
		Store:      vectors,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "crossbar listening on %s\n", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("crossbar is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop crossbar (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to crossbar (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	if resp, err := client.Get(serverURL + "/health"); err != nil {
		printStatus("Gateway", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Gateway", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Gateway", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if resp, err := client.Get(serverURL + "/ready"); err == nil {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Ready", "yes")
		} else {
			printStatus("Ready", "no (HTTP %d)", resp.StatusCode)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pools := []struct {
		name     string
		pool     config.PoolConfig
	}{
		{"fast pool", cfg.Pools.Fast},
		{"big pool", cfg.Pools.Big},
	}
	for _, p := range pools {
		if ollama.New(p.pool.Endpoint).IsRunning(ctx) {
			printStatus(p.name, "%s at %s (up)", p.pool.Model, p.pool.Endpoint)
		} else {
			printStatus(p.name, "%s at %s (DOWN)", p.pool.Model, p.pool.Endpoint)
		}
	}

	printStatus("Embed model", "%s (dim %d)", cfg.Embedding.Model, cfg.Embedding.Dim)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// ingestCorpus runs a local ingestion pass without going through the HTTP API.
func ingestCorpus(dirs []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	provider, err := embed.NewProvider(ctx, ollama.New(cfg.Embedding.Endpoint), cfg.Embedding.Model, cfg.Embedding.Dim)
	if err != nil {
		return fmt.Errorf("initializing embedding provider: %w", err)
	}

	ing := ingest.New(provider, vecstore.New(store.DB()), nil, slog.Default())
	var total ingest.Stats
	for _, dir := range dirs {
		printStep("Ingesting %s", dir)
		stats, err := ing.IngestDir(ctx, dir)
		if err != nil {
			return err
		}
		total.Files += stats.Files
		total.Chunks += stats.Chunks
		total.Skipped += stats.Skipped
	}
	printSuccess("Ingested %d files into %d chunks (%d skipped)", total.Files, total.Chunks, total.Skipped)
	return nil
}
