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
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/finrag/internal/api"
	"github.com/kalambet/finrag/internal/ingest"
	"github.com/kalambet/finrag/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (and optionally the MCP stdio server)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and index status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdin/stdout")
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "finrag version %s\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.ensureCorpus(ctx); err != nil {
		return err
	}

	// Background worker embeds whatever POST /ingest or the scheduler queues.
	go a.worker.Run(ctx)

	if cfg.Ingest.Schedule != "" {
		sched := ingest.NewScheduler(ctx, a.scanner)
		if err := sched.Register(cfg.Ingest.Schedule); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	if cfg.Server.APIToken == "" {
		slog.Warn("server.api_token is not set, API is unauthenticated")
	}
	handler := api.NewHandler(api.Deps{
		Answerer: a.answerer,
		Prices:   a.prices,
		Scanner:  a.scanner,
		Store:    a.store,
		Token:    cfg.Server.APIToken,
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Answerer: a.answerer,
			Searcher: a.retriever,
			Prices:   a.prices,
			Store:    a.store,
			Version:  version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "finrag listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

func showStatus() error {
	cfg, err := loadConfig()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := newAPIClient(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var st statsJSON
	if err := client.health(ctx); err != nil {
		printStatus("Server", "stopped")
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()
		local, err := store.Stats()
		if err != nil {
			return err
		}
		st = statsJSON(local)
	} else {
		printStatus("Server", "running on port %d", cfg.Server.Port)
		resp, err := client.get(ctx, "/stats")
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}
	}

	printStatus("Chat model", "%s", cfg.Gemini.ChatModel)
	printStatus("Embed model", "%s", cfg.Gemini.EmbedModel)
	printStatus("Documents", "%d", st.Documents)
	printStatus("Passages", "%d", st.Passages)
	printStatus("Interactions", "%d", st.Interactions)
	if st.PendingJobs > 0 {
		printStatus("Pending jobs", "%d", st.PendingJobs)
	}
	if st.FailedJobs > 0 {
		printWarning("%d ingestion jobs failed; run `finrag ingest` after fixing the files", st.FailedJobs)
	}
	printStatus("Data dir", "%s", cfg.Data.Dir)
	printStatus("Storage dir", "%s", cfg.Storage.DataDir)
	return nil
}

// statsJSON mirrors storage.Stats as served by GET /stats.
type statsJSON struct {
	Documents    int `json:"documents"`
	Passages     int `json:"passages"`
	Interactions int `json:"interactions"`
	PendingJobs  int `json:"pending_jobs"`
	FailedJobs   int `json:"failed_jobs"`
}
