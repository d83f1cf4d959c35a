package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/finrag/internal/chat"
	"github.com/kalambet/finrag/internal/config"
	"github.com/kalambet/finrag/internal/intent"
	"github.com/kalambet/finrag/internal/pipeline"
	"github.com/kalambet/finrag/internal/prices"
	"github.com/kalambet/finrag/internal/storage"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Ask questions interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		slow := config.Duration(cfg.Chat.SlowWarning, 0)
		sh := chat.NewShell(a.answerer, chat.SurveyPrompter{}, cmd.OutOrStdout(), slow, &chat.Session{})
		return sh.Run(ctx)
	},
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question...>",
	Short: "Answer a single question",
	Long: `Answer a single question and print the answer with its top sources.

Examples:
  finrag ask "What was the highest stock price of Bajaj Finserv in 2022?"
  finrag ask --json Why is BAGIC facing headwinds in motor insurance?`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.TrimSpace(strings.Join(args, " "))
		if question == "" {
			return fmt.Errorf("a question is required")
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		remote, _ := cmd.Flags().GetBool("remote")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if remote {
			res, err := askRemote(ctx, newAPIClient(cfg), question)
			if err != nil {
				return err
			}
			return writeAnswer(cmd.OutOrStdout(), res, asJSON)
		}

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ensureCorpus(ctx); err != nil {
			return err
		}

		res := a.answerer.Answer(ctx, question)
		if err := writeAnswer(cmd.OutOrStdout(), res, asJSON); err != nil {
			return err
		}
		if res.Failed {
			return errors.New("question could not be answered")
		}
		return nil
	},
}

func init() {
	askCmd.Flags().Bool("json", false, "print the answer as JSON")
	askCmd.Flags().Bool("remote", false, "ask a running `finrag serve` instead of answering in-process")
}

func askRemote(ctx context.Context, c *apiClient, question string) (pipeline.AnswerResult, error) {
	resp, err := c.post(ctx, "/v1/ask", map[string]string{"question": question})
	if err != nil {
		return pipeline.AnswerResult{}, err
	}
	var res pipeline.AnswerResult
	if err := decodeJSON(resp, &res); err != nil {
		return pipeline.AnswerResult{}, err
	}
	return res, nil
}

func writeAnswer(w io.Writer, res pipeline.AnswerResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintln(w, res.Text)
	for i, c := range res.Citations {
		if i == 3 {
			break
		}
		if i == 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "[%d] %s: %s\n", i+1, colorize(labelStyle, c.SourceID), chat.Preview(c.Content))
	}
	return nil
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats <question...>",
	Short: "Compute share price statistics for the period a question names",
	Long: `Compute highest, lowest and average close for the period a question names,
without calling the language model.

Examples:
  finrag stats average price in 2023
  finrag stats lowest price in Jan-22`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)

		series, err := prices.LoadCSV(cfg.Data.PriceFile)
		if err != nil {
			printWarning("share price data unavailable: %v", err)
		}

		question := strings.Join(args, " ")
		out := series.Statistics(intent.ExtractTemporal(question), question)
		fmt.Fprintln(cmd.OutOrStdout(), out.Text)
		if out.Kind == prices.Failed {
			return errors.New("statistics failed")
		}
		return nil
	},
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Index new and changed files from the data directory",
	Long: `Index new and changed files from the data directory. PDFs, CSVs, text,
Markdown and HTML are supported; the share price CSV is indexed as a
yearly and monthly summary.

Examples:
  finrag ingest
  finrag ingest --dir ./data
  finrag ingest --rebuild`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rebuild, _ := cmd.Flags().GetBool("rebuild")
		dir, _ := cmd.Flags().GetString("dir")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if dir != "" {
			cfg.Data.Dir = dir
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if rebuild {
			printStep("Rebuilding the index from %s", cfg.Data.Dir)
			report, err := a.ingester.Rebuild(ctx)
			if err != nil {
				return err
			}
			printReport(report)
			return nil
		}

		printStep("Scanning %s", cfg.Data.Dir)
		report, err := a.ingester.Sync(ctx)
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	},
}

func init() {
	ingestCmd.Flags().Bool("rebuild", false, "discard the index and ingest everything again")
	ingestCmd.Flags().String("dir", "", "data directory (default: data.dir)")
}

// --- interactions ---

var interactionsCmd = &cobra.Command{
	Use:   "interactions",
	Short: "Browse answered questions",
}

// openStore opens the local database without touching the model backend.
func openStore() (*storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return storage.Open(cfg.Storage.DataDir)
}

var interactionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent interactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		interactions, err := store.GetRecentInteractions(limit)
		if err != nil {
			return err
		}
		writeInteractions(cmd.OutOrStdout(), interactions)
		return nil
	},
}

func writeInteractions(w io.Writer, interactions []storage.Interaction) {
	if len(interactions) == 0 {
		fmt.Fprintln(w, "No interactions found.")
		return
	}
	for _, ix := range interactions {
		query := ix.Question
		if r := []rune(query); len(r) > 80 {
			query = string(r[:80]) + "..."
		}
		id := ix.ID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(w, "%s  %s  %-18s  %s\n",
			colorize(stepStyle, id),
			ix.CreatedAt.Format("2006-01-02 15:04"),
			ix.Strategy,
			query,
		)
	}
}

var interactionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single interaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ix, err := store.GetInteraction(args[0])
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("interaction %s not found", args[0])
		}
		if err != nil {
			return err
		}

		var citations []pipeline.Citation
		if err := json.Unmarshal([]byte(ix.CitationsJSON), &citations); err != nil {
			citations = nil
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s\n", colorize(labelStyle, ix.Question))
		fmt.Fprintf(out, "%s · %s · %dms · %s\n\n", ix.CreatedAt.Format("2006-01-02 15:04:05"), ix.Strategy, ix.DurationMS, ix.Status)
		return writeAnswer(out, pipeline.AnswerResult{Text: ix.Answer, Citations: citations}, false)
	},
}

func init() {
	interactionsListCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
	interactionsCmd.AddCommand(interactionsListCmd)
	interactionsCmd.AddCommand(interactionsShowCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		printStatus("Config file", "%s", config.FileLocation())
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(labelStyle, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a stored value so the default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <google-api-key>",
	Short: "Store the Google API key in the secrets file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(strings.TrimSpace(args[0])); err != nil {
			return err
		}
		printSuccess("Google API key stored")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}
