// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/poiesic/verbatim"
	"github.com/poiesic/verbatim/config"
	"github.com/poiesic/verbatim/core"
	"github.com/poiesic/verbatim/format"
	"github.com/poiesic/verbatim/reembed"
	"github.com/urfave/cli/v2"
)

// openEngine opens the engine used by every command.
var openEngine = func(cfg *config.Config) (*verbatim.Engine, error) {
	return verbatim.Open(cfg, verbatim.WithLogger(slog.Default()))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "verbatim",
		Usage: "Index transcripts and pull attributed verbatim quotes out of them",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "Directory holding the vector store",
			},
			&cli.StringFlag{
				Name:  "store",
				Usage: "Vector store backend (badger, chromem)",
			},
			&cli.StringFlag{
				Name:  "collection",
				Usage: "Collection name",
			},
			&cli.StringFlag{
				Name:  "output-dir",
				Usage: "Save each answer, retrieval and extraction as text and JSON under this directory",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "process",
				Usage:     "Index a transcript file or every supported file under a directory",
				ArgsUsage: "<path>",
				Action:    processCommand,
			},
			{
				Name:      "query",
				Usage:     "Answer a question from the indexed transcripts",
				ArgsUsage: "<text>",
				Action:    queryCommand,
			},
			{
				Name:      "process-query",
				Usage:     "Index files and then answer a question",
				ArgsUsage: "<path> <text>",
				Action:    processQueryCommand,
			},
			{
				Name:      "retrieve",
				Usage:     "List the chunks most similar to a query without generating an answer",
				ArgsUsage: "<text>",
				Action:    retrieveCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "Number of chunks to retrieve",
						Value: 10,
					},
					&cli.Float64Flag{
						Name:  "min-score",
						Usage: "Minimum similarity score",
						Value: 0.1,
					},
				},
			},
			{
				Name:      "extract-verbatims",
				Usage:     "Extract attributed participant quotes for a query",
				ArgsUsage: "<text>",
				Action:    extractVerbatimsCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "min-length",
						Usage: "Minimum quote length in characters",
						Value: 20,
					},
					&cli.IntFlag{
						Name:  "max-length",
						Usage: "Maximum quote length in characters",
						Value: 500,
					},
					&cli.BoolFlag{
						Name:  "exclude-moderator",
						Usage: "Exclude moderator quotes",
						Value: true,
					},
					&cli.BoolFlag{
						Name:  "include-moderator",
						Usage: "Include moderator quotes (overrides --exclude-moderator)",
					},
					&cli.StringFlag{
						Name:  "participant-filter",
						Usage: `Keep only participants matching "<gender>, <low>-<high>", e.g. "M, 18-24"`,
					},
					&cli.StringFlag{
						Name:  "format",
						Usage: "Output format (research, quotes_only, detailed, csv)",
						Value: string(format.Research),
					},
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "Number of chunks to search",
						Value: 20,
					},
					&cli.Float64Flag{
						Name:  "min-score",
						Usage: "Minimum similarity score",
						Value: 0.1,
					},
					&cli.StringFlag{
						Name:  "export-csv",
						Usage: "Also write the quotes to this CSV file",
					},
				},
			},
			{
				Name:   "stats",
				Usage:  "Check the store and report collection size",
				Action: statsCommand,
			},
			{
				Name:   "delete-all",
				Usage:  "Delete every record in the collection",
				Action: deleteAllCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "yes",
						Usage: "Skip the confirmation prompt",
					},
				},
			},
			{
				Name:   "reembed",
				Usage:  "Re-embed every record with the configured embedding model",
				Action: reembedCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of records to process in each batch",
						Value: reembed.DefaultBatchSize,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N records",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed operations",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
				},
			},
			{
				Name:      "export",
				Usage:     "Export the collection to a file (chromem store only)",
				ArgsUsage: "<file>",
				Action:    exportCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "compress",
						Usage: "Gzip the export",
					},
				},
			},
			{
				Name:      "import",
				Usage:     "Replace the collection with an exported file (chromem store only)",
				ArgsUsage: "<file>",
				Action:    importCommand,
			},
		},
	}
}

// loadConfig reads the configuration and applies the global flags on top.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("data-dir") {
		cfg.DataDir = c.String("data-dir")
	}
	if c.IsSet("store") {
		cfg.Store = c.String("store")
	}
	if c.IsSet("collection") {
		cfg.Collection = c.String("collection")
	}
	if c.IsSet("output-dir") {
		cfg.OutputDir = c.String("output-dir")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withEngine(c *cli.Context, fn func(*verbatim.Engine) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	engine, err := openEngine(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer engine.Close()
	return fn(engine)
}

func requireArgs(c *cli.Context, names ...string) error {
	if c.NArg() != len(names) {
		return fmt.Errorf("%s expects %d argument(s): %s", c.Command.Name, len(names), strings.Join(names, " "))
	}
	return nil
}

func processCommand(c *cli.Context) error {
	if err := requireArgs(c, "<path>"); err != nil {
		return err
	}
	return withEngine(c, func(engine *verbatim.Engine) error {
		return indexFiles(c, engine, c.Args().Get(0))
	})
}

func indexFiles(c *cli.Context, engine *verbatim.Engine, path string) error {
	out := c.App.Writer
	fmt.Fprintf(out, "Processing files from: %s\n", path)

	summary, err := engine.IndexFiles(c.Context, path)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	report := summary.Report
	fmt.Fprintf(out, "Files: %d (skipped %d)\n", len(summary.Files), len(summary.SkippedFiles))
	fmt.Fprintf(out, "Chunks: %d indexed, %d unchanged, %d removed, %d failed\n",
		report.Indexed, report.Skipped, report.Removed, len(report.Failures))
	for _, file := range summary.SkippedFiles {
		fmt.Fprintf(out, "  skipped %s\n", file)
	}
	if err := report.Err(); err != nil {
		return fmt.Errorf("some chunks failed to index: %w", err)
	}
	return nil
}

func queryCommand(c *cli.Context) error {
	if err := requireArgs(c, "<text>"); err != nil {
		return err
	}
	return withEngine(c, func(engine *verbatim.Engine) error {
		return answerQuery(c, engine, c.Args().Get(0))
	})
}

func answerQuery(c *cli.Context, engine *verbatim.Engine, query string) error {
	ans, err := engine.Answer(c.Context, query)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintln(&sb, ans.Text)
	if len(ans.Sources) > 0 {
		fmt.Fprintln(&sb)
		fmt.Fprintln(&sb, "Sources:")
		for _, src := range ans.Sources {
			fmt.Fprintf(&sb, "  %d. %s (%s) score %.3f\n", src.Rank, src.Chunk.Location(), src.Chunk.Speaker, src.Score)
		}
	}
	fmt.Fprint(c.App.Writer, sb.String())

	saved, err := engine.SaveAnswer(ans, sb.String())
	return reportSaved(c, saved, err)
}

// reportSaved prints where a result was saved, if it was.
func reportSaved(c *cli.Context, saved *format.Saved, err error) error {
	if err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}
	if saved != nil {
		fmt.Fprintf(c.App.Writer, "Results saved to: %s (JSON: %s)\n", saved.Text, saved.JSON)
	}
	return nil
}

func processQueryCommand(c *cli.Context) error {
	if err := requireArgs(c, "<path>", "<text>"); err != nil {
		return err
	}
	return withEngine(c, func(engine *verbatim.Engine) error {
		if err := indexFiles(c, engine, c.Args().Get(0)); err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer)
		return answerQuery(c, engine, c.Args().Get(1))
	})
}

func retrieveCommand(c *cli.Context) error {
	if err := requireArgs(c, "<text>"); err != nil {
		return err
	}
	return withEngine(c, func(engine *verbatim.Engine) error {
		retriever, err := engine.NewRetriever()
		if err != nil {
			return err
		}
		results, err := retriever.Retrieve(c.Context, c.Args().Get(0), c.Int("top-k"), c.Float64("min-score"))
		if err != nil {
			return fmt.Errorf("retrieval failed: %w", err)
		}

		var sb strings.Builder
		if len(results) == 0 {
			fmt.Fprintln(&sb, "No chunks matched; try lowering --min-score or raising --top-k")
		} else {
			fmt.Fprintf(&sb, "Found %d chunks\n", len(results))
			for _, r := range results {
				fmt.Fprintf(&sb, "\n%d. score %.3f  %s  %s (%s)\n", r.Rank, r.Score, r.Chunk.Location(), r.Chunk.Speaker, r.Chunk.Demographics)
				fmt.Fprintf(&sb, "   %s\n", preview(r.Chunk.Text, 300))
			}
		}
		fmt.Fprint(c.App.Writer, sb.String())

		saved, err := engine.SaveRetrieval(c.Args().Get(0), c.Int("top-k"), results, sb.String())
		return reportSaved(c, saved, err)
	})
}

func preview(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

func extractVerbatimsCommand(c *cli.Context) error {
	if err := requireArgs(c, "<text>"); err != nil {
		return err
	}
	return withEngine(c, func(engine *verbatim.Engine) error {
		req := engine.DefaultExtractRequest()
		if c.IsSet("top-k") {
			req.TopK = c.Int("top-k")
		}
		if c.IsSet("min-score") {
			req.MinScore = c.Float64("min-score")
		}
		if c.IsSet("min-length") {
			req.Options.MinLength = c.Int("min-length")
		}
		if c.IsSet("max-length") {
			req.Options.MaxLength = c.Int("max-length")
		}
		if c.IsSet("exclude-moderator") {
			req.Options.ExcludeModerator = c.Bool("exclude-moderator")
		}
		if c.IsSet("include-moderator") {
			req.Options.IncludeModerator = c.Bool("include-moderator")
		}
		if c.IsSet("participant-filter") {
			req.Options.DemographicFilter = c.String("participant-filter")
		}
		if c.IsSet("format") {
			req.Format = format.Format(c.String("format"))
		}
		if c.IsSet("export-csv") {
			req.ExportPath = c.String("export-csv")
		}

		result, err := engine.ExtractVerbatims(c.Context, c.Args().Get(0), req)
		if result == nil {
			return fmt.Errorf("extraction failed: %w", err)
		}

		out := c.App.Writer
		if len(result.Verbatims) == 0 {
			fmt.Fprintln(out, "No verbatims matched; try lowering --min-length, raising --max-length or --include-moderator")
		} else {
			fmt.Fprintln(out, result.Output)
			fmt.Fprintln(out)
			printSummary(c, result.Verbatims)
		}
		saved, saveErr := engine.SaveExtraction(result)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		if result.Exported {
			fmt.Fprintf(out, "CSV exported to: %s\n", req.ExportPath)
		}
		return reportSaved(c, saved, saveErr)
	})
}

func printSummary(c *cli.Context, verbatims []*core.Verbatim) {
	var speakers []string
	seen := make(map[string]bool)
	words := 0
	for _, v := range verbatims {
		words += v.WordCount
		if !seen[v.Speaker] {
			seen[v.Speaker] = true
			speakers = append(speakers, v.Speaker)
		}
	}
	out := c.App.Writer
	fmt.Fprintf(out, "Verbatims: %d from %d speakers (%s)\n", len(verbatims), len(speakers), strings.Join(speakers, ", "))
	fmt.Fprintf(out, "Average words per quote: %.1f\n", float64(words)/float64(len(verbatims)))
}

func statsCommand(c *cli.Context) error {
	return withEngine(c, func(engine *verbatim.Engine) error {
		stats, err := engine.Stats(c.Context)
		if err != nil {
			return fmt.Errorf("store unhealthy: %w", err)
		}
		out := c.App.Writer
		fmt.Fprintf(out, "Store: %s (%s)\n", stats.Store, stats.Path)
		fmt.Fprintf(out, "Collection: %s\n", stats.Collection)
		fmt.Fprintf(out, "Records: %d\n", stats.Records)
		fmt.Fprintf(out, "Dimension: %d\n", stats.Dimension)
		return nil
	})
}

func deleteAllCommand(c *cli.Context) error {
	if !c.Bool("yes") && !confirm(c, "This will delete ALL records from the collection. Type 'yes' to continue: ") {
		fmt.Fprintln(c.App.Writer, "Operation cancelled")
		return nil
	}
	return withEngine(c, func(engine *verbatim.Engine) error {
		if err := engine.DeleteAll(c.Context); err != nil {
			return fmt.Errorf("delete failed: %w", err)
		}
		fmt.Fprintln(c.App.Writer, "All records deleted")
		return nil
	})
}

func confirm(c *cli.Context, prompt string) bool {
	fmt.Fprint(c.App.Writer, prompt)
	line, err := bufio.NewReader(c.App.Reader).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "yes")
}

func reembedCommand(c *cli.Context) error {
	cfg := &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if cfg.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if cfg.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	return withEngine(c, func(engine *verbatim.Engine) error {
		ec := engine.Config()
		fmt.Fprintf(c.App.ErrWriter, "Store: %s\n", ec.StorePath())
		fmt.Fprintf(c.App.ErrWriter, "Embedding host: %s\n", ec.AI.EmbeddingHost)
		fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s\n", ec.AI.EmbeddingModel)
		fmt.Fprintln(c.App.ErrWriter)

		if _, err := engine.NewReembedder(cfg, c.App.ErrWriter).Run(c.Context); err != nil {
			return fmt.Errorf("reembedding failed: %w", err)
		}
		return nil
	})
}

func exportCommand(c *cli.Context) error {
	if err := requireArgs(c, "<file>"); err != nil {
		return err
	}
	return withEngine(c, func(engine *verbatim.Engine) error {
		if err := engine.Export(c.Args().Get(0), c.Bool("compress")); err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Fprintf(c.App.Writer, "Exported collection to: %s\n", c.Args().Get(0))
		return nil
	})
}

func importCommand(c *cli.Context) error {
	if err := requireArgs(c, "<file>"); err != nil {
		return err
	}
	return withEngine(c, func(engine *verbatim.Engine) error {
		if err := engine.Import(c.Args().Get(0)); err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		stats, err := engine.Stats(c.Context)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "Imported %d records\n", stats.Records)
		return nil
	})
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
