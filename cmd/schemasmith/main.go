package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/amosWeiskopf/schemasmith/internal/config"
	"github.com/amosWeiskopf/schemasmith/pkg/browser"
	"github.com/amosWeiskopf/schemasmith/pkg/crawler"
	"github.com/amosWeiskopf/schemasmith/pkg/exporter"
	"github.com/amosWeiskopf/schemasmith/pkg/schema"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "schemasmith",
	Short: "SchemaSmith - declarative schema-driven data extraction",
	Long: `SchemaSmith extracts structured records from web pages: a schema
describes where data lives and how to shape it, and the crawler handles
field extraction, nested follow-links and pagination.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [URL]",
	Short: "Fetch a page over HTTP and extract records per schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s, err := loadSchema(cmd)
		if err != nil {
			return err
		}
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if concurrency == 0 {
			concurrency = cfg.Crawler.Concurrency
		}

		c := crawler.NewHTTP(crawler.HTTPOptions{
			UserAgent:         cfg.Crawler.UserAgent,
			Timeout:           cfg.Crawler.Timeout,
			RequestsPerSecond: cfg.Crawler.RequestsPerSecond,
			RespectRobots:     cfg.Crawler.RespectRobotsTxt,
			Concurrency:       concurrency,
		}, nil)

		records, err := c.Fetch(cmd.Context(), args[0], s)
		if err != nil {
			return fmt.Errorf("fetch failed: %w", err)
		}
		return writeRecords(cmd, records)
	},
}

var renderCmd = &cobra.Command{
	Use:   "render [URL]",
	Short: "Fetch a page in a headless browser and extract records per schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s, err := loadSchema(cmd)
		if err != nil {
			return err
		}
		headless := cfg.Browser.Headless
		if cmd.Flags().Changed("headless") {
			headless, _ = cmd.Flags().GetBool("headless")
		}

		driver, err := browser.New(context.Background(), browser.Options{
			Headless:          headless,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: cfg.Browser.NavigationTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to start browser: %w", err)
		}
		defer driver.Close(context.Background())

		c := crawler.NewBrowser(driver, crawler.BrowserOptions{
			NavigationDelay: cfg.Browser.NavigationDelay,
		}, nil)

		records, err := c.Fetch(cmd.Context(), args[0], s)
		if err != nil {
			return fmt.Errorf("render failed: %w", err)
		}
		return writeRecords(cmd, records)
	},
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if cfg.Logging.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	return cfg, nil
}

func loadSchema(cmd *cobra.Command) (*schema.Schema, error) {
	path, _ := cmd.Flags().GetString("schema")
	if path == "" {
		return nil, fmt.Errorf("--schema is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	var s schema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	return &s, nil
}

func writeRecords(cmd *cobra.Command, records []*schema.Record) error {
	format, _ := cmd.Flags().GetString("format")
	output, _ := cmd.Flags().GetString("output")

	out := os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	switch format {
	case "csv":
		return exporter.WriteCSV(out, records)
	default:
		return exporter.WriteJSON(out, records)
	}
}

func init() {
	fetchCmd.Flags().Int("concurrency", 0, "Concurrent page fetches for URL pagination")
	renderCmd.Flags().Bool("headless", true, "Run the browser headless")

	for _, cmd := range []*cobra.Command{fetchCmd, renderCmd} {
		cmd.Flags().String("schema", "", "Path to JSON schema file")
		cmd.Flags().String("format", "json", "Output format (json, csv)")
		cmd.Flags().String("output", "", "Output file (default stdout)")
	}

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(renderCmd)

	rootCmd.PersistentFlags().String("config", "", "Config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
