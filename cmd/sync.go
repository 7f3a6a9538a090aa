package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/askrepo/askrepo/config"
	"github.com/askrepo/askrepo/internal/chunker"
	"github.com/askrepo/askrepo/internal/crawler"
	"github.com/askrepo/askrepo/internal/indexer"
	"github.com/askrepo/askrepo/internal/store"
	openai_provider "github.com/askrepo/askrepo/provider/openai"
)

// syncCMD reindexes one project from the command line, outside the HTTP
// server and the scheduler.
func syncCMD() *cobra.Command {
	var cfgPath string
	var projectID string
	var userID string

	var sync = &cobra.Command{
		Use:   "sync",
		Short: "Crawl and reindex one project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" || userID == "" {
				return fmt.Errorf("--project and --user are required")
			}
			cfg := config.LoadConfig(cfgPath)
			ctx := context.Background()

			dsn, err := cfg.Databases.Postgres.DSN()
			if err != nil {
				return err
			}
			st, err := store.NewWithDSN(ctx, dsn)
			if err != nil {
				return err
			}
			defer st.DB.Close()

			project, err := st.GetProject(ctx, projectID, userID)
			if err != nil {
				return fmt.Errorf("load project: %w", err)
			}

			idx := indexer.New(
				crawler.New(cfg.Crawler),
				chunker.New(cfg.Indexer.ChunkSize),
				openai_provider.NewClient(cfg.Providers.OpenAI),
				st,
				cfg.Providers.OpenAI.EmbeddingModel,
				cfg.Providers.OpenAI.CostPer1KTokens,
			)
			summary, err := idx.Sync(ctx, *project)
			if err != nil {
				return err
			}
			fmt.Printf("indexed %d files (%d skipped, %d failed), %d chunks, %d tokens, $%.6f\n",
				summary.FilesIndexed, summary.FilesSkipped, summary.FilesFailed,
				summary.ChunksStored, summary.Tokens, summary.Cost)
			for _, e := range summary.CrawlErrors {
				fmt.Printf("  crawl: %s: %s\n", e.Path, e.Err)
			}
			for _, f := range summary.Failures {
				fmt.Printf("  chunk: %s#%d: %s\n", f.FilePath, f.ChunkIndex, f.Err)
			}
			return nil
		},
	}
	sync.Flags().StringVar(&projectID, "project", "", "project id")
	sync.Flags().StringVar(&userID, "user", "", "owning user id")
	sync.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return sync
}
