package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rsommer/numiscrawl/internal/embedding"
	"github.com/rsommer/numiscrawl/internal/service"
)

var (
	ingestFinalDir string
	ingestNoEmbed  bool
	ingestForce    bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [auction-id...]",
	Short: "Ingest final snapshot files into the database",
	Long: `Ingest committed final snapshots into the database without crawling.

Without arguments every snapshot in the final directory is processed.
Snapshots whose uploaded_files status is already Completed are skipped
unless --force is given; the relational phase is idempotent either way.

Examples:
  numiscrawl ingest
  numiscrawl ingest 7543
  numiscrawl ingest --no-embed
  numiscrawl ingest 7543 --force`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFinalDir, "final-dir", "", "directory holding final JSON snapshots (default from config)")
	ingestCmd.Flags().BoolVar(&ingestNoEmbed, "no-embed", false, "skip the embedding phase")
	ingestCmd.Flags().BoolVarP(&ingestForce, "force", "f", false, "re-ingest snapshots already marked Completed")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	crawlFinalDir = ingestFinalDir
	cp, err := newCheckpointStore()
	if err != nil {
		return err
	}

	auctionIDs := args
	if len(auctionIDs) == 0 {
		auctionIDs, err = cp.FinalAuctionIDs()
		if err != nil {
			return fmt.Errorf("scan final directory: %w", err)
		}
	}
	if len(auctionIDs) == 0 {
		fmt.Println("No snapshot files found.")
		return nil
	}

	var embedder embedding.Embedder
	if !ingestNoEmbed {
		embedder, err = embedding.New(embedding.Config{
			Provider:     embedding.ProviderType(cfg.EmbedProvider),
			Model:        cfg.EmbedModel,
			Dimension:    cfg.EmbedDim,
			OpenAIAPIKey: cfg.OpenAIAPIKey,
			OllamaHost:   cfg.OllamaHost,
		})
		if err != nil {
			return fmt.Errorf("init embedder: %w", err)
		}
	}

	ingest := service.NewIngestService(dbClient, embedder, logger)

	failures := 0
	for _, auctionID := range auctionIDs {
		filePath := cp.FinalPath(auctionID)

		if !ingestForce {
			status, err := dbClient.FileStatus(ctx, filepath.Base(filePath))
			if err == nil && status == service.FileStatusCompleted {
				fmt.Printf("%s: already completed, skipping\n", auctionID)
				continue
			}
		}

		snap, err := cp.LoadFinal(auctionID)
		if err != nil {
			fmt.Printf("%s: unreadable snapshot: %v\n", auctionID, err)
			failures++
			continue
		}

		result, err := ingest.ProcessSnapshot(ctx, snap, filePath)
		if err != nil {
			fmt.Printf("%s: ingest failed: %v\n", auctionID, err)
			failures++
			continue
		}
		fmt.Printf("%s: %d lots, %d embedded, %d embed errors (%s)\n",
			auctionID, result.LotsInserted, result.LotsEmbedded, result.EmbedErrors, result.Status)
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d snapshots failed", failures, len(auctionIDs))
	}
	return nil
}
