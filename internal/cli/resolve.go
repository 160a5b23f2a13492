package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rsommer/numiscrawl/internal/service"
)

var (
	resolveOutputDir string
	resolveFinalDir  string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <auction-id>",
	Short: "Show how the next crawl would treat an auction",
	Long: `Resolve compares an auction's snapshot file with its database rows and
reports the verdict the crawler would act on: skip it, re-run embeddings,
or crawl the missing lots.

Examples:
  numiscrawl resolve 7543`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringVar(&resolveOutputDir, "output-dir", "", "directory for in-progress JSONL files (default from config)")
	resolveCmd.Flags().StringVar(&resolveFinalDir, "final-dir", "", "directory for final JSON snapshots (default from config)")
}

func runResolve(cmd *cobra.Command, args []string) error {
	auctionID := args[0]

	crawlOutputDir = resolveOutputDir
	crawlFinalDir = resolveFinalDir
	cp, err := newCheckpointStore()
	if err != nil {
		return err
	}

	resolver := service.NewResolver(dbClient, cp, logger)
	res := resolver.Resolve(context.Background(), auctionID)

	fmt.Printf("Auction %s: %s\n", auctionID, res.Reason)
	fmt.Printf("  Snapshot present: %v\n", res.HasFinal)
	fmt.Printf("  Snapshot lots:    %d\n", res.FileLotCount)
	fmt.Printf("  Database lots:    %d\n", res.DBLotCount)
	fmt.Printf("  Known lots:       %d\n", len(res.KnownLotNumbers))
	if res.IngestStatus != "" {
		fmt.Printf("  Ingest status:    %s\n", res.IngestStatus)
	}
	if missing := res.MissingLotNumbers(); len(missing) > 0 {
		fmt.Printf("  Missing from db:  %s\n", strings.Join(missing, ", "))
	}

	switch {
	case res.Complete && res.IngestStatus == service.FileStatusEmbeddingError:
		fmt.Println("Next crawl: re-run the embedding phase only.")
	case res.Complete:
		fmt.Println("Next crawl: skip.")
	default:
		fmt.Println("Next crawl: fetch missing lots and commit a fresh snapshot.")
	}
	return nil
}
