package cli

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"policyrag/internal/adapter/fs"
	"policyrag/internal/adapter/store"
	"policyrag/internal/bootstrap"
	"policyrag/internal/domain"
)

var ingestRebuild bool

var ingestCmd = &cobra.Command{
	Use:   "ingest [path...]",
	Short: "Index policy documents",
	Long: `Chunk, embed and index the plain-text policy files under each path.
Files are selected with index.includes and index.excludes. Re-ingesting a
file replaces its previous chunks. The index is saved to index.path.

Examples:
  policyrag ingest                  # Index the working directory
  policyrag ingest ./policies       # Index a directory
  policyrag ingest --rebuild .      # Drop the saved index first`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().BoolVar(&ingestRebuild, "rebuild", false, "discard the saved index before ingesting")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	paths := args
	if len(paths) == 0 {
		paths = []string{GetRootDir()}
	}

	walker := fs.NewWalker(cfg.Index.Includes, cfg.Index.Excludes)
	var docs []domain.Document
	for _, p := range paths {
		fmt.Printf("Scanning %s...\n", p)
		files, err := walker.Walk(p)
		if err != nil {
			return fmt.Errorf("failed to scan %s: %w", p, err)
		}
		for _, f := range files {
			doc, err := fs.ReadDocument(f)
			if err != nil {
				log.Warn("skipping file", zap.String("path", f.Path), zap.Error(err))
				continue
			}
			docs = append(docs, doc)
		}
	}
	if len(docs) == 0 {
		fmt.Println("No policy files found.")
		return nil
	}

	if ingestRebuild {
		for _, p := range []string{store.VectorPath(cfg.Index.Path), store.MetadataPath(cfg.Index.Path)} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove %s: %w", p, err)
			}
		}
	}

	progress := newIngestProgress()
	a, err := bootstrap.New(cfg, log, bootstrap.Options{OnProgress: progress.update})
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.Ingest.Ingest(context.Background(), docs)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	progress.finish()

	fmt.Printf("\nIngest complete:\n")
	fmt.Printf("  Documents:      %d\n", result.Documents)
	fmt.Printf("  Chunks created: %d\n", result.ChunksCreated)
	fmt.Printf("  Index entries:  %d\n", a.Index.Count())
	fmt.Printf("  Took:           %s\n", formatDuration(result.Duration))
	fmt.Printf("\nIndex stored at: %s\n", store.VectorPath(cfg.Index.Path))
	return nil
}

// ingestProgress draws a progress bar over embedded chunks. The bar is
// created on the first callback, once the total is known.
type ingestProgress struct {
	mu    sync.Mutex
	bar   *progressbar.ProgressBar
	start time.Time
	last  int
}

func newIngestProgress() *ingestProgress {
	return &ingestProgress{}
}

func (p *ingestProgress) update(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil {
		p.start = time.Now()
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowBytes(false),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetDescription("[cyan]Embedding[reset]"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}

	// batches finish out of order; never move the bar backwards
	if done <= p.last {
		return
	}
	p.last = done
	_ = p.bar.Set(done)

	elapsed := time.Since(p.start)
	if rate := float64(done) / elapsed.Seconds(); rate > 0 {
		eta := time.Duration(float64(total-done)/rate) * time.Second
		p.bar.Describe(fmt.Sprintf("[cyan]Embedding[reset] ETA: %s", formatDuration(eta)))
	}
}

func (p *ingestProgress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
		fmt.Println()
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
