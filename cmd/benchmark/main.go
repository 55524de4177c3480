package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"policyrag/config"
	"policyrag/internal/bootstrap"
	"policyrag/internal/domain"
)

func main() {
	dir := flag.String("dir", ".", "Directory holding policyrag.yaml and the saved index")
	query := flag.String("q", "", "Query to test")
	topK := flag.Int("k", 10, "Number of results")
	flag.Parse()

	if *query == "" {
		fmt.Println("Usage: go run ./cmd/benchmark -dir ./handbook -q \"query\"")
		fmt.Println("\nTests:")
		fmt.Println("  1. Embedding infrastructure (model connection, saved index)")
		fmt.Println("  2. Semantic similarity (query vs results)")
		fmt.Println("  3. Relevance gate (how many results pass retrieve.relevance_threshold)")
		os.Exit(1)
	}

	cfg, err := config.LoadFromDir(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	c, err := bootstrap.New(cfg, nil, bootstrap.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening index: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	if c.Index.Count() == 0 {
		fmt.Fprintln(os.Stderr, "No embeddings - run 'policyrag ingest' first")
		os.Exit(1)
	}

	stats := c.Index.Stats()
	fmt.Println("RETRIEVAL BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Entries indexed: %d (%d documents)\n", stats.Entries, stats.Documents)
	fmt.Printf("Model: %s (%s)\n", stats.Model, cfg.Embedding.Provider)
	fmt.Printf("Dimension: %d, metric: %s\n", stats.Dimension, stats.Metric)
	fmt.Println()

	fmt.Printf("Query: \"%s\"\n", *query)
	fmt.Println(strings.Repeat("-", 70))

	start := time.Now()
	queryVec, err := c.QueryEmbedder.Embed(context.Background(), []string{*query})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Embedding error: %v\n", err)
		os.Exit(1)
	}
	embedTook := time.Since(start)
	fmt.Printf("Query embedded: %d dimensions in %s\n\n", len(queryVec[0]), embedTook.Round(time.Millisecond))

	start = time.Now()
	results, err := c.Index.Search(queryVec[0], *topK)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search error: %v\n", err)
		os.Exit(1)
	}
	searchTook := time.Since(start)

	fmt.Printf("Top %d matches:\n\n", len(results))

	threshold := cfg.Retrieve.RelevanceThreshold
	passing := 0
	totalScore := 0.0
	for i, r := range results {
		preview := r.Entry.Text
		if len(preview) > 150 {
			preview = preview[:150] + "..."
		}
		preview = strings.ReplaceAll(preview, "\n", " ")

		totalScore += r.Score
		pass := passes(stats.Metric, r.Score, threshold)
		if pass {
			passing++
		}

		gate := "    "
		if pass {
			gate = "PASS"
		}
		fmt.Printf("%d. [%s %s %.3f] %s\n", i+1, gate, rating(stats.Metric, r.Score), r.Score, r.Entry.ChunkID)
		fmt.Printf("   %s\n\n", preview)
	}

	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("QUALITY METRICS:\n")
	if len(results) > 0 {
		fmt.Printf("  Average score:   %.3f\n", totalScore/float64(len(results)))
		fmt.Printf("  Top-1 score:     %.3f\n", results[0].Score)
	}
	fmt.Printf("  Passing gate:    %d of %d (threshold %.2f)\n", passing, len(results), threshold)
	fmt.Printf("  Search latency:  %s\n", searchTook.Round(time.Microsecond))

	if passing == 0 {
		fmt.Println("  Status: FALLBACK - this question would get the fallback answer")
	} else {
		fmt.Println("  Status: ANSWERED - relevant policy context found")
	}
}

func passes(metric domain.Metric, score, threshold float64) bool {
	if metric.HigherIsBetter() {
		return score >= threshold
	}
	return score <= threshold
}

func rating(metric domain.Metric, score float64) string {
	if !metric.HigherIsBetter() {
		// l2 distance between unit vectors: 0 is identical, 2 is opposite
		score = 1 - score*score/2
	}
	switch {
	case score > 0.7:
		return "HIGH"
	case score > 0.5:
		return "GOOD"
	case score > 0.3:
		return "OK"
	default:
		return "LOW"
	}
}
