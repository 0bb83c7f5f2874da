//go:build ignore

// Package main generates a synthetic chunk corpus for benchmarking builds
// and searches.
// Usage: go run scripts/generate-test-corpus.go -chunks 10000 -output testdata/bench/chunks.jsonl
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numChunks  = flag.Int("chunks", 10000, "Number of chunks to generate")
	perPage    = flag.Int("per-page", 8, "Chunks per source page")
	chunkWords = flag.Int("words", 120, "Approximate words per chunk")
	output     = flag.String("output", "testdata/bench/chunks.jsonl", "Output JSONL file")
	seed       = flag.Int64("seed", 42, "Random seed for reproducibility")
)

// chunk mirrors the build input record.
type chunk struct {
	ChunkID   string `json:"chunk_id"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	StartWord int    `json:"start_word"`
	EndWord   int    `json:"end_word"`
}

var (
	nouns = []string{
		"connection", "pool", "cache", "index", "replica",
		"shard", "token", "session", "queue", "worker",
		"embedding", "vector", "document", "corpus", "manifest",
		"snapshot", "request", "response", "deadline", "retry",
	}
	adjectives = []string{
		"idle", "stale", "bounded", "concurrent", "durable",
		"sparse", "dense", "approximate", "exact", "weighted",
	}
	verbs = []string{
		"configure", "evict", "rebuild", "merge", "rank",
		"tokenize", "normalize", "flush", "replicate", "throttle",
	}
	domains = []string{
		"postgres", "kubernetes", "search", "caching", "messaging",
		"scheduling", "observability", "storage", "networking", "auth",
	}
)

func pick(rng *rand.Rand, pool []string) string {
	return pool[rng.Intn(len(pool))]
}

// sentence returns a short sentence drawn from the word pools.
func sentence(rng *rand.Rand) string {
	return fmt.Sprintf("%s the %s %s before the %s %s %s.",
		strings.ToUpper(pick(rng, verbs)[:1])+pick(rng, verbs)[1:],
		pick(rng, adjectives), pick(rng, nouns),
		pick(rng, domains), pick(rng, nouns), pick(rng, verbs))
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(filepath.Dir(*output), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}
	f, err := os.Create(*output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", *output, err)
		os.Exit(1)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)

	fmt.Printf("Generating %d chunks in %s...\n", *numChunks, *output)

	offset := 0
	for i := 0; i < *numChunks; i++ {
		page := i / *perPage
		if i%*perPage == 0 {
			offset = 0
		}

		var b strings.Builder
		for b.Len() < *chunkWords*7 {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(sentence(rng))
		}
		text := b.String()
		words := len(strings.Fields(text))

		domain := domains[page%len(domains)]
		c := chunk{
			ChunkID:   fmt.Sprintf("%s-%06d-%02d", domain, page, i%*perPage),
			URL:       fmt.Sprintf("https://docs.example/%s/page-%d", domain, page),
			Title:     fmt.Sprintf("%s guide, part %d", domain, page),
			Text:      text,
			StartWord: offset,
			EndWord:   offset + words,
		}
		offset += words

		if err := enc.Encode(c); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing chunk %d: %v\n", i, err)
			os.Exit(1)
		}
	}

	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Error flushing output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated %d chunks successfully.\n", *numChunks)
}
