// Package main is the Kotae server entry point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/kotae-ai/kotae/internal/chunker"
	"github.com/kotae-ai/kotae/internal/config"
	"github.com/kotae-ai/kotae/internal/crawler"
	"github.com/kotae-ai/kotae/internal/embedding"
	"github.com/kotae-ai/kotae/internal/indexer"
	"github.com/kotae-ai/kotae/internal/retrieval"
	"github.com/kotae-ai/kotae/internal/server"
	"github.com/kotae-ai/kotae/internal/store"
	"github.com/kotae-ai/kotae/internal/tokenizer"
	"github.com/kotae-ai/kotae/internal/translate"
	"github.com/kotae-ai/kotae/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kotae/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used,
// so that "kotae server" from the project dir uses the project's config (including debug).
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ask":
		runAsk()
	case "version", "--version", "-v":
		fmt.Printf("kotae version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: kotae <command> [flags]

Commands:
  server    Start the answer server
  ask       Query a running server and print the answer
  version   Print version
  help      Print this help`)
}

// components holds everything the server needs, built once at startup.
type components struct {
	Registry   *store.Registry
	Indexer    *indexer.Indexer
	Engine     *retrieval.Engine
	Generator  *retrieval.Generator
	Tokenizer  tokenizer.Tokenizer
	Crawler    *crawler.Crawler
	Translator *translate.Client
	embedder   embedding.Embedder
}

func (c *components) Close() {
	if c.embedder != nil {
		_ = c.embedder.Close()
	}
	if c.Registry != nil {
		_ = c.Registry.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	var backend store.Backend
	if cfg.Store.DataDir == "" {
		backend = store.NewMemoryBackend()
	} else {
		b, err := store.NewChromemBackend(cfg.Store.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		backend = b
	}
	registry := store.NewRegistry(backend, logger)
	if err := registry.LoadExisting(context.Background()); err != nil {
		return nil, fmt.Errorf("load collections: %w", err)
	}

	var embedder embedding.Embedder = embedding.NewServiceEmbedder(
		cfg.Embedding.BaseURL,
		cfg.Embedding.APIKey,
		cfg.Embedding.Model,
		cfg.Embedding.Dimensions,
		logger,
	)
	if cfg.Embedding.CacheSize > 0 {
		embedder = embedding.NewCachedEmbedder(embedder, cfg.Embedding.CacheSize)
	}

	tok, err := tokenizer.NewBPETokenizer("")
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	idx := indexer.New(
		chunker.NewTokenChunker(tok, cfg.Chunking.MaxTokens, cfg.Chunking.OverlapLines),
		embedder,
		indexer.WithSentenceChunker(chunker.NewSentenceChunker(cfg.Chunking.MaxChars, logger)),
		indexer.WithLogger(logger),
	)
	engine := retrieval.NewEngine(registry, embedder,
		retrieval.WithTopK(cfg.Retrieval.TopK),
		retrieval.WithCannedThreshold(cfg.Retrieval.CannedThreshold),
		retrieval.WithLogger(logger),
	)
	generator := retrieval.NewGenerator(
		cfg.Completion.BaseURL,
		cfg.Completion.APIKey,
		cfg.Completion.Model,
		cfg.Completion.AnswerCacheSize,
		logger,
	)
	crawl := crawler.New(
		crawler.WithMaxDepth(cfg.Crawler.MaxDepth),
		crawler.WithMaxPages(cfg.Crawler.MaxPages),
		crawler.WithLogger(logger),
	)
	var translator *translate.Client
	if cfg.Translate.BaseURL != "" {
		translator = translate.NewClient(cfg.Translate.BaseURL,
			translate.WithSplitThreshold(cfg.Translate.SplitThreshold),
			translate.WithLogger(logger),
		)
	}

	return &components{
		Registry:   registry,
		Indexer:    idx,
		Engine:     engine,
		Generator:  generator,
		Tokenizer:  tok,
		Crawler:    crawl,
		Translator: translator,
		embedder:   embedder,
	}, nil
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	comps, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer comps.Close()

	srv := server.NewServer(
		comps.Registry,
		comps.Indexer,
		comps.Engine,
		comps.Generator,
		comps.Tokenizer,
		comps.Crawler,
		comps.Translator,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// buildAskQuery joins all positional args with spaces so multi-word questions
// work the same with or without shell quoting.
func buildAskQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// askArgsReorder moves any flags (and their values) that appear after the
// question to the front of the slice so that flag.Parse() sees them. Go's flag
// package stops at the first non-flag argument.
func askArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func printAskUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: kotae ask -collections <names> [flags] <question>\n\n")
	fmt.Fprintf(fs.Output(), "Question is all remaining arguments joined by spaces.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  kotae ask -collections acme_x1f3_docs how do I reset my password
  kotae ask -collections acme_x1f3_docs,acme_x1f3_faq -groups 3,5 "billing question"
`)
}

type askResponse struct {
	Answer  string `json:"answer"`
	Sources []struct {
		DocID      string  `json:"doc_id"`
		Title      string  `json:"title"`
		Collection string  `json:"collection"`
		Score      float64 `json:"score"`
	} `json:"sources"`
}

func runAsk() {
	askArgs := askArgsReorder(os.Args[2:])

	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	collections := fs.String("collections", "", "comma-separated collection names (required)")
	groups := fs.String("groups", "", "comma-separated security group numbers")
	topK := fs.Int("top-k", 0, "number of chunks to retrieve (0 = server default)")
	showSources := fs.Bool("sources", false, "print sources after the answer")
	fs.Usage = func() { printAskUsage(fs) }
	_ = fs.Parse(askArgs)

	query := buildAskQuery(fs.Args())
	if query == "" || *collections == "" {
		printAskUsage(fs)
		os.Exit(1)
	}

	resp, err := askViaHTTP(*serverURL, query, *collections, *groups, *topK)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(resp.Answer)
	if *showSources && len(resp.Sources) > 0 {
		fmt.Println()
		for _, s := range resp.Sources {
			name := s.Title
			if name == "" {
				name = s.DocID
			}
			fmt.Printf("  [%.3f] %s (%s)\n", s.Score, name, s.Collection)
		}
	}
}

func askViaHTTP(serverURL, query, collections, groups string, topK int) (*askResponse, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("collections", collections)
	if groups != "" {
		params.Set("groups", groups)
	}
	if topK > 0 {
		params.Set("top_k", fmt.Sprintf("%d", topK))
	}
	resp, err := http.Get(serverURL + "/v1/collections/answer?" + params.Encode())
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response askResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}
