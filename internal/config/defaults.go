package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1536
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Completion.Model == "" {
		cfg.Completion.Model = "gpt-4o-mini"
	}
	if cfg.Completion.AnswerCacheSize == 0 {
		cfg.Completion.AnswerCacheSize = 256
	}
	if cfg.Chunking.MaxTokens == 0 {
		cfg.Chunking.MaxTokens = 512
	}
	if cfg.Chunking.OverlapLines == 0 {
		cfg.Chunking.OverlapLines = 1
	}
	if cfg.Chunking.MaxChars == 0 {
		cfg.Chunking.MaxChars = 2000
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.MaxContextTokens == 0 {
		cfg.Retrieval.MaxContextTokens = 3000
	}
	if cfg.Retrieval.CannedThreshold == 0 {
		cfg.Retrieval.CannedThreshold = 0.92
	}
	if cfg.Crawler.MaxDepth == 0 {
		cfg.Crawler.MaxDepth = 2
	}
	if cfg.Crawler.MaxPages == 0 {
		cfg.Crawler.MaxPages = 50
	}
	if cfg.Translate.SplitThreshold == 0 {
		cfg.Translate.SplitThreshold = 4000
	}
}
