package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/askgeorge/askgeorge/engine/llm"
	"github.com/askgeorge/askgeorge/engine/rag"
	"github.com/askgeorge/askgeorge/engine/session"
)

// Config holds everything needed to assemble the answer pipeline.
type Config struct {
	OllamaURL    string
	EmbedModel   string
	EmbedTimeout time.Duration

	QdrantURL  string
	Collection string
	Distance   string

	ChunkDir       string
	ChunkCacheSize int
	Neo4jURL       string // empty disables the graph chunk source
	Neo4jUser      string
	Neo4jPass      string
	Neo4jDatabase  string

	Mode             string
	LLM              llm.Config
	ClassifierPreset string
	MaxTokens        int
	AllowList        bool
	Rerank           bool
	MalformedScores  string
	HistoryTurns     int
}

// FromEnv reads Config from the environment, falling back to local
// defaults for every key.
func FromEnv() Config {
	lc := llm.DefaultConfig()
	lc.OllamaURL = envOr("OLLAMA_URL", lc.OllamaURL)
	lc.OllamaModel = envOr("OLLAMA_MODEL", lc.OllamaModel)
	lc.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	lc.OpenAIModel = envOr("OPENAI_MODEL", lc.OpenAIModel)
	lc.AnthropicKey = os.Getenv("ANTHROPIC_API_KEY")
	lc.ClaudeModel = envOr("CLAUDE_MODEL", lc.ClaudeModel)
	lc.HFKey = os.Getenv("HUGGINGFACE_API_KEY")
	lc.HFModel = envOr("HUGGINGFACE_MODEL", lc.HFModel)
	lc.GeminiKey = os.Getenv("GOOGLE_GEMINI_API_KEY")
	lc.GeminiModel = envOr("GEMINI_MODEL", lc.GeminiModel)

	return Config{
		OllamaURL:        lc.OllamaURL,
		EmbedModel:       envOr("EMBED_MODEL", "nomic-embed-text"),
		EmbedTimeout:     30 * time.Second,
		QdrantURL:        envOr("QDRANT_URL", "localhost:6334"),
		Collection:       envOr("QDRANT_COLLECTION", "askgeorge_chunks"),
		Distance:         envOr("QDRANT_DISTANCE", "cosine"),
		ChunkDir:         envOr("CHUNK_DIR", "data/chunks"),
		ChunkCacheSize:   envInt("CHUNK_CACHE_SIZE", 1024),
		Neo4jURL:         os.Getenv("NEO4J_URL"),
		Neo4jUser:        envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:        envOr("NEO4J_PASS", "password"),
		Neo4jDatabase:    os.Getenv("NEO4J_DATABASE"),
		Mode:             strings.ToLower(envOr("LLM_MODE", string(llm.ModeOllama))),
		LLM:              lc,
		ClassifierPreset: envOr("RAG_CLASSIFIER_PRESET", "canonical"),
		MaxTokens:        envInt("RAG_MAX_TOKENS", rag.DefaultMaxTokens),
		AllowList:        envBool("RAG_ALLOW_LIST", false),
		Rerank:           envBool("RAG_RERANK", false),
		MalformedScores:  envOr("RAG_RERANK_MALFORMED", "last"),
		HistoryTurns:     envInt("HISTORY_TURNS", session.DefaultHistoryTurns),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func envBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}
