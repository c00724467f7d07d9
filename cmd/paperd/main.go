// Command paperd serves the paper ingestion and retrieval HTTP API: PDF
// upload and ingestion, hybrid retrieval, and citation-backed question
// answering over a per-document chat session.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"paperrag/internal/answer"
	"paperrag/internal/cancelgate"
	"paperrag/internal/chatstore"
	"paperrag/internal/chunker"
	"paperrag/internal/chunkstore"
	"paperrag/internal/config"
	"paperrag/internal/embedder"
	"paperrag/internal/httpapi"
	"paperrag/internal/ingestqueue"
	"paperrag/internal/keywordindex"
	"paperrag/internal/llm/providers"
	"paperrag/internal/objectstore"
	"paperrag/internal/observability"
	"paperrag/internal/status"
	"paperrag/internal/vectorindex"
)

func main() {
	configPath := os.Getenv("PAPERD_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "paperd: load config: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogPath, cfg.LogLevel)
	metrics := observability.NewOtelMetrics(cfg.Telemetry.ServiceName)
	_ = metrics

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := observability.NewHTTPClient(nil)

	objects, err := buildObjectStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build object store")
	}
	chunks, err := buildChunkStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build chunk store")
	}
	vectors, err := buildVectorIndex(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build vector index")
	}
	chat, err := buildChatStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build chat store")
	}
	defer chat.Close()

	emb := embedder.NewClient(cfg.Embedding, cfg.VectorIndex.Dimensions)
	keywords := keywordindex.NewMemoryIndex()
	gates := cancelgate.NewRegistry()
	broadcaster := status.NewBroadcaster()
	aggregator := status.NewAggregator(chunks, broadcaster)

	provider, err := providers.Build(cfg, httpClient)
	if err != nil {
		log.Fatal().Err(err).Msg("build llm provider")
	}

	queue := ingestqueue.NewQueue(ingestqueue.Deps{
		Objects:   objects,
		Chunks:    chunks,
		Vectors:   vectors,
		Keywords:  keywords,
		Embed:     emb,
		Chunk:     chunker.New(embedder.NewDeterministic(64, true, 1), chunker.Options{}),
		Gates:     gates,
		Publisher: aggregator,
	}, cfg.Ingestion.QueueCapacity)
	go queue.Run(ctx)

	orchestrator := answer.New(answer.Deps{
		Chat:        chat,
		Chunks:      chunks,
		Objects:     objects,
		Embedder:    emb,
		KeywordIdx:  keywords,
		VectorIdx:   vectors,
		Provider:    provider,
		Broadcaster: broadcaster,
		Model:       resolveModel(cfg),
	})

	server := httpapi.NewServer(httpapi.Deps{
		Objects:     objects,
		Chunks:      chunks,
		Chat:        chat,
		Queue:       queue,
		Gates:       gates,
		Broadcaster: broadcaster,
		Answer:      orchestrator,
		MaxUploadMB: cfg.Ingestion.MaxUploadMB,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{Addr: addr, Handler: server}

	go func() {
		log.Info().Str("addr", addr).Msg("paperd listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
		os.Exit(1)
	}
	log.Info().Msg("paperd stopped")
}

func resolveModel(cfg config.Config) string {
	switch cfg.LLM.Provider {
	case "anthropic":
		return cfg.LLM.Anthropic.Model
	case "google":
		return cfg.LLM.Google.Model
	default:
		return cfg.LLM.OpenAI.Model
	}
}

func buildObjectStore(ctx context.Context, cfg config.Config) (objectstore.ObjectStore, error) {
	if cfg.ObjectStore.Bucket == "" {
		log.Warn().Msg("no object store bucket configured; using in-memory object store")
		return objectstore.NewMemoryStore(), nil
	}
	return objectstore.NewS3Store(ctx, cfg.ObjectStore)
}

func buildChunkStore(ctx context.Context, cfg config.Config) (chunkstore.Store, error) {
	if cfg.ChunkStore.URI == "" {
		log.Warn().Msg("no mongo uri configured; using in-memory chunk store")
		return chunkstore.NewMemoryStore(), nil
	}
	return chunkstore.NewMongoStore(ctx, cfg.ChunkStore)
}

func buildVectorIndex(cfg config.Config) (vectorindex.Index, error) {
	if cfg.VectorIndex.Addr == "" {
		log.Warn().Msg("no qdrant addr configured; using in-memory vector index")
		return vectorindex.NewMemoryIndex(), nil
	}
	dsn := fmt.Sprintf("http://%s", cfg.VectorIndex.Addr)
	if cfg.VectorIndex.TLS {
		dsn = fmt.Sprintf("https://%s", cfg.VectorIndex.Addr)
	}
	if cfg.VectorIndex.APIKey != "" {
		dsn = fmt.Sprintf("%s?api_key=%s", dsn, cfg.VectorIndex.APIKey)
	}
	return vectorindex.NewQdrantVector(dsn, cfg.VectorIndex.Collection, cfg.VectorIndex.Dimensions, cfg.VectorIndex.Metric)
}

func buildChatStore(ctx context.Context, cfg config.Config) (chatstore.ChatStore, error) {
	if cfg.ChatStore.DSN == "" {
		log.Warn().Msg("no chat store dsn configured; using in-memory chat store")
		store := chatstore.NewMemoryChatStore()
		return store, store.Init(ctx)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.ChatStore.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse chat store dsn: %w", err)
	}
	if cfg.ChatStore.MaxConns > 0 {
		poolCfg.MaxConns = cfg.ChatStore.MaxConns
	}
	if cfg.ChatStore.MinConns > 0 {
		poolCfg.MinConns = cfg.ChatStore.MinConns
	}
	if cfg.ChatStore.MaxIdleMins > 0 {
		poolCfg.MaxConnIdleTime = time.Duration(cfg.ChatStore.MaxIdleMins) * time.Minute
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect chat store: %w", err)
	}
	store := chatstore.NewPostgresChatStore(pool)
	if err := store.Init(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init chat store: %w", err)
	}
	return store, nil
}
