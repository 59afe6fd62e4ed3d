package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/scholarship-verification/internal/chat"
	"github.com/fpang/scholarship-verification/internal/config"
	"github.com/fpang/scholarship-verification/internal/pipeline"
	"github.com/fpang/scholarship-verification/internal/rag"
	"github.com/fpang/scholarship-verification/internal/records"
	"github.com/fpang/scholarship-verification/internal/store"
)

// App is the wired service graph. Optional parts are nil when their
// configuration is absent.
type App struct {
	Config       *config.Config
	Gemini       *chat.GeminiClient
	Groq         *chat.GroqClient
	Orchestrator *pipeline.Orchestrator
	Index        *rag.Index
	Quality      *chat.QualityChecker
	Jobs         store.JobStore
	Records      *records.Repository
	S3           *s3.Client
	Events       *rag.EventPublisher
	Lambda       *lambda.Client

	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// builder resolves the AWS config at most once, and only when a component
// needs it.
type builder struct {
	cfg    *config.Config
	app    *App
	awsCfg *aws.Config
}

func (b *builder) aws(ctx context.Context) (aws.Config, error) {
	if b.awsCfg != nil {
		return *b.awsCfg, nil
	}
	c, err := InitAWS(ctx, b.cfg.AWS.Region)
	if err != nil {
		return aws.Config{}, err
	}
	b.awsCfg = &c
	return c, nil
}

func (b *builder) onClose(name string, fn func() error) {
	b.app.closers = append(b.app.closers, namedCloser{name: name, close: fn})
}

// Build constructs the App. On error everything opened so far is closed.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	b := &builder{cfg: cfg, app: &App{Config: cfg}}
	if err := b.build(ctx); err != nil {
		if cerr := b.app.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Cleanup after failed build")
		}
		return nil, err
	}
	return b.app, nil
}

func (b *builder) build(ctx context.Context) error {
	if err := b.loadSecrets(ctx); err != nil {
		return err
	}
	if err := b.buildModels(ctx); err != nil {
		return err
	}
	if err := b.buildIndex(ctx); err != nil {
		return err
	}
	b.buildOrchestrator()
	if err := b.buildJobs(ctx); err != nil {
		return err
	}
	if err := b.buildRecords(); err != nil {
		return err
	}
	return b.buildAWSClients(ctx)
}

func (b *builder) loadSecrets(ctx context.Context) error {
	cfg := b.cfg
	needGemini := cfg.GeminiAPIKey == "" && cfg.GeminiKeyParam != ""
	needGroq := cfg.GroqAPIKey == "" && cfg.GroqKeyParam != ""
	if !needGemini && !needGroq {
		return nil
	}
	awsCfg, err := b.aws(ctx)
	if err != nil {
		return err
	}
	client := ssm.NewFromConfig(awsCfg)
	if cfg.GeminiAPIKey, err = LoadSecret(ctx, client, cfg.GeminiAPIKey, cfg.GeminiKeyParam); err != nil {
		return err
	}
	if cfg.GroqAPIKey, err = LoadSecret(ctx, client, cfg.GroqAPIKey, cfg.GroqKeyParam); err != nil {
		return err
	}
	return nil
}

func (b *builder) retry() chat.RetryPolicy {
	return chat.RetryPolicy{Attempts: b.cfg.Retry.Attempts, BaseDelay: b.cfg.Retry.BaseDelay}
}

func (b *builder) buildModels(ctx context.Context) error {
	gemini, err := chat.NewGeminiClient(ctx, b.cfg.GeminiAPIKey, b.cfg.GeminiModel, b.retry())
	switch {
	case errors.Is(err, chat.ErrUnavailable):
		log.Warn().Msg("GEMINI_API_KEY not set, multimodal stages will degrade")
	case err != nil:
		return fmt.Errorf("gemini client: %w", err)
	default:
		b.app.Gemini = gemini
	}
	b.app.Groq = chat.NewGroqClient(b.cfg.GroqAPIKey, b.cfg.GroqBaseURL, b.cfg.GroqModel, b.retry())
	return nil
}

// multimodal avoids handing a typed nil to an interface.
func (b *builder) multimodal() chat.Multimodal {
	if b.app.Gemini == nil {
		return nil
	}
	return b.app.Gemini
}

func (b *builder) embedder(ctx context.Context) (rag.Embedder, error) {
	switch b.cfg.RAG.Embedder {
	case config.EmbedderBedrock:
		awsCfg, err := b.aws(ctx)
		if err != nil {
			return nil, err
		}
		client := bedrockruntime.NewFromConfig(awsCfg)
		return rag.NewBedrockEmbedder(client, b.cfg.RAG.BedrockModel, b.cfg.RAG.EmbedDimensions), nil
	default:
		if b.app.Gemini == nil {
			return nil, nil
		}
		return rag.NewGeminiEmbedder(b.app.Gemini.Client(), b.cfg.EmbeddingModel), nil
	}
}

func (b *builder) vectorStore(ctx context.Context) (rag.VectorStore, error) {
	rc := b.cfg.RAG
	switch rc.Backend {
	case config.BackendMemory:
		return rag.NewMemoryStore(), nil
	case config.BackendPgvector:
		st, err := rag.OpenPgvectorStore(ctx, rc.DSN, rc.Collection)
		if err != nil {
			log.Error().Err(err).Msg("pgvector unreachable, retrieval disabled")
			return nil, nil
		}
		return st, nil
	case config.BackendDataAPI:
		awsCfg, err := b.aws(ctx)
		if err != nil {
			return nil, err
		}
		st := rag.NewDataAPIStore(rdsdata.NewFromConfig(awsCfg), rds.NewFromConfig(awsCfg),
			rc.ClusterARN, rc.SecretARN, rc.Database, rc.Collection)
		if err := st.EnsureAvailable(ctx); err != nil {
			log.Warn().Err(err).Msg("Aurora cluster not available yet")
		} else if err := st.EnsureSchema(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to ensure case table")
		}
		return st, nil
	default:
		st, err := rag.OpenSQLiteStore(ctx, rc.Path, rc.Collection)
		if err != nil {
			log.Error().Err(err).Str("path", rc.Path).Msg("Case index not writable, retrieval disabled")
			return nil, nil
		}
		return st, nil
	}
}

func (b *builder) buildIndex(ctx context.Context) error {
	rc := b.cfg.RAG
	opts := rag.IndexOptions{
		Enabled:    rc.Enabled,
		TopK:       rc.TopK,
		Collection: rc.Collection,
		Backend:    rc.Backend,
	}
	if !rc.Enabled {
		b.app.Index = rag.NewIndex(nil, nil, opts)
		return nil
	}

	emb, err := b.embedder(ctx)
	if err != nil {
		return err
	}
	if emb == nil {
		log.Warn().Msg("No embedder available, retrieval disabled")
		b.app.Index = rag.NewIndex(nil, nil, opts)
		return nil
	}
	st, err := b.vectorStore(ctx)
	if err != nil {
		return err
	}
	if st == nil {
		b.app.Index = rag.NewIndex(nil, nil, opts)
		return nil
	}
	b.app.Index = rag.NewIndex(st, emb, opts)
	b.onClose("case index", b.app.Index.Close)
	return nil
}

func (b *builder) buildOrchestrator() {
	mm := b.multimodal()
	var primary chat.TextCompleter
	if b.app.Groq.Configured() {
		primary = b.app.Groq
	}
	text := chat.NewTextBackend(primary, mm)

	var retriever pipeline.Retriever
	if b.app.Index.Enabled() {
		retriever = b.app.Index
	}

	b.app.Orchestrator = pipeline.New(pipeline.Stages{
		Translator:  chat.NewTranslator(text),
		Transcriber: chat.NewTranscriber(mm),
		Retriever:   retriever,
		Synthesizer: chat.NewDecisionSynthesizer(text),
		Visual:      chat.NewHouseAnalyzer(mm),
	}, pipeline.Options{
		TopK:             b.cfg.RAG.TopK,
		FilterByDistrict: b.cfg.RAG.FilterByDistrict,
		ConcurrentVisual: b.cfg.ConcurrentVisual,
	})
	b.app.Quality = chat.NewQualityChecker(mm)
}

func (b *builder) buildJobs(ctx context.Context) error {
	switch b.cfg.Jobs.Store {
	case config.JobStoreDynamo:
		awsCfg, err := b.aws(ctx)
		if err != nil {
			return err
		}
		b.app.Jobs = store.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), b.cfg.Jobs.Table)
	case config.JobStoreRedis:
		rdb, err := store.ConnectRedis(ctx, b.cfg.Jobs.RedisURL)
		if err != nil {
			return err
		}
		b.onClose("redis", rdb.Close)
		b.app.Jobs = store.NewRedisStore(rdb)
	default:
		b.app.Jobs = store.NewMemoryStore()
	}
	return nil
}

func (b *builder) buildRecords() error {
	if !b.cfg.Database.Enabled() {
		log.Warn().Msg("DB_HOST/DB_NAME not set, verification records are not persisted")
		return nil
	}
	repo, err := records.Open(b.cfg.Database)
	if err != nil {
		return err
	}
	b.app.Records = repo
	b.onClose("records database", repo.Close)
	return nil
}

func (b *builder) buildAWSClients(ctx context.Context) error {
	aw := b.cfg.AWS
	if aw.Bucket == "" && aw.EventBus == "" && aw.WorkerLambdaARN == "" {
		return nil
	}
	awsCfg, err := b.aws(ctx)
	if err != nil {
		return err
	}
	if aw.Bucket != "" {
		b.app.S3 = s3.NewFromConfig(awsCfg)
	}
	if aw.EventBus != "" {
		b.app.Events = rag.NewEventPublisher(eventbridge.NewFromConfig(awsCfg), aw.EventBus)
	}
	if aw.WorkerLambdaARN != "" {
		b.app.Lambda = lambda.NewFromConfig(awsCfg)
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// StartupLog describes the wired graph for the named binary.
func (a *App) StartupLog(name string, initStart time.Time) {
	cfg := a.Config
	sl := StartupLog(name, initStart).
		S3Bucket("evidence", cfg.AWS.Bucket).
		DynamoTable("jobs", cfg.Jobs.Table).
		SSMParam("geminiKey", cfg.GeminiKeyParam).
		SSMParam("groqKey", cfg.GroqKeyParam).
		LambdaFunc("worker", cfg.AWS.WorkerLambdaARN).
		Feature("rag", a.Index.Enabled()).
		Feature("gemini", a.Gemini != nil).
		Feature("groq", a.Groq.Configured()).
		Feature("records", a.Records != nil).
		Feature("events", a.Events != nil).
		Feature("concurrentVisual", cfg.ConcurrentVisual).
		Config("ragBackend", cfg.RAG.Backend).
		Config("ragEmbedder", cfg.RAG.Embedder).
		Config("jobStore", cfg.Jobs.Store).
		Config("geminiModel", cfg.GeminiModel)
	if a.Index.Enabled() {
		sl.Store("caseIndex", a.Index.Stats(context.Background()).Location)
	}
	sl.Log()
}
