// Package app wires configuration, the Genkit runtime, tools, storage,
// and the turn controller into a runnable application.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/pennaio/penna/db"
	"github.com/pennaio/penna/internal/archive"
	"github.com/pennaio/penna/internal/config"
	"github.com/pennaio/penna/internal/conversation"
	"github.com/pennaio/penna/internal/model"
	"github.com/pennaio/penna/internal/tools"
	"github.com/pennaio/penna/internal/turn"
)

// Options selects optional subsystems.
type Options struct {
	// WithDatabase enables migrations, the pgx pool, and the archive.
	// Off, conversations stay in memory only.
	WithDatabase bool
}

// App holds the wired application components.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Backend    *model.GenkitBackend
	Invoker    *tools.Invoker
	Controller *turn.Controller
	Registry   *conversation.Registry

	// Pool and Archive are nil when the database is disabled.
	Pool    *pgxpool.Pool
	Archive *archive.Store
}

// New wires the application. Call Close when done.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	g, err := initGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.ModelRateLimit), cfg.ModelRateBurst)

	// A plain backend, without tools, serves auxiliary completions
	// like the rewrite generation.
	completions := model.NewGenkitBackend(g, nil, limiter, logger)
	rewriter, err := tools.NewRewriter(completions, cfg.FullModelName(), cfg.StyleExemplarPath)
	if err != nil {
		return nil, fmt.Errorf("configure rewriter: %w", err)
	}
	rewriteTool, err := tools.NewRewriteTool(rewriter)
	if err != nil {
		return nil, fmt.Errorf("define rewrite tool: %w", err)
	}

	searchClient := tools.NewSearchClient(
		cfg.SearchEndpoint, cfg.SearchToken,
		time.Duration(cfg.SearchTimeoutMS)*time.Millisecond, logger)
	searchTool, err := tools.NewSearchTool(searchClient)
	if err != nil {
		return nil, fmt.Errorf("define search tool: %w", err)
	}

	invoker := tools.NewInvoker(logger, searchTool, rewriteTool)
	backend := model.NewGenkitBackend(g, invoker.RegisterGenkit(g), limiter, logger)

	app := &App{
		Config:   cfg,
		Logger:   logger,
		Backend:  backend,
		Invoker:  invoker,
		Registry: conversation.NewRegistry(),
	}

	var archiver turn.Archiver
	if opts.WithDatabase {
		pool, err := providePool(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		app.Pool = pool
		app.Archive = archive.NewStore(pool)
		archiver = archive.NewBridge(app.Archive, cfg.OwnerID, logger)
	}

	app.Controller = turn.New(backend, invoker, archiver, turn.Config{
		Model:  cfg.FullModelName(),
		System: SystemPrompt(cfg.CompanyName),
	}, logger)

	return app, nil
}

// Close releases held resources.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}

// SystemPrompt builds the assistant persona instruction.
func SystemPrompt(company string) string {
	return fmt.Sprintf(`You are a support article writer for a cloud communications company called %s.
You and the user work together to create support articles in the %s tone and style.
If the user requests searching similar KB or support articles, call the `+"`search`"+` tool to perform a nearest neighbor search over the corpus of support articles.
If the user asks to revise draft text into the house style, call the `+"`rewrite`"+` tool with the draft content.`, company, company)
}

func initGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		plugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g := genkit.Init(ctx, genkit.WithPlugins(plugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama models are not auto-discovered.
		plugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		logger.Info("initialized Genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)
		return g, nil

	default: // gemini
		g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)
		return g, nil
	}
}

// providePool runs migrations and opens the pgx pool.
func providePool(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresURL())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}
