package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/azyu/talemind/internal/llm"
	"github.com/azyu/talemind/internal/llm/adapters"
	"github.com/azyu/talemind/internal/logging"
	"github.com/azyu/talemind/internal/narrator"
	"github.com/azyu/talemind/internal/session"
	"github.com/azyu/talemind/internal/storage"
	"github.com/azyu/talemind/internal/task"
	"github.com/azyu/talemind/internal/token"
	"github.com/azyu/talemind/pkg/types"
)

// DefaultLocalBaseURL is the OpenAI-compatible endpoint of a local Ollama.
const DefaultLocalBaseURL = "http://localhost:11434/v1"

// ProviderFactory builds the provider for a model. It is replaceable in tests.
type ProviderFactory func(ctx context.Context, model string) (llm.Provider, error)

// App represents the main application instance.
type App struct {
	Config  *ConfigManager
	Global  *types.GlobalConfig
	DB      *storage.SQLiteDB
	Counter token.Counter

	// NewProvider defaults to the configured provider's adapter.
	NewProvider ProviderFactory

	sessions *session.Cache[int64, *openGame]
}

// openGame is a cached session together with the provider it streams from.
type openGame struct {
	*session.Session
	provider llm.Provider
	illus    *task.Illustrations
}

func (g *openGame) Close() error {
	err := g.Session.Close()
	if g.illus != nil {
		g.illus.Close()
	}
	return errors.Join(err, g.provider.Close())
}

// New creates an application from the user's configuration.
func New() (*App, error) {
	configManager, err := NewConfigManager()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}
	return NewWithConfig(configManager)
}

// NewWithConfig creates an application from configManager. It initializes
// logging and opens the database.
func NewWithConfig(configManager *ConfigManager) (*App, error) {
	global, err := configManager.LoadGlobalConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load global config: %w", err)
	}
	logging.Init(global.Logging.Level, global.Logging.Format)

	dbPath, err := configManager.DBPath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := storage.NewSQLiteDB(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &App{
		Config:   configManager,
		Global:   global,
		DB:       db,
		Counter:  token.NewCounter(global.Engine.Tokenizer),
		sessions: session.NewCache[int64, *openGame](),
	}
	a.NewProvider = a.configuredProvider
	return a, nil
}

// ProviderName returns the default provider's name.
func (a *App) ProviderName() string {
	return a.Global.Defaults.Provider
}

// DefaultModel returns the default provider's model, if configured.
func (a *App) DefaultModel() string {
	if p, ok := a.Global.Providers[a.ProviderName()]; ok {
		return p.DefaultModel
	}
	return ""
}

func (a *App) configuredProvider(ctx context.Context, model string) (llm.Provider, error) {
	name := a.ProviderName()
	cfg, err := a.Config.GetProviderConfig(name)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = cfg.DefaultModel
	}

	switch name {
	case "openai":
		var opts []adapters.OpenAIOption
		if cfg.BaseURL != "" {
			opts = append(opts, adapters.WithOpenAIBaseURL(cfg.BaseURL))
		}
		return adapters.NewOpenAIAdapter(cfg.APIKey, model, opts...)
	case "local":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = DefaultLocalBaseURL
		}
		return adapters.NewOpenAIAdapter(cfg.APIKey, model, adapters.WithOpenAIBaseURL(baseURL))
	case "gemini":
		var opts []adapters.GeminiAdapterOption
		if cfg.BaseURL != "" {
			opts = append(opts, adapters.WithGeminiBaseURL(cfg.BaseURL))
		}
		return adapters.NewGeminiAdapter(ctx, cfg.APIKey, model, opts...)
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrProviderNotFound, name)
	}
}

// NarratorConfig returns the assembly configuration for model.
func (a *App) NarratorConfig(model string) narrator.Config {
	e := a.Global.Engine
	return narrator.Config{
		Model:           model,
		ContextLimit:    e.ContextLimit,
		ResponseReserve: e.ResponseReserve,
		PlotMemory:      e.PlotMemory,
		Counter:         a.Counter,
		MaxTokens:       e.ResponseReserve,
	}
}

// OpenSession returns the cached session for a game, opening it on first use.
func (a *App) OpenSession(ctx context.Context, gameID int64) (*session.Session, error) {
	g, err := a.sessions.GetOrLoad(gameID, func() (*openGame, error) {
		return a.open(ctx, gameID)
	})
	if err != nil {
		return nil, err
	}
	return g.Session, nil
}

func (a *App) open(ctx context.Context, gameID int64) (*openGame, error) {
	game, err := a.DB.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	model := game.Model
	if model == "" {
		model = a.DefaultModel()
	}
	provider, err := a.NewProvider(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize provider: %w", err)
	}

	cfg := a.NarratorConfig(model)
	var illus *task.Illustrations
	if images, ok := provider.(imageGenerator); ok {
		illus = task.NewIllustrations(illustrator{images}, task.Timeouts{
			Default:    a.Global.Engine.IllustrationTimeout,
			High:       a.Global.Engine.IllustrationTimeoutHigh,
			HighModels: task.DefaultHighCapabilityModels,
		})
	}

	ctx = logging.WithContext(ctx, logging.GameIDKey, gameID)
	sess, err := session.Open(ctx, gameID, a.DB, narrator.NewProviderGenerator(provider, a.DB, cfg), illus, session.Config{
		GracePeriod:       a.Global.Engine.GracePeriod,
		Narrator:          cfg,
		IllustrationModel: a.Global.Engine.IllustrationModel,
	})
	if err != nil {
		if illus != nil {
			illus.Close()
		}
		return nil, errors.Join(err, provider.Close())
	}
	logging.FromContext(ctx).Debug("session opened", "model", model, "illustrations", illus != nil)
	return &openGame{Session: sess, provider: provider, illus: illus}, nil
}

// Inspect opens an uncached session that can read the game, edit cards and
// undo turns, but not generate. The caller closes it.
func (a *App) Inspect(ctx context.Context, gameID int64) (*session.Session, error) {
	return session.Open(ctx, gameID, a.DB, nil, nil, session.Config{
		GracePeriod: a.Global.Engine.GracePeriod,
		Narrator:    a.NarratorConfig(a.DefaultModel()),
	})
}

// CloseSession closes and forgets a game's session.
func (a *App) CloseSession(gameID int64) error {
	return a.sessions.Evict(gameID)
}

// Close closes every session and the database.
func (a *App) Close() error {
	return errors.Join(a.sessions.Close(), a.DB.Close())
}

type imageGenerator interface {
	GenerateImage(ctx context.Context, model, prompt string) (string, error)
}

// illustrator adapts a provider's image endpoint to the illustration tasks.
type illustrator struct {
	gen imageGenerator
}

func (i illustrator) Illustrate(ctx context.Context, req task.IllustrationRequest) (string, error) {
	return i.gen.GenerateImage(ctx, req.Model, req.Prompt)
}
