package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/sweetpotato0/crag/config"
	embedopenai "github.com/sweetpotato0/crag/contrib/embedder/openai"
	"github.com/sweetpotato0/crag/contrib/provider"
	"github.com/sweetpotato0/crag/contrib/tokenizer/tiktoken"
	"github.com/sweetpotato0/crag/contrib/vector/chromem"
	"github.com/sweetpotato0/crag/contrib/vector/pg"
	"github.com/sweetpotato0/crag/contrib/websearch/tavily"
	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/feedback"
	fbstore "github.com/sweetpotato0/crag/feedback/store"
	"github.com/sweetpotato0/crag/pkg/logging"
	"github.com/sweetpotato0/crag/pkg/telemetry"
	"github.com/sweetpotato0/crag/rag/orchestrator"
	"github.com/sweetpotato0/crag/session"
	sessionstore "github.com/sweetpotato0/crag/session/store"
	"github.com/sweetpotato0/crag/vector"
)

const serviceName = "crag"

// app holds the wired engine and everything that must be closed on exit.
type app struct {
	cfg      *config.Config
	engine   *orchestrator.Orchestrator
	feedback *feedback.Service
	closers  []func(context.Context) error
	logger   *slog.Logger
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown step failed", "error", err)
		}
	}
}

// build wires every collaborator selected by cfg.
func build(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logging.WithComponent("main")}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Telemetry.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		SampleRatio: cfg.Telemetry.SampleRatio,
		Disable:     !cfg.Telemetry.Enabled,
	})
	if err != nil {
		return nil, errorskg.Wrap(errorskg.KindConfiguration, "telemetry", err)
	}
	a.onClose(shutdown)

	client, err := provider.New(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	if c, ok := client.(io.Closer); ok {
		a.onClose(func(context.Context) error { return c.Close() })
	}

	index, err := a.index(ctx)
	if err != nil {
		return nil, err
	}

	sessions, err := a.sessions(ctx)
	if err != nil {
		return nil, err
	}

	fb, err := a.feedbackStore(ctx)
	if err != nil {
		return nil, err
	}
	a.feedback = feedback.NewService(fb)

	deps := orchestrator.Deps{LLM: client, Index: index, Sessions: sessions}
	opts := []orchestrator.Option{
		orchestrator.WithSessionTTL(cfg.Session.TTL),
		orchestrator.WithLockWait(cfg.Session.LockWait),
	}
	if cfg.WebSearch.Enabled {
		deps.Web = tavily.New(cfg.WebSearch.APIKey,
			tavily.WithBaseURL(cfg.WebSearch.BaseURL),
			tavily.WithSearchDepth(cfg.WebSearch.SearchDepth))
		opts = append(opts, orchestrator.WithWebResults(cfg.WebSearch.MaxResults))
	}
	if tok, err := tokenizerFor(cfg.LLM.Model); err == nil {
		opts = append(opts, orchestrator.WithTokenizer(tok))
	} else {
		a.logger.Debug("no BPE encoding for model, using the approximate tokenizer", "model", cfg.LLM.Model)
	}

	a.engine, err = orchestrator.New(cfg.Engine, deps, opts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func tokenizerFor(model string) (*tiktoken.Tokenizer, error) {
	if tok, err := tiktoken.New(model); err == nil {
		return tok, nil
	}
	return tiktoken.New("cl100k_base")
}

func (a *app) embedder() vector.Embedder {
	e := a.cfg.Embedding
	if e.APIKey == "" {
		a.logger.Warn("embedding.api_key not set, using the local hash embedder")
		return vector.NewHashEmbedder(e.Dimension)
	}
	return embedopenai.New(e.APIKey, e.BaseURL, e.Model, e.Dimension)
}

func (a *app) index(ctx context.Context) (vector.Index, error) {
	switch a.cfg.Index.Backend {
	case config.BackendPostgres:
		ix, err := pg.New(ctx, a.cfg.Index.Postgres, a.embedder())
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return ix.Close() })
		return ix, nil
	default:
		ix, err := chromem.New(a.embedder())
		if err != nil {
			return nil, errorskg.Wrap(errorskg.KindConfiguration, "index", err)
		}
		if path := a.cfg.Index.SeedFile; path != "" {
			n, err := ix.LoadFile(ctx, path)
			if err != nil {
				return nil, err
			}
			a.logger.Info("document index seeded", "file", path, "documents", n)
		}
		return ix, nil
	}
}

func (a *app) sessions(ctx context.Context) (session.Store, error) {
	if a.cfg.Session.Backend != config.BackendRedis {
		return nil, nil
	}
	r := a.cfg.Session.Redis
	s := sessionstore.NewRedisStore(&sessionstore.RedisConfig{
		Addr:     r.Addr,
		Password: r.Password,
		DB:       r.DB,
		Prefix:   r.Prefix,
		LockTTL:  a.cfg.Session.LockTTL,
	})
	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, errorskg.Wrap(errorskg.KindConfiguration, "session", fmt.Errorf("redis %s: %w", r.Addr, err))
	}
	a.onClose(func(context.Context) error { return s.Close() })
	return s, nil
}

func (a *app) feedbackStore(ctx context.Context) (feedback.Store, error) {
	if a.cfg.Feedback.Backend != config.BackendMongo {
		return fbstore.NewInMemoryStore(), nil
	}
	s, err := fbstore.NewMongoStore(ctx, a.cfg.Feedback.Mongo)
	if err != nil {
		return nil, err
	}
	a.onClose(s.Close)
	return s, nil
}
