package bootstrap

import (
	"context"

	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"maskfill/app/internal/config"
	"maskfill/app/internal/db"
	apphttp "maskfill/app/internal/http"
	"maskfill/app/internal/maskedlm"
	"maskfill/app/internal/suggestion"
)

type Dependencies struct {
	Config    *config.Config
	Logger    *logrus.Logger
	SentryHub *sentry.Hub
	Version   string
}

type Result struct {
	Suggestions suggestion.Service
	Model       *maskedlm.Model
	HTTPServer  *apphttp.Server
	Database    *gorm.DB
	Cleanup     func() error
}

// OpenDatabase builds the connection pool for the configured driver.
func OpenDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	database, err := db.Open(db.Options{
		Driver:   cfg.Driver,
		Path:     cfg.Path,
		Name:     cfg.Name,
		User:     cfg.User,
		Password: cfg.Password,
		Host:     cfg.Host,
		Port:     cfg.Port,
		SSLMode:  cfg.SSLMode,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "opening %s database", cfg.Driver)
	}
	return database, nil
}

// Build composes the maskfill application layers and returns the constructed components.
// The model server must be reachable: its tokenizer metadata is resolved here, once.
func Build(ctx context.Context, deps Dependencies) (Result, error) {
	if deps.Config == nil {
		return Result{}, eris.New("configuration is required")
	}
	cfg := deps.Config

	database, err := OpenDatabase(cfg.DB)
	if err != nil {
		return Result{}, err
	}

	var model *maskedlm.Model

	closeOnError := func(wrapper error) (Result, error) {
		model.Close()
		if closeErr := db.Close(database); closeErr != nil && deps.Logger != nil {
			deps.Logger.WithError(closeErr).Error("closing database after bootstrap failure")
		}
		return Result{}, wrapper
	}

	// The store may be down at boot; requests report it per call instead.
	if err := suggestion.Migrate(ctx, database, deps.Logger); err != nil && deps.Logger != nil {
		deps.Logger.WithError(err).Warn("storing schema not applied, run the migrate command once the database is reachable")
	}

	store, err := suggestion.NewStore(database, deps.Logger)
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating suggestion store"))
	}

	client, err := maskedlm.NewClient(maskedlm.ClientOptions{
		BaseURL: cfg.Model.Endpoint,
		APIKey:  cfg.Model.APIKey,
		Timeout: cfg.Model.Timeout,
		Logger:  deps.Logger,
	})
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating model client"))
	}

	model, err = maskedlm.Load(ctx, maskedlm.ModelOptions{
		Client:        client,
		Name:          cfg.Model.Name,
		TokenCacheTTL: cfg.Model.TokenCacheTTL,
	})
	if err != nil {
		return closeOnError(eris.Wrap(err, "loading masked-language model"))
	}

	if deps.Logger != nil {
		info := model.Info()
		deps.Logger.WithFields(logrus.Fields{
			"model":         cfg.Model.Name,
			"endpoint":      client.BaseURL(),
			"mask_token":    info.MaskToken,
			"mask_token_id": info.MaskTokenID,
			"vocab_size":    info.VocabSize,
		}).Info("masked-language model ready")
	}

	service, err := suggestion.NewService(model, store, deps.Logger, deps.SentryHub)
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating suggestion service"))
	}

	httpServer, err := apphttp.NewServer(apphttp.Options{
		Suggestions: service,
		Gateway:     model,
		Database:    database,
		Logger:      deps.Logger,
		SentryHub:   deps.SentryHub,
		Version:     deps.Version,
		RateLimiter: apphttp.RateLimiterSettings{
			Burst:             cfg.RateLimit.Burst,
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			ClientTTL:         cfg.RateLimit.ClientTTL,
		},
	})
	if err != nil {
		return closeOnError(eris.Wrap(err, "initialising http server"))
	}

	cleanup := func() error {
		httpServer.Close()
		model.Close()
		return db.Close(database)
	}

	return Result{
		Suggestions: service,
		Model:       model,
		HTTPServer:  httpServer,
		Database:    database,
		Cleanup:     cleanup,
	}, nil
}
