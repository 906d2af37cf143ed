// Package app wires configuration into a ready Handler for both entry points.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"shop-assistant/handler"
	"shop-assistant/internal/catalog"
	"shop-assistant/internal/config"
	"shop-assistant/internal/conversation"
	"shop-assistant/internal/delivery"
	"shop-assistant/internal/integrations/openai"
	"shop-assistant/internal/integrations/paramstore"
	"shop-assistant/internal/integrations/twilio"
	"shop-assistant/internal/recommend"
	"shop-assistant/internal/repository"
	"shop-assistant/internal/session"
)

// App is the assembled service.
type App struct {
	Handler *handler.Handler

	closers []func() error
}

// Close releases backend resources.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// lazyAWS loads the AWS SDK config on first use so deployments without AWS
// backends never touch it.
type lazyAWS struct {
	ctx    context.Context
	loaded bool
	cfg    awsDefaults
	err    error
}

type awsDefaults struct {
	dynamo *awsdynamodb.Client
	ssm    *awsssm.Client
}

func (l *lazyAWS) get() (awsDefaults, error) {
	if !l.loaded {
		l.loaded = true
		cfg, err := awsconfig.LoadDefaultConfig(l.ctx)
		if err != nil {
			l.err = fmt.Errorf("app: load AWS config: %w", err)
		} else {
			l.cfg = awsDefaults{dynamo: awsdynamodb.NewFromConfig(cfg), ssm: awsssm.NewFromConfig(cfg)}
		}
	}
	return l.cfg, l.err
}

// New builds every collaborator cfg asks for.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{}
	clients := &lazyAWS{ctx: ctx}

	var params paramstore.Getter
	if cfg.ParamPrefix != "" {
		aws, err := clients.get()
		if err != nil {
			return nil, err
		}
		ps, err := paramstore.New(aws.ssm)
		if err != nil {
			return nil, fmt.Errorf("app: create SSM client: %w", err)
		}
		params = ps
	}

	messages, err := config.LoadMessages(cfg.MessagesFile)
	if err != nil {
		return nil, err
	}

	cat, variants, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		logger.Error("catalog unavailable, serving an empty catalog", "path", cfg.Catalog.Path, "err", err)
		cat = catalog.New(nil)
	} else {
		logger.Info("catalog loaded", "path", cfg.Catalog.Path, "products", cat.Len(), "variants", variants)
	}

	store, tracker, err := a.backends(cfg, clients)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	llmOpts := []openai.Option{}
	if cfg.OpenAI.APIKey != "" {
		llmOpts = append(llmOpts, openai.WithAPIKey(cfg.OpenAI.APIKey))
	}
	if cfg.OpenAI.BaseURL != "" {
		llmOpts = append(llmOpts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	llm, err := openai.NewClient(params, cfg.ParamPrefix, llmOpts...)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("app: create OpenAI client: %w", err)
	}
	recommender, err := recommend.NewService(llm,
		recommend.WithModel(cfg.OpenAI.Model),
		recommend.WithCatalogLimit(cfg.Catalog.Limit),
		recommend.WithStoreName(cfg.StoreName),
	)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	twilioOpts := []twilio.Option{twilio.WithFrom(cfg.WhatsApp.From), twilio.WithLogger(logger)}
	switch {
	case cfg.WhatsApp.AccountSID != "" && cfg.WhatsApp.AuthToken != "":
		twilioOpts = append(twilioOpts, twilio.WithCredentials(cfg.WhatsApp.AccountSID, cfg.WhatsApp.AuthToken))
	case params != nil:
		twilioOpts = append(twilioOpts, twilio.WithParamStore(params, cfg.TwilioParameter()))
	}
	if cfg.PublicBaseURL != "" {
		twilioOpts = append(twilioOpts, twilio.WithStatusCallback(cfg.PublicBaseURL+"/api/whatsapp/status"))
	}
	messenger := twilio.NewClient(twilioOpts...)
	if messenger.Demo() {
		logger.Warn("twilio credentials not configured, running in demo mode")
	}

	locks := session.NewLocks()
	common := []conversation.Option{
		conversation.WithMessages(messages),
		conversation.WithLogger(logger),
		conversation.WithLocks(locks),
	}
	if cfg.Turn.ModerationEnabled {
		common = append(common, conversation.WithModerator(recommender))
	}

	whatsapp, err := conversation.NewController(store, tracker, recommender, cat, cfg.ControllerConfig(), common...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	webCfg := cfg.ControllerConfig()
	webCfg.SendDelay = -1
	webCfg.TypingDelayMax = 0
	web, err := conversation.NewController(store, tracker, recommender, cat, webCfg, common...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	handlerOpts := []handler.Option{
		handler.WithLogger(logger),
		handler.WithVerifyToken(cfg.WhatsApp.VerifyToken),
		handler.WithIntegrations(handler.Integrations{
			OpenAIConfigured: cfg.OpenAI.APIKey != "" || cfg.ParamPrefix != "",
			WhatsAppNumber:   cfg.WhatsApp.From,
		}),
	}
	if cfg.WhatsApp.ValidateSignature {
		handlerOpts = append(handlerOpts, handler.WithSignatureValidation(cfg.PublicBaseURL))
	}
	h, err := handler.NewHandler(handler.Deps{
		WhatsApp:  whatsapp,
		Web:       web,
		Messenger: messenger,
		Tracker:   tracker,
		Catalog:   cat,
	}, handlerOpts...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Handler = h
	return a, nil
}

func (a *App) backends(cfg *config.Config, clients *lazyAWS) (session.Store, delivery.Tracker, error) {
	sc := cfg.Store
	switch sc.Backend {
	case config.BackendDynamoDB:
		aws, err := clients.get()
		if err != nil {
			return nil, nil, err
		}
		sessions, err := repository.NewDynamoSessions(aws.dynamo, sc.StateTable, sc.HistoryWindow, sc.SessionTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("app: create session store: %w", err)
		}
		deliveries, err := repository.NewDynamoDeliveries(aws.dynamo, sc.DeliveryTable, sc.DeliveryTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("app: create delivery tracker: %w", err)
		}
		return sessions, deliveries, nil

	case config.BackendSQLite:
		db, err := repository.OpenSQLite(sc.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, db.Close)
		return sqliteBackends(db, sc)

	default:
		store := session.NewMemoryStore(sc.HistoryWindow,
			session.WithTTL(sc.SessionTTL),
			session.WithMaxSessions(sc.SessionMax),
		)
		tracker := delivery.NewMemoryTracker(
			delivery.WithTTL(sc.DeliveryTTL),
			delivery.WithMaxRecords(sc.DeliveryMax),
		)
		return store, tracker, nil
	}
}

func sqliteBackends(db *sql.DB, sc config.StoreConfig) (session.Store, delivery.Tracker, error) {
	sessions, err := repository.NewSQLiteSessions(db, sc.HistoryWindow, sc.SessionTTL)
	if err != nil {
		return nil, nil, err
	}
	deliveries, err := repository.NewSQLiteDeliveries(db, sc.DeliveryTTL)
	if err != nil {
		return nil, nil, err
	}
	return sessions, deliveries, nil
}
