// Package app wires the configuration, logging, storage, dispatch engine,
// HTTP surface and janitor together and runs them under one supervisor.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"wabot/internal/config"
	"wabot/internal/dispatch"
	"wabot/internal/eventbus"
	"wabot/internal/janitor"
	"wabot/internal/runtime/supervisor"
	"wabot/internal/sender"
	"wabot/internal/server"
	"wabot/internal/storage"
	"wabot/internal/transport/whatsapp"
	logx "wabot/pkg/logx"
)

// Run starts the process and blocks until ctx is cancelled or a component
// fails fatally.
func Run(ctx context.Context, configPath string) error {
	cm := config.NewConfigManager(configPath)
	cfg, err := cm.Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	bus := eventbus.New()
	logSvc, log := logx.New(logxConfig(cfg.Logging), bus)
	defer logSvc.Close()

	cm.SetLogger(log.With(logx.String("comp", "config")))
	cm.SetValidator(func(_ context.Context, c *config.Config) error {
		return config.Validate(c)
	})

	stCfg, err := storageConfig(cfg.Storage)
	if err != nil {
		return err
	}
	store, err := storage.Open(stCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	phoneIDs, tokens := senderCredentials(cfg.Senders)
	pool, err := sender.NewPool(phoneIDs, tokens)
	if err != nil {
		return fmt.Errorf("build sender pool: %w", err)
	}

	apiCfg, err := apiConfig(cfg.API)
	if err != nil {
		return err
	}
	client := whatsapp.NewClient(apiCfg, log.With(logx.String("comp", "whatsapp")))

	dCfg, err := dispatchConfig(cfg.Dispatch)
	if err != nil {
		return err
	}
	var engineStore dispatch.Store
	if store != nil {
		engineStore = store
	}
	engine := dispatch.New(dCfg, pool, client, dispatch.Options{
		Log:      log.With(logx.String("comp", "dispatch")),
		Bus:      bus,
		Store:    engineStore,
		Resolver: newMediaResolver(cfg.Media.PublicBaseURL),
	})

	srvCfg, err := serverConfig(cfg.Server)
	if err != nil {
		return err
	}
	srv := server.New(srvCfg, engine, bus, log.With(logx.String("comp", "http")))

	jCfg, err := janitorConfig(cfg.Janitor)
	if err != nil {
		return err
	}
	jan := janitor.New(jCfg, store, log.With(logx.String("comp", "janitor")))

	sup := supervisor.New(ctx,
		supervisor.WithLogger(log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	runCtx := sup.Context()

	if err := engine.Start(runCtx); err != nil {
		sup.Cancel()
		return fmt.Errorf("start dispatch engine: %w", err)
	}
	if err := jan.Start(runCtx); err != nil {
		sup.Cancel()
		return fmt.Errorf("start janitor: %w", err)
	}

	sup.GoRestart("http", srv.Run)
	sup.Go("config.watch", cm.Watch)

	sub := cm.Subscribe(4)
	defer cm.Unsubscribe(sub)
	sup.Go0("config.apply", func(ctx context.Context) {
		prev := cfg
		for {
			select {
			case <-ctx.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				applyConfig(prev, next, logSvc, engine, log)
				prev = next
			}
		}
	})

	log.Info("wabot ready",
		logx.Int("senders", pool.Size()),
		logx.String("addr", srvCfg.Addr),
		logx.Bool("storage", store != nil),
	)
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	defer func() { _, _ = daemon.SdNotify(false, daemon.SdNotifyStopping) }()

	// Block until shutdown (ctx) or the first fatal component error.
	werr := sup.Wait(context.Background())

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	jan.Stop(stopCtx)
	if err := engine.Stop(stopCtx); err != nil {
		log.Warn("engine stop incomplete", logx.Err(err))
	}

	if werr != nil && !strings.Contains(werr.Error(), context.Canceled.Error()) {
		return werr
	}
	return nil
}

// applyConfig hot-reloads what can change at runtime: log levels/sinks and
// the dispatch tunables. Sender credentials and storage are fixed for the
// process lifetime; changes there take effect on restart.
func applyConfig(prev, next *config.Config, logSvc *logx.Service, engine *dispatch.Engine, log logx.Logger) {
	changed, attrs := config.SummarizeConfigChange(prev, next)
	if len(changed) == 0 {
		return
	}
	log.Info("config change applied", append(attrs, logx.Any("sections", changed))...)

	for _, section := range changed {
		switch section {
		case "logging":
			logSvc.Apply(logxConfig(next.Logging))
		case "dispatch":
			dCfg, err := dispatchConfig(next.Dispatch)
			if err != nil {
				log.Warn("dispatch config rejected", logx.Err(err))
				continue
			}
			engine.Apply(dCfg)
		case "senders", "storage", "server", "api", "janitor":
			log.Warn("section changed; restart required to take effect",
				logx.String("section", section))
		}
	}
}
