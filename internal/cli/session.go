package cli

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	config "github.com/crabzie/factory-runtime/config/utils"
	"github.com/crabzie/factory-runtime/internal/adapter/clock"
	"github.com/crabzie/factory-runtime/internal/bootstrap"
	"github.com/crabzie/factory-runtime/internal/core/port"
	"github.com/crabzie/factory-runtime/internal/core/service"
)

// session is the configured store and a factory service on top of it
type session struct {
	cfg     *config.AppConfig
	log     *zap.Logger
	store   *bootstrap.Store
	factory *service.FactoryService
}

func (s *session) Close() {
	s.factory.Shutdown()
	s.store.Close()
	_ = s.log.Sync()
}

// newLogger keeps stdout clean for command output
func newLogger(cmd *cobra.Command, verbose bool) *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(cmd.ErrOrStderr()),
		zap.DebugLevel,
	)
	return zap.New(core)
}

func (o *RootOptions) settings(cmd *cobra.Command) (*config.AppConfig, *zap.Logger, error) {
	cfg, err := o.loadConfig(o.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, newLogger(cmd, o.Verbose), nil
}

// open connects the configured store. The configured seed file is not
// applied here, only the seed command writes one.
func (o *RootOptions) open(cmd *cobra.Command) (*session, error) {
	return o.openWithUnit(cmd, 0)
}

// openWithUnit overrides runtime.timeUnit when timeUnit is positive
func (o *RootOptions) openWithUnit(cmd *cobra.Command, timeUnit time.Duration) (*session, error) {
	cfg, log, err := o.settings(cmd)
	if err != nil {
		return nil, err
	}
	if timeUnit <= 0 {
		timeUnit = cfg.Runtime.TimeUnit
	}
	storeCfg := *cfg.Store
	storeCfg.SeedFile = ""
	withoutSeed := *cfg
	withoutSeed.Store = &storeCfg

	store, err := o.openStore(cmd.Context(), &withoutSeed, log)
	if err != nil {
		return nil, err
	}

	notifier := service.NewCompletionNotifier(log.Named("notifier"))
	factory := service.NewFactoryService(store, clock.NewSystemClock(), notifier, service.FactoryConfig{
		TimeUnit: timeUnit,
		Metrics:  port.NopMetrics{},
	}, log.Named("factory"))

	return &session{cfg: cfg, log: log, store: store, factory: factory}, nil
}
