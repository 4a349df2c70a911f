package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/withobsrvr/streamctl/internal/api"
	"github.com/withobsrvr/streamctl/internal/compiler"
	"github.com/withobsrvr/streamctl/internal/config"
	"github.com/withobsrvr/streamctl/internal/errdefs"
	"github.com/withobsrvr/streamctl/internal/model"
	"github.com/withobsrvr/streamctl/internal/poller"
	"github.com/withobsrvr/streamctl/internal/reconciler"
	"github.com/withobsrvr/streamctl/internal/registry"
	"github.com/withobsrvr/streamctl/internal/storage"
	"github.com/withobsrvr/streamctl/internal/utils/logger"
)

// pipelineFlags are the flags every command that reads a pipeline file takes.
type pipelineFlags struct {
	file           string
	environment    string
	propertyFiles  []string
	setAssignments []string
}

func (f *pipelineFlags) register(cmd *cobra.Command, required bool) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "pipeline file")
	cmd.Flags().StringVarP(&f.environment, "env", "e", "", "environment overlay declared in the pipeline file")
	cmd.Flags().StringArrayVar(&f.propertyFiles, "properties-file", nil, "properties file applied over the pipeline properties (repeatable)")
	cmd.Flags().StringArrayVar(&f.setAssignments, "set", nil, "property assignment <component>.<key>=<value> (repeatable)")
	if required {
		cmd.MarkFlagRequired("file")
	}
}

func (f *pipelineFlags) sources() model.Sources {
	return model.Sources{
		Environment: f.environment,
		Files:       f.propertyFiles,
		Assignments: f.setAssignments,
	}
}

// load reads the pipeline file and resolves its effective properties.
func (f *pipelineFlags) load() (*model.Pipeline, *reconciler.Desired, error) {
	p, err := model.Load(f.file)
	if err != nil {
		return nil, nil, err
	}
	props, err := p.ResolveProperties(f.sources())
	if err != nil {
		return nil, nil, err
	}
	d, err := reconciler.DesiredFromPipeline(p, props)
	if err != nil {
		return nil, nil, err
	}
	return p, d, nil
}

func loadSettings() (*config.Settings, error) {
	s, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, &errdefs.ConfigError{Field: "settings", Reason: "invalid streamctl settings", Err: err}
	}
	return s, nil
}

func newControlPlane(ctx context.Context, s *config.Settings) (*api.ControlPlane, error) {
	tokens, err := s.Auth.TokenSource(ctx)
	if err != nil {
		return nil, &errdefs.ConfigError{Field: "auth", Reason: "cannot build credential provider", Err: err}
	}
	client, err := api.NewClient(api.ClientOptions{
		BaseURL:     s.ControlPlane.URL,
		Timeout:     s.ControlPlane.Timeout,
		TLS:         s.ControlPlane.TLS,
		TokenSource: tokens,
		Retry:       api.RetryPolicyFrom(s.Retry),
	})
	if err != nil {
		return nil, &errdefs.ConfigError{Field: "control_plane", Reason: "cannot build control plane client", Err: err}
	}
	logger.Debug("Using control plane", zap.String("url", s.ControlPlane.URL))
	return api.NewControlPlane(client), nil
}

func compilerOptions(s *config.Settings) []compiler.Option {
	var opts []compiler.Option
	if len(s.Compiler.BundleKeys) > 0 {
		opts = append(opts, compiler.WithBundleKeys(s.Compiler.BundleKeys...))
	}
	if len(s.Compiler.BundleDelimiters) > 0 {
		opts = append(opts, compiler.WithBundleDelimiters(s.Compiler.BundleDelimiters...))
	}
	return opts
}

func reconcilerOptions(s *config.Settings) reconciler.Options {
	return reconciler.Options{
		Poll:          poller.Policy{Interval: s.Poll.Interval, Timeout: s.Poll.Timeout},
		ReadyTimeout:  s.Poll.ReadyTimeout,
		WaitReady:     s.Poll.WaitReady,
		ForceRegister: s.Registry.ForceRegister,
		Locators:      registry.ParseOptions{DefaultRegistry: s.Registry.DefaultRegistry},
		Compiler:      compilerOptions(s),
	}
}

// openJournal opens the run journal, falling back to an in-memory journal
// when it is disabled or cannot be opened. Journaling never blocks a run.
func openJournal(s *config.Settings) storage.RunStorage {
	if !s.Journal.Enabled {
		return storage.NewMemoryStorage()
	}
	journal := storage.NewBoltDBStorage(&storage.BoltOptions{Path: s.Journal.Path})
	if err := journal.Open(); err != nil {
		logger.Warn("Run journal unavailable, not recording runs", zap.String("path", s.Journal.Path), zap.Error(err))
		return storage.NewMemoryStorage()
	}
	return journal
}

// openJournalForRead opens the journal for the history command, where a
// missing journal is an error.
func openJournalForRead(s *config.Settings) (storage.RunStorage, error) {
	if !s.Journal.Enabled {
		return nil, errdefs.Configf("journal.enabled", "the run journal is disabled")
	}
	journal := storage.NewBoltDBStorage(&storage.BoltOptions{Path: s.Journal.Path})
	if err := journal.Open(); err != nil {
		return nil, fmt.Errorf("failed to open run journal: %w", err)
	}
	return journal, nil
}

func journalRun(ctx context.Context, journal storage.RunStorage, operation string, env, source string, res *reconciler.Result) {
	rec := storage.NewRunRecord(operation, res)
	rec.Environment = env
	rec.Source = source
	if err := journal.RecordRun(ctx, rec); err != nil {
		logger.Warn("Failed to record run", zap.String("pipeline", rec.Pipeline), zap.Error(err))
		return
	}
	logger.Debug("Recorded run", zap.String("id", rec.ID), zap.String("pipeline", rec.Pipeline))
}
