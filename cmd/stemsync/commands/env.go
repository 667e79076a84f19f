package commands

import (
	"context"
	"log/slog"
	"path/filepath"

	"stemsync/internal/config"
	"stemsync/internal/drive"
	"stemsync/internal/extract"
	"stemsync/internal/fairsync"
	"stemsync/internal/filesync"
	"stemsync/internal/portal"
	"stemsync/lib/chrono"
	"stemsync/lib/jsoncache"
	"stemsync/lib/restyutil"
	"stemsync/lib/serviceutil"
	"stemsync/lib/telemetry"

	"github.com/spf13/afero"
)

const driveIndexFile = "driveIndex.json"

type env struct {
	cfg       config.Config
	clock     chrono.TimeAPI
	tel       telemetry.API
	providers telemetry.Telemetry
	fs        afero.Fs
	rules     extract.Rules
	session   *portal.Session
}

// setup reads the config and creates a portal session, failures exit.
func setup(ctx context.Context) *env {
	cfg, err := config.Read(configPath)
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	if err := cfg.Validate(); err != nil {
		serviceutil.Fatal("invalid config", err)
	}

	providers, err := telemetry.SetupWithFallback(ctx, "stemsync", cfg.Telemetry)
	if err != nil {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	clock, err := chrono.NewStandardTime(cfg.Timezone)
	if err != nil {
		serviceutil.Fatal("failed to load timezone", err)
	}

	e := &env{
		cfg:       cfg,
		clock:     clock,
		tel:       telemetry.SlogAPI{},
		providers: providers,
		fs:        afero.NewOsFs(),
		rules:     extract.DefaultRules(cfg.EventPrefixes),
	}

	opts := portal.Options{
		BaseUrl:    cfg.BaseUrl(),
		Domain:     cfg.Domain,
		Username:   cfg.Username,
		Password:   cfg.Password,
		RateLimit:  cfg.RateLimit,
		RetryCount: cfg.RetryCount,
		Timeout:    cfg.Timeout(),
		Tel:        e.tel,
		Location:   clock.Location,
		Rules:      e.rules,
		Fs:         e.fs,
	}
	if dumpHttp != "" {
		output, err := restyutil.NewFilesystemOutput(dumpHttp)
		if err != nil {
			serviceutil.Fatal("failed to create http dump directory", err)
		}
		opts.InstrumentOutput = output
	}
	e.session, err = portal.New(opts)
	if err != nil {
		serviceutil.Fatal("failed to create portal session", err)
	}
	return e
}

func (e *env) close(ctx context.Context) {
	e.session.Close()
	if err := e.providers.Shutdown(ctx); err != nil {
		slog.Warn("failed to shutdown telemetry", "err", err)
	}
}

func (e *env) login(ctx context.Context) {
	if err := e.session.Initialize(ctx); err != nil {
		serviceutil.Fatal("failed to reach the portal", err)
	}
	if !e.session.Authenticate(ctx) {
		serviceutil.Fatal("failed to log in", portal.ErrProtocol)
	}
	slog.Info("logged in", "region", e.session.RegionDomain(), "region_id", e.session.RegionId())
}

// drive returns the configured drive, nil when the mirror is disabled.
func (e *env) drive(ctx context.Context) drive.Drive {
	switch e.cfg.Drive.Kind {
	case config.DriveGoogle:
		d, err := drive.NewGoogleDrive(ctx, drive.GoogleOptions{
			CredentialsFile: e.cfg.Drive.CredentialsFile,
			CachePath:       filepath.Join(e.cfg.DomainCacheDir(), driveIndexFile),
			Source:          e.fs,
			Tel:             e.tel,
			Time:            e.clock,
		})
		if err != nil {
			serviceutil.Fatal("failed to create google drive client", err)
		}
		return d
	case config.DriveLocal:
		return drive.NewLocalDrive(e.fs, e.cfg.Drive.LocalDir, e.fs)
	}
	return nil
}

func (e *env) syncer(d drive.Drive) *fairsync.Syncer {
	layout := filesync.Layout{
		FilesDir: e.cfg.FilesDir,
		Domain:   e.cfg.Domain,
		Rules:    e.rules,
	}
	return &fairsync.Syncer{
		Portal:   e.session,
		Fs:       e.fs,
		Cache:    jsoncache.NewStore(e.tel, e.clock),
		CacheDir: e.cfg.DomainCacheDir(),
		Engine: &filesync.Engine{
			Fs:         e.fs,
			Layout:     layout,
			Downloader: e.session,
			Drive:      d,
			DriveRoot:  e.cfg.Drive.Root,
			Tel:        e.tel,
		},
		Drive:      d,
		DriveRoot:  e.cfg.Drive.Root,
		Layout:     layout,
		Categories: e.cfg.Categories,
		Location:   e.session.Location(),
		Tel:        e.tel,
	}
}
