package cmd

import (
	"context"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/clock"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/ledger"
	"github.com/kozaktomas/face-attendance/internal/match"

	// Storage backends register themselves with the database package.
	_ "github.com/kozaktomas/face-attendance/internal/database/filestore"
	_ "github.com/kozaktomas/face-attendance/internal/database/mariadb"
	_ "github.com/kozaktomas/face-attendance/internal/database/memory"
	_ "github.com/kozaktomas/face-attendance/internal/database/postgres"
	_ "github.com/kozaktomas/face-attendance/internal/database/sqlite"
)

// engine holds the wired attendance components and the store handles to close.
type engine struct {
	gallery      *gallery.Gallery
	ledger       *ledger.Ledger
	orchestrator *attendance.Orchestrator
	closers      []io.Closer
}

// openEngine opens the configured stores, loads the gallery and wires the
// orchestrator to the face service.
func openEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	e := &engine{}

	galleryStore, closer, err := database.OpenGalleryStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open gallery store: %w", err)
	}
	e.track(closer)

	sessionStore, closer, err := database.OpenSessionStore(ctx, cfg)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	e.track(closer)

	clk := clock.Real()
	e.gallery, err = gallery.New(galleryStore, cfg.Embedding.Dim, clk)
	if err != nil {
		e.Close()
		return nil, err
	}
	if err := e.gallery.Load(ctx); err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to load gallery: %w", err)
	}

	resolver, err := match.NewResolver(e.gallery, cfg.Matching.Threshold)
	if err != nil {
		e.Close()
		return nil, err
	}

	e.ledger = ledger.New(sessionStore, ledger.Options{
		Cooldown:               cfg.Attendance.Cooldown,
		RequireExitBeforeEntry: cfg.Attendance.RequireExitBeforeEntry,
	})

	client := embedding.NewClient(cfg.Embedding.URL, cfg.Embedding.CacheSize)
	opts := attendance.Options{Clock: clk, Logger: log.StandardLogger()}
	if cfg.Embedding.DetectorEnabled {
		opts.Detector = client
	}
	e.orchestrator, err = attendance.New(e.gallery, resolver, e.ledger, client, opts)
	if err != nil {
		e.Close()
		return nil, err
	}

	log.WithFields(log.Fields{
		"session_backend": cfg.Storage.SessionBackend,
		"gallery_backend": cfg.Storage.GalleryBackend,
		"identities":      e.gallery.Len(),
		"detector":        cfg.Embedding.DetectorEnabled,
	}).Info("Attendance engine ready")
	return e, nil
}

func (e *engine) track(c io.Closer) {
	if c != nil {
		e.closers = append(e.closers, c)
	}
}

// Close releases store handles in reverse order of opening.
func (e *engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			log.WithError(err).Warn("Failed to close store")
		}
	}
	e.closers = nil
}
