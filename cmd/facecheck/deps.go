package main

import (
	"context"
	"fmt"
	"os"

	"github.com/MrCodeEU/facecheck/pkg/config"
	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/observation"
	"github.com/MrCodeEU/facecheck/pkg/recognition"
	"github.com/MrCodeEU/facecheck/pkg/session"
	"github.com/MrCodeEU/facecheck/pkg/storage"
	"github.com/MrCodeEU/facecheck/pkg/verifier"
)

// engine holds the collaborators shared by every session a command runs.
type engine struct {
	verifier   verifier.Verifier
	comparator *recognition.DlibComparator
	store      *storage.FileStorage
}

// newEngine builds the remote verifier, the local face comparator and the
// record store from c. A comparator that fails to load is skipped so
// matching can still fall back to the remote verifier.
func newEngine(ctx context.Context, c *config.Config) (*engine, error) {
	v, err := verifier.New(ctx, c.VerifierSettings())
	if err != nil {
		return nil, fmt.Errorf("failed to create verifier: %w", err)
	}
	logging.Debugf("Remote verifier: %s", v.Name())

	e := &engine{verifier: v}

	if c.Recognition.Enabled {
		comparator := recognition.NewComparator()
		if err := comparator.LoadModels(c.Recognition.ModelPath); err != nil {
			logging.WithError(err).Warnf("Local face comparison disabled, models not loaded from %s", c.Recognition.ModelPath)
		} else {
			e.comparator = comparator
		}
	}

	if err := c.EnsureDirectories(); err != nil {
		e.Close()
		return nil, err
	}
	store, err := storage.NewFileStorage(c.Storage.DataDir, c.Storage.EncryptionEnabled)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.store = store
	return e, nil
}

// deps returns session collaborators reading from src.
func (e *engine) deps(src observation.Source) session.Deps {
	d := session.Deps{
		Source:   src,
		Liveness: e.verifier,
		Comparer: e.verifier,
	}
	if e.comparator != nil {
		d.Embeddings = e.comparator
	}
	return d
}

// Close releases the comparator's models.
func (e *engine) Close() {
	if e.comparator != nil {
		_ = e.comparator.Close()
	}
}

// readImage reads an optional image file.
func readImage(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return data, nil
}
