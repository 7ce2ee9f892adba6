package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"annotd/internal/annotate"
	"annotd/internal/appmeta"
	"annotd/internal/common/fsutil"
	"annotd/internal/config"
	"annotd/internal/params"
	"annotd/internal/vram"
	"annotd/pkg/types"
)

// echoAnalyzer marks every source document with one annotation of the app's
// first output type. It stands in for analysis code so the service can run
// end to end.
type echoAnalyzer struct{ outType string }

func (a echoAnalyzer) Annotate(ctx context.Context, doc *types.Document, cfg *params.Configuration) (*types.Document, error) {
	v := annotate.NewView(ctx, doc)
	v.Metadata.Contains = map[string]map[string]any{a.outType: {}}
	for i, sd := range doc.Documents {
		v.Annotations = append(v.Annotations, types.Annotation{
			Type: a.outType,
			Properties: map[string]any{
				"id":       fmt.Sprintf("a_%d", i),
				"document": sd.Properties.ID,
			},
		})
	}
	return doc, nil
}

func (c *cli) loadMetadata() (*appmeta.Metadata, error) {
	if c.cfg.MetadataPath == "" {
		return nil, errors.New("no app metadata: set --metadata, ANNOTD_METADATA or metadata_path")
	}
	path, err := fsutil.ExpandHome(c.cfg.MetadataPath)
	if err != nil {
		return nil, err
	}
	return appmeta.Load(path, c.log)
}

// openStore opens the configured profile store. The returned closer is never nil.
func (c *cli) openStore() (vram.ProfileStore, func() error, error) {
	noop := func() error { return nil }
	root, err := fsutil.ExpandHome(c.cfg.CacheDir)
	if err != nil {
		return nil, noop, err
	}
	if root == "" {
		r, err := vram.DefaultProfileRoot()
		if err != nil {
			return nil, noop, err
		}
		root = r
	}
	if c.cfg.ProfileBackend != config.BackendSQLite {
		return vram.NewFileStore(root), noop, nil
	}
	path, err := fsutil.ExpandHome(c.cfg.ProfileDB)
	if err != nil {
		return nil, noop, err
	}
	if path == "" {
		path = filepath.Join(root, "profiles.db")
	}
	s, err := vram.OpenSQLiteStore(path)
	if err != nil {
		return nil, noop, err
	}
	return s, s.Close, nil
}

func (c *cli) device(ctx context.Context) vram.Device {
	if c.cfg.FakeGPUMiB > 0 {
		return vram.NewStatic("fake", c.cfg.FakeGPUMiB<<20, 0, 0)
	}
	if d := vram.Detect(ctx); d != nil {
		return d
	}
	c.log.Info().Msg("no accelerator detected; admission disabled")
	return nil
}

// orchestrator builds the annotation pipeline from the configured metadata.
// Device, Store and MaxWait are taken from o; the rest is filled here.
func (c *cli) orchestrator(o annotate.Options) (*annotate.Orchestrator, error) {
	meta, err := c.loadMetadata()
	if err != nil {
		return nil, err
	}
	o.Metadata = meta
	o.Analyzer = echoAnalyzer{outType: meta.Output[0].Type}
	o.CheckLocations = c.cfg.CheckLocations
	o.Logger = c.log
	return annotate.New(o)
}
