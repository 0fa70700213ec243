package assets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/appbundle/internal/telemetry"
)

// Build runs esbuild with the configured settings, applies the processing
// steps in order and writes the resulting assets to the output directory.
func (p *Pipeline) Build(ctx context.Context) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, span := telemetry.Tracer().Start(ctx, "assets.Build")
	defer span.End()

	started := time.Now()
	m := telemetry.GetMetrics()
	attrs := metric.WithAttributes(attribute.String("mode", p.cfg.Mode.String()))

	res, err := p.build(ctx)

	m.BuildsTotal.Add(ctx, 1, attrs)
	m.BuildDuration.Record(ctx, float64(time.Since(started).Milliseconds()), attrs)
	if err != nil {
		m.BuildErrorsTotal.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	res.Duration = time.Since(started)
	span.SetAttributes(
		attribute.String("build.id", res.ID.String()),
		attribute.String("build.fingerprint", res.Fingerprint),
	)

	p.logger.Info().
		Str("build_id", res.ID.String()).
		Str("mode", p.cfg.Mode.String()).
		Str("fingerprint", res.Fingerprint).
		Int("files", len(res.Files)).
		Dur("duration", res.Duration).
		Msg("Build complete")

	return res, nil
}

func (p *Pipeline) build(ctx context.Context) (*Result, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate build id: %w", err)
	}

	bctx, err := p.context()
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, bctx.Cancel)
	result := bctx.Rebuild()
	stop()

	if !p.cfg.Cache {
		p.dispose()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(result.Errors) > 0 {
		for _, msg := range result.Errors {
			p.logger.Error().Str("error", msg.Text).Msg("Build error")
		}
		return nil, &BuildError{Messages: result.Errors}
	}

	warnings := api.FormatMessages(result.Warnings, api.FormatMessagesOptions{Kind: api.WarningMessage})
	for _, w := range warnings {
		p.logger.Warn().Msg(w)
	}

	bundle, err := p.collect(result.OutputFiles)
	if err != nil {
		return nil, err
	}

	for _, step := range p.steps {
		if err := step.Process(bundle); err != nil {
			return nil, fmt.Errorf("step %s failed: %w", step.Name(), err)
		}
	}

	if p.cfg.SourceMaps() {
		if err := linkSourceMaps(bundle, p.cfg.Output); err != nil {
			return nil, err
		}
	}

	files, err := p.write(ctx, bundle)
	if err != nil {
		return nil, err
	}

	var metadata BuildMetadata
	if err := json.Unmarshal([]byte(result.Metafile), &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metafile: %w", err)
	}
	p.metadata = &metadata

	inputs := make([]string, 0, len(metadata.Inputs))
	for in := range metadata.Inputs {
		inputs = append(inputs, in)
	}
	slices.Sort(inputs)

	return &Result{
		ID:          id,
		Mode:        p.cfg.Mode,
		Files:       files,
		Inputs:      inputs,
		Warnings:    warnings,
		Fingerprint: fingerprint(bundle),
	}, nil
}

// context returns the esbuild context, creating it on first use or after
// it was disposed because caching is off.
func (p *Pipeline) context() (api.BuildContext, error) {
	if p.bctx != nil {
		return p.bctx, nil
	}

	bctx, cerr := api.Context(p.buildOptions())
	if cerr != nil {
		return nil, &BuildError{Messages: cerr.Errors}
	}
	p.bctx = bctx
	return bctx, nil
}

// collect converts esbuild output files into assets named relative to the
// output directory.
func (p *Pipeline) collect(files []api.OutputFile) (*Bundle, error) {
	bundle := &Bundle{Assets: make([]*Asset, 0, len(files))}
	for _, f := range files {
		rel, err := filepath.Rel(p.cfg.Output.Path, f.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve output %s: %w", f.Path, err)
		}
		name := filepath.ToSlash(rel)
		bundle.Assets = append(bundle.Assets, &Asset{Name: name, Contents: f.Contents, origin: name})
	}
	return bundle, nil
}

// Inputs returns the source files of the last successful build, relative to
// the project directory.
func (p *Pipeline) Inputs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.metadata == nil {
		return nil
	}
	inputs := make([]string, 0, len(p.metadata.Inputs))
	for in := range p.metadata.Inputs {
		inputs = append(inputs, in)
	}
	slices.Sort(inputs)
	return inputs
}

// IsBuildError reports whether err came from the bundler rather than the
// file system or configuration.
func IsBuildError(err error) bool {
	return errors.Is(err, ErrBuildFailed)
}
