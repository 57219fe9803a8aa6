// Package sink publishes evaluation runs and improvement outcomes.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/spboyer/promptloop/internal/models"
	"github.com/spboyer/promptloop/internal/projectconfig"
)

// ResultSink receives every run and outcome the tool produces.
type ResultSink interface {
	EmitRun(ctx context.Context, run *models.EvaluationRun) error
	EmitOutcome(ctx context.Context, outcome *models.ImprovementOutcome) error
}

// Discard drops everything.
var Discard ResultSink = discard{}

type discard struct{}

func (discard) EmitRun(context.Context, *models.EvaluationRun) error { return nil }

func (discard) EmitOutcome(context.Context, *models.ImprovementOutcome) error { return nil }

// MultiSink fans out to several sinks. Every sink is attempted; errors are joined.
type MultiSink []ResultSink

func (m MultiSink) EmitRun(ctx context.Context, run *models.EvaluationRun) error {
	var errs []error
	for _, s := range m {
		if err := s.EmitRun(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) EmitOutcome(ctx context.Context, outcome *models.ImprovementOutcome) error {
	var errs []error
	for _, s := range m {
		if err := s.EmitOutcome(ctx, outcome); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromConfig builds the sinks named by the results section: always the file sink, plus blob
// storage when an account URL is set.
func FromConfig(cfg *projectconfig.ProjectConfig) (ResultSink, error) {
	compress := cfg.Results.Compress != nil && *cfg.Results.Compress
	sinks := MultiSink{NewFileSink(cfg.Path(cfg.Paths.Results), compress)}

	if cfg.Results.BlobAccount != "" {
		blob, err := NewBlobSink(cfg.Results.BlobAccount, cfg.Results.BlobContainer, compress)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, blob)
	}
	return sinks, nil
}

// encoder turns runs and outcomes into named documents shared by every sink.
type encoder struct {
	compress bool
}

func (e encoder) run(run *models.EvaluationRun) (string, []byte, error) {
	stamp := run.StartedAt
	if stamp.IsZero() {
		stamp = time.Now()
	}
	name := path.Join("runs", safeName(run.TemplateName),
		fmt.Sprintf("%s-%s-%s.json", safeName(run.TemplateVersion), stamp.UTC().Format("20060102T150405Z"), shortID(run.ID)))
	return e.encode(name, run)
}

func (e encoder) outcome(o *models.ImprovementOutcome) (string, []byte, error) {
	stamp := o.StartedAt
	if stamp.IsZero() {
		stamp = time.Now()
	}
	name := path.Join("improvements", safeName(o.TemplateName),
		fmt.Sprintf("%s-%s.json", safeName(o.BaselineVersion), stamp.UTC().Format("20060102T150405Z")))
	return e.encode(name, o)
}

func (e encoder) encode(name string, v any) (string, []byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("encoding %s: %w", name, err)
	}
	if !e.compress {
		return name, data, nil
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return "", nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	defer enc.Close()
	return name + ".zst", enc.EncodeAll(data, nil), nil
}

func safeName(s string) string {
	if s == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "run"
	}
	return id
}

func logEmitted(kind, where string) {
	slog.Debug("Result emitted", "kind", kind, "location", where)
}
