package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spboyer/promptloop/internal/models"
)

// FileSink writes each document as JSON below a results directory.
type FileSink struct {
	dir string
	enc encoder
}

var _ ResultSink = (*FileSink)(nil)

// NewFileSink writes to dir, compressing with zstd when compress is set.
func NewFileSink(dir string, compress bool) *FileSink {
	return &FileSink{dir: dir, enc: encoder{compress: compress}}
}

func (f *FileSink) EmitRun(_ context.Context, run *models.EvaluationRun) error {
	name, data, err := f.enc.run(run)
	if err != nil {
		return err
	}
	return f.write(name, data)
}

func (f *FileSink) EmitOutcome(_ context.Context, outcome *models.ImprovementOutcome) error {
	name, data, err := f.enc.outcome(outcome)
	if err != nil {
		return err
	}
	return f.write(name, data)
}

func (f *FileSink) write(name string, data []byte) error {
	p := filepath.Join(f.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating results directory: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", p, err)
	}
	logEmitted("file", p)
	return nil
}
