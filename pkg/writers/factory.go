// Package writers provides implementations of dataset writers for various
// data formats, plus helpers to persist relational tables.
package writers

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/TFMV/entlink/pkg/core"
	"github.com/TFMV/entlink/pkg/rel"
)

// Factory creates a writer based on the given configuration.
type Factory struct {
	// registered writers by type
	writers map[string]Creator
}

// Creator is a function that creates a writer from a configuration.
type Creator func(config core.WriterConfig) (core.DatasetWriter, error)

// NewFactory creates a new writer factory.
func NewFactory() *Factory {
	return &Factory{
		writers: make(map[string]Creator),
	}
}

// Register registers a creator for a writer type.
func (f *Factory) Register(typ string, creator Creator) {
	f.writers[typ] = creator
}

// Create creates a writer based on the given configuration. An empty Type is
// inferred from the path's extension.
func (f *Factory) Create(config core.WriterConfig) (core.DatasetWriter, error) {
	if config.Type == "" {
		config.Type = TypeFromPath(config.Path)
	}
	creator, ok := f.writers[config.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported writer type: %s", config.Type)
	}
	return creator(config)
}

// TypeFromPath maps a file extension to a writer type.
func TypeFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return "parquet"
	case ".arrow", ".ipc", ".feather":
		return "arrow"
	case ".json", ".jsonl", ".ndjson":
		return "json"
	default:
		return ""
	}
}

// DefaultFactory is the default writer factory with built-in writer types.
var DefaultFactory = NewFactory()

// init registers built-in writer types.
func init() {
	DefaultFactory.Register("parquet", NewParquetWriter)
	DefaultFactory.Register("arrow", NewArrowWriter)
	DefaultFactory.Register("json", NewJSONWriter)
}

// WriteTable materializes a relational table and writes it to a file,
// inferring the format from the extension. An empty table still produces a
// valid file carrying the schema.
func WriteTable(ctx context.Context, path string, t rel.Table) error {
	writer, err := DefaultFactory.Create(core.WriterConfig{Path: path})
	if err != nil {
		return err
	}

	record, err := rel.ToRecord(ctx, t, memory.NewGoAllocator())
	if err != nil {
		writer.Close()
		return fmt.Errorf("materializing table for %s: %w", path, err)
	}
	defer record.Release()

	if err := writer.Write(ctx, record); err != nil {
		writer.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	return nil
}
