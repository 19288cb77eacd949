// Package readers provides implementations of dataset readers for various
// data sources, plus helpers to load them as relational tables.
package readers

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/TFMV/entlink/pkg/core"
	"github.com/TFMV/entlink/pkg/rel"
)

// defaultBatchSize is the number of rows per record batch when the config
// does not set one.
const defaultBatchSize = 10000

// Factory creates a reader based on the given configuration.
type Factory struct {
	// registered readers by type
	readers map[string]Creator
}

// Creator is a function that creates a reader from a configuration.
type Creator func(config core.ReaderConfig) (core.DatasetReader, error)

// NewFactory creates a new reader factory.
func NewFactory() *Factory {
	return &Factory{
		readers: make(map[string]Creator),
	}
}

// Register registers a creator for a reader type.
func (f *Factory) Register(typ string, creator Creator) {
	f.readers[typ] = creator
}

// Create creates a reader based on the given configuration. An empty Type is
// inferred from the path's extension.
func (f *Factory) Create(config core.ReaderConfig) (core.DatasetReader, error) {
	if config.Type == "" {
		config.Type = TypeFromPath(config.Path)
	}
	creator, ok := f.readers[config.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported reader type: %s", config.Type)
	}
	return creator(config)
}

// TypeFromPath maps a file extension to a reader type.
func TypeFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return "parquet"
	case ".arrow", ".ipc", ".feather":
		return "arrow"
	case ".csv":
		return "csv"
	default:
		return ""
	}
}

// DefaultFactory is the default reader factory with built-in reader types.
var DefaultFactory = NewFactory()

// init registers built-in reader types.
func init() {
	DefaultFactory.Register("parquet", NewParquetReader)
	DefaultFactory.Register("arrow", NewArrowReader)
	DefaultFactory.Register("csv", NewCSVReader)
}

// ReadTable loads a whole dataset file into a relational table, inferring
// the format from the extension.
func ReadTable(ctx context.Context, path string) (rel.Table, error) {
	reader, err := DefaultFactory.Create(core.ReaderConfig{Path: path})
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	record, err := reader.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer record.Release()

	table, err := rel.FromRecord(record)
	if err != nil {
		return nil, fmt.Errorf("converting %s: %w", path, err)
	}
	return table, nil
}
