// Package core holds the shared IO contracts for loading and saving record
// tables in the linkage toolkit.
package core

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
)

// DatasetReader streams a record file as arrow batches.
type DatasetReader interface {
	// Read returns the next record batch, or io.EOF once drained.
	Read(ctx context.Context) (arrow.Record, error)

	// ReadAll loads the whole dataset into one record batch. Large files
	// are better consumed through Read.
	ReadAll(ctx context.Context) (arrow.Record, error)

	// Schema reports the dataset schema. Formats that infer the schema
	// from data may return nil before the first Read.
	Schema() *arrow.Schema

	// Close releases the reader's resources.
	Close() error
}

// DatasetWriter persists arrow record batches to a destination.
type DatasetWriter interface {
	// Write appends one record batch.
	Write(ctx context.Context, record arrow.Record) error

	// Close flushes pending data and releases resources.
	Close() error
}

// ReaderConfig selects and configures a reader.
type ReaderConfig struct {
	// Type names the format (parquet, arrow, csv). Empty means infer from
	// the path extension.
	Type string

	// Path is the input file.
	Path string

	// BatchSize is the number of rows per batch; 0 means the default.
	BatchSize int64
}

// WriterConfig selects and configures a writer.
type WriterConfig struct {
	// Type names the format (parquet, arrow, json). Empty means infer from
	// the path extension.
	Type string

	// Path is the output file.
	Path string
}
