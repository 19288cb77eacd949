package readers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/TFMV/entlink/pkg/core"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// CSVReader reads a headered CSV file as arrow record batches. Column types
// are inferred and empty strings read as NULL.
type CSVReader struct {
	schema *arrow.Schema
	file   *os.File
	reader *csv.Reader
}

// NewCSVReader opens path for reading.
func NewCSVReader(config core.ReaderConfig) (core.DatasetReader, error) {
	if config.Path == "" {
		return nil, errors.New("path is required for csv reader")
	}
	file, err := os.Open(config.Path)
	if err != nil {
		return nil, fmt.Errorf("opening csv file: %w", err)
	}
	chunkSize := config.BatchSize
	if chunkSize <= 0 {
		chunkSize = defaultBatchSize
	}

	reader := csv.NewInferringReader(
		file,
		csv.WithChunk(int(chunkSize)),
		csv.WithHeader(true),
		csv.WithNullReader(true, ""),
		csv.WithAllocator(memory.NewGoAllocator()),
	)
	return &CSVReader{file: file, reader: reader}, nil
}

// Read returns the next batch of records.
func (r *CSVReader) Read(ctx context.Context) (arrow.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !r.reader.Next() {
		if r.reader.Err() != nil {
			return nil, fmt.Errorf("reading csv: %w", r.reader.Err())
		}
		return nil, io.EOF
	}

	if r.schema == nil {
		r.schema = r.reader.Schema()
	}

	record := r.reader.Record()
	record.Retain()
	return record, nil
}

// ReadAll loads the whole CSV file into one record batch.
func (r *CSVReader) ReadAll(ctx context.Context) (arrow.Record, error) {
	var batches []arrow.Record
	defer func() {
		for _, b := range batches {
			b.Release()
		}
	}()
	for {
		rec, err := r.Read(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		batches = append(batches, rec)
	}
	if len(batches) == 0 {
		return nil, io.EOF
	}
	if len(batches) == 1 {
		out := batches[0]
		out.Retain()
		return out, nil
	}
	table := array.NewTableFromRecords(r.schema, batches)
	defer table.Release()
	return tableToRecord(r.schema, table)
}

// Schema returns the schema of the dataset. It is nil until the first batch
// has been read, since CSV schemas are inferred.
func (r *CSVReader) Schema() *arrow.Schema {
	return r.schema
}

// Close closes the reader and releases resources.
func (r *CSVReader) Close() error {
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}
