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
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// ParquetReader reads a parquet file as a stream of arrow record batches.
type ParquetReader struct {
	schema      *arrow.Schema
	fileReader  *file.Reader
	arrowReader *pqarrow.FileReader
	batchSize   int64
	file        *os.File
	records     []arrow.Record
	currentRec  int
	exhausted   bool
}

// NewParquetReader opens path for reading.
func NewParquetReader(config core.ReaderConfig) (core.DatasetReader, error) {
	if config.Path == "" {
		return nil, errors.New("path is required for parquet reader")
	}
	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	f, err := os.Open(config.Path)
	if err != nil {
		return nil, fmt.Errorf("opening parquet file: %w", err)
	}
	parquetReader, err := file.NewParquetReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("reading parquet metadata: %w", err)
	}
	arrowReader, err := pqarrow.NewFileReader(parquetReader, pqarrow.ArrowReadProperties{
		Parallel:  true,
		BatchSize: batchSize,
	}, memory.NewGoAllocator())
	if err != nil {
		parquetReader.Close()
		f.Close()
		return nil, fmt.Errorf("creating arrow reader: %w", err)
	}
	schema, err := arrowReader.Schema()
	if err != nil {
		parquetReader.Close()
		f.Close()
		return nil, fmt.Errorf("resolving schema: %w", err)
	}

	return &ParquetReader{
		schema:      schema,
		fileReader:  parquetReader,
		arrowReader: arrowReader,
		batchSize:   batchSize,
		file:        f,
	}, nil
}

// Read returns the next batch of records.
func (r *ParquetReader) Read(ctx context.Context) (arrow.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if r.currentRec < len(r.records) {
		record := r.records[r.currentRec]
		r.currentRec++
		return record, nil
	}
	if r.exhausted {
		return nil, io.EOF
	}

	// Load the whole file as batches once; subsequent calls drain them.
	table, err := r.arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading parquet file: %w", err)
	}
	defer table.Release()

	tableReader := array.NewTableReader(table, r.batchSize)
	defer tableReader.Release()
	for tableReader.Next() {
		rec := tableReader.Record()
		rec.Retain()
		r.records = append(r.records, rec)
	}
	if tableReader.Err() != nil {
		return nil, fmt.Errorf("error reading from table: %w", tableReader.Err())
	}
	r.exhausted = true

	if len(r.records) == 0 {
		return nil, io.EOF
	}
	r.currentRec = 1
	return r.records[0], nil
}

// ReadAll reads the entire Parquet file into a single Arrow record.
// Warning: This can use a lot of memory for large files.
func (r *ParquetReader) ReadAll(ctx context.Context) (arrow.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	table, err := r.arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading parquet file: %w", err)
	}
	defer table.Release()

	return tableToRecord(r.schema, table)
}

// tableToRecord flattens an Arrow table into one owned record batch.
func tableToRecord(schema *arrow.Schema, table arrow.Table) (arrow.Record, error) {
	rows := table.NumRows()
	if rows == 0 {
		cols := make([]arrow.Array, schema.NumFields())
		for i, f := range schema.Fields() {
			b := array.NewBuilder(memory.NewGoAllocator(), f.Type)
			cols[i] = b.NewArray()
			b.Release()
		}
		rec := array.NewRecord(schema, cols, 0)
		for _, c := range cols {
			c.Release()
		}
		return rec, nil
	}

	tableReader := array.NewTableReader(table, rows)
	defer tableReader.Release()
	if !tableReader.Next() {
		if tableReader.Err() != nil {
			return nil, tableReader.Err()
		}
		return nil, errors.New("unexpected error: failed to read combined record")
	}
	rec := tableReader.Record()
	return array.NewRecord(schema, rec.Columns(), rec.NumRows()), nil
}

// Schema returns the schema of the dataset.
func (r *ParquetReader) Schema() *arrow.Schema {
	return r.schema
}

// Close releases buffered records and closes the file.
func (r *ParquetReader) Close() error {
	for _, rec := range r.records {
		rec.Release()
	}
	r.records = nil

	var errs []error
	if r.fileReader != nil {
		errs = append(errs, r.fileReader.Close())
		r.fileReader = nil
	}
	if r.file != nil {
		errs = append(errs, r.file.Close())
		r.file = nil
	}
	return errors.Join(errs...)
}
