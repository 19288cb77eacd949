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
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ArrowReader reads an Arrow IPC file as record batches.
type ArrowReader struct {
	schema  *arrow.Schema
	file    *os.File
	reader  *ipc.FileReader
	current int
}

// NewArrowReader opens path for reading.
func NewArrowReader(config core.ReaderConfig) (core.DatasetReader, error) {
	if config.Path == "" {
		return nil, errors.New("path is required for arrow reader")
	}
	file, err := os.Open(config.Path)
	if err != nil {
		return nil, fmt.Errorf("opening arrow file: %w", err)
	}
	reader, err := ipc.NewFileReader(file, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("creating arrow reader: %w", err)
	}
	return &ArrowReader{
		schema: reader.Schema(),
		file:   file,
		reader: reader,
	}, nil
}

// Read returns the next batch of records.
func (r *ArrowReader) Read(ctx context.Context) (arrow.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.current >= r.reader.NumRecords() {
		return nil, io.EOF
	}
	rec, err := r.reader.Record(r.current)
	if err != nil {
		return nil, fmt.Errorf("reading arrow record %d: %w", r.current, err)
	}
	r.current++
	rec.Retain()
	return rec, nil
}

// ReadAll loads the whole file into one record batch.
func (r *ArrowReader) ReadAll(ctx context.Context) (arrow.Record, error) {
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

// Schema returns the schema of the dataset.
func (r *ArrowReader) Schema() *arrow.Schema {
	return r.schema
}

// Close closes the reader and the underlying file.
func (r *ArrowReader) Close() error {
	var errs []error
	if r.reader != nil {
		errs = append(errs, r.reader.Close())
		r.reader = nil
	}
	if r.file != nil {
		errs = append(errs, r.file.Close())
		r.file = nil
	}
	return errors.Join(errs...)
}
