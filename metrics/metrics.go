// Package metrics holds the result types a linkage run produces and the
// stores that persist them.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// -----------------------------
// Domain Types & Metadata
// -----------------------------

// RunMetadata captures high-level context for a linkage run.
type RunMetadata struct {
	Task      string        `json:"task"`
	LeftPath  string        `json:"left_path"`
	RightPath string        `json:"right_path,omitempty"`
	Keys      []string      `json:"keys,omitempty"`
	MaxPairs  int64         `json:"max_pairs,omitempty"`
	Version   string        `json:"version"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
}

// -----------------------------
// Result Types
// -----------------------------

// CountsResult holds the run's headline sizes.
type CountsResult struct {
	LeftRecords  int64 `json:"left_records"`
	RightRecords int64 `json:"right_records"`
	Links        int64 `json:"links"`
}

// LinkCountBucket is one row of a link-count histogram: how many records
// carry exactly NLinks links.
type LinkCountBucket struct {
	NLinks   int64 `json:"n_links"`
	NRecords int64 `json:"n_records"`
}

// KeyPairCount is one blocking key tuple and the number of pairs it
// generates.
type KeyPairCount struct {
	Key    map[string]any `json:"key"`
	NPairs int64          `json:"n_pairs"`
}

// ClusterResult summarizes entity clustering, when it ran.
type ClusterResult struct {
	NComponents int64 `json:"n_components"`
	LargestSize int64 `json:"largest_size"`
}

// LinkageReport aggregates one run's results.
type LinkageReport struct {
	Metadata       RunMetadata       `json:"metadata"`
	Counts         CountsResult      `json:"counts"`
	LeftHistogram  []LinkCountBucket `json:"left_histogram"`
	RightHistogram []LinkCountBucket `json:"right_histogram"`
	TopPairKeys    []KeyPairCount    `json:"top_pair_keys,omitempty"`
	Cluster        *ClusterResult    `json:"cluster,omitempty"`
}

// -----------------------------
// Report Storage
// -----------------------------

// ReportStore abstracts linkage report storage.
type ReportStore interface {
	Save(run LinkageReport) error
	SaveWithContext(ctx context.Context, run LinkageReport) error
}

// JSONReportStore stores reports as JSON, to a file or stdout.
type JSONReportStore struct {
	FilePath string
}

func (j *JSONReportStore) Save(run LinkageReport) error {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return err
	}
	if j.FilePath != "" {
		return os.WriteFile(j.FilePath, data, 0644)
	}
	fmt.Println(string(data))
	return nil
}

func (j *JSONReportStore) SaveWithContext(ctx context.Context, run LinkageReport) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return j.Save(run)
	}
}
