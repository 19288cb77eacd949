// Package run orchestrates a full linkage run from a validated config: load
// inputs, block, optionally cluster, persist outputs, and report.
package run

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/TFMV/entlink/config"
	"github.com/TFMV/entlink/logger"
	"github.com/TFMV/entlink/metrics"
	"github.com/TFMV/entlink/pkg/cluster"
	"github.com/TFMV/entlink/pkg/joins"
	"github.com/TFMV/entlink/pkg/linkage"
	"github.com/TFMV/entlink/pkg/linker"
	"github.com/TFMV/entlink/pkg/readers"
	"github.com/TFMV/entlink/pkg/rel"
	"github.com/TFMV/entlink/pkg/writers"
	"github.com/TFMV/entlink/report"
	"github.com/TFMV/entlink/version"
)

// Run executes one linkage run end to end and returns its report.
func Run(ctx context.Context, cfg *config.Config) (metrics.LinkageReport, error) {
	var rep metrics.LinkageReport
	if err := cfg.Validate(); err != nil {
		return rep, err
	}
	log := logger.GetLogger()
	start := time.Now().UTC()

	left, err := LoadInput(ctx, cfg.Left)
	if err != nil {
		return rep, fmt.Errorf("loading left input: %w", err)
	}
	right := left
	if cfg.Right.Path != "" {
		if right, err = LoadInput(ctx, cfg.Right); err != nil {
			return rep, fmt.Errorf("loading right input: %w", err)
		}
	}

	kl := NewKeyLinker(cfg)
	log.Info("linking",
		zap.String("task", cfg.Task),
		zap.Strings("keys", cfg.Linker.Keys),
		zap.Int64("max_pairs", cfg.Linker.MaxPairs))
	lk, err := kl.Link(ctx, left, right)
	if err != nil {
		return rep, fmt.Errorf("linking: %w", err)
	}
	lk, err = lk.Cache(ctx)
	if err != nil {
		return rep, err
	}

	if cfg.Output.Dir != "" {
		if err := os.MkdirAll(cfg.Output.Dir, 0755); err != nil {
			return rep, err
		}
		if err := lk.ToParquets(ctx, cfg.Output.Dir); err != nil {
			return rep, fmt.Errorf("writing linkage: %w", err)
		}
	}

	task, err := linker.InferTask(kl.Task, left, right)
	if err != nil {
		return rep, err
	}

	var clusterResult *metrics.ClusterResult
	if cfg.Cluster.Enabled {
		clusterResult, err = runCluster(ctx, cfg, lk, task)
		if err != nil {
			return rep, fmt.Errorf("clustering: %w", err)
		}
	}

	// Pair counts feed the report's most-expensive-keys table; a failure
	// there should not sink a finished run.
	pairs, err := kl.PairCounts(left, right)
	if err != nil {
		log.Warn("pair counts unavailable", zap.Error(err))
		pairs = nil
	}

	meta := metrics.RunMetadata{
		Task:      string(task),
		LeftPath:  cfg.Left.Path,
		RightPath: cfg.Right.Path,
		Keys:      cfg.Linker.Keys,
		MaxPairs:  cfg.Linker.MaxPairs,
		Version:   version.Version,
		StartTime: start,
	}
	rep, err = report.Build(ctx, lk, meta, pairs)
	if err != nil {
		return rep, fmt.Errorf("building report: %w", err)
	}
	rep.Cluster = clusterResult
	rep.Metadata.EndTime = time.Now().UTC()
	rep.Metadata.Duration = rep.Metadata.EndTime.Sub(rep.Metadata.StartTime)

	if cfg.Output.ReportPath != "" {
		gen := report.JSONReportGenerator{}
		if err := gen.SaveReportToFile(rep, cfg.Output.ReportPath); err != nil {
			return rep, fmt.Errorf("saving report: %w", err)
		}
	}
	log.Info("run complete",
		zap.Int64("links", rep.Counts.Links),
		zap.Duration("duration", rep.Metadata.Duration))
	return rep, nil
}

// NewKeyLinker builds the blocking engine a config describes.
func NewKeyLinker(cfg *config.Config) *linker.KeyLinker {
	keys := make([]joins.KeySpec, len(cfg.Linker.Keys))
	for i, k := range cfg.Linker.Keys {
		keys[i] = k
	}
	kl := linker.NewKeyLinker(keys...)
	kl.MaxPairs = cfg.Linker.MaxPairs
	kl.Task = linker.Task(cfg.Task)
	return kl
}

// LoadInput reads one side's records and normalizes its id column name.
func LoadInput(ctx context.Context, in config.InputConfig) (rel.Table, error) {
	t, err := readers.ReadTable(ctx, in.Path)
	if err != nil {
		return nil, err
	}
	if in.IDColumn != "" && in.IDColumn != linkage.RecordIDCol {
		if t, err = rel.Rename(t, map[string]string{in.IDColumn: linkage.RecordIDCol}); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// runCluster partitions the linkage into entities, persists the per-side
// component tables, and summarizes the clusters.
func runCluster(ctx context.Context, cfg *config.Config, lk *linkage.Linkage, task linker.Task) (*metrics.ClusterResult, error) {
	p := &cluster.Partitioner{MaxIter: cfg.Cluster.MaxIter, Dedupe: task == linker.TaskDedupe}
	leftOut, rightOut, err := p.Partition(ctx, lk)
	if err != nil {
		return nil, err
	}
	if cfg.Output.Dir != "" {
		if err := writers.WriteTable(ctx, filepath.Join(cfg.Output.Dir, "left_components.parquet"), leftOut); err != nil {
			return nil, err
		}
		if err := writers.WriteTable(ctx, filepath.Join(cfg.Output.Dir, "right_components.parquet"), rightOut); err != nil {
			return nil, err
		}
	}
	// Under dedupe both sides hold the same records; count them once.
	if task == linker.TaskDedupe {
		return summarizeClusters(ctx, leftOut)
	}
	return summarizeClusters(ctx, leftOut, rightOut)
}

func summarizeClusters(ctx context.Context, sides ...rel.Table) (*metrics.ClusterResult, error) {
	sizes := make(map[int64]int64)
	for _, side := range sides {
		rows, err := rel.Rows(ctx, side)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			sizes[r[1].(int64)]++
		}
	}
	out := &metrics.ClusterResult{NComponents: int64(len(sizes))}
	for _, n := range sizes {
		if n > out.LargestSize {
			out.LargestSize = n
		}
	}
	return out, nil
}
