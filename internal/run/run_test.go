package run

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/entlink/config"
	"github.com/TFMV/entlink/pkg/linkage"
	"github.com/TFMV/entlink/pkg/rel"
	"github.com/TFMV/entlink/pkg/writers"
)

func writePeople(t *testing.T, path string, idCol string, rows [][]any) {
	t.Helper()
	tbl, err := rel.NewTable(arrow.NewSchema([]arrow.Field{
		{Name: idCol, Type: arrow.PrimitiveTypes.Int64},
		{Name: "letter", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil), rows)
	require.NoError(t, err)
	require.NoError(t, writers.WriteTable(context.Background(), path, tbl))
}

func TestRunDedupe(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "people.parquet")
	writePeople(t, input, "record_id", [][]any{
		{0, "a"}, {1, "b"}, {2, "a"}, {3, "b"},
	})
	out := filepath.Join(dir, "out")
	cfg := &config.Config{
		Task:    "dedupe",
		Left:    config.InputConfig{Path: input},
		Linker:  config.LinkerConfig{Keys: []string{"letter"}},
		Cluster: config.ClusterConfig{Enabled: true},
		Output: config.OutputConfig{
			Dir:        out,
			ReportPath: filepath.Join(dir, "report.json"),
		},
	}

	rep, err := Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "dedupe", rep.Metadata.Task)
	assert.Equal(t, int64(4), rep.Counts.LeftRecords)
	assert.Equal(t, int64(2), rep.Counts.Links)
	require.NotNil(t, rep.Cluster)
	// {0,2} and {1,3} merge pairwise; both sides see the same table, so the
	// four records form two entities.
	assert.Equal(t, int64(2), rep.Cluster.NComponents)

	for _, name := range []string{
		"left.parquet", "right.parquet", "links.parquet",
		"left_components.parquet", "right_components.parquet",
	} {
		_, err := os.Stat(filepath.Join(out, name))
		assert.NoError(t, err, name)
	}
	_, err = os.Stat(cfg.Output.ReportPath)
	assert.NoError(t, err)

	// The persisted linkage loads back with the same link count.
	lk, err := linkage.FromParquets(context.Background(), out)
	require.NoError(t, err)
	n, err := rel.Count(context.Background(), lk.Links)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRunLinkWithIDColumnRename(t *testing.T) {
	dir := t.TempDir()
	left := filepath.Join(dir, "left.parquet")
	right := filepath.Join(dir, "right.parquet")
	writePeople(t, left, "record_id", [][]any{{0, "a"}, {1, "b"}})
	writePeople(t, right, "customer_id", [][]any{{10, "a"}, {11, "c"}})

	cfg := &config.Config{
		Task:   "link",
		Left:   config.InputConfig{Path: left},
		Right:  config.InputConfig{Path: right, IDColumn: "customer_id"},
		Linker: config.LinkerConfig{Keys: []string{"letter"}},
	}
	rep, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "link", rep.Metadata.Task)
	assert.Equal(t, int64(1), rep.Counts.Links)
	require.Len(t, rep.TopPairKeys, 1)
	assert.Equal(t, int64(1), rep.TopPairKeys[0].NPairs)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	_, err := Run(context.Background(), &config.Config{})
	require.Error(t, err)
}
