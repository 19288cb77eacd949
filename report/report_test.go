package report

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/entlink/metrics"
	"github.com/TFMV/entlink/pkg/linkage"
	"github.com/TFMV/entlink/pkg/rel"
)

func sampleLinkage(t *testing.T) *linkage.Linkage {
	t.Helper()
	idField := arrow.Field{Name: "record_id", Type: arrow.PrimitiveTypes.Int64}
	left, err := rel.NewTable(arrow.NewSchema([]arrow.Field{idField}, nil),
		[][]any{{0}, {1}, {2}})
	require.NoError(t, err)
	right, err := rel.NewTable(arrow.NewSchema([]arrow.Field{idField}, nil),
		[][]any{{10}, {11}})
	require.NoError(t, err)
	links, err := rel.NewTable(arrow.NewSchema([]arrow.Field{
		{Name: "record_id_l", Type: arrow.PrimitiveTypes.Int64},
		{Name: "record_id_r", Type: arrow.PrimitiveTypes.Int64},
	}, nil), [][]any{{0, 10}, {1, 10}})
	require.NoError(t, err)
	lk, err := linkage.New(left, right, links)
	require.NoError(t, err)
	return lk
}

func TestBuild(t *testing.T) {
	lk := sampleLinkage(t)
	meta := metrics.RunMetadata{Task: "link", LeftPath: "l.parquet", RightPath: "r.parquet"}

	rep, err := Build(context.Background(), lk, meta, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(3), rep.Counts.LeftRecords)
	assert.Equal(t, int64(2), rep.Counts.RightRecords)
	assert.Equal(t, int64(2), rep.Counts.Links)

	// Left: two records with one link each, one with none.
	leftHist := map[int64]int64{}
	for _, b := range rep.LeftHistogram {
		leftHist[b.NLinks] = b.NRecords
	}
	assert.Equal(t, map[int64]int64{1: 2, 0: 1}, leftHist)

	// Right: one record with two links, one with none.
	rightHist := map[int64]int64{}
	for _, b := range rep.RightHistogram {
		rightHist[b.NLinks] = b.NRecords
	}
	assert.Equal(t, map[int64]int64{2: 1, 0: 1}, rightHist)

	assert.Empty(t, rep.TopPairKeys)
}

func TestBuildWithPairCounts(t *testing.T) {
	lk := sampleLinkage(t)
	counts, err := rel.NewTable(arrow.NewSchema([]arrow.Field{
		{Name: "letter", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "n", Type: arrow.PrimitiveTypes.Int64},
	}, nil), [][]any{{"a", 4}, {"b", 1}})
	require.NoError(t, err)

	rep, err := Build(context.Background(), lk, metrics.RunMetadata{}, linkage.NewPairCountsTable(counts))
	require.NoError(t, err)
	require.Len(t, rep.TopPairKeys, 2)
	assert.Equal(t, int64(4), rep.TopPairKeys[0].NPairs)
	assert.Equal(t, "a", rep.TopPairKeys[0].Key["letter"])
}

func TestJSONReportRoundTrip(t *testing.T) {
	rep := metrics.LinkageReport{
		Metadata: metrics.RunMetadata{
			Task:      "dedupe",
			LeftPath:  "people.parquet",
			Keys:      []string{"first", "last"},
			StartTime: time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC),
		},
		Counts:        metrics.CountsResult{LeftRecords: 5, RightRecords: 5, Links: 2},
		LeftHistogram: []metrics.LinkCountBucket{{NLinks: 1, NRecords: 4}},
	}

	path := filepath.Join(t.TempDir(), "report.json")
	gen := JSONReportGenerator{}
	require.NoError(t, gen.SaveReportToFile(rep, path))

	loaded, err := ReportFromFilePath(path)
	require.NoError(t, err)
	assert.Equal(t, rep, loaded)
}

func TestHTMLReport(t *testing.T) {
	rep := metrics.LinkageReport{
		Metadata: metrics.RunMetadata{Task: "link", LeftPath: "l.parquet", RightPath: "r.parquet"},
		Counts:   metrics.CountsResult{LeftRecords: 3, RightRecords: 2, Links: 2},
		TopPairKeys: []metrics.KeyPairCount{
			{Key: map[string]any{"letter": "a"}, NPairs: 4},
		},
	}
	gen := HTMLReportGenerator{}
	data, err := gen.GenerateLinkageReport(rep)
	require.NoError(t, err)
	html := string(data)
	assert.Contains(t, html, "Linkage Report")
	assert.Contains(t, html, "l.parquet")
	assert.Contains(t, html, "letter=a")
}
