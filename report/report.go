// Package report builds and renders linkage run reports.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"os"

	"github.com/spf13/cast"

	"github.com/TFMV/entlink/metrics"
	"github.com/TFMV/entlink/pkg/linkage"
	"github.com/TFMV/entlink/pkg/rel"
)

// topPairKeyLimit bounds how many blocking keys a report lists.
const topPairKeyLimit = 10

// -----------------------------
// Report Builder
// -----------------------------

// Build assembles a LinkageReport from a completed run: headline counts,
// per-side link-count histograms, and (when pair counts are supplied) the
// most expensive blocking keys.
func Build(ctx context.Context, lk *linkage.Linkage, meta metrics.RunMetadata, pairs *linkage.PairCountsTable) (metrics.LinkageReport, error) {
	var rep metrics.LinkageReport
	rep.Metadata = meta

	var err error
	if rep.Counts.LeftRecords, err = rel.Count(ctx, lk.Left); err != nil {
		return rep, fmt.Errorf("counting left records: %w", err)
	}
	if rep.Counts.RightRecords, err = rel.Count(ctx, lk.Right); err != nil {
		return rep, fmt.Errorf("counting right records: %w", err)
	}
	if rep.Counts.Links, err = rel.Count(ctx, lk.Links); err != nil {
		return rep, fmt.Errorf("counting links: %w", err)
	}

	if rep.LeftHistogram, err = histogram(ctx, lk.LeftLinked()); err != nil {
		return rep, fmt.Errorf("left histogram: %w", err)
	}
	if rep.RightHistogram, err = histogram(ctx, lk.RightLinked()); err != nil {
		return rep, fmt.Errorf("right histogram: %w", err)
	}

	if pairs != nil {
		if rep.TopPairKeys, err = topPairKeys(ctx, pairs); err != nil {
			return rep, fmt.Errorf("pair counts: %w", err)
		}
	}
	return rep, nil
}

func histogram(ctx context.Context, side *linkage.LinkedTable) ([]metrics.LinkCountBucket, error) {
	counts, err := side.LinkCounts()
	if err != nil {
		return nil, err
	}
	rows, err := rel.Rows(ctx, counts.Table())
	if err != nil {
		return nil, err
	}
	out := make([]metrics.LinkCountBucket, len(rows))
	for i, r := range rows {
		out[i] = metrics.LinkCountBucket{
			NLinks:   cast.ToInt64(r[0]),
			NRecords: cast.ToInt64(r[1]),
		}
	}
	return out, nil
}

func topPairKeys(ctx context.Context, pairs *linkage.PairCountsTable) ([]metrics.KeyPairCount, error) {
	t := pairs.Table()
	rows, err := rel.Rows(ctx, rel.Limit(t, topPairKeyLimit))
	if err != nil {
		return nil, err
	}
	schema := t.Schema()
	out := make([]metrics.KeyPairCount, len(rows))
	for i, r := range rows {
		key := make(map[string]any, schema.NumFields()-1)
		var n int64
		for j := 0; j < schema.NumFields(); j++ {
			if schema.Field(j).Name == "n" {
				n = cast.ToInt64(r[j])
				continue
			}
			key[schema.Field(j).Name] = r[j]
		}
		out[i] = metrics.KeyPairCount{Key: key, NPairs: n}
	}
	return out, nil
}

// -----------------------------
// Report Generator Interfaces
// -----------------------------

// ReportGenerator defines the methods for rendering reports.
type ReportGenerator interface {
	GenerateLinkageReport(run metrics.LinkageReport) ([]byte, error)
	SaveReportToFile(run metrics.LinkageReport, filePath string) error
}

// -----------------------------
// JSON Report Generator
// -----------------------------

// JSONReportGenerator generates JSON reports.
type JSONReportGenerator struct{}

// GenerateLinkageReport serializes the LinkageReport to JSON.
func (j *JSONReportGenerator) GenerateLinkageReport(run metrics.LinkageReport) ([]byte, error) {
	return json.MarshalIndent(run, "", "  ")
}

// SaveReportToFile saves the JSON report to a file.
func (j *JSONReportGenerator) SaveReportToFile(run metrics.LinkageReport, filePath string) error {
	data, err := j.GenerateLinkageReport(run)
	if err != nil {
		return err
	}
	return os.WriteFile(filePath, data, 0644)
}

// ReportFromFilePath loads a previously saved report.
func (j *JSONReportGenerator) ReportFromFilePath(path string) (metrics.LinkageReport, error) {
	return ReportFromFilePath(path)
}

// -----------------------------
// HTML Report Generator
// -----------------------------

// HTMLReportGenerator generates HTML reports.
type HTMLReportGenerator struct{}

// HTML template for the report.
const htmlTemplate = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Linkage Report</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        table { width: 100%; border-collapse: collapse; margin-top: 20px; }
        th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
        th { background-color: #f4f4f4; }
    </style>
</head>
<body>
    <h1>Linkage Report</h1>
    <p><strong>Task:</strong> {{.Metadata.Task}}</p>
    <p><strong>Left:</strong> {{.Metadata.LeftPath}}</p>
    <p><strong>Right:</strong> {{.Metadata.RightPath}}</p>
    <p><strong>Started:</strong> {{.Metadata.StartTime}}</p>

    <h2>Counts</h2>
    <table>
        <tr>
            <th>Left Records</th>
            <th>Right Records</th>
            <th>Links</th>
        </tr>
        <tr>
            <td>{{.Counts.LeftRecords}}</td>
            <td>{{.Counts.RightRecords}}</td>
            <td>{{.Counts.Links}}</td>
        </tr>
    </table>

    <h2>Left Link Counts</h2>
    <table>
        <tr><th>Links</th><th>Records</th></tr>
        {{range .LeftHistogram}}
        <tr><td>{{.NLinks}}</td><td>{{.NRecords}}</td></tr>
        {{end}}
    </table>

    <h2>Right Link Counts</h2>
    <table>
        <tr><th>Links</th><th>Records</th></tr>
        {{range .RightHistogram}}
        <tr><td>{{.NLinks}}</td><td>{{.NRecords}}</td></tr>
        {{end}}
    </table>

    {{if .TopPairKeys}}
    <h2>Most Expensive Keys</h2>
    <table>
        <tr><th>Key</th><th>Pairs</th></tr>
        {{range .TopPairKeys}}
        <tr><td>{{range $k, $v := .Key}}{{$k}}={{$v}} {{end}}</td><td>{{.NPairs}}</td></tr>
        {{end}}
    </table>
    {{end}}

    <footer>
        <p>Generated on {{.Metadata.EndTime}}</p>
    </footer>
</body>
</html>
`

// GenerateLinkageReport renders the report as HTML.
func (h *HTMLReportGenerator) GenerateLinkageReport(run metrics.LinkageReport) ([]byte, error) {
	tmpl, err := template.New("report").Parse(htmlTemplate)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, run)
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// SaveReportToFile saves the HTML report to a file.
func (h *HTMLReportGenerator) SaveReportToFile(run metrics.LinkageReport, filePath string) error {
	data, err := h.GenerateLinkageReport(run)
	if err != nil {
		return err
	}
	return os.WriteFile(filePath, data, 0644)
}

// SaveReports saves both JSON and HTML renderings.
func SaveReports(run metrics.LinkageReport, jsonPath, htmlPath string) error {
	jsonGen := JSONReportGenerator{}
	htmlGen := HTMLReportGenerator{}

	if err := jsonGen.SaveReportToFile(run, jsonPath); err != nil {
		return err
	}
	if err := htmlGen.SaveReportToFile(run, htmlPath); err != nil {
		return err
	}
	return nil
}

// ReportFromFilePath loads a JSON report from disk.
func ReportFromFilePath(filePath string) (metrics.LinkageReport, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return metrics.LinkageReport{}, err
	}
	var report metrics.LinkageReport
	if err := json.Unmarshal(data, &report); err != nil {
		return metrics.LinkageReport{}, err
	}
	return report, nil
}
