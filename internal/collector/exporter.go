package collector

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ExportFormat represents the export format
type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatCSV  ExportFormat = "csv"
)

// Exporter handles report export functionality
type Exporter struct {
	outputDir string
	now       func() time.Time
}

// NewExporter creates a new Exporter
func NewExporter(outputDir string) *Exporter {
	return &Exporter{
		outputDir: outputDir,
		now:       time.Now,
	}
}

// Export exports the report to the specified format
func (e *Exporter) Export(report *Report, format ExportFormat) (string, error) {
	// Create output directory if it doesn't exist
	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := e.now().Format("20060102_150405")

	switch format {
	case FormatJSON:
		return e.exportJSON(report, timestamp)
	case FormatCSV:
		return e.exportCSV(report, timestamp)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// JSONReport is a JSON-serializable version of Report
type JSONReport struct {
	StartTime string       `json:"start_time"`
	EndTime   string       `json:"end_time"`
	Duration  string       `json:"duration"`
	Summary   JSONSummary  `json:"summary"`
	Blocks    []JSONBlock  `json:"blocks"`
	Finality  *JSONLatency `json:"finality,omitempty"`
}

// JSONSummary is a JSON-serializable summary
type JSONSummary struct {
	TxCount       uint64  `json:"tx_count"`
	TPS           float64 `json:"tps"`
	BeginBlock    uint64  `json:"begin_block"`
	BeginHash     string  `json:"begin_hash"`
	FinalizeBlock uint64  `json:"finalize_block"`
	FinalizeHash  string  `json:"finalize_hash"`
	BlockCount    int     `json:"block_count"`
	BlockTxTotal  int     `json:"block_tx_total"`
	BlockSpan     string  `json:"block_span"`
	BlockTPS      float64 `json:"block_tps"`
	AvgBlockTime  string  `json:"avg_block_time"`
}

// JSONBlock is a JSON-serializable block row
type JSONBlock struct {
	Number       uint64 `json:"number"`
	Hash         string `json:"hash"`
	Timestamp    string `json:"timestamp"`
	Transactions int    `json:"transactions"`
	FinalityLag  string `json:"finality_lag"`
}

// JSONLatency is a JSON-serializable latency distribution
type JSONLatency struct {
	Count   int    `json:"count"`
	Average string `json:"average"`
	Min     string `json:"min"`
	Max     string `json:"max"`
	P50     string `json:"p50"`
	P95     string `json:"p95"`
}

func (e *Exporter) exportJSON(report *Report, timestamp string) (string, error) {
	filename := filepath.Join(e.outputDir, fmt.Sprintf("report_%s.json", timestamp))

	data, err := json.MarshalIndent(NewJSONReport(report), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	return filename, nil
}

// NewJSONReport creates a JSON-serializable report
func NewJSONReport(report *Report) *JSONReport {
	jr := &JSONReport{
		StartTime: report.BeginTime.Format(time.RFC3339Nano),
		EndTime:   report.EndTime.Format(time.RFC3339Nano),
		Duration:  report.Duration.String(),
		Summary: JSONSummary{
			TxCount:       report.TxCount,
			TPS:           report.TPS,
			BeginBlock:    report.BeginBlock.Number,
			BeginHash:     report.BeginBlock.Hash.Hex(),
			FinalizeBlock: report.FinalizeBlock.Number,
			FinalizeHash:  report.FinalizeBlock.Hash.Hex(),
			BlockCount:    len(report.Blocks),
			BlockTxTotal:  report.BlockTxTotal,
			BlockSpan:     report.BlockSpan.String(),
			BlockTPS:      report.BlockTPS,
			AvgBlockTime:  report.AvgBlockTime.String(),
		},
		Blocks: make([]JSONBlock, 0, len(report.Blocks)),
	}

	for _, b := range report.Blocks {
		jr.Blocks = append(jr.Blocks, JSONBlock{
			Number:       b.Number,
			Hash:         b.Hash.Hex(),
			Timestamp:    b.Time.Format(time.RFC3339),
			Transactions: b.Transactions,
			FinalityLag:  b.FinalityLag.String(),
		})
	}

	if f := report.Finality; f != nil {
		jr.Finality = &JSONLatency{
			Count:   f.Count,
			Average: f.Avg.String(),
			Min:     f.Min.String(),
			Max:     f.Max.String(),
			P50:     f.P50.String(),
			P95:     f.P95.String(),
		}
	}

	return jr
}

func (e *Exporter) exportCSV(report *Report, timestamp string) (string, error) {
	// Create summary CSV
	summaryFile := filepath.Join(e.outputDir, fmt.Sprintf("summary_%s.csv", timestamp))
	if err := e.exportSummaryCSV(report, summaryFile); err != nil {
		return "", err
	}

	// Create blocks CSV if available
	if len(report.Blocks) > 0 {
		blocksFile := filepath.Join(e.outputDir, fmt.Sprintf("blocks_%s.csv", timestamp))
		if err := e.exportBlocksCSV(report, blocksFile); err != nil {
			return "", err
		}
	}

	return summaryFile, nil
}

func (e *Exporter) exportSummaryCSV(report *Report, filename string) error {
	records := [][]string{
		{"Metric", "Value"},
		{"Start Time", report.BeginTime.Format(time.RFC3339Nano)},
		{"End Time", report.EndTime.Format(time.RFC3339Nano)},
		{"Duration", report.Duration.String()},
		{"Transactions", strconv.FormatUint(report.TxCount, 10)},
		{"TPS", fmt.Sprintf("%.2f", report.TPS)},
		{"Begin Block", report.BeginBlock.String()},
		{"Finalize Block", report.FinalizeBlock.String()},
		{"Blocks", strconv.Itoa(len(report.Blocks))},
		{"Block Tx Total", strconv.Itoa(report.BlockTxTotal)},
		{"Block Span", report.BlockSpan.String()},
		{"Block TPS", fmt.Sprintf("%.2f", report.BlockTPS)},
		{"Avg Block Time", report.AvgBlockTime.String()},
	}
	if f := report.Finality; f != nil {
		records = append(records,
			[]string{"Finality Samples", strconv.Itoa(f.Count)},
			[]string{"Finality Avg", f.Avg.String()},
			[]string{"Finality P95", f.P95.String()},
		)
	}

	return writeCSV(filename, records)
}

func (e *Exporter) exportBlocksCSV(report *Report, filename string) error {
	records := [][]string{{"Number", "Hash", "Timestamp", "TxCount", "FinalityLag"}}

	for _, block := range report.Blocks {
		records = append(records, []string{
			strconv.FormatUint(block.Number, 10),
			block.Hash.Hex(),
			block.Time.Format(time.RFC3339),
			strconv.Itoa(block.Transactions),
			block.FinalityLag.String(),
		})
	}

	return writeCSV(filename, records)
}

func writeCSV(filename string, records [][]string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(records); err != nil {
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}
	return nil
}

// ExportAll exports the report in all formats
func (e *Exporter) ExportAll(report *Report) ([]string, error) {
	files := make([]string, 0, 2)

	jsonFile, err := e.Export(report, FormatJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to export JSON: %w", err)
	}
	files = append(files, jsonFile)

	csvFile, err := e.Export(report, FormatCSV)
	if err != nil {
		return nil, fmt.Errorf("failed to export CSV: %w", err)
	}
	files = append(files, csvFile)

	return files, nil
}
