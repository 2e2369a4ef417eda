package audit

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// SettlementRow is one completed withdrawal in a settlement report.
type SettlementRow struct {
	RequestID   string
	Owner       string
	Amount      uint64
	Destination string
	TxIndex     uint64
	Attempts    uint32
	RequestedAt uint64
	BroadcastAt uint64
	CompletedAt uint64
	CoreHeight  uint64
}

// ReportFiles references the artefacts produced by one report run.
type ReportFiles struct {
	RunID       uuid.UUID `json:"runId"`
	CSVPath     string    `json:"csv"`
	ParquetPath string    `json:"parquet"`
	Count       int       `json:"count"`
	Total       uint64    `json:"total"`
}

var csvHeader = []string{
	"request_id", "owner", "amount", "destination", "tx_index", "attempts",
	"requested_at", "broadcast_at", "completed_at", "core_height",
}

// WriteSettlementReport writes rows as CSV and snappy parquet under
// dir/<runID>/. A nil runID allocates a fresh one. On failure the run
// directory is removed.
func WriteSettlementReport(dir string, runID uuid.UUID, rows []SettlementRow) (ReportFiles, error) {
	if runID == uuid.Nil {
		runID = uuid.New()
	}
	runDir := filepath.Join(dir, runID.String())
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return ReportFiles{}, fmt.Errorf("audit: create report dir: %w", err)
	}
	files := ReportFiles{
		RunID:       runID,
		CSVPath:     filepath.Join(runDir, "settlements.csv"),
		ParquetPath: filepath.Join(runDir, "settlements.parquet"),
		Count:       len(rows),
	}
	for _, row := range rows {
		files.Total += row.Amount
	}

	if err := writeReportFiles(files, rows); err != nil {
		_ = os.RemoveAll(runDir)
		return ReportFiles{}, err
	}
	return files, nil
}

func writeReportFiles(files ReportFiles, rows []SettlementRow) error {
	csvFile, err := os.Create(files.CSVPath)
	if err != nil {
		return fmt.Errorf("audit: create csv: %w", err)
	}
	if err := WriteCSV(csvFile, rows); err != nil {
		csvFile.Close()
		return err
	}
	if err := csvFile.Close(); err != nil {
		return fmt.Errorf("audit: close csv: %w", err)
	}
	return writeParquet(files.ParquetPath, rows)
}

// WriteCSV renders rows in the settlement CSV layout.
func WriteCSV(w io.Writer, rows []SettlementRow) error {
	out := csv.NewWriter(w)
	if err := out.Write(csvHeader); err != nil {
		return fmt.Errorf("audit: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.RequestID,
			row.Owner,
			strconv.FormatUint(row.Amount, 10),
			row.Destination,
			strconv.FormatUint(row.TxIndex, 10),
			strconv.FormatUint(uint64(row.Attempts), 10),
			strconv.FormatUint(row.RequestedAt, 10),
			strconv.FormatUint(row.BroadcastAt, 10),
			strconv.FormatUint(row.CompletedAt, 10),
			strconv.FormatUint(row.CoreHeight, 10),
		}
		if err := out.Write(record); err != nil {
			return fmt.Errorf("audit: write csv row: %w", err)
		}
	}
	out.Flush()
	if err := out.Error(); err != nil {
		return fmt.Errorf("audit: flush csv: %w", err)
	}
	return nil
}

type parquetRow struct {
	RequestID   string `parquet:"name=request_id, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Owner       string `parquet:"name=owner, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Amount      int64  `parquet:"name=amount, type=INT64"`
	Destination string `parquet:"name=destination, type=UTF8, encoding=PLAIN_DICTIONARY"`
	TxIndex     int64  `parquet:"name=tx_index, type=INT64"`
	Attempts    int32  `parquet:"name=attempts, type=INT32"`
	RequestedAt int64  `parquet:"name=requested_at, type=INT64"`
	BroadcastAt int64  `parquet:"name=broadcast_at, type=INT64"`
	CompletedAt int64  `parquet:"name=completed_at, type=INT64"`
	CoreHeight  int64  `parquet:"name=core_height, type=INT64"`
}

func writeParquet(path string, rows []SettlementRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet schema: %w", err)
	}
	pw.RowGroupSize = 16 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetRow{
			RequestID:   row.RequestID,
			Owner:       row.Owner,
			Amount:      int64(row.Amount),
			Destination: row.Destination,
			TxIndex:     int64(row.TxIndex),
			Attempts:    int32(row.Attempts),
			RequestedAt: int64(row.RequestedAt),
			BroadcastAt: int64(row.BroadcastAt),
			CompletedAt: int64(row.CompletedAt),
			CoreHeight:  int64(row.CoreHeight),
		}
		if err := pw.Write(pr); err != nil {
			file.Close()
			return fmt.Errorf("audit: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("audit: close parquet file: %w", err)
	}
	return nil
}
