package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/maltedev/catalog-sync/internal/models"
)

// Exporter writes run artifacts into one directory: the scraped products as
// JSON (the uploader's input format), a per-product CSV report, and a run
// summary.
type Exporter struct {
	dir string
}

func NewExporter(dir string) (*Exporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export dir: %w", err)
	}
	return &Exporter{dir: dir}, nil
}

func (e *Exporter) Dir() string { return e.dir }

// WriteProducts saves the scraped records as indented JSON.
func (e *Exporter) WriteProducts(records []*models.ProductRecord, filename string) (string, error) {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal products: %w", err)
	}

	path := filepath.Join(e.dir, filename)
	if err := e.writeAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// ReadProducts loads a products file written by WriteProducts.
func ReadProducts(path string) ([]*models.ProductRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read products file: %w", err)
	}

	var records []*models.ProductRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse products file %s: %w", path, err)
	}
	return records, nil
}

// WriteReport saves the per-product upload outcomes as CSV.
func (e *Exporter) WriteReport(summary *models.BatchSummary, filename string) (string, error) {
	path := filepath.Join(e.dir, filename)

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}

	w := csv.NewWriter(f)
	w.Write([]string{"referencia", "nome", "status", "motivo", "id_remoto", "tentativas", "imagens_iniciais", "imagens_adiadas", "erro"})

	for _, o := range summary.Details {
		w.Write([]string{
			o.Reference,
			o.Name,
			string(o.Status),
			string(o.Reason),
			strconv.FormatInt(o.RemoteID, 10),
			strconv.Itoa(o.Attempts),
			strconv.Itoa(o.InitialImages),
			strconv.Itoa(o.RemainingImages),
			o.Err,
		})
	}

	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to close report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to finalize report: %w", err)
	}
	return path, nil
}

// RunSummary is the compact end-of-run artifact.
type RunSummary struct {
	Site       string              `json:"site,omitempty"`
	Total      int                 `json:"total"`
	Success    int                 `json:"sucesso"`
	Errors     int                 `json:"erros"`
	Skipped    int                 `json:"ignorados"`
	Deferred   map[string]int      `json:"imagens_adiadas,omitempty"`
	ByStatus   map[string]int      `json:"por_status"`
	StartedAt  time.Time           `json:"inicio"`
	FinishedAt time.Time           `json:"fim"`
	Duration   string              `json:"duracao"`
	Failures   []map[string]string `json:"falhas,omitempty"`
}

// WriteSummary saves an aggregate view of the run, including every failed
// reference so a rerun can be scoped by hand.
func (e *Exporter) WriteSummary(site string, summary *models.BatchSummary, deferred map[string]int, filename string) (string, error) {
	out := RunSummary{
		Site:       site,
		Total:      summary.Total,
		Success:    summary.Success,
		Errors:     summary.Errors,
		Skipped:    summary.Skipped,
		Deferred:   deferred,
		ByStatus:   make(map[string]int),
		StartedAt:  summary.StartedAt,
		FinishedAt: summary.FinishedAt,
		Duration:   summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond).String(),
	}

	for _, o := range summary.Details {
		out.ByStatus[string(o.Status)]++
		if o.Status == models.StatusFailed {
			out.Failures = append(out.Failures, map[string]string{
				"referencia": o.Reference,
				"erro":       o.Err,
			})
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal summary: %w", err)
	}

	path := filepath.Join(e.dir, filename)
	if err := e.writeAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// writeAtomic goes through a temp file and a rename so a crashed run never
// leaves a half-written artifact.
func (e *Exporter) writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize %s: %w", path, err)
	}
	return nil
}
