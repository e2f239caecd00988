package storage

import (
	"encoding/json"
	"io"
	"os"

	"github.com/san-kum/octgrav/internal/metrics"
)

type ExportData struct {
	Run         RunMetadata           `json:"run"`
	Diagnostics []metrics.Diagnostics `json:"diagnostics"`
	Snapshots   []string              `json:"snapshots"`
}

// Export collects everything stored for a run.
func (s *Store) Export(runID string) (*ExportData, error) {
	meta, err := s.Load(runID)
	if err != nil {
		return nil, err
	}
	diags, err := s.LoadDiagnostics(runID)
	if err != nil {
		return nil, err
	}
	snaps, err := s.Snapshots(runID)
	if err != nil {
		return nil, err
	}
	return &ExportData{Run: *meta, Diagnostics: diags, Snapshots: snaps}, nil
}

func ExportJSON(path string, data *ExportData) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return EncodeJSON(file, data)
}

func ExportJSONStdout(data *ExportData) error {
	return EncodeJSON(os.Stdout, data)
}

func EncodeJSON(w io.Writer, data *ExportData) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
