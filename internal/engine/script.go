package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// jobFile is the transient artifact handed to the engine as its only
// argument. It exists only for the lifetime of one run; the runner removes
// it on every exit path.
type jobFile struct {
	FilePath string `json:"file_path"`
	Question string `json:"question"`
	DataDir  string `json:"data_dir"`
	// Warm tells the engine the data directory was prepared by an earlier
	// run and extraction can be skipped.
	Warm bool `json:"warm"`
}

// writeJobFile serializes the job description into dir and returns the path.
func writeJobFile(dir string, job jobFile) (string, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job file: %w", err)
	}

	f, err := os.CreateTemp(dir, "job-*.json")
	if err != nil {
		return "", fmt.Errorf("create job file: %w", err)
	}
	path := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write job file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close job file: %w", err)
	}

	return filepath.Clean(path), nil
}
