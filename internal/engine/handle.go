package engine

import "time"

// Handle is the reusable state of an initialized engine instance. It is
// created when the first run over an upload completes successfully and
// stored on the session; follow-up queries pass it back so the engine can
// skip extraction and work against the already-prepared data directory.
// Read-only after creation.
type Handle struct {
	FileID   string    `json:"fileId"`
	FilePath string    `json:"filePath"`
	DataDir  string    `json:"dataDir"`
	WarmedAt time.Time `json:"warmedAt"`
}
