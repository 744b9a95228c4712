package ws

import "time"

type MessageType string

const (
	MsgAgentLog            MessageType = "agent_log"
	MsgLog                 MessageType = "log"
	MsgProcessingStarted   MessageType = "processing_started"
	MsgProcessingCompleted MessageType = "processing_completed"
	MsgFileUploaded        MessageType = "file_uploaded"
	MsgPong                MessageType = "pong"
)

// Envelope is the server-to-observer wire frame.
type Envelope struct {
	Type MessageType `json:"type"`
	Data any         `json:"data"`
}

// AgentLogData carries one raw terminal line from the engine. Timestamp is
// wall-clock HH:MM:SS.mmm, matching what observers render in the terminal
// view.
type AgentLogData struct {
	Message     string `json:"message"`
	Category    string `json:"category,omitempty"`
	Timestamp   string `json:"timestamp"`
	RawTerminal bool   `json:"raw_terminal"`
}

type LogData struct {
	Message   string `json:"message"`
	Level     string `json:"level"`
	Timestamp string `json:"timestamp"`
}

type ProcessingStartedData struct {
	FileID    string `json:"file_id"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type ProcessingCompletedData struct {
	FileID    string `json:"file_id"`
	SessionID string `json:"session_id"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type FileUploadedData struct {
	FileID    string `json:"file_id"`
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	Timestamp string `json:"timestamp"`
}

type PongData struct {
	Timestamp string `json:"timestamp"`
}

func clockStamp(t time.Time) string {
	return t.Format("15:04:05")
}

func clockStampMillis(t time.Time) string {
	return t.Format("15:04:05.000")
}

func isoStamp(t time.Time) string {
	return t.Format(time.RFC3339)
}
