package types

// DownloadRequest starts (or resumes) a download.
type DownloadRequest struct {
	// Identifier of the file to download, <model-id>#<filename>.
	// example: TheBloke/TinyLlama-1.1B-Chat-v1.0-GGUF#tinyllama-1.1b-chat-v1.0.Q4_K_M.gguf
	FileID string `json:"file_id" example:"TheBloke/TinyLlama-1.1B-Chat-v1.0-GGUF#tinyllama-1.1b-chat-v1.0.Q4_K_M.gguf"`
}

// LoadModelRequest asks the supervisor to serve a downloaded file.
type LoadModelRequest struct {
	// Identifier of a downloaded file.
	FileID string `json:"file_id"`
	// Effective load options.
	Options LoadOptions `json:"options"`
}

// ModelsResponse wraps the catalog returned by GET /models.
type ModelsResponse struct {
	Models []Model `json:"models"`
}

// FilesResponse wraps the downloaded files returned by GET /files.
type FilesResponse struct {
	Files []DownloadedFile `json:"files"`
}

// DownloadsResponse wraps the unfinished downloads returned by GET /downloads.
type DownloadsResponse struct {
	Downloads []PendingDownload `json:"downloads"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Supervisor state (no_server, spawning, running, reloading, stopped).
	// example: running
	ServerState string `json:"server_state" example:"running"`
	// The instance currently serving chat, if any.
	Loaded *LoadedModelInfo `json:"loaded,omitempty"`
	// File ids with a transfer in flight or queued.
	ActiveDownloads []string `json:"active_downloads"`
	// Last load error observed by the supervisor (if any).
	LastError string `json:"last_error,omitempty"`
	// Uptime of the daemon in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
