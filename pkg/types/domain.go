package types

import "time"

// Model is catalog metadata for a family of downloadable files.
type Model struct {
	// Stable identifier, usually the upstream repository path.
	// example: TheBloke/TinyLlama-1.1B-Chat-v1.0-GGUF
	ID string `json:"id" example:"TheBloke/TinyLlama-1.1B-Chat-v1.0-GGUF"`
	// Human-friendly name.
	// example: TinyLlama Chat
	Name string `json:"name" example:"TinyLlama Chat"`
	// Short description.
	Summary string `json:"summary,omitempty"`
	// Parameter size class.
	// example: 1.1B
	Size string `json:"size,omitempty" example:"1.1B"`
	// Minimum resources required to run the model.
	// example: 4GB+ RAM
	Requires string `json:"requires,omitempty" example:"4GB+ RAM"`
	// Model architecture.
	// example: llama
	Architecture string `json:"architecture,omitempty" example:"llama"`
	// Release date.
	ReleasedAt time.Time `json:"released_at,omitempty"`
	// Author of the model.
	Author Author `json:"author"`
	// Popularity counters.
	LikeCount     int `json:"like_count,omitempty"`
	DownloadCount int `json:"download_count,omitempty"`
	// Declared context length of the model.
	// example: 4096
	ContextSize int `json:"context_size,omitempty" example:"4096"`
	// Default prompt template for files that do not name one.
	// example: chatml
	PromptTemplate string `json:"prompt_template,omitempty" example:"chatml"`
	// Default reverse prompt for files that do not name one.
	ReversePrompt string `json:"reverse_prompt,omitempty"`
	// Files available for this model.
	Files []File `json:"files,omitempty"`
}

// Author identifies who published a model.
type Author struct {
	Name        string `json:"name"`
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
}

// File is one downloadable artifact of a model.
type File struct {
	// Stable identifier in the form <model-id>#<filename>.
	// example: TheBloke/TinyLlama-1.1B-Chat-v1.0-GGUF#tinyllama-1.1b-chat-v1.0.Q4_K_M.gguf
	ID string `json:"id" example:"TheBloke/TinyLlama-1.1B-Chat-v1.0-GGUF#tinyllama-1.1b-chat-v1.0.Q4_K_M.gguf"`
	// Owning model id.
	ModelID string `json:"model_id"`
	// File name on the origin and on disk.
	// example: tinyllama-1.1b-chat-v1.0.Q4_K_M.gguf
	Name string `json:"name" example:"tinyllama-1.1b-chat-v1.0.Q4_K_M.gguf"`
	// Declared size as a human string.
	// example: 669 MB
	Size string `json:"size,omitempty" example:"669 MB"`
	// Size in bytes, zero until probed.
	// example: 668788096
	FileSize int64 `json:"file_size" example:"668788096"`
	// Quantization variant.
	// example: Q4_K_M
	Quantization string `json:"quantization,omitempty" example:"Q4_K_M"`
	// Bundled prompt template name.
	// example: chatml
	PromptTemplate string `json:"prompt_template,omitempty" example:"chatml"`
	// Reverse prompt used as a stop marker.
	ReversePrompt string `json:"reverse_prompt,omitempty"`
	// Declared context length of this file.
	ContextSize int `json:"context_size,omitempty"`
	// Optional expected SHA-256 of the finished file.
	SHA256 string `json:"sha256,omitempty"`
	// Free-form tags.
	Tags []string `json:"tags,omitempty"`
	// Whether the catalog recommends this file.
	Featured bool `json:"featured"`
	// Whether the file is fully present on disk.
	Downloaded bool `json:"downloaded"`
	// Absolute path of the downloaded file.
	DownloadedPath string `json:"downloaded_path,omitempty"`
	// Completion time of the download.
	DownloadedAt *time.Time `json:"downloaded_at,omitempty"`
}

// PendingStatus is the status of an unfinished download.
type PendingStatus string

const (
	PendingDownloading PendingStatus = "downloading"
	PendingPaused      PendingStatus = "paused"
	PendingError       PendingStatus = "error"
)

// DownloadedFile pairs a finished file with its model.
type DownloadedFile struct {
	File  File  `json:"file"`
	Model Model `json:"model"`
}

// PendingDownload is the progress projection of an unfinished download.
type PendingDownload struct {
	File     File          `json:"file"`
	Model    Model         `json:"model"`
	Progress float64       `json:"progress" example:"42.5"`
	Status   PendingStatus `json:"status" example:"downloading"`
	Error    string        `json:"error,omitempty"`
}
