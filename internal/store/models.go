package store

import (
	"path/filepath"
	"time"

	"modelhost/pkg/types"
)

// Model is a row of the models table.
type Model struct {
	ID                string `gorm:"primaryKey"`
	Name              string
	Summary           string
	Size              string
	Requires          string
	Architecture      string
	ReleasedAt        time.Time
	ContextSize       int
	PromptTemplate    string
	ReversePrompt     string
	AuthorName        string
	AuthorURL         string
	AuthorDescription string
	LikeCount         int
	DownloadCount     int
	UpdatedAt         time.Time
}

// TableName returns the database table name.
func (Model) TableName() string { return "models" }

// File is a row of the download_files table.
type File struct {
	ID             string `gorm:"primaryKey"`
	ModelID        string `gorm:"index;not null"`
	Name           string `gorm:"not null"`
	Size           string
	FileSize       int64
	Quantization   string
	PromptTemplate string
	ReversePrompt  string
	ContextSize    int
	SHA256         string   `gorm:"column:sha256"`
	Tags           []string `gorm:"serializer:json"`
	Featured       bool
	Downloaded     bool `gorm:"index"`
	DownloadDir    string
	DownloadedAt   *time.Time
}

// TableName returns the database table name.
func (File) TableName() string { return "download_files" }

// DownloadedPath is where the file's bytes live: <download_dir>/<model_id>/<name>.
func (f File) DownloadedPath() string {
	return filepath.Join(f.DownloadDir, filepath.FromSlash(f.ModelID), f.Name)
}

// PendingDownload is a row of the pending_downloads table.
type PendingDownload struct {
	FileID    string `gorm:"primaryKey"`
	Progress  float64
	Status    types.PendingStatus `gorm:"index;not null"`
	Error     string
	UpdatedAt time.Time
}

// TableName returns the database table name.
func (PendingDownload) TableName() string { return "pending_downloads" }

// FileFromTypes converts an API file into a row rooted at downloadDir.
func FileFromTypes(f types.File, downloadDir string) File {
	return File{
		ID:             f.ID,
		ModelID:        f.ModelID,
		Name:           f.Name,
		Size:           f.Size,
		FileSize:       f.FileSize,
		Quantization:   f.Quantization,
		PromptTemplate: f.PromptTemplate,
		ReversePrompt:  f.ReversePrompt,
		ContextSize:    f.ContextSize,
		SHA256:         f.SHA256,
		Tags:           append([]string(nil), f.Tags...),
		Featured:       f.Featured,
		Downloaded:     f.Downloaded,
		DownloadDir:    downloadDir,
		DownloadedAt:   f.DownloadedAt,
	}
}

// Types converts the row into its API shape.
func (f File) Types() types.File {
	out := types.File{
		ID:             f.ID,
		ModelID:        f.ModelID,
		Name:           f.Name,
		Size:           f.Size,
		FileSize:       f.FileSize,
		Quantization:   f.Quantization,
		PromptTemplate: f.PromptTemplate,
		ReversePrompt:  f.ReversePrompt,
		ContextSize:    f.ContextSize,
		SHA256:         f.SHA256,
		Tags:           append([]string(nil), f.Tags...),
		Featured:       f.Featured,
		Downloaded:     f.Downloaded,
		DownloadedAt:   f.DownloadedAt,
	}
	if f.Downloaded {
		out.DownloadedPath = f.DownloadedPath()
	}
	return out
}

// ModelFromTypes converts an API model into a row.
func ModelFromTypes(m types.Model) Model {
	return Model{
		ID:                m.ID,
		Name:              m.Name,
		Summary:           m.Summary,
		Size:              m.Size,
		Requires:          m.Requires,
		Architecture:      m.Architecture,
		ReleasedAt:        m.ReleasedAt,
		ContextSize:       m.ContextSize,
		PromptTemplate:    m.PromptTemplate,
		ReversePrompt:     m.ReversePrompt,
		AuthorName:        m.Author.Name,
		AuthorURL:         m.Author.URL,
		AuthorDescription: m.Author.Description,
		LikeCount:         m.LikeCount,
		DownloadCount:     m.DownloadCount,
	}
}

// Types converts the row into its API shape.
func (m Model) Types() types.Model {
	return types.Model{
		ID:           m.ID,
		Name:         m.Name,
		Summary:      m.Summary,
		Size:         m.Size,
		Requires:     m.Requires,
		Architecture: m.Architecture,
		ReleasedAt:   m.ReleasedAt,
		Author: types.Author{
			Name:        m.AuthorName,
			URL:         m.AuthorURL,
			Description: m.AuthorDescription,
		},
		LikeCount:      m.LikeCount,
		DownloadCount:  m.DownloadCount,
		ContextSize:    m.ContextSize,
		PromptTemplate: m.PromptTemplate,
		ReversePrompt:  m.ReversePrompt,
	}
}
