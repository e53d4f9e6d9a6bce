// Package catalog resolves file ids to model and file metadata from a
// directory of model cards.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"modelhost/internal/common/fsutil"
	"modelhost/pkg/types"
)

// ErrFileNotFound is returned when a file id is unknown and cannot be derived.
var ErrFileNotFound = errors.New("file not found")

// card is the on-disk shape of a model card.
type card struct {
	ID                string     `json:"id" yaml:"id" toml:"id"`
	Name              string     `json:"name" yaml:"name" toml:"name"`
	Summary           string     `json:"summary" yaml:"summary" toml:"summary"`
	Size              string     `json:"size" yaml:"size" toml:"size"`
	Requires          string     `json:"requires" yaml:"requires" toml:"requires"`
	Architecture      string     `json:"architecture" yaml:"architecture" toml:"architecture"`
	ReleasedAt        time.Time  `json:"released_at" yaml:"released_at" toml:"released_at"`
	ContextSize       int        `json:"context_size" yaml:"context_size" toml:"context_size"`
	PromptTemplate    string     `json:"prompt_template" yaml:"prompt_template" toml:"prompt_template"`
	ReversePrompt     string     `json:"reverse_prompt" yaml:"reverse_prompt" toml:"reverse_prompt"`
	AuthorName        string     `json:"author_name" yaml:"author_name" toml:"author_name"`
	AuthorURL         string     `json:"author_url" yaml:"author_url" toml:"author_url"`
	AuthorDescription string     `json:"author_description" yaml:"author_description" toml:"author_description"`
	LikeCount         int        `json:"like_count" yaml:"like_count" toml:"like_count"`
	DownloadCount     int        `json:"download_count" yaml:"download_count" toml:"download_count"`
	Files             []fileCard `json:"files" yaml:"files" toml:"files"`
}

type fileCard struct {
	Name           string   `json:"name" yaml:"name" toml:"name"`
	Size           string   `json:"size" yaml:"size" toml:"size"`
	Quantization   string   `json:"quantization" yaml:"quantization" toml:"quantization"`
	PromptTemplate string   `json:"prompt_template" yaml:"prompt_template" toml:"prompt_template"`
	ReversePrompt  string   `json:"reverse_prompt" yaml:"reverse_prompt" toml:"reverse_prompt"`
	ContextSize    int      `json:"context_size" yaml:"context_size" toml:"context_size"`
	SHA256         string   `json:"sha256" yaml:"sha256" toml:"sha256"`
	Tags           []string `json:"tags" yaml:"tags" toml:"tags"`
	Featured       bool     `json:"featured" yaml:"featured" toml:"featured"`
}

// Catalog is an immutable index of model cards.
type Catalog struct {
	models []types.Model
	byID   map[string]int
}

// LoadDir scans dir for *.yaml, *.yml, *.json and *.toml model cards.
// A missing directory yields an empty catalog.
func LoadDir(dir string) (*Catalog, error) {
	c := &Catalog{byID: map[string]int{}}
	if dir == "" {
		return c, nil
	}
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		p := filepath.Join(abs, e.Name())
		cd, ok, err := readCard(p)
		if err != nil {
			return nil, fmt.Errorf("card %s: %w", e.Name(), err)
		}
		if !ok {
			continue
		}
		if strings.TrimSpace(cd.ID) == "" {
			return nil, fmt.Errorf("card %s: missing id", e.Name())
		}
		c.add(cd.toModel())
	}
	sort.Slice(c.models, func(i, j int) bool { return c.models[i].ID < c.models[j].ID })
	for i, m := range c.models {
		c.byID[m.ID] = i
	}
	return c, nil
}

// New builds a catalog from already materialized models.
func New(models []types.Model) *Catalog {
	c := &Catalog{byID: map[string]int{}}
	for _, m := range models {
		c.add(m)
	}
	for i, m := range c.models {
		c.byID[m.ID] = i
	}
	return c
}

func (c *Catalog) add(m types.Model) {
	for i := range m.Files {
		f := &m.Files[i]
		f.ModelID = m.ID
		f.ID = FileID(m.ID, f.Name)
	}
	c.models = append(c.models, m)
}

func readCard(path string) (card, bool, error) {
	var cd card
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml", ".json", ".toml":
	default:
		return cd, false, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cd, false, err
	}
	switch ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cd)
	case ".json":
		err = json.Unmarshal(b, &cd)
	case ".toml":
		err = toml.Unmarshal(b, &cd)
	}
	return cd, err == nil, err
}

func (cd card) toModel() types.Model {
	m := types.Model{
		ID:           cd.ID,
		Name:         cd.Name,
		Summary:      cd.Summary,
		Size:         cd.Size,
		Requires:     cd.Requires,
		Architecture: cd.Architecture,
		ReleasedAt:   cd.ReleasedAt,
		Author: types.Author{
			Name:        cd.AuthorName,
			URL:         cd.AuthorURL,
			Description: cd.AuthorDescription,
		},
		LikeCount:      cd.LikeCount,
		DownloadCount:  cd.DownloadCount,
		ContextSize:    cd.ContextSize,
		PromptTemplate: cd.PromptTemplate,
		ReversePrompt:  cd.ReversePrompt,
	}
	if m.Name == "" {
		m.Name = cd.ID
	}
	for _, fc := range cd.Files {
		f := types.File{
			Name:           fc.Name,
			Size:           fc.Size,
			Quantization:   fc.Quantization,
			PromptTemplate: fc.PromptTemplate,
			ReversePrompt:  fc.ReversePrompt,
			ContextSize:    fc.ContextSize,
			SHA256:         strings.ToLower(fc.SHA256),
			Tags:           fc.Tags,
			Featured:       fc.Featured,
		}
		if f.PromptTemplate == "" {
			f.PromptTemplate = cd.PromptTemplate
		}
		if f.ReversePrompt == "" {
			f.ReversePrompt = cd.ReversePrompt
		}
		if f.ContextSize == 0 {
			f.ContextSize = cd.ContextSize
		}
		m.Files = append(m.Files, f)
	}
	return m
}

// Models returns every model in the catalog, sorted by id.
func (c *Catalog) Models() []types.Model {
	out := make([]types.Model, len(c.models))
	copy(out, c.models)
	return out
}

// Featured returns models with at least one featured file.
func (c *Catalog) Featured() []types.Model {
	var out []types.Model
	for _, m := range c.models {
		for _, f := range m.Files {
			if f.Featured {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

// Resolve returns the model and file for fileID. Ids absent from the catalog
// but well formed resolve to bare metadata derived from the id.
func (c *Catalog) Resolve(fileID string) (types.Model, types.File, error) {
	modelID, name, err := ParseFileID(fileID)
	if err != nil {
		return types.Model{}, types.File{}, err
	}
	if i, ok := c.byID[modelID]; ok {
		m := c.models[i]
		for _, f := range m.Files {
			if f.Name == name {
				m.Files = nil
				return m, f, nil
			}
		}
	}
	m := types.Model{ID: modelID, Name: modelID}
	return m, types.File{ID: fileID, ModelID: modelID, Name: name}, nil
}

// FileID composes the stable identifier of a file.
func FileID(modelID, name string) string { return modelID + "#" + name }

// ParseFileID splits "<model-id>#<filename>".
func ParseFileID(id string) (modelID, name string, err error) {
	i := strings.LastIndex(id, "#")
	if i <= 0 || i == len(id)-1 {
		return "", "", fmt.Errorf("%w: malformed file id %q", ErrFileNotFound, id)
	}
	modelID, name = id[:i], id[i+1:]
	if strings.Contains(name, "/") || strings.Contains(name, `\`) || name == "." || name == ".." {
		return "", "", fmt.Errorf("%w: invalid file name %q", ErrFileNotFound, name)
	}
	if strings.Contains(modelID, "..") {
		return "", "", fmt.Errorf("%w: invalid model id %q", ErrFileNotFound, modelID)
	}
	return modelID, name, nil
}
