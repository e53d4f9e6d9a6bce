package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// GPULayers selects how many layers are offloaded to the GPU. The zero value
// means "use the maximum available".
type GPULayers struct {
	Specific bool
	N        int
}

// MaxGPULayers offloads every layer the runtime can place on the GPU.
func MaxGPULayers() GPULayers { return GPULayers{} }

// SpecificGPULayers offloads exactly n layers.
func SpecificGPULayers(n int) GPULayers { return GPULayers{Specific: true, N: n} }

func (g GPULayers) String() string {
	if !g.Specific {
		return "max"
	}
	return strconv.Itoa(g.N)
}

// MarshalJSON encodes "max" or the layer count.
func (g GPULayers) MarshalJSON() ([]byte, error) {
	if !g.Specific {
		return []byte(`"max"`), nil
	}
	return []byte(strconv.Itoa(g.N)), nil
}

// UnmarshalJSON accepts "max", a number, or a numeric string.
func (g *GPULayers) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		s = strings.TrimSpace(strings.ToLower(s))
		if s == "" || s == "max" {
			*g = MaxGPULayers()
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid gpu_layers %q", s)
		}
		*g = SpecificGPULayers(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid gpu_layers: %s", string(b))
	}
	if n < 0 {
		return fmt.Errorf("invalid gpu_layers %d", n)
	}
	*g = SpecificGPULayers(n)
	return nil
}

// LoadOptions are the caller-supplied knobs of a model load.
type LoadOptions struct {
	// Prompt template override; empty uses the file's bundled template.
	PromptTemplate string `json:"prompt_template,omitempty" example:"chatml"`
	// GPU layers to offload, "max" or a count.
	GPULayers GPULayers `json:"gpu_layers" swaggertype:"string" example:"max"`
	// Context size; zero picks min(model context, safety cap).
	// example: 4096
	ContextSize int `json:"n_ctx,omitempty" example:"4096"`
	// Batch size; zero uses the default.
	// example: 128
	BatchSize int `json:"n_batch,omitempty" example:"128"`
	// Address to bind instead of reusing the previous port.
	// example: 127.0.0.1:8585
	OverrideServerAddress string `json:"override_server_address,omitempty" example:"127.0.0.1:8585"`
}

// LoadedModelInfo describes the instance serving a loaded model.
type LoadedModelInfo struct {
	FileID   string `json:"file_id"`
	ModelID  string `json:"model_id"`
	FileName string `json:"file_name"`
	// Address the inference server listens on.
	// example: 127.0.0.1:41234
	ListenAddr string `json:"listen_addr" example:"127.0.0.1:41234"`
	// example: 41234
	ListenPort int `json:"listen_port" example:"41234"`
	// True when an existing instance was reused without respawning.
	Reused bool `json:"reused"`
}
