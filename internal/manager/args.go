package manager

import (
	"strconv"

	"modelhost/pkg/types"
)

const (
	chatAlias      = "local-chat"
	embeddingAlias = "local-embedding"
)

// effective resolves load options against file metadata and supervisor
// defaults.
func (s *Supervisor) effective(file ModelFile, o types.LoadOptions) effectiveOptions {
	ctx := o.ContextSize
	if ctx <= 0 {
		ctx = s.cfg.MaxContextSize
		if file.ContextSize > 0 && file.ContextSize < ctx {
			ctx = file.ContextSize
		}
	}
	batch := o.BatchSize
	if batch <= 0 {
		batch = s.cfg.DefaultBatchSize
	}
	tmpl := o.PromptTemplate
	if tmpl == "" {
		tmpl = file.PromptTemplate
	}
	return effectiveOptions{
		ContextSize:    ctx,
		BatchSize:      batch,
		GPULayers:      o.GPULayers,
		PromptTemplate: tmpl,
		ReversePrompt:  file.ReversePrompt,
		Embedding:      s.cfg.Embedding,
	}
}

// buildArgs produces the runner command line serving file with o on addr.
func buildArgs(img *RuntimeImage, file ModelFile, o effectiveOptions, addr string) []string {
	hasEmb := o.Embedding.Path != ""
	args := []string{
		"--dir", ".:.",
		"--nn-preload", chatAlias + ":GGML:AUTO:" + file.Path,
	}
	if hasEmb {
		args = append(args, "--nn-preload", embeddingAlias+":GGML:AUTO:"+o.Embedding.Path)
	}
	args = append(args, img.ExtraArgs...)
	args = append(args, img.ServerWasm)

	aliases := chatAlias
	ctx := strconv.Itoa(o.ContextSize)
	batch := strconv.Itoa(o.BatchSize)
	tmpl := o.PromptTemplate
	if hasEmb {
		embCtx := strconv.Itoa(o.Embedding.ContextSize)
		aliases += "," + embeddingAlias
		ctx += "," + embCtx
		batch += "," + embCtx
		if tmpl != "" {
			tmpl += ",embedding"
		}
	}
	args = append(args, "-a", aliases, "-m", aliases, "-c", ctx)
	if o.GPULayers.Specific {
		args = append(args, "-g", strconv.Itoa(o.GPULayers.N))
	}
	args = append(args, "-b", batch)
	if tmpl != "" {
		args = append(args, "-p", tmpl)
	}
	if o.ReversePrompt != "" {
		args = append(args, "-r", o.ReversePrompt)
	}
	return append(args, "--socket-addr", addr)
}
