// Package pb renders download progress on a terminal.
package pb

import (
	"fmt"
	"io"
	"sync"

	humanize "github.com/dustin/go-humanize"
	mpbv8 "github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// scale is the bar total; progress arrives as a percentage with fractions.
const scale = 1000

// NormalizePrompt normalizes the prompt string.
func NormalizePrompt(prompt string) string {
	return fmt.Sprintf("%s =>", prompt)
}

// ProgressBar is a set of percentage bars keyed by file id.
type ProgressBar struct {
	mu   sync.RWMutex
	mpb  *mpbv8.Progress
	bars map[string]*progressBar
}

type progressBar struct {
	*mpbv8.Bar
	size int64
	msg  string
}

// NewProgressBar creates a progress container writing to out.
func NewProgressBar(out io.Writer) *ProgressBar {
	return &ProgressBar{
		mpb:  mpbv8.New(mpbv8.WithWidth(60), mpbv8.WithOutput(out)),
		bars: make(map[string]*progressBar),
	}
}

// Add adds a bar for name. size is the file size in bytes, zero when unknown.
func (p *ProgressBar) Add(prompt, name string, size int64) {
	p.mu.RLock()
	oldBar := p.bars[name]
	p.mu.RUnlock()
	if oldBar != nil {
		return
	}

	total := "?"
	if size > 0 {
		total = humanize.Bytes(uint64(size))
	}
	bar := p.mpb.New(scale,
		mpbv8.BarStyle(),
		mpbv8.BarFillerOnComplete("|"),
		mpbv8.PrependDecorators(
			decor.Any(func(s decor.Statistics) string {
				p.mu.RLock()
				defer p.mu.RUnlock()
				if b, ok := p.bars[name]; ok && b.msg != "" {
					return b.msg
				}
				return fmt.Sprintf("%s %s", prompt, name)
			}, decor.WCSyncSpaceR),
		),
		mpbv8.AppendDecorators(
			decor.OnComplete(decor.Percentage(decor.WCSyncWidthR), total),
			decor.OnComplete(decor.Name(" | ", decor.WCSyncWidthR), " | "),
			decor.OnComplete(decor.Elapsed(decor.ET_STYLE_GO, decor.WCSyncWidthR), "done"),
		),
	)

	p.mu.Lock()
	p.bars[name] = &progressBar{Bar: bar, size: size}
	p.mu.Unlock()
}

// Update moves the bar of name to percent (0-100).
func (p *ProgressBar) Update(name string, percent float64) {
	p.mu.RLock()
	bar, ok := p.bars[name]
	p.mu.RUnlock()
	if !ok {
		return
	}
	cur := int64(percent * scale / 100)
	if cur > scale {
		cur = scale
	}
	if delta := cur - bar.Current(); delta > 0 {
		bar.IncrInt64(delta)
	}
}

// Complete fills the bar of name and replaces its prompt with msg.
func (p *ProgressBar) Complete(name string, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if bar, ok := p.bars[name]; ok {
		bar.msg = msg
		bar.SetCurrent(scale)
	}
}

// Abort stops the bar of name where it is and shows msg.
func (p *ProgressBar) Abort(name string, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if bar, ok := p.bars[name]; ok {
		bar.msg = msg
		bar.Abort(false)
	}
}

// Stop waits for every bar to finish rendering.
func (p *ProgressBar) Stop() {
	p.mpb.Shutdown()
}
