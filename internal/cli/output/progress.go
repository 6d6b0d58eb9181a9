package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// ProgressBar displays the progress of a byte stream.
type ProgressBar struct {
	mu      sync.Mutex
	w       io.Writer
	title   string
	total   int64
	current int64
	width   int
}

// NewProgressBar creates a progress bar. A total of zero or less shows
// only the byte count.
func NewProgressBar(w io.Writer, title string, total int64) *ProgressBar {
	return &ProgressBar{w: w, title: title, total: total, width: 30}
}

// Add records n more bytes.
func (p *ProgressBar) Add(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current += n
	p.render()
}

// Finish draws the final state and ends the line.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.total > 0 {
		p.current = p.total
	}
	p.render()
	fmt.Fprintln(p.w)
}

// Reader counts bytes read from r.
func (p *ProgressBar) Reader(r io.Reader) io.Reader {
	return &progressReader{r: r, bar: p}
}

// Writer counts bytes written to w.
func (p *ProgressBar) Writer(w io.Writer) io.Writer {
	return &progressWriter{w: w, bar: p}
}

func (p *ProgressBar) render() {
	if p.total <= 0 {
		fmt.Fprintf(p.w, "\r%s %s", p.title, FormatBytes(p.current))
		return
	}

	ratio := float64(p.current) / float64(p.total)
	if ratio > 1 {
		ratio = 1
	}
	filled := int(float64(p.width) * ratio)
	fmt.Fprintf(p.w, "\r%s [%s%s] %3.0f%% (%s/%s)",
		p.title,
		strings.Repeat("█", filled),
		strings.Repeat("░", p.width-filled),
		ratio*100,
		FormatBytes(p.current),
		FormatBytes(p.total))
}

type progressReader struct {
	r   io.Reader
	bar *ProgressBar
}

func (r *progressReader) Read(b []byte) (int, error) {
	n, err := r.r.Read(b)
	if n > 0 {
		r.bar.Add(int64(n))
	}
	return n, err
}

type progressWriter struct {
	w   io.Writer
	bar *ProgressBar
}

func (w *progressWriter) Write(b []byte) (int, error) {
	n, err := w.w.Write(b)
	if n > 0 {
		w.bar.Add(int64(n))
	}
	return n, err
}

// FormatBytes formats a byte count for humans.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
