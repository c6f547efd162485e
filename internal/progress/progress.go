package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

type Bar struct {
	total      int64
	current    int64
	width      int
	writer     io.Writer
	mu         sync.Mutex
	file       string
	lastUpdate time.Time
	interval   time.Duration
}

func New(total int64, w io.Writer) *Bar {
	if w == nil {
		w = os.Stdout
	}
	return &Bar{
		total:    total,
		width:    40,
		writer:   w,
		interval: 100 * time.Millisecond,
	}
}

// SetTotal resets the expected amount of work, e.g. when a new phase starts.
func (b *Bar) SetTotal(total int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total = total
	b.current = 0
	b.file = ""
}

// SetFile records the file currently being processed.
func (b *Bar) SetFile(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.file = path
}

func (b *Bar) Increment() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current++

	// Update at most every interval to reduce flickering
	now := time.Now()
	if now.Sub(b.lastUpdate) > b.interval || b.current == b.total {
		b.lastUpdate = now
		b.render()
	}
}

// render must be called with mu already locked
func (b *Bar) render() {
	if b.total <= 0 {
		return
	}

	current := b.current
	if current > b.total {
		current = b.total
	}

	percent := float64(current) / float64(b.total) * 100
	filledWidth := int(float64(b.width) * float64(current) / float64(b.total))

	bar := strings.Repeat("█", filledWidth) + strings.Repeat("░", b.width-filledWidth)

	var fileDisplay string
	if b.file != "" {
		fileDisplay = " | " + filepath.Base(b.file)
	}

	// Clear the line and write progress
	fmt.Fprintf(b.writer, "\r\033[K[%s] %3d%% (%s/%s)%s",
		bar, int(percent), humanize.Comma(current), humanize.Comma(b.total), fileDisplay)
}

func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.total <= 0 {
		return
	}
	b.render()
	fmt.Fprintf(b.writer, "\n")
}
