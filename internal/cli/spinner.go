package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
)

// dots draws a spinner on one terminal line until stopped.
type dots struct {
	w      io.Writer
	frames []string
	fps    time.Duration
	style  lipgloss.Style

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func startSpinner(w io.Writer, style lipgloss.Style) *dots {
	d := &dots{
		w:      w,
		frames: spinner.Dot.Frames,
		fps:    spinner.Dot.FPS,
		style:  style,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dots) run() {
	defer close(d.done)
	ticker := time.NewTicker(d.fps)
	defer ticker.Stop()

	for i := 0; ; i++ {
		fmt.Fprintf(d.w, "\r%s", d.style.Render(d.frames[i%len(d.frames)]))
		select {
		case <-d.stop:
			fmt.Fprint(d.w, "\r\x1b[K")
			return
		case <-ticker.C:
		}
	}
}

// Stop erases the spinner and waits for it to finish drawing.
func (d *dots) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	<-d.done
}
