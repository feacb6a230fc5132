package sink

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/centrifugal/gocomet/internal/protocol"
)

// Writer writes every update as a JSON line.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewWriter creates Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, now: time.Now}
}

func (w *Writer) Name() string {
	return "writer"
}

func (w *Writer) Publish(_ context.Context, update protocol.Update) error {
	data, err := Encode(update, w.now())
	if err != nil {
		return err
	}
	data = append(data, '\n')
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.w.Write(data)
	return err
}

func (w *Writer) Close() error {
	return nil
}
