package artifact

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/audiolibrelab/fusecapture/internal/window"
)

// Writer appends windows to one CSV artifact. It is not safe for
// concurrent use; the flush path serialises calls.
type Writer struct {
	fs     afero.Fs
	path   string
	layout Layout
	record []string
}

// NewWriter creates a writer for the artifact at path
func NewWriter(fs afero.Fs, path string, layout Layout) *Writer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Writer{
		fs:     fs,
		path:   path,
		layout: layout,
		record: make([]string, 0, layout.width()),
	}
}

func (w *Writer) Path() string   { return w.path }
func (w *Writer) Layout() Layout { return w.layout }

// Exists reports whether the artifact file is present
func (w *Writer) Exists() (bool, error) {
	return afero.Exists(w.fs, w.path)
}

// Append writes every row of win to the end of the artifact, preceded by
// the header if the artifact does not exist yet. An empty window on an
// existing artifact writes nothing. On failure the file is restored to
// its previous length (or removed if this call created it) so a retry
// never duplicates rows.
func (w *Writer) Append(win *window.Window) (written int, err error) {
	existed, err := w.Exists()
	if err != nil {
		return 0, fmt.Errorf("failed to stat artifact: %w", err)
	}
	if existed && win.Empty() {
		return 0, nil
	}

	if !existed {
		if err := w.fs.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
			return 0, fmt.Errorf("failed to create artifact directory: %w", err)
		}
	}

	f, err := w.fs.OpenFile(w.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to open artifact: %w", err)
	}

	var size int64
	if existed {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return 0, fmt.Errorf("failed to stat artifact: %w", err)
		}
		size = info.Size()
	}

	if err := w.writeRows(f, win, !existed); err != nil {
		w.rollback(f, existed, size)
		return 0, err
	}
	if err := f.Sync(); err != nil {
		w.rollback(f, existed, size)
		return 0, fmt.Errorf("failed to sync artifact: %w", err)
	}
	// Rows are durable once Sync succeeds, so a Close failure must not
	// trigger a retry of the same window
	if err := f.Close(); err != nil {
		slog.Warn("Failed to close artifact after sync", "path", w.path, "window", win.Seq(), "error", err)
	}

	slog.Debug("Window appended to artifact", "path", w.path, "window", win.Seq(), "rows", win.Len(), "header", !existed)
	return win.Len(), nil
}

func (w *Writer) writeRows(f afero.File, win *window.Window, header bool) error {
	cw := csv.NewWriter(f)
	if header {
		if err := cw.Write(w.layout.Header()); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	for i := 0; i < win.Len(); i++ {
		w.record = w.layout.encode(win.Row(i), w.record)
		if err := cw.Write(w.record); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush rows: %w", err)
	}
	return nil
}

func (w *Writer) rollback(f afero.File, existed bool, size int64) {
	if existed {
		if err := f.Truncate(size); err != nil {
			slog.Error("Failed to restore artifact length after write error", "path", w.path, "error", err)
		}
		f.Close()
		return
	}
	f.Close()
	if err := w.fs.Remove(w.path); err != nil && !os.IsNotExist(err) {
		slog.Error("Failed to remove partial artifact", "path", w.path, "error", err)
	}
}
