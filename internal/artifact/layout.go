package artifact

import (
	"strconv"

	"github.com/audiolibrelab/fusecapture/internal/label"
	"github.com/audiolibrelab/fusecapture/internal/window"
)

// DefaultImageCount is the number of image one-hot columns
const DefaultImageCount = 20

// Layout describes the columns of a session artifact
type Layout struct {
	Channels   int
	OneHot     bool
	ImageCount int
}

// Header returns the column names:
// timestamp, ch1..chC, status, image[, one-hot status columns, image_0..image_{K-1}, image_none]
func (l Layout) Header() []string {
	cols := make([]string, 0, l.width())
	cols = append(cols, "timestamp")
	for i := 1; i <= l.Channels; i++ {
		cols = append(cols, "ch"+strconv.Itoa(i))
	}
	cols = append(cols, "status", "image")
	if l.OneHot {
		for _, s := range label.Statuses {
			cols = append(cols, s.Column())
		}
		for i := 0; i < l.ImageCount; i++ {
			cols = append(cols, "image_"+strconv.Itoa(i))
		}
		cols = append(cols, "image_none")
	}
	return cols
}

func (l Layout) width() int {
	n := 1 + l.Channels + 2
	if l.OneHot {
		n += len(label.Statuses) + l.ImageCount + 1
	}
	return n
}

// encode renders row into rec, reusing its backing array
func (l Layout) encode(row window.Row, rec []string) []string {
	rec = rec[:0]
	rec = append(rec, strconv.FormatFloat(row.Timestamp, 'f', -1, 64))
	for _, v := range row.Channels {
		rec = append(rec, strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	rec = append(rec, strconv.Itoa(int(row.Status)), strconv.Itoa(int(row.Image)))
	if l.OneHot {
		for _, s := range label.Statuses {
			rec = append(rec, flag(row.Status == s))
		}
		for i := 0; i < l.ImageCount; i++ {
			rec = append(rec, flag(row.Image == int32(i)))
		}
		rec = append(rec, flag(row.Image == label.ImageNone))
	}
	return rec
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
