package label

import (
	"fmt"
	"strconv"
	"strings"
)

// Status is the experiment phase attached to every recorded row
type Status int32

const (
	StatusDone              Status = -2
	StatusTransition        Status = -1
	StatusBaseline          Status = 0
	StatusImagine           Status = 1
	StatusLook              Status = 2
	StatusImagineEyesClosed Status = 3
)

// ImageNone marks rows recorded while no image is displayed
const ImageNone int32 = -1

// Statuses lists every known status in one-hot column order
var Statuses = []Status{
	StatusTransition,
	StatusBaseline,
	StatusImagine,
	StatusLook,
	StatusImagineEyesClosed,
	StatusDone,
}

var statusNames = map[Status]string{
	StatusTransition:        "transition",
	StatusBaseline:          "baseline",
	StatusImagine:           "imagine",
	StatusLook:              "look",
	StatusImagineEyesClosed: "imagine-eyes-closed",
	StatusDone:              "done",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown(" + strconv.Itoa(int(s)) + ")"
}

// Known reports whether s is part of the taxonomy
func (s Status) Known() bool {
	_, ok := statusNames[s]
	return ok
}

// Terminal reports whether no further status may follow s
func (s Status) Terminal() bool {
	return s == StatusDone
}

// Column returns the one-hot column name for s
func (s Status) Column() string {
	return strings.ReplaceAll(s.String(), "-", "_")
}

// ParseStatus accepts either a status name or its numeric code
func ParseStatus(v string) (Status, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for s, name := range statusNames {
		if v == name || v == s.Column() {
			return s, nil
		}
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("unknown status %q", v)
	}
	s := Status(n)
	if !s.Known() {
		return 0, fmt.Errorf("unknown status code %d", n)
	}
	return s, nil
}

// Event is one poll result from the marker stream. Fields not flagged
// as present leave the corresponding label untouched.
type Event struct {
	HasImage  bool
	Image     int32
	HasStatus bool
	Status    Status

	// Timestamp is the marker stream's own timestamp, zero if unknown
	Timestamp float64
}

// ImageEvent returns an event that only updates the image
func ImageEvent(image int32) Event {
	return Event{HasImage: true, Image: image}
}

// StatusEvent returns an event that only updates the status
func StatusEvent(s Status) Event {
	return Event{HasStatus: true, Status: s}
}

func (e Event) String() string {
	var parts []string
	if e.HasStatus {
		parts = append(parts, "status="+e.Status.String())
	}
	if e.HasImage {
		parts = append(parts, "image="+strconv.Itoa(int(e.Image)))
	}
	if len(parts) == 0 {
		return "empty"
	}
	return strings.Join(parts, ",")
}

// Marker flag values used in the 4-int marker vector
const (
	noUpdate     = 0
	shouldUpdate = 1
)

// DecodeMarker converts a [has_image, image, has_status, status] marker
// vector as emitted by the stimulus front end.
func DecodeMarker(m []int32) (Event, error) {
	if len(m) != 4 {
		return Event{}, fmt.Errorf("marker must have 4 values, got %d", len(m))
	}
	ev := Event{
		HasImage:  m[0] == shouldUpdate,
		HasStatus: m[2] == shouldUpdate,
	}
	if ev.HasImage {
		ev.Image = m[1]
	}
	if ev.HasStatus {
		ev.Status = Status(m[3])
	}
	return ev, nil
}

// EncodeMarker is the inverse of DecodeMarker
func EncodeMarker(e Event) []int32 {
	m := []int32{noUpdate, ImageNone, noUpdate, noUpdate}
	if e.HasImage {
		m[0] = shouldUpdate
		m[1] = e.Image
	}
	if e.HasStatus {
		m[2] = shouldUpdate
		m[3] = int32(e.Status)
	}
	return m
}
