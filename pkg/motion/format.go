package motion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/gwillem/dexhand/pkg/robot"
)

// FormatVersion is the interchange format version written and accepted.
const FormatVersion = 1

type document struct {
	Version      int        `json:"version"`
	ID           string     `json:"id,omitempty"`
	Mode         Mode       `json:"mode"`
	SampleRateHz int        `json:"sample_rate_hz,omitempty"`
	ServoCount   int        `json:"servo_count"`
	DurationMS   int64      `json:"duration_ms"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	Frames       []docFrame `json:"frames"`
}

type docFrame struct {
	OffsetMS  int64 `json:"offset_ms"`
	Positions []int `json:"positions"`
}

// Marshal encodes rec in the interchange format.
func Marshal(rec *Recording) ([]byte, error) {
	doc := document{
		Version:    FormatVersion,
		Mode:       rec.Mode,
		ServoCount: robot.NumChannels,
		DurationMS: rec.DurationMS,
		Frames:     make([]docFrame, len(rec.Frames)),
	}
	if rec.ID != uuid.Nil {
		doc.ID = rec.ID.String()
	}
	if rec.Mode == RealTime {
		doc.SampleRateHz = rec.SampleRateHz
	}
	if !rec.CreatedAt.IsZero() {
		t := rec.CreatedAt.UTC()
		doc.CreatedAt = &t
	}
	for i, f := range rec.Frames {
		doc.Frames[i] = docFrame{OffsetMS: f.OffsetMS, Positions: f.Positions[:]}
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Unmarshal decodes and validates an interchange document. No partial
// recording is returned on failure.
func Unmarshal(data []byte) (*Recording, error) {
	var doc document
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, &FormatError{Frame: -1, Reason: err.Error()}
	}
	if doc.Version != FormatVersion {
		return nil, &FormatError{Frame: -1, Reason: fmt.Sprintf("unsupported version %d", doc.Version)}
	}
	if doc.ServoCount != robot.NumChannels {
		return nil, &FormatError{Frame: -1, Reason: fmt.Sprintf("servo_count %d, want %d", doc.ServoCount, robot.NumChannels)}
	}

	rec := &Recording{
		Mode:         doc.Mode,
		SampleRateHz: doc.SampleRateHz,
		Frames:       make([]Frame, len(doc.Frames)),
	}
	if doc.ID != "" {
		id, err := uuid.Parse(doc.ID)
		if err != nil {
			return nil, &FormatError{Frame: -1, Reason: fmt.Sprintf("bad id: %v", err)}
		}
		rec.ID = id
	}
	if doc.CreatedAt != nil {
		rec.CreatedAt = *doc.CreatedAt
	}
	for i, f := range doc.Frames {
		if len(f.Positions) != robot.NumChannels {
			return nil, &FormatError{Frame: i, Reason: fmt.Sprintf("%d positions, want %d", len(f.Positions), robot.NumChannels)}
		}
		rec.Frames[i].OffsetMS = f.OffsetMS
		copy(rec.Frames[i].Positions[:], f.Positions)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if n := len(rec.Frames); n > 0 {
		rec.DurationMS = rec.Frames[n-1].OffsetMS
	}
	return rec, nil
}

// Encode writes rec to w in the interchange format.
func Encode(w io.Writer, rec *Recording) error {
	data, err := Marshal(rec)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// Decode reads a recording from r.
func Decode(r io.Reader) (*Recording, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}

// Save writes rec to path, creating parent directories.
func Save(path string, rec *Recording) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, rec); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads a recording file.
func Load(path string) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rec, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return rec, nil
}

// FileName returns the default file name for rec.
func FileName(rec *Recording) string {
	ts := rec.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Sprintf("recording_%s_%s.json", rec.Mode, ts.Format("20060102_150405"))
}
