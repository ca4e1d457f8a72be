package output

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/bryanchriswhite/IrisStreamer/internal/graph"
	"github.com/bryanchriswhite/IrisStreamer/internal/logger"
)

// RecordMagic starts every recording file.
const RecordMagic = "IRISREC1"

// maxRecordSize bounds a single record when reading untrusted files.
const maxRecordSize = 16 << 20

var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

// Recorder appends float and landmark packets to a binary log: the magic
// header followed by records of [int64 timestamp][uint32 size][CBOR
// Message], little endian.
type Recorder struct {
	dir   string
	runID string

	mu      sync.Mutex
	path    string
	f       *os.File
	w       *bufio.Writer
	records uint64
}

// NewRecorder creates a recorder writing into dir. The file is created by Start.
func NewRecorder(dir, runID string) *Recorder {
	return &Recorder{dir: dir, runID: runID}
}

// Start creates <dir>/<time>_<runID>.bin and writes the magic header.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.w != nil {
		return fmt.Errorf("recorder already running")
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create recording directory: %w", err)
	}
	name := fmt.Sprintf("%s_%s.bin", time.Now().Format("20060102_150405"), r.runID)
	path := filepath.Join(r.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create recording: %w", err)
	}
	w := bufio.NewWriterSize(f, 1<<20)
	if _, err := w.WriteString(RecordMagic); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	r.f, r.w, r.path = f, w, path
	r.records = 0

	logger.WithComponent("recorder").Info().
		Str("path", path).
		Str("run_id", r.runID).
		Msg("Recording started")
	return nil
}

// Stop flushes and closes the file.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.w == nil {
		return nil
	}
	err := r.w.Flush()
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	r.w, r.f = nil, nil

	logger.WithComponent("recorder").Info().
		Str("path", r.path).
		Uint64("records", r.records).
		Msg("Recording stopped")
	return err
}

func (r *Recorder) Name() string { return "CBOR recorder" }

func (r *Recorder) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.w != nil
}

// Path returns the file of the current or last recording.
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Consume appends one record.
func (r *Recorder) Consume(stream string, p graph.Packet) error {
	msg, err := NewMessage(stream, p)
	if err != nil {
		return err
	}
	msg.RunID = r.runID
	payload, err := encMode.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return fmt.Errorf("recorder is closed")
	}
	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(msg.Timestamp))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	if _, err := r.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := r.w.Write(payload); err != nil {
		return err
	}
	r.records++
	return r.w.Flush()
}

// RecordReader iterates over a recording.
type RecordReader struct {
	r io.Reader
}

// NewRecordReader checks the magic header and returns a reader positioned
// at the first record.
func NewRecordReader(r io.Reader) (*RecordReader, error) {
	header := make([]byte, len(RecordMagic))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("failed to read magic: %w", err)
	}
	if string(header) != RecordMagic {
		return nil, fmt.Errorf("unexpected recording magic %q", string(header))
	}
	return &RecordReader{r: r}, nil
}

// Next returns the next record, or io.EOF at a clean end of file.
func (rr *RecordReader) Next() (Message, error) {
	var meta [12]byte
	if _, err := io.ReadFull(rr.r, meta[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Message{}, io.EOF
		}
		return Message{}, fmt.Errorf("failed to read record header: %w", err)
	}
	ts := int64(binary.LittleEndian.Uint64(meta[:8]))
	size := binary.LittleEndian.Uint32(meta[8:12])
	if size == 0 || size > maxRecordSize {
		return Message{}, fmt.Errorf("invalid record size %d", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(rr.r, payload); err != nil {
		return Message{}, fmt.Errorf("failed to read record payload: %w", err)
	}
	var msg Message
	if err := cbor.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to decode record: %w", err)
	}
	if msg.Timestamp != ts {
		return Message{}, fmt.Errorf("record timestamp mismatch: header %d, payload %d", ts, msg.Timestamp)
	}
	return msg, nil
}

// ReadRecords loads every record of the recording at path.
func ReadRecords(path string) ([]Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()

	rr, err := NewRecordReader(bufio.NewReader(f))
	if err != nil {
		return nil, err
	}
	var out []Message
	for {
		msg, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, msg)
	}
}
