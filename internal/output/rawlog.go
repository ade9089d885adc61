package output

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Raw capture file format: an 8-byte magic followed by records, each a
// 12-byte little-endian header (int64 receive time in ns, uint32 payload
// size) and the raw payload bytes.
const rawLogMagic = "XRRRAW01"

// RawLogWriter appends raw stream payloads to a capture file. Safe for
// concurrent use.
type RawLogWriter struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string
}

// NewRawLogWriter creates a timestamped capture file in outputDir.
func NewRawLogWriter(outputDir string, prefix string) (*RawLogWriter, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	timestamp := time.Now().Format("20060102_150405")
	filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s.bin", timestamp, prefix))
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriterSize(f, 1024*1024)
	if _, err := w.WriteString(rawLogMagic); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &RawLogWriter{
		f:    f,
		w:    w,
		path: filename,
	}, nil
}

// Path returns the capture file's location.
func (r *RawLogWriter) Path() string {
	return r.path
}

// Record appends one payload with the current time as its receive stamp.
func (r *RawLogWriter) Record(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return fmt.Errorf("raw log writer is closed")
	}
	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(time.Now().UnixNano()))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	if _, err := r.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := r.w.Write(payload); err != nil {
		return err
	}
	return r.w.Flush()
}

func (r *RawLogWriter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	if err := r.w.Flush(); err != nil {
		_ = r.f.Close()
		r.w = nil
		return err
	}
	err := r.f.Close()
	r.w = nil
	return err
}

// RawRecord is one captured payload with its receive time.
type RawRecord struct {
	Timestamp time.Time
	Payload   []byte
}

// RawLogReader iterates a capture file's records in order.
type RawLogReader struct {
	f *os.File
	r *bufio.Reader
}

// OpenRawLog opens a capture file and validates its magic.
func OpenRawLog(path string) (*RawLogReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := bufio.NewReaderSize(f, 1024*1024)
	magic := make([]byte, len(rawLogMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != rawLogMagic {
		_ = f.Close()
		return nil, fmt.Errorf("not a raw capture file (magic %q)", magic)
	}
	return &RawLogReader{f: f, r: r}, nil
}

// Next returns the next record, or io.EOF after the last one. A truncated
// trailing record reports io.ErrUnexpectedEOF.
func (r *RawLogReader) Next() (RawRecord, error) {
	var header [12]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		if err == io.EOF {
			return RawRecord{}, io.EOF
		}
		return RawRecord{}, fmt.Errorf("read record header: %w", err)
	}
	ns := int64(binary.LittleEndian.Uint64(header[:8]))
	size := binary.LittleEndian.Uint32(header[8:12])
	payload := make([]byte, size)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return RawRecord{}, fmt.Errorf("read record payload: %w", err)
	}
	return RawRecord{
		Timestamp: time.Unix(0, ns).UTC(),
		Payload:   payload,
	}, nil
}

func (r *RawLogReader) Close() error {
	return r.f.Close()
}
