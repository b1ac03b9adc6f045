package ldap

import (
	"bufio"
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

// SnapshotWriter streams collected entries to disk as a single msgpack
// array so an audit can run later without touching the directory. The array
// header is written with a placeholder length which is patched on close.
type SnapshotWriter struct {
	file   *os.File
	writer *bufio.Writer
	enc    *msgpack.Encoder
	count  int
}

func NewSnapshotWriter(path string) (*SnapshotWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	writer := bufio.NewWriterSize(f, 1024*1024)

	sw := &SnapshotWriter{
		file:   f,
		writer: writer,
	}

	// array32 marker plus placeholder length, patched in Close
	writer.WriteByte(0xdd)
	writer.Write([]byte{0x00, 0x00, 0x00, 0x00})

	sw.enc = msgpack.NewEncoder(writer)

	return sw, nil
}

func (sw *SnapshotWriter) Write(entry *LDAPEntry) error {
	if err := sw.enc.Encode(entry); err != nil {
		return fmt.Errorf("encode entry %q: %w", entry.DN, err)
	}
	sw.count++
	return nil
}

func (sw *SnapshotWriter) Close() error {
	if err := sw.writer.Flush(); err != nil {
		sw.file.Close()
		return err
	}

	// Patch the element count right after the array32 marker.
	if _, err := sw.file.Seek(1, 0); err != nil {
		sw.file.Close()
		return err
	}

	countBytes := []byte{
		byte(sw.count >> 24),
		byte(sw.count >> 16),
		byte(sw.count >> 8),
		byte(sw.count),
	}

	if _, err := sw.file.Write(countBytes); err != nil {
		sw.file.Close()
		return err
	}

	return sw.file.Close()
}

// SnapshotReader reads entries back from a snapshot file.
type SnapshotReader struct {
	file   *os.File
	dec    *msgpack.Decoder
	length int
}

func NewSnapshotReader(path string) (*SnapshotReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	dec := msgpack.NewDecoder(bufio.NewReader(file))

	length, err := dec.DecodeArrayLen()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("read snapshot header: %w", err)
	}

	return &SnapshotReader{
		file:   file,
		dec:    dec,
		length: length,
	}, nil
}

func (r *SnapshotReader) Length() int {
	return r.length
}

func (r *SnapshotReader) Read() (*LDAPEntry, error) {
	var entry LDAPEntry
	if err := r.dec.Decode(&entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ReadAll drains the remaining entries.
func (r *SnapshotReader) ReadAll() ([]LDAPEntry, error) {
	out := make([]LDAPEntry, 0, r.length)
	for i := 0; i < r.length; i++ {
		entry, err := r.Read()
		if err != nil {
			return out, fmt.Errorf("read snapshot entry %d: %w", i, err)
		}
		out = append(out, *entry)
	}
	return out, nil
}

func (r *SnapshotReader) Close() error {
	return r.file.Close()
}
