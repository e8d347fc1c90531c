package codec

import (
	"fmt"
	"io"
	"os"
)

// spoolThreshold is the in-memory ceiling before a spooled file spills to
// disk, mirroring the temp-file discipline the teacher applies to large
// streaming uploads.
const spoolThreshold = 32 << 20 // 32 MiB

// spooledFile buffers writes in memory up to spoolThreshold, then
// transparently continues on a backing temp file. After SeekStart it can
// be read back from the beginning.
type spooledFile struct {
	mem      []byte
	file     *os.File
	dir      string
	spilled  bool
	readPos  int64
}

// newSpooledFile creates a spooled file whose temp-file fallback (if it
// spills) is created under dir.
func newSpooledFile(dir string) *spooledFile {
	return &spooledFile{dir: dir}
}

func (s *spooledFile) Write(p []byte) (int, error) {
	if s.spilled {
		return s.file.Write(p)
	}
	if len(s.mem)+len(p) <= spoolThreshold {
		s.mem = append(s.mem, p...)
		return len(p), nil
	}

	f, err := os.CreateTemp(s.dir, "archivesync-spool-*")
	if err != nil {
		return 0, fmt.Errorf("codec: creating spool temp file: %w", err)
	}
	if _, err := f.Write(s.mem); err != nil {
		f.Close()
		os.Remove(f.Name())
		return 0, fmt.Errorf("codec: flushing spool to disk: %w", err)
	}
	s.file = f
	s.mem = nil
	s.spilled = true
	return s.file.Write(p)
}

// Size returns the number of bytes written so far.
func (s *spooledFile) Size() (int64, error) {
	if !s.spilled {
		return int64(len(s.mem)), nil
	}
	info, err := s.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// SeekStart rewinds the spool for reading.
func (s *spooledFile) SeekStart() error {
	s.readPos = 0
	if s.spilled {
		_, err := s.file.Seek(0, io.SeekStart)
		return err
	}
	return nil
}

func (s *spooledFile) Read(p []byte) (int, error) {
	if s.spilled {
		return s.file.Read(p)
	}
	if s.readPos >= int64(len(s.mem)) {
		return 0, io.EOF
	}
	n := copy(p, s.mem[s.readPos:])
	s.readPos += int64(n)
	return n, nil
}

// Close releases the backing temp file, if any. Safe to call on an
// unspilled spool.
func (s *spooledFile) Close() error {
	if s.spilled {
		name := s.file.Name()
		err := s.file.Close()
		if rmErr := os.Remove(name); rmErr != nil && !os.IsNotExist(rmErr) {
			return rmErr
		}
		return err
	}
	return nil
}
