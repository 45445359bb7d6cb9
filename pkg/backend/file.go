package backend

import (
	"bytes"
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/dashjay/obspath/pkg/obserr"
	"github.com/dashjay/obspath/pkg/storpath"
)

var (
	ErrModeMismatch = errors.New("operation not permitted in this file mode")
	ErrClosed       = errors.New("I/O operation on closed file")
)

const (
	ModeRead        = "r"
	ModeReadBinary  = "rb"
	ModeWrite       = "w"
	ModeWriteBinary = "wb"
)

// File is an object opened for reading or writing. Reads fetch the whole
// object on first use; writes are buffered and uploaded on Flush or Close.
type File struct {
	ctx  context.Context
	rw   ObjectReadWriter
	path storpath.Path
	mode string

	rd     *bytes.Reader
	buf    bytes.Buffer
	dirty  bool
	closed bool
}

var _ io.ReadWriteSeeker = (*File)(nil)
var _ io.Closer = (*File)(nil)

// Open returns a File on p. mode is one of r, rb, w, wb; there is no text
// decoding, r and rb behave the same.
func Open(ctx context.Context, rw ObjectReadWriter, p storpath.Path, mode string) (*File, error) {
	switch mode {
	case ModeRead, ModeReadBinary, ModeWrite, ModeWriteBinary:
	default:
		return nil, obserr.Validation("invalid mode for file: %q", mode)
	}
	return &File{ctx: ctx, rw: rw, path: p, mode: mode}, nil
}

func (f *File) Name() string { return f.path.String() }

func (f *File) Mode() string { return f.mode }

func (f *File) readable() bool {
	return f.mode == ModeRead || f.mode == ModeReadBinary
}

func (f *File) reader() (*bytes.Reader, error) {
	if f.rd != nil {
		return f.rd, nil
	}
	data, err := f.rw.ReadObject(f.ctx, f.path)
	if err != nil {
		return nil, err
	}
	f.rd = bytes.NewReader(data)
	return f.rd, nil
}

func (f *File) Read(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if !f.readable() {
		return 0, ErrModeMismatch
	}
	rd, err := f.reader()
	if err != nil {
		return 0, err
	}
	return rd.Read(p)
}

func (f *File) Write(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if f.readable() {
		return 0, ErrModeMismatch
	}
	f.dirty = true
	return f.buf.Write(p)
}

// Seek is supported in read mode only; write buffers are append only.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if !f.readable() {
		if offset == 0 && whence == io.SeekCurrent {
			return int64(f.buf.Len()), nil
		}
		return 0, ErrModeMismatch
	}
	rd, err := f.reader()
	if err != nil {
		return 0, err
	}
	return rd.Seek(offset, whence)
}

// Flush uploads the buffer if it holds data. An empty buffer never creates
// an object.
func (f *File) Flush() error {
	if f.closed {
		return ErrClosed
	}
	if f.readable() {
		return ErrModeMismatch
	}
	if f.buf.Len() == 0 {
		return nil
	}
	if err := f.rw.WriteObject(f.ctx, f.path, f.buf.Bytes()); err != nil {
		return err
	}
	f.dirty = false
	return nil
}

// Close flushes unflushed writes. Closing twice is a no-op.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	var err error
	if !f.readable() && f.dirty {
		err = f.Flush()
	}
	f.closed = true
	f.rd = nil
	return err
}
