package region

import (
	"context"
	"os"

	"github.com/ncw/directio"
)

// DirectIO abstracts the aligned read/write primitives so tests can inject a
// simulator and platforms without O_DIRECT can fall back to buffered files.
type DirectIO interface {
	Open(ctx context.Context, filename string, flag int, permission os.FileMode) (*os.File, error)
	WriteAt(ctx context.Context, file *os.File, block []byte, offset int64) (int, error)
	ReadAt(ctx context.Context, file *os.File, block []byte, offset int64) (int, error)
	Close(file *os.File) error
}

// alignmentBlockSize is the platform I/O alignment unit for the direct path.
const alignmentBlockSize = directio.BlockSize

type defaultDirectIO struct{}

// NewDirectIO returns the production DirectIO backed by O_DIRECT file handles.
func NewDirectIO() DirectIO {
	return &defaultDirectIO{}
}

func (dio defaultDirectIO) Open(ctx context.Context, filename string, flag int, permission os.FileMode) (*os.File, error) {
	return directio.OpenFile(filename, flag, permission)
}

func (dio defaultDirectIO) WriteAt(ctx context.Context, file *os.File, block []byte, offset int64) (int, error) {
	return file.WriteAt(block, offset)
}

func (dio defaultDirectIO) ReadAt(ctx context.Context, file *os.File, block []byte, offset int64) (int, error) {
	return file.ReadAt(block, offset)
}

func (dio defaultDirectIO) Close(file *os.File) error {
	return file.Close()
}
