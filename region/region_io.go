package region

import (
	"context"
	"io"
	"os"
)

// regionIO is the byte-addressed seam between the region file runtime and the
// two access paths: buffered os files and the aligned DirectIO path. readAt
// zero-fills past end of file so callers can treat the file as a sparse,
// sector-addressed byte array.
type regionIO interface {
	readAt(ctx context.Context, b []byte, off int64) (int, error)
	writeAt(ctx context.Context, b []byte, off int64) (int, error)
	size() (int64, error)
	sync(ctx context.Context) error
	close() error
}

// bufferedIO is the default path: plain os file handle reads/writes.
type bufferedIO struct {
	file *os.File
}

func openBufferedIO(filename string, flag int, perm os.FileMode) (*bufferedIO, error) {
	f, err := os.OpenFile(filename, flag, perm)
	if err != nil {
		return nil, err
	}
	return &bufferedIO{file: f}, nil
}

func (b *bufferedIO) readAt(ctx context.Context, p []byte, off int64) (int, error) {
	n, err := b.file.ReadAt(p, off)
	if err == io.EOF {
		// Zero-fill the tail; the caller addresses sectors the file may not have grown to yet.
		for i := n; i < len(p); i++ {
			p[i] = 0
		}
		return len(p), nil
	}
	return n, err
}

func (b *bufferedIO) writeAt(ctx context.Context, p []byte, off int64) (int, error) {
	return b.file.WriteAt(p, off)
}

func (b *bufferedIO) size() (int64, error) {
	s, err := b.file.Stat()
	if err != nil {
		return 0, err
	}
	return s.Size(), nil
}

func (b *bufferedIO) sync(ctx context.Context) error {
	return b.file.Sync()
}

func (b *bufferedIO) close() error {
	return b.file.Close()
}

// alignedIO adapts arbitrary-offset reads/writes onto the DirectIO path by
// read-merge-writing whole aligned blocks, the same discipline used for
// block region updates elsewhere in this package's lineage.
type alignedIO struct {
	dio *fileDirectIO
}

func openAlignedIO(ctx context.Context, filename string, flag int, perm os.FileMode) (*alignedIO, error) {
	dio := newFileDirectIO()
	if err := dio.open(ctx, filename, flag, perm); err != nil {
		return nil, err
	}
	return &alignedIO{dio: dio}, nil
}

// alignedSpan returns the block-aligned byte range covering [off, off+n).
func alignedSpan(off int64, n int) (start int64, length int) {
	bs := int64(alignmentBlockSize)
	start = (off / bs) * bs
	end := off + int64(n)
	if rem := end % bs; rem != 0 {
		end += bs - rem
	}
	return start, int(end - start)
}

func (a *alignedIO) readAt(ctx context.Context, p []byte, off int64) (int, error) {
	start, length := alignedSpan(off, len(p))
	buf := a.dio.createAlignedBlockOfSize(length)
	if err := a.readSpan(ctx, buf, start); err != nil {
		return 0, err
	}
	copy(p, buf[off-start:])
	return len(p), nil
}

func (a *alignedIO) writeAt(ctx context.Context, p []byte, off int64) (int, error) {
	start, length := alignedSpan(off, len(p))
	buf := a.dio.createAlignedBlockOfSize(length)
	// Merge with existing content unless the write covers the span exactly.
	if off != start || len(p) != length {
		if err := a.readSpan(ctx, buf, start); err != nil {
			return 0, err
		}
	}
	copy(buf[off-start:], p)
	if n, err := a.dio.writeAt(ctx, buf, start); err != nil {
		return n, err
	}
	return len(p), nil
}

// readSpan fills buf from the aligned offset, zero-filling past end of file.
func (a *alignedIO) readSpan(ctx context.Context, buf []byte, start int64) error {
	fileSize, err := a.dio.size()
	if err != nil {
		return err
	}
	if start >= fileSize {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	want := len(buf)
	if avail := fileSize - start; avail < int64(want) {
		want = int(avail)
	}
	n, err := a.dio.readAt(ctx, buf[:want], start)
	if err != nil && err != io.EOF {
		return err
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

func (a *alignedIO) size() (int64, error) {
	return a.dio.size()
}

func (a *alignedIO) sync(ctx context.Context) error {
	return a.dio.sync(ctx)
}

func (a *alignedIO) close() error {
	return a.dio.close()
}
