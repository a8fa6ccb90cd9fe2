package region

import (
	"encoding/binary"
	"time"
)

// headerColumn is one fixed-width column of the region header. The header
// stores one record per id; each record concatenates the columns in
// registration order, the sector-map column always first. Columns encode and
// decode their slice of a record independently so partial header writes stay
// bounded to one column's width.
type headerColumn interface {
	width() int
	encode(dst []byte, id int)
	decode(src []byte, id int)
}

// sectorMapColumn mirrors the packed sector directory: 4 bytes big-endian per id.
type sectorMapColumn struct {
	m *sectorMap
}

func (c *sectorMapColumn) width() int { return 4 }

func (c *sectorMapColumn) encode(dst []byte, id int) {
	binary.BigEndian.PutUint32(dst, c.m.word(id))
}

func (c *sectorMapColumn) decode(src []byte, id int) {
	c.m.setWord(id, binary.BigEndian.Uint32(src))
}

// timestampColumn records each id's last modification as a 4-byte big-endian
// count of the configured unit since the Unix epoch.
type timestampColumn struct {
	unit  time.Duration
	times []uint32
}

func newTimestampColumn(keyCount int, unit time.Duration) *timestampColumn {
	if unit <= 0 {
		unit = time.Second
	}
	return &timestampColumn{
		unit:  unit,
		times: make([]uint32, keyCount),
	}
}

func (c *timestampColumn) width() int { return 4 }

func (c *timestampColumn) encode(dst []byte, id int) {
	binary.BigEndian.PutUint32(dst, c.times[id])
}

func (c *timestampColumn) decode(src []byte, id int) {
	c.times[id] = binary.BigEndian.Uint32(src)
}

// touch stamps the id with the current time.
func (c *timestampColumn) touch(id int, now time.Time) {
	c.times[id] = uint32(now.UnixNano() / int64(c.unit))
}

// at returns the stored modification time; ok is false for the zero stamp.
func (c *timestampColumn) at(id int) (time.Time, bool) {
	v := c.times[id]
	if v == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, int64(v)*int64(c.unit)), true
}

// encodeCurrent writes the current time directly, for header records kept
// outside the region file (the sidecar store embeds the same columns).
func (c *timestampColumn) encodeCurrent(dst []byte, now time.Time) {
	binary.BigEndian.PutUint32(dst, uint32(now.UnixNano()/int64(c.unit)))
}

// blobColumn is a user-defined fixed-width column, one opaque slice per id.
type blobColumn struct {
	w    int
	data []byte
}

func newBlobColumn(keyCount, width int) *blobColumn {
	return &blobColumn{
		w:    width,
		data: make([]byte, keyCount*width),
	}
}

func (c *blobColumn) width() int { return c.w }

func (c *blobColumn) encode(dst []byte, id int) {
	copy(dst, c.data[id*c.w:(id+1)*c.w])
}

func (c *blobColumn) decode(src []byte, id int) {
	copy(c.data[id*c.w:(id+1)*c.w], src)
}

func (c *blobColumn) set(id int, value []byte) {
	slot := c.data[id*c.w : (id+1)*c.w]
	n := copy(slot, value)
	for i := n; i < c.w; i++ {
		slot[i] = 0
	}
}

func (c *blobColumn) get(id int) []byte {
	out := make([]byte, c.w)
	copy(out, c.data[id*c.w:(id+1)*c.w])
	return out
}

// headerLayout precomputes the stride and per-column byte prefixes of one
// header record.
type headerLayout struct {
	columns  []headerColumn
	prefixes []int
	stride   int
}

func newHeaderLayout(columns []headerColumn) headerLayout {
	l := headerLayout{columns: columns, prefixes: make([]int, len(columns))}
	for i, c := range columns {
		l.prefixes[i] = l.stride
		l.stride += c.width()
	}
	return l
}

// recordOffset returns the byte offset of id's record within the header area.
func (l headerLayout) recordOffset(id int) int {
	return id * l.stride
}

// headerSectors returns how many whole sectors the header area occupies.
func (l headerLayout) headerSectors(keyCount, sectorSize int) int {
	bytes := keyCount * l.stride
	return (bytes + sectorSize - 1) / sectorSize
}
