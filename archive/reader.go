// Package archive implements a streaming ZIP container reader with bounded
// buffers. Entries are located through the central directory and read on
// demand into caller-provided buffers, so the archive itself is never loaded
// into memory as a whole.
package archive

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	sigLocalFileHeader = 0x04034b50
	sigCentralDirEntry = 0x02014b50
	sigEOCD            = 0x06054b50
	sigZip64Locator    = 0x07064b50

	eocdMinSize        = 22
	localHeaderMinSize = 30

	methodStored   = 0
	methodDeflated = 8

	// MaxFilenameLen is the inclusive upper bound for entry names.
	MaxFilenameLen = 256

	// DefaultMaxEntries caps the central directory cache.
	DefaultMaxEntries = 1024

	// DefaultEOCDScan is the tail window scanned for the end-of-central-directory
	// record (record size plus maximum comment length, capped at 64 KB).
	DefaultEOCDScan = 64 * 1024
)

// Limits configures safety caps applied before any allocation happens.
// The zero value selects the defaults.
type Limits struct {
	// MaxUncompressedBytes rejects entries whose declared uncompressed size
	// exceeds the cap. Zero means no cap.
	MaxUncompressedBytes uint64
	// MaxEntries caps the number of central directory entries loaded.
	MaxEntries int
	// MaxEOCDScan caps the tail window scanned for the EOCD record.
	MaxEOCDScan int
}

func (l Limits) maxEntries() int {
	if l.MaxEntries <= 0 {
		return DefaultMaxEntries
	}
	return l.MaxEntries
}

func (l Limits) maxEOCDScan() int {
	if l.MaxEOCDScan < eocdMinSize {
		return DefaultEOCDScan
	}
	return l.MaxEOCDScan
}

// Entry describes a single archive member from the central directory.
type Entry struct {
	Name              string
	Method            uint16
	CRC32             uint32
	CompressedSize    uint64
	UncompressedSize  uint64
	LocalHeaderOffset uint64
}

// Stored reports whether the entry is uncompressed.
func (e *Entry) Stored() bool { return e.Method == methodStored }

// Reader reads entries from a ZIP archive through an io.ReaderAt.
type Reader struct {
	r       io.ReaderAt
	size    int64
	entries []Entry
	limits  Limits
	log     *zap.Logger
}

// Open parses the central directory of the archive available through r and
// returns a Reader. ZIP64 archives are rejected with ErrUnsupportedZip64.
func Open(r io.ReaderAt, size int64, limits *Limits, log *zap.Logger) (*Reader, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("zip")

	var lim Limits
	if limits != nil {
		lim = *limits
	}

	zr := &Reader{r: r, size: size, limits: lim, log: log}
	eocd, err := zr.findEOCD()
	if err != nil {
		return nil, err
	}
	if eocd.usesZip64 {
		return nil, ErrUnsupportedZip64
	}
	if int(eocd.numEntries) > lim.maxEntries() {
		return nil, &LimitError{Kind: LimitCentralDirectory, Actual: uint64(eocd.numEntries), Limit: uint64(lim.maxEntries())}
	}
	if err := zr.readCentralDirectory(eocd); err != nil {
		return nil, err
	}
	log.Debug("Parsed central directory", zap.Int("entries", len(zr.entries)), zap.Uint64("offset", eocd.cdOffset))
	return zr, nil
}

type eocdInfo struct {
	cdOffset   uint64
	cdSize     uint32
	numEntries uint16
	usesZip64  bool
}

func (z *Reader) findEOCD() (eocdInfo, error) {
	if z.size < eocdMinSize {
		return eocdInfo{}, fmt.Errorf("%w: archive too small for EOCD", ErrFormat)
	}

	scan := int64(z.limits.maxEOCDScan())
	if scan > z.size {
		scan = z.size
	}
	buf := make([]byte, scan)
	base := z.size - scan
	if _, err := z.r.ReadAt(buf, base); err != nil && err != io.EOF {
		return eocdInfo{}, fmt.Errorf("%w: %s", ErrIO, err)
	}

	for i := len(buf) - eocdMinSize; i >= 0; i-- {
		if binary.LittleEndian.Uint32(buf[i:]) != sigEOCD {
			continue
		}
		numEntries := binary.LittleEndian.Uint16(buf[i+10:])
		cdSize := binary.LittleEndian.Uint32(buf[i+12:])
		cdOffset := binary.LittleEndian.Uint32(buf[i+16:])
		commentLen := binary.LittleEndian.Uint16(buf[i+20:])

		eocdPos := base + int64(i)
		if eocdPos+eocdMinSize+int64(commentLen) != z.size {
			// Signature bytes inside the comment of the real record.
			continue
		}
		cdEnd := uint64(cdOffset) + uint64(cdSize)
		if cdEnd > uint64(eocdPos) {
			return eocdInfo{}, fmt.Errorf("%w: central directory overlaps EOCD", ErrFormat)
		}

		usesZip64 := numEntries == 0xFFFF || cdSize == 0xFFFFFFFF || cdOffset == 0xFFFFFFFF
		if !usesZip64 && eocdPos >= 20 {
			var sig [4]byte
			if _, err := z.r.ReadAt(sig[:], eocdPos-20); err == nil {
				usesZip64 = binary.LittleEndian.Uint32(sig[:]) == sigZip64Locator
			}
		}

		return eocdInfo{
			cdOffset:   uint64(cdOffset),
			cdSize:     cdSize,
			numEntries: numEntries,
			usesZip64:  usesZip64,
		}, nil
	}
	return eocdInfo{}, fmt.Errorf("%w: EOCD record not found", ErrFormat)
}

func (z *Reader) readCentralDirectory(eocd eocdInfo) error {
	if eocd.cdSize == 0 || eocd.numEntries == 0 {
		return nil
	}
	cd := make([]byte, eocd.cdSize)
	if _, err := z.r.ReadAt(cd, int64(eocd.cdOffset)); err != nil {
		return fmt.Errorf("%w: %s", ErrIO, err)
	}

	z.entries = make([]Entry, 0, eocd.numEntries)
	pos := 0
	for i := 0; i < int(eocd.numEntries); i++ {
		if pos+46 > len(cd) {
			return fmt.Errorf("%w: truncated central directory", ErrFormat)
		}
		if binary.LittleEndian.Uint32(cd[pos:]) != sigCentralDirEntry {
			return fmt.Errorf("%w: bad central directory signature at entry %d", ErrFormat, i)
		}
		method := binary.LittleEndian.Uint16(cd[pos+10:])
		crc := binary.LittleEndian.Uint32(cd[pos+16:])
		compSize := binary.LittleEndian.Uint32(cd[pos+20:])
		uncompSize := binary.LittleEndian.Uint32(cd[pos+24:])
		nameLen := int(binary.LittleEndian.Uint16(cd[pos+28:]))
		extraLen := int(binary.LittleEndian.Uint16(cd[pos+30:]))
		commentLen := int(binary.LittleEndian.Uint16(cd[pos+32:]))
		localOffset := binary.LittleEndian.Uint32(cd[pos+42:])

		if pos+46+nameLen > len(cd) {
			return fmt.Errorf("%w: truncated central directory entry name", ErrFormat)
		}
		if nameLen > MaxFilenameLen {
			return fmt.Errorf("%w: entry name longer than %d bytes", ErrFormat, MaxFilenameLen)
		}
		name := string(cd[pos+46 : pos+46+nameLen])

		z.entries = append(z.entries, Entry{
			Name:              name,
			Method:            method,
			CRC32:             crc,
			CompressedSize:    uint64(compSize),
			UncompressedSize:  uint64(uncompSize),
			LocalHeaderOffset: uint64(localOffset),
		})
		pos += 46 + nameLen + extraLen + commentLen
	}
	return nil
}

// Entries returns the cached central directory.
func (z *Reader) Entries() []Entry { return z.entries }

// Entry looks an entry up by name. Lookup tolerates a leading slash and
// falls back to a case-insensitive match (Unicode case folding).
func (z *Reader) Entry(name string) (*Entry, bool) {
	name = strings.TrimPrefix(name, "/")
	for i := range z.entries {
		if z.entries[i].Name == name {
			return &z.entries[i], true
		}
	}
	for i := range z.entries {
		if strings.EqualFold(strings.TrimPrefix(z.entries[i].Name, "/"), name) {
			return &z.entries[i], true
		}
	}
	return nil, false
}

func (z *Reader) checkLimits(e *Entry) error {
	if z.limits.MaxUncompressedBytes > 0 && e.UncompressedSize > z.limits.MaxUncompressedBytes {
		return &LimitError{Kind: LimitEntrySize, Actual: e.UncompressedSize, Limit: z.limits.MaxUncompressedBytes}
	}
	return nil
}

// dataOffset reads and validates the local file header and returns the
// offset of the entry payload.
func (z *Reader) dataOffset(e *Entry) (int64, error) {
	var hdr [localHeaderMinSize]byte
	if _, err := z.r.ReadAt(hdr[:], int64(e.LocalHeaderOffset)); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrIO, err)
	}
	if binary.LittleEndian.Uint32(hdr[:]) != sigLocalFileHeader {
		return 0, fmt.Errorf("%w: bad local header signature for %q", ErrFormat, e.Name)
	}
	nameLen := int64(binary.LittleEndian.Uint16(hdr[26:]))
	extraLen := int64(binary.LittleEndian.Uint16(hdr[28:]))
	return int64(e.LocalHeaderOffset) + localHeaderMinSize + nameLen + extraLen, nil
}

// ReadEntry reads the named entry into out and returns the number of bytes
// written. When out is smaller than the declared uncompressed size the call
// fails with *BufferTooSmallError before any data is read.
func (z *Reader) ReadEntry(name string, out []byte) (int, error) {
	e, ok := z.Entry(name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return z.ReadEntryAt(e, out)
}

// ReadEntryAt reads a previously located entry into out.
func (z *Reader) ReadEntryAt(e *Entry, out []byte) (int, error) {
	if err := z.checkLimits(e); err != nil {
		return 0, err
	}
	if uint64(len(out)) < e.UncompressedSize {
		return 0, &BufferTooSmallError{Needed: e.UncompressedSize, Have: uint64(len(out))}
	}
	offset, err := z.dataOffset(e)
	if err != nil {
		return 0, err
	}

	section := io.NewSectionReader(z.r, offset, int64(e.CompressedSize))
	var n int
	switch e.Method {
	case methodStored:
		n, err = io.ReadFull(section, out[:e.CompressedSize])
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrIO, err)
		}
	case methodDeflated:
		fr := flate.NewReader(section)
		n, err = io.ReadFull(fr, out[:e.UncompressedSize])
		err = multierr.Append(err, fr.Close())
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrDecompress, err)
		}
	default:
		return 0, fmt.Errorf("%w: method %d for %q", ErrUnsupportedMethod, e.Method, e.Name)
	}

	if e.CRC32 != 0 && crc32.ChecksumIEEE(out[:n]) != e.CRC32 {
		return 0, fmt.Errorf("%w: %q", ErrChecksum, e.Name)
	}
	return n, nil
}

// ReadEntryTo streams the decompressed entry payload into w in chunks of
// len(scratch) bytes. Only the scratch buffer is held in memory at any time.
func (z *Reader) ReadEntryTo(name string, w io.Writer, scratch []byte) (int64, error) {
	if len(scratch) == 0 {
		return 0, &BufferTooSmallError{Needed: 1}
	}
	e, ok := z.Entry(name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err := z.checkLimits(e); err != nil {
		return 0, err
	}
	offset, err := z.dataOffset(e)
	if err != nil {
		return 0, err
	}

	section := io.NewSectionReader(z.r, offset, int64(e.CompressedSize))
	var src io.Reader
	switch e.Method {
	case methodStored:
		src = section
	case methodDeflated:
		fr := flate.NewReader(section)
		defer fr.Close()
		src = fr
	default:
		return 0, fmt.Errorf("%w: method %d for %q", ErrUnsupportedMethod, e.Method, e.Name)
	}

	crc := crc32.NewIEEE()
	var written int64
	for {
		n, rerr := src.Read(scratch)
		if n > 0 {
			if _, werr := w.Write(scratch[:n]); werr != nil {
				return written, fmt.Errorf("%w: %s", ErrIO, werr)
			}
			_, _ = crc.Write(scratch[:n])
			written += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if e.Method == methodDeflated {
				return written, fmt.Errorf("%w: %s", ErrDecompress, rerr)
			}
			return written, fmt.Errorf("%w: %s", ErrIO, rerr)
		}
	}
	if e.CRC32 != 0 && crc.Sum32() != e.CRC32 {
		return written, fmt.Errorf("%w: %q", ErrChecksum, e.Name)
	}
	return written, nil
}

// WalkFunc is called for every entry visited by Walk.
type WalkFunc func(e *Entry) error

// Walk visits entries whose name starts with prefix, in central directory
// order. Entries with path traversal components or absolute names are
// rejected to prevent zip-slip style references.
func (z *Reader) Walk(prefix string, fn WalkFunc) error {
	for i := range z.entries {
		e := &z.entries[i]
		if !isSafePath(e.Name) {
			return fmt.Errorf("%w: unsafe entry path %q", ErrFormat, e.Name)
		}
		if strings.HasSuffix(e.Name, "/") {
			continue
		}
		if strings.HasPrefix(e.Name, prefix) {
			if err := fn(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// isSafePath returns false for names that could escape an extraction root.
func isSafePath(name string) bool {
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

// MimetypeContents is the exact payload the OCF spec requires.
const MimetypeContents = "application/epub+zip"

// ValidateMimetype checks that the archive carries the EPUB mimetype entry
// as its first member, stored, with the exact required contents.
func (z *Reader) ValidateMimetype() error {
	if len(z.entries) == 0 {
		return &MimetypeError{Reason: "archive has no entries"}
	}
	e, ok := z.Entry("mimetype")
	if !ok {
		return &MimetypeError{Reason: "mimetype entry not found"}
	}
	if z.entries[0].Name != "mimetype" {
		return &MimetypeError{Reason: "mimetype is not the first archive entry"}
	}
	if !e.Stored() {
		return &MimetypeError{Reason: "mimetype entry is compressed"}
	}
	if e.UncompressedSize != uint64(len(MimetypeContents)) {
		return &MimetypeError{Reason: fmt.Sprintf("mimetype length %d, want %d", e.UncompressedSize, len(MimetypeContents))}
	}
	buf := make([]byte, len(MimetypeContents))
	n, err := z.ReadEntryAt(e, buf)
	if err != nil {
		return err
	}
	if string(buf[:n]) != MimetypeContents {
		return &MimetypeError{Reason: fmt.Sprintf("mimetype contents %q, want %q", buf[:n], MimetypeContents)}
	}
	return nil
}
