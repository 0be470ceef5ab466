package epub

import (
	"encoding/binary"
	"fmt"

	"muepub/layout"
)

// AnchorKind discriminates chapter anchors.
type AnchorKind uint8

const (
	// AnchorTokenOffset addresses a byte offset in the chapter source.
	AnchorTokenOffset AnchorKind = iota
	// AnchorCFI addresses an EPUB canonical fragment identifier path.
	AnchorCFI
)

// ChapterAnchor is a layout-independent location within a chapter.
type ChapterAnchor struct {
	Kind        AnchorKind
	TokenOffset uint32
	CFI         string
}

// ReadingPosition is a stable-across-reflow position. Pages are derived
// from positions; positions are never derived from page numbers.
type ReadingPosition struct {
	ChapterIndex     int
	Anchor           ChapterAnchor
	IntraTokenOffset uint32
}

// CurrentPosition reports the cursor chapter and the last seeked or
// recorded anchor.
func (b *Book) CurrentPosition() ReadingPosition {
	return ReadingPosition{
		ChapterIndex: b.spinePos,
		Anchor:       b.curAnchor,
	}
}

// SeekPosition moves the cursor to a previously saved position.
// SeekPosition(CurrentPosition()) is the identity on chapter index and
// anchor.
func (b *Book) SeekPosition(pos ReadingPosition) error {
	if pos.ChapterIndex < 0 || pos.ChapterIndex >= len(b.pkg.Spine) {
		return newErr(KindXml, "position chapter %d out of bounds (count %d)", pos.ChapterIndex, len(b.pkg.Spine))
	}
	b.spinePos = pos.ChapterIndex
	b.curAnchor = pos.Anchor
	return nil
}

// RecordAnchor stores the anchor of the page currently shown so that
// CurrentPosition reflects it.
func (b *Book) RecordAnchor(a ChapterAnchor) { b.curAnchor = a }

// PersistedPosition is the on-disk resume format: the pagination profile
// the position was captured under plus the position itself. When the
// stored profile differs from the current one, page indices are stale and
// the consumer must re-resolve through SeekPosition.
type PersistedPosition struct {
	ProfileID layout.ProfileID
	Position  ReadingPosition
}

const persistedVersion = 1

// MarshalBinary encodes the persisted position.
func (p PersistedPosition) MarshalBinary() ([]byte, error) {
	cfi := []byte(p.Position.Anchor.CFI)
	out := make([]byte, 0, 32+1+4+1+4+4+2+len(cfi))
	out = append(out, persistedVersion)
	out = append(out, p.ProfileID[:]...)
	out = binary.LittleEndian.AppendUint32(out, uint32(p.Position.ChapterIndex))
	out = append(out, byte(p.Position.Anchor.Kind))
	out = binary.LittleEndian.AppendUint32(out, p.Position.Anchor.TokenOffset)
	out = binary.LittleEndian.AppendUint32(out, p.Position.IntraTokenOffset)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(cfi)))
	out = append(out, cfi...)
	return out, nil
}

// UnmarshalBinary decodes a persisted position.
func (p *PersistedPosition) UnmarshalBinary(data []byte) error {
	const fixed = 1 + 32 + 4 + 1 + 4 + 4 + 2
	if len(data) < fixed {
		return fmt.Errorf("persisted position too short: %d bytes", len(data))
	}
	if data[0] != persistedVersion {
		return fmt.Errorf("unsupported persisted position version %d", data[0])
	}
	copy(p.ProfileID[:], data[1:33])
	p.Position.ChapterIndex = int(binary.LittleEndian.Uint32(data[33:]))
	p.Position.Anchor.Kind = AnchorKind(data[37])
	p.Position.Anchor.TokenOffset = binary.LittleEndian.Uint32(data[38:])
	p.Position.IntraTokenOffset = binary.LittleEndian.Uint32(data[42:])
	cfiLen := int(binary.LittleEndian.Uint16(data[46:]))
	if len(data) < fixed+cfiLen {
		return fmt.Errorf("persisted position truncated CFI")
	}
	p.Position.Anchor.CFI = string(data[fixed : fixed+cfiLen])
	return nil
}
