package epub_test

import (
	"testing"

	"muepub/epub"
	"muepub/layout"
)

func TestSeekPositionRoundTrip(t *testing.T) {
	b := openFixture(t, defaultFixtureFiles())
	pos := epub.ReadingPosition{
		ChapterIndex: 1,
		Anchor:       epub.ChapterAnchor{Kind: epub.AnchorTokenOffset, TokenOffset: 321},
	}
	if err := b.SeekPosition(pos); err != nil {
		t.Fatalf("seek: %v", err)
	}
	got := b.CurrentPosition()
	if got.ChapterIndex != pos.ChapterIndex || got.Anchor != pos.Anchor {
		t.Errorf("round trip lost position: %+v vs %+v", got, pos)
	}
	// seek(current()) is the identity on (chapter, anchor).
	if err := b.SeekPosition(got); err != nil {
		t.Fatal(err)
	}
	if again := b.CurrentPosition(); again != got {
		t.Errorf("identity violated: %+v vs %+v", again, got)
	}
}

func TestSeekPositionOutOfBounds(t *testing.T) {
	b := openFixture(t, defaultFixtureFiles())
	err := b.SeekPosition(epub.ReadingPosition{ChapterIndex: 7})
	if err == nil {
		t.Fatal("expected out-of-bounds error")
	}
}

func TestSpineMovesResetAnchor(t *testing.T) {
	b := openFixture(t, defaultFixtureFiles())
	b.RecordAnchor(epub.ChapterAnchor{Kind: epub.AnchorTokenOffset, TokenOffset: 99})
	b.Advance()
	if got := b.CurrentPosition(); got.Anchor.TokenOffset != 0 {
		t.Errorf("anchor survived chapter change: %+v", got)
	}
}

func TestPersistedPositionRoundTrip(t *testing.T) {
	cfg := layout.DefaultConfig()
	p := epub.PersistedPosition{
		ProfileID: cfg.ProfileID(),
		Position: epub.ReadingPosition{
			ChapterIndex:     3,
			Anchor:           epub.ChapterAnchor{Kind: epub.AnchorCFI, CFI: "/6/4!/4/2", TokenOffset: 17},
			IntraTokenOffset: 5,
		},
	}
	data, err := p.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	var got epub.PersistedPosition
	if err := got.UnmarshalBinary(data); err != nil {
		t.Fatal(err)
	}
	if got != p {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, p)
	}
}

func TestPersistedPositionProfileMismatchDetectable(t *testing.T) {
	a := layout.DefaultConfig()
	b := layout.DefaultConfig()
	b.BaseFontSizePx = 20
	saved := epub.PersistedPosition{ProfileID: a.ProfileID()}
	if saved.ProfileID == b.ProfileID() {
		t.Error("profiles must differ after a font size change")
	}
}

func TestPersistedPositionRejectsGarbage(t *testing.T) {
	var p epub.PersistedPosition
	if err := p.UnmarshalBinary([]byte{1, 2, 3}); err == nil {
		t.Error("expected error on short input")
	}
}
