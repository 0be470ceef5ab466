package render_test

import (
	"testing"

	"muepub/render"
)

// ttfHeader is the minimal sfnt signature recognized by the sniffer.
var ttfHeader = append([]byte{0x00, 0x01, 0x00, 0x00}, make([]byte, 12)...)

func newResolver(t *testing.T, policy render.FontPolicy) *render.FontResolver {
	t.Helper()
	return render.NewFontResolver(policy, nil)
}

func registerFace(t *testing.T, r *render.FontResolver, family string, weight int, italic bool, href string, size int) uint32 {
	t.Helper()
	data := make([]byte, size)
	copy(data, ttfHeader)
	id, err := r.RegisterFace(family, weight, italic, true, href, data)
	if err != nil {
		t.Fatalf("register %s: %v", href, err)
	}
	return id
}

func TestResolveExactMatch(t *testing.T) {
	r := newResolver(t, render.SerifPolicy())
	id := registerFace(t, r, "Georgia", 400, false, "fonts/georgia.ttf", 1024)
	res := r.Resolve([]string{"Georgia"}, 400, false)
	if res.FontID != id {
		t.Errorf("font id = %d, want %d", res.FontID, id)
	}
	if res.Family != "georgia" {
		t.Errorf("family = %q", res.Family)
	}
}

func TestResolveNearestWeightRecordsReason(t *testing.T) {
	r := newResolver(t, render.SerifPolicy())
	registerFace(t, r, "Georgia", 400, false, "fonts/georgia.ttf", 1024)
	trace := r.ResolveWithTrace([]string{"Georgia"}, 700, false, "")
	if trace.Resolution.FontID == 0 {
		t.Fatal("expected embedded match")
	}
	if !hasReason(trace.Steps, render.ReasonWeightUnavailable) {
		t.Errorf("missing weight_unavailable in %v", trace.Steps)
	}
}

func TestResolveFallbackAlwaysExists(t *testing.T) {
	r := newResolver(t, render.SerifPolicy())
	trace := r.ResolveWithTrace([]string{"NoSuchFamily"}, 400, false, "")
	if trace.Resolution.FontID != 0 {
		t.Errorf("fallback id = %d, want 0", trace.Resolution.FontID)
	}
	if trace.Resolution.Family != "serif" {
		t.Errorf("fallback family = %q", trace.Resolution.Family)
	}
	if !hasReason(trace.Steps, render.ReasonBuiltinFallback) {
		t.Error("missing builtin_fallback step")
	}
}

func TestResolveEmbeddedDisallowed(t *testing.T) {
	policy := render.SerifPolicy()
	policy.AllowEmbeddedFonts = false
	r := newResolver(t, policy)
	registerFace(t, r, "Georgia", 400, false, "fonts/georgia.ttf", 1024)
	trace := r.ResolveWithTrace([]string{"Georgia"}, 400, false, "")
	if trace.Resolution.FontID != 0 {
		t.Error("embedded face selected despite policy")
	}
	if !hasReason(trace.Steps, render.ReasonEmbeddedDisallowed) {
		t.Errorf("missing embedded_disallowed in %v", trace.Steps)
	}
}

func TestResolvePolicyClampOverLimit(t *testing.T) {
	policy := render.SerifPolicy()
	policy.MaxFaceBytes = 100
	r := newResolver(t, policy)
	registerFace(t, r, "Georgia", 400, false, "fonts/georgia.ttf", 4096)
	trace := r.ResolveWithTrace([]string{"Georgia"}, 400, false, "")
	if trace.Resolution.FontID != 0 {
		t.Error("oversized face selected")
	}
	if !hasReason(trace.Steps, render.ReasonPolicyClamp) {
		t.Errorf("missing policy_clamp in %v", trace.Steps)
	}
}

func TestResolveMissingGlyphRisk(t *testing.T) {
	r := newResolver(t, render.SerifPolicy())
	trace := r.ResolveWithTrace([]string{"Georgia"}, 400, false, "кириллица")
	if !hasReason(trace.Steps, render.ReasonMissingGlyph) {
		t.Errorf("missing missing_glyph in %v", trace.Steps)
	}
}

func TestRegisterFaceRejectsUnknownContainer(t *testing.T) {
	r := newResolver(t, render.SerifPolicy())
	if _, err := r.RegisterFace("X", 400, false, true, "x.bin", []byte("not a font at all")); err == nil {
		t.Error("expected sniff rejection")
	}
}

func TestFamilyNormalizationAndDedupe(t *testing.T) {
	r := newResolver(t, render.SerifPolicy())
	id := registerFace(t, r, `"Times New Roman"`, 400, false, "fonts/times.ttf", 512)
	res := r.Resolve([]string{"  'times new roman' ", "Times New Roman"}, 400, false)
	if res.FontID != id {
		t.Errorf("font id = %d, want %d", res.FontID, id)
	}
}

func TestStyleDistanceWeightDominant(t *testing.T) {
	r := newResolver(t, render.SerifPolicy())
	regular := registerFace(t, r, "Georgia", 400, false, "fonts/g.ttf", 512)
	italic := registerFace(t, r, "Georgia", 400, true, "fonts/g-i.ttf", 512)

	if res := r.Resolve([]string{"Georgia"}, 400, true); res.FontID != italic {
		t.Errorf("italic request id = %d, want %d", res.FontID, italic)
	}
	if res := r.Resolve([]string{"Georgia"}, 400, false); res.FontID != regular {
		t.Errorf("regular request id = %d, want %d", res.FontID, regular)
	}
}

func hasReason(steps []render.TraceStep, reason render.FallbackReason) bool {
	for _, s := range steps {
		if s.Reason == reason {
			return true
		}
	}
	return false
}
