package render

import (
	"fmt"
	"strings"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/matchers"
	"go.uber.org/zap"

	"muepub/css"
)

// FallbackReason labels one step of the font resolution decision chain.
type FallbackReason uint8

const (
	ReasonMissingGlyph FallbackReason = iota + 1
	ReasonWeightUnavailable
	ReasonPolicyClamp
	ReasonEmbeddedDisallowed
	ReasonFamilyUnavailable
	ReasonMatched
	ReasonBuiltinFallback
)

func (r FallbackReason) String() string {
	switch r {
	case ReasonMissingGlyph:
		return "missing_glyph"
	case ReasonWeightUnavailable:
		return "weight_unavailable"
	case ReasonPolicyClamp:
		return "policy_clamp"
	case ReasonEmbeddedDisallowed:
		return "embedded_disallowed"
	case ReasonFamilyUnavailable:
		return "family_unavailable"
	case ReasonMatched:
		return "matched"
	case ReasonBuiltinFallback:
		return "builtin_fallback"
	default:
		return "unknown"
	}
}

// TraceStep is one entry of the resolution reason chain.
type TraceStep struct {
	Family string
	Reason FallbackReason
	Detail string
}

// Face is a registered font face. ID 0 is reserved for the built-in
// fallback face.
type Face struct {
	ID       uint32
	Family   string
	Weight   int
	Italic   bool
	Embedded bool
	Href     string
	Format   string
	Bytes    int
}

// FontPolicy configures resolution behavior.
type FontPolicy struct {
	PreferredFamilies  []string
	DefaultFamily      string
	AllowEmbeddedFonts bool
	SyntheticBold      bool
	SyntheticItalic    bool
	MaxFaceBytes       int
}

// SerifPolicy is the default serif-first policy.
func SerifPolicy() FontPolicy {
	return FontPolicy{
		PreferredFamilies:  []string{"serif"},
		DefaultFamily:      "serif",
		AllowEmbeddedFonts: true,
	}
}

// Resolution is the outcome of a font request. FontID 0 means the built-in
// fallback face.
type Resolution struct {
	FontID         uint32
	Family         string
	Face           *Face
	SyntheticBold  bool
	SyntheticSlant bool
}

// FontTrace is a resolution with its full reason chain.
type FontTrace struct {
	Resolution Resolution
	Request    FontRequest
	Steps      []TraceStep
}

// FontRequest records what was asked of the resolver.
type FontRequest struct {
	Families []string
	Weight   int
	Italic   bool
}

// FontResolver selects faces for style requests. A resolution always
// exists: exhaustion falls back to the built-in default family with ID 0.
type FontResolver struct {
	policy FontPolicy
	faces  []Face
	log    *zap.Logger
}

// NewFontResolver creates a resolver with the given policy.
func NewFontResolver(policy FontPolicy, log *zap.Logger) *FontResolver {
	if log == nil {
		log = zap.NewNop()
	}
	if policy.DefaultFamily == "" {
		policy.DefaultFamily = "serif"
	}
	return &FontResolver{policy: policy, log: log.Named("fonts")}
}

// Policy returns the active policy.
func (r *FontResolver) Policy() FontPolicy { return r.policy }

// Faces returns the registered face set.
func (r *FontResolver) Faces() []Face { return r.faces }

// RegisterFace registers a face and returns its stable id. The payload is
// sniffed for a supported font container; the bytes themselves are not
// retained.
func (r *FontResolver) RegisterFace(family string, weight int, italic, embedded bool, href string, data []byte) (uint32, error) {
	format, ok := sniffFontFormat(data)
	if !ok {
		return 0, fmt.Errorf("unsupported font container for %q", href)
	}
	if weight == 0 {
		weight = int(css.WeightNormal)
	}
	face := Face{
		ID:       uint32(len(r.faces) + 1),
		Family:   normalizeFamily(family),
		Weight:   weight,
		Italic:   italic,
		Embedded: embedded,
		Href:     href,
		Format:   format,
		Bytes:    len(data),
	}
	r.faces = append(r.faces, face)
	r.log.Debug("Registered font face",
		zap.Uint32("id", face.ID), zap.String("family", face.Family),
		zap.Int("weight", weight), zap.Bool("italic", italic), zap.String("format", format))
	return face.ID, nil
}

func sniffFontFormat(data []byte) (string, bool) {
	t, err := filetype.Match(data)
	if err != nil {
		return "", false
	}
	switch t {
	case matchers.TypeTtf:
		return "ttf", true
	case matchers.TypeOtf:
		return "otf", true
	case matchers.TypeWoff:
		return "woff", true
	case matchers.TypeWoff2:
		return "woff2", true
	}
	return "", false
}

// Resolve selects a face for the request.
func (r *FontResolver) Resolve(families []string, weight int, italic bool) Resolution {
	return r.ResolveWithTrace(families, weight, italic, "").Resolution
}

// ResolveWithTrace selects a face and returns the full decision chain.
// When text is non-empty it is used for glyph-coverage risk reporting.
func (r *FontResolver) ResolveWithTrace(families []string, weight int, italic bool, text string) FontTrace {
	req := FontRequest{Families: dedupeFamilies(families, r.policy.PreferredFamilies), Weight: weight, Italic: italic}
	trace := FontTrace{Request: req}

	for _, family := range req.Families {
		best := -1
		bestScore := 0
		weightMismatch := false
		for i := range r.faces {
			f := &r.faces[i]
			if f.Family != family {
				continue
			}
			if f.Embedded && !r.policy.AllowEmbeddedFonts {
				trace.Steps = append(trace.Steps, TraceStep{Family: family, Reason: ReasonEmbeddedDisallowed, Detail: f.Href})
				continue
			}
			if r.policy.MaxFaceBytes > 0 && f.Bytes > r.policy.MaxFaceBytes {
				trace.Steps = append(trace.Steps, TraceStep{Family: family, Reason: ReasonPolicyClamp,
					Detail: fmt.Sprintf("%s: %d bytes over limit %d", f.Href, f.Bytes, r.policy.MaxFaceBytes)})
				continue
			}
			score := weightDelta(f.Weight, weight)
			if score != 0 {
				weightMismatch = true
			}
			if f.Italic != italic {
				if !r.syntheticAllowed(italic) {
					score += 1000
				} else {
					score += 10
				}
			}
			if best < 0 || score < bestScore {
				best, bestScore = i, score
			}
		}
		if best >= 0 {
			f := &r.faces[best]
			if weightMismatch && f.Weight != weight {
				trace.Steps = append(trace.Steps, TraceStep{Family: family, Reason: ReasonWeightUnavailable,
					Detail: fmt.Sprintf("want %d, nearest %d", weight, f.Weight)})
			}
			res := Resolution{
				FontID:         f.ID,
				Family:         f.Family,
				Face:           f,
				SyntheticBold:  r.policy.SyntheticBold && weight >= int(css.WeightBold) && f.Weight < int(css.WeightBold),
				SyntheticSlant: r.policy.SyntheticItalic && italic && !f.Italic,
			}
			trace.Steps = append(trace.Steps, TraceStep{Family: family, Reason: ReasonMatched, Detail: f.Href})
			trace.Resolution = res
			return trace
		}
		trace.Steps = append(trace.Steps, TraceStep{Family: family, Reason: ReasonFamilyUnavailable})
	}

	if text != "" && hasNonASCII(text) {
		trace.Steps = append(trace.Steps, TraceStep{Family: r.policy.DefaultFamily, Reason: ReasonMissingGlyph,
			Detail: "non-ASCII text with no embedded face match"})
	}
	trace.Steps = append(trace.Steps, TraceStep{Family: r.policy.DefaultFamily, Reason: ReasonBuiltinFallback})
	trace.Resolution = Resolution{FontID: 0, Family: r.policy.DefaultFamily}
	return trace
}

func (r *FontResolver) syntheticAllowed(wantItalic bool) bool {
	if wantItalic {
		return r.policy.SyntheticItalic
	}
	return true
}

func weightDelta(have, want int) int {
	d := have - want
	if d < 0 {
		d = -d
	}
	return d
}

// dedupeFamilies normalizes and deduplicates the request stack, appending
// the policy preferences after the cascade-ordered families.
func dedupeFamilies(families, preferred []string) []string {
	out := make([]string, 0, len(families)+len(preferred))
	seen := make(map[string]bool, len(families)+len(preferred))
	for _, list := range [2][]string{families, preferred} {
		for _, f := range list {
			n := normalizeFamily(f)
			if n == "" || seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func normalizeFamily(family string) string {
	family = strings.TrimSpace(family)
	family = strings.Trim(family, `"'`)
	return strings.ToLower(strings.TrimSpace(family))
}

func hasNonASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return true
		}
	}
	return false
}
