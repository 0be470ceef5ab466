package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v3"

	"github.com/rupor-github/gencfg"

	"muepub/archive"
	"muepub/layout"
)

//go:embed config.yaml.tmpl
var ConfigTmpl []byte

type (
	ZipConfig struct {
		MaxUncompressedBytes uint64 `yaml:"max_uncompressed_bytes" validate:"gte=0"`
		MaxEntries           int    `yaml:"max_entries" validate:"gte=0"`
	}

	ViewportConfig struct {
		Width  float32 `yaml:"width" validate:"gt=0"`
		Height float32 `yaml:"height" validate:"gt=0"`
	}

	MarginsConfig struct {
		Left   float32 `yaml:"left" validate:"gte=0"`
		Right  float32 `yaml:"right" validate:"gte=0"`
		Top    float32 `yaml:"top" validate:"gte=0"`
		Bottom float32 `yaml:"bottom" validate:"gte=0"`
		Header float32 `yaml:"header" validate:"gte=0"`
		Footer float32 `yaml:"footer" validate:"gte=0"`
	}

	TypographyConfig struct {
		BaseFontSize           float32  `yaml:"base_font_size" validate:"gt=0"`
		FontFamilies           []string `yaml:"font_families" validate:"min=1,dive,required"`
		FirstLineIndent        float32  `yaml:"first_line_indent" validate:"gte=0"`
		SuppressIndentAfterHdr bool     `yaml:"suppress_indent_after_heading"`
		WidowLines             int      `yaml:"widow_lines" validate:"gte=0,lte=8"`
		OrphanLines            int      `yaml:"orphan_lines" validate:"gte=0,lte=8"`
		HangingPunctuation     bool     `yaml:"hanging_punctuation"`
		ParagraphSpacing       float32  `yaml:"paragraph_spacing" validate:"gte=0"`
	}

	FontsConfig struct {
		AllowEmbedded   bool `yaml:"allow_embedded"`
		SyntheticBold   bool `yaml:"synthetic_bold"`
		SyntheticItalic bool `yaml:"synthetic_italic"`
		MaxFaceBytes    int  `yaml:"max_face_bytes" validate:"gte=0"`
	}

	ReaderConfig struct {
		ChunkSize    int              `yaml:"chunk_size" validate:"gt=0"`
		RenderIntent string           `yaml:"render_intent" validate:"oneof=eink lcd"`
		Zip          ZipConfig        `yaml:"zip"`
		Viewport     ViewportConfig   `yaml:"viewport"`
		Margins      MarginsConfig    `yaml:"margins"`
		Typography   TypographyConfig `yaml:"typography"`
		Fonts        FontsConfig      `yaml:"fonts"`
	}

	Config struct {
		Version int           `yaml:"version" validate:"eq=1"`
		Reader  ReaderConfig  `yaml:"reader"`
		Logging LoggingConfig `yaml:"logging"`
	}
)

// Layout converts the reader configuration into a layout engine config.
func (c *Config) Layout() layout.Config {
	r := &c.Reader
	return layout.Config{
		ViewportWidth:  r.Viewport.Width,
		ViewportHeight: r.Viewport.Height,
		MarginLeft:     r.Margins.Left,
		MarginRight:    r.Margins.Right,
		MarginTop:      r.Margins.Top,
		MarginBottom:   r.Margins.Bottom,
		HeaderHeight:   r.Margins.Header,
		FooterHeight:   r.Margins.Footer,
		BaseFontSizePx: r.Typography.BaseFontSize,
		FontFamilies:   r.Typography.FontFamilies,
		RenderIntent:   r.RenderIntent,
		Typography: layout.TypographyConfig{
			FirstLineIndentPx:          r.Typography.FirstLineIndent,
			SuppressIndentAfterHeading: r.Typography.SuppressIndentAfterHdr,
			WidowLines:                 r.Typography.WidowLines,
			OrphanLines:                r.Typography.OrphanLines,
			HangingPunctuation:         r.Typography.HangingPunctuation,
			ParagraphSpacingPx:         r.Typography.ParagraphSpacing,
		},
		ChunkSize: r.ChunkSize,
	}
}

// ZipLimits converts the zip section into archive limits.
func (c *Config) ZipLimits() archive.Limits {
	return archive.Limits{
		MaxUncompressedBytes: c.Reader.Zip.MaxUncompressedBytes,
		MaxEntries:           c.Reader.Zip.MaxEntries,
	}
}

func unmarshalConfig(data []byte, cfg *Config, process bool) (*Config, error) {
	// We want to use only fields we defined so we cannot use yaml.Unmarshal
	// directly here
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration data: %w", err)
	}
	if process {
		// sanitize and validate what has been loaded
		if err := gencfg.Sanitize(cfg); err != nil {
			return nil, err
		}
		if err := gencfg.Validate(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// LoadConfiguration reads the configuration from the file at the given path,
// superimposes its values on top of the expanded configuration template to
// provide sane defaults and performs validation.
func LoadConfiguration(path string, options ...func(*gencfg.ProcessingOptions)) (*Config, error) {
	haveFile := len(path) > 0

	data, err := gencfg.Process(ConfigTmpl, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	cfg, err := unmarshalConfig(data, &Config{}, !haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	if !haveFile {
		return cfg, nil
	}

	// overwrite cfg values with values from the file
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err = unmarshalConfig(data, cfg, haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration file: %w", err)
	}
	return cfg, nil
}

// Prepare generates a configuration file from the template and returns it
// as a byte slice.
func Prepare() ([]byte, error) {
	return gencfg.Process(ConfigTmpl)
}

// Dump serializes the active configuration.
func Dump(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(*cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to yaml: %v", err)
	}
	return data, nil
}
