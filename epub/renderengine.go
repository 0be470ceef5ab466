package epub

import (
	"errors"

	"go.uber.org/zap"

	"muepub/css"
	"muepub/layout"
	"muepub/render"
)

// RenderEngine paginates chapters of one book under a fixed layout
// configuration. Each prepare call runs the full pipeline for one chapter:
// tokenize, cascade, font resolution, line breaking, page emission.
//
// Per chapter the engine moves Idle -> Preparing -> Emitting -> Done, or to
// Cancelled / Failed; no pages are delivered after a terminal state.
type RenderEngine struct {
	book     *Book
	cfg      layout.Config
	metrics  layout.Metrics
	resolver *render.FontResolver
	trace    render.TraceSink
	log      *zap.Logger

	cssParser *css.Parser
	lastState layout.State
	profile   layout.ProfileID
}

// RenderOption customizes a RenderEngine.
type RenderOption func(*RenderEngine)

// WithMetrics installs a font metrics provider.
func WithMetrics(m layout.Metrics) RenderOption {
	return func(e *RenderEngine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithFontPolicy replaces the resolver policy.
func WithFontPolicy(p render.FontPolicy) RenderOption {
	return func(e *RenderEngine) {
		e.resolver = render.NewFontResolver(p, e.log)
	}
}

// WithRenderTrace installs a diagnostic trace sink.
func WithRenderTrace(sink render.TraceSink) RenderOption {
	return func(e *RenderEngine) {
		if sink != nil {
			e.trace = sink
		}
	}
}

// NewRenderEngine builds a render engine and registers the book's embedded
// fonts with the resolver, honoring the policy caps.
func NewRenderEngine(book *Book, cfg layout.Config, opts ...RenderOption) *RenderEngine {
	log := book.opts.Log
	e := &RenderEngine{
		book:      book,
		cfg:       cfg,
		metrics:   layout.CellMetrics{},
		trace:     render.NopTrace{},
		log:       log.Named("render-engine"),
		cssParser: css.NewParser(log),
		profile:   cfg.ProfileID(),
	}
	policy := render.SerifPolicy()
	if len(cfg.FontFamilies) > 0 {
		policy.PreferredFamilies = cfg.FontFamilies
		policy.DefaultFamily = cfg.FontFamilies[0]
	}
	e.resolver = render.NewFontResolver(policy, log)
	for _, opt := range opts {
		opt(e)
	}
	e.registerEmbeddedFonts()
	return e
}

func (e *RenderEngine) registerEmbeddedFonts() {
	for _, face := range e.book.EmbeddedFonts() {
		data, err := e.book.ReadResource(face.Href)
		if err != nil {
			e.log.Warn("Embedded font unreadable, skipping",
				zap.String("href", face.Href), zap.Error(err))
			continue
		}
		if _, err := e.resolver.RegisterFace(face.Family, face.Weight, face.Italic, true, face.Href, data); err != nil {
			e.log.Warn("Embedded font rejected",
				zap.String("href", face.Href), zap.Error(err))
		}
	}
}

// PaginationProfileID returns the 32-byte layout profile. Callers persist
// it next to reading positions to detect stale page references.
func (e *RenderEngine) PaginationProfileID() layout.ProfileID { return e.profile }

// State returns the state the most recent chapter pass ended in.
func (e *RenderEngine) State() layout.State { return e.lastState }

// PrepareChapter paginates a chapter and returns the owned page list.
func (e *RenderEngine) PrepareChapter(index int) ([]layout.Page, error) {
	var pages []layout.Page
	err := e.PrepareChapterWith(index, func(p *layout.Page) error {
		pages = append(pages, *p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pages, nil
}

// PrepareChapterWith paginates a chapter, streaming pages to onPage in
// strict ascending chapter page order.
func (e *RenderEngine) PrepareChapterWith(index int, onPage func(*layout.Page) error) error {
	return e.PrepareChapterWithCancel(index, nil, onPage)
}

// PrepareChapterWithCancel is PrepareChapterWith with a cancel token. On
// cancellation the call returns a Cancelled error; pages already delivered
// remain valid and no partial page is emitted.
func (e *RenderEngine) PrepareChapterWithCancel(index int, tok *render.CancelToken, onPage func(*layout.Page) error) error {
	engine := layout.NewEngine(e.cfg, e.metrics, e.book.opts.Log)
	engine.SetCancelToken(tok)
	e.lastState = engine.State()

	html, err := e.book.ChapterHTML(index)
	if err != nil {
		e.lastState = layout.StateFailed
		return err
	}
	chapterBytes := len(html)

	sheets, err := e.book.ChapterStylesheets(index)
	if err != nil {
		e.lastState = layout.StateFailed
		return err
	}
	parsed := make([]*css.Stylesheet, 0, len(sheets))
	for _, src := range sheets {
		parsed = append(parsed, e.cssParser.Parse(src.CSS, src.Href))
	}
	family := ""
	if len(e.cfg.FontFamilies) > 0 {
		family = e.cfg.FontFamilies[0]
	}
	cascade := css.NewCascade(cascadeDefaults(e.cfg.BaseFontSizePx, family), parsed...)
	prep := render.NewPrep(cascade, e.resolver,
		render.WithTrace(e.trace), render.WithLogger(e.book.opts.Log))

	engine.SetChapterContext(index, e.book.ChapterCount(), chapterBytes, e.book.chapterTitle(index))
	// Stylesheet and navigation reads went through the shared chapter
	// buffer; fetch the chapter alias again for the styling pass.
	html, err = e.book.ChapterHTML(index)
	if err != nil {
		e.lastState = layout.StateFailed
		return err
	}

	err = prep.PrepareChapterWithCancel(html, tok, func(item render.Item) error {
		err := engine.PushItemWithPages(item, onPage)
		e.lastState = engine.State()
		return err
	})
	if err != nil {
		e.lastState = engine.State()
		if errors.Is(err, render.ErrCancelled) {
			e.lastState = layout.StateCancelled
			return &Error{Kind: KindCancelled, Err: err}
		}
		if e.lastState != layout.StateFailed && e.lastState != layout.StateCancelled {
			e.lastState = layout.StateFailed
		}
		return wrapErr(err, "")
	}
	if err := engine.Finish(onPage); err != nil {
		e.lastState = engine.State()
		if errors.Is(err, render.ErrCancelled) {
			return &Error{Kind: KindCancelled, Err: err}
		}
		return wrapErr(err, "")
	}
	e.lastState = engine.State()
	return nil
}
