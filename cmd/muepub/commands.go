package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"muepub/epub"
	"muepub/layout"
	"muepub/state"
)

func openBookArg(ctx context.Context, cmd *cli.Command) (*epub.Book, error) {
	env := state.EnvFromContext(ctx)
	path := cmd.Args().Get(0)
	if path == "" {
		return nil, errors.New("missing EPUB path argument")
	}
	limits := env.Cfg.ZipLimits()
	return epub.Open(path,
		epub.WithLogger(env.Log),
		epub.WithZipLimits(limits),
		epub.WithChunkSize(env.Cfg.Reader.ChunkSize))
}

func emitJSON(ctx context.Context, v any) error {
	env := state.EnvFromContext(ctx)
	enc := json.NewEncoder(os.Stdout)
	if env.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func runMetadata(ctx context.Context, cmd *cli.Command) error {
	b, err := openBookArg(ctx, cmd)
	if err != nil {
		return err
	}
	defer b.Close()

	m := b.Metadata()
	return emitJSON(ctx, map[string]any{
		"title":       m.Title,
		"creator":     m.Creator,
		"language":    m.Language,
		"identifier":  m.Identifier,
		"publisher":   m.Publisher,
		"description": m.Description,
		"date":        m.Date,
		"rights":      m.Rights,
		"subject":     m.Subject,
		"version":     b.Package().Version,
		"chapters":    b.ChapterCount(),
	})
}

type chapterInfo struct {
	Index  int    `json:"index"`
	Idref  string `json:"idref"`
	Href   string `json:"href"`
	Linear bool   `json:"linear"`
}

func runChapters(ctx context.Context, cmd *cli.Command) error {
	b, err := openBookArg(ctx, cmd)
	if err != nil {
		return err
	}
	defer b.Close()

	infos := make([]chapterInfo, 0, b.ChapterCount())
	for i := 0; i < b.ChapterCount(); i++ {
		item, cerr := b.Chapter(i)
		if cerr != nil {
			return cerr
		}
		infos = append(infos, chapterInfo{Index: i, Idref: item.Idref, Href: item.Href, Linear: item.Linear})
	}

	if cmd.Bool("ndjson") {
		enc := json.NewEncoder(os.Stdout)
		for _, info := range infos {
			if err := enc.Encode(info); err != nil {
				return err
			}
		}
		return nil
	}
	return emitJSON(ctx, map[string]any{"chapters": infos})
}

func selectChapter(b *epub.Book, cmd *cli.Command) (int, error) {
	index := int(cmd.Int("index"))
	idref := cmd.String("id")
	switch {
	case index >= 0 && idref != "":
		return 0, errors.New("use only one selector: --index <n> or --id <idref>")
	case idref != "":
		for i := 0; i < b.ChapterCount(); i++ {
			if item, err := b.Chapter(i); err == nil && item.Idref == idref {
				return i, nil
			}
		}
		return 0, fmt.Errorf("no spine entry with idref %q", idref)
	case index >= 0:
		return index, nil
	default:
		return 0, errors.New("chapter selector required: --index <n> or --id <idref>")
	}
}

func runChapterText(ctx context.Context, cmd *cli.Command) error {
	b, err := openBookArg(ctx, cmd)
	if err != nil {
		return err
	}
	defer b.Close()

	index, err := selectChapter(b, cmd)
	if err != nil {
		return err
	}
	text, err := b.ChapterText(index)
	if err != nil {
		return err
	}
	if cmd.Bool("raw") {
		fmt.Println(text)
		return nil
	}
	return emitJSON(ctx, map[string]any{"index": index, "text": text})
}

type tocNode struct {
	Label    string    `json:"label"`
	Href     string    `json:"href,omitempty"`
	Fragment string    `json:"fragment,omitempty"`
	Children []tocNode `json:"children,omitempty"`
}

func buildTocNodes(nav *epub.Navigation, handles []int) []tocNode {
	out := make([]tocNode, 0, len(handles))
	for _, h := range handles {
		entry := nav.Points[h]
		out = append(out, tocNode{
			Label:    entry.Label,
			Href:     entry.Href,
			Fragment: entry.Fragment,
			Children: buildTocNodes(nav, entry.Children),
		})
	}
	return out
}

func runTOC(ctx context.Context, cmd *cli.Command) error {
	b, err := openBookArg(ctx, cmd)
	if err != nil {
		return err
	}
	defer b.Close()

	nav, err := b.Navigation()
	if err != nil {
		return err
	}
	if nav == nil || !nav.HasTOC() {
		return errors.New("book has no usable navigation document")
	}

	if cmd.Bool("flat") {
		type flatEntry struct {
			Depth    int    `json:"depth"`
			Label    string `json:"label"`
			Href     string `json:"href,omitempty"`
			Fragment string `json:"fragment,omitempty"`
		}
		var flat []flatEntry
		for _, pair := range nav.FlatTOC() {
			entry := nav.Points[pair[1]]
			flat = append(flat, flatEntry{Depth: pair[0], Label: entry.Label, Href: entry.Href, Fragment: entry.Fragment})
		}
		return emitJSON(ctx, map[string]any{"toc": flat})
	}
	return emitJSON(ctx, map[string]any{"toc": buildTocNodes(nav, nav.TOC)})
}

func runPaginate(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	b, err := openBookArg(ctx, cmd)
	if err != nil {
		return err
	}
	defer b.Close()

	index, err := selectChapter(b, cmd)
	if err != nil {
		return err
	}

	engine := epub.NewRenderEngine(b, env.Cfg.Layout())
	type pageInfo struct {
		Index    int     `json:"index"`
		Commands int     `json:"commands"`
		Anchors  int     `json:"anchors"`
		Progress float32 `json:"progress_chapter"`
	}
	var infos []pageInfo
	err = engine.PrepareChapterWith(index, func(p *layout.Page) error {
		infos = append(infos, pageInfo{
			Index:    p.Metrics.ChapterPageIndex,
			Commands: len(p.Content),
			Anchors:  len(p.Anchors),
			Progress: p.Metrics.ProgressChapter,
		})
		return nil
	})
	if err != nil {
		return err
	}
	return emitJSON(ctx, map[string]any{
		"chapter": index,
		"profile": engine.PaginationProfileID().String(),
		"pages":   infos,
	})
}

func runValidate(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	path := cmd.Args().Get(0)
	if path == "" {
		return errors.New("missing EPUB path argument")
	}
	strict := cmd.Bool("strict")
	env.Strict = strict

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("unable to open '%s': %w", path, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("unable to stat '%s': %w", path, err)
	}

	rpt := epub.Validate(f, st.Size(), env.Log)

	warnings := 0
	errs := 0
	for _, d := range rpt.Diagnostics {
		if d.Severity == epub.SeverityWarning {
			warnings++
		} else {
			errs++
		}
	}
	out := map[string]any{
		"ok":          rpt.Ok(strict),
		"errors":      errs,
		"warnings":    warnings,
		"diagnostics": rpt.Diagnostics,
	}
	if err := emitJSON(ctx, out); err != nil {
		return err
	}
	if !rpt.Ok(strict) {
		return fmt.Errorf("validation failed with %d problem(s)", rpt.ErrorCount(strict))
	}
	return nil
}
