package markdown

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/FocuswithJustin/PechaStam/core/alignment"
	"github.com/FocuswithJustin/PechaStam/core/errors"
	"github.com/FocuswithJustin/PechaStam/internal/logging"
)

// metaDocument is implemented by source documents that carry metadata.
type metaDocument interface {
	Meta() (map[string]any, error)
}

// AlignmentFormatter renders one file per alignment source.
type AlignmentFormatter struct {
	alignment *alignment.Alignment
	opts      Options
}

// NewAlignmentFormatter returns a formatter for a.
func NewAlignmentFormatter(a *alignment.Alignment, opts Options) *AlignmentFormatter {
	return &AlignmentFormatter{alignment: a, opts: opts}
}

// Render returns the content per source id. Every pair adds one segment
// heading to every source, empty for sources the pair lacks.
func (f *AlignmentFormatter) Render() (map[string]string, error) {
	sources := f.alignment.Sources()
	bufs := make(map[string]*strings.Builder, len(sources))
	for _, s := range sources {
		b := &strings.Builder{}
		if f.opts.FrontMatter {
			fm, err := frontMatter(map[string]string{
				"alignment_id": f.alignment.ID(),
				"source_id":    s.ID,
				"lang":         s.Source.Lang,
				"relation":     s.Source.Relation,
			})
			if err != nil {
				return nil, err
			}
			b.WriteString(fm)
		}
		if f.opts.SourceHeader {
			header, err := f.sourceHeader(s.ID)
			if err != nil {
				return nil, err
			}
			b.WriteString(header)
		}
		bufs[s.ID] = b
	}

	marker := f.opts.NewlineMarker
	end := marker + "\n\n"
	last := f.alignment.Len() - 1
	i := 0
	pairs := f.alignment.Pairs()
	for _, segs := range pairs.All() {
		segEnd := end
		if i == last {
			segEnd = ""
		}
		seen := make(map[string]bool, len(segs))
		for _, seg := range segs {
			b, ok := bufs[seg.SourceID]
			if !ok {
				continue
			}
			seen[seg.SourceID] = true
			b.WriteString(segmentHeading)
			b.WriteString(strings.ReplaceAll(seg.Text, "\n", marker))
			b.WriteString(segEnd)
		}
		for _, s := range sources {
			if !seen[s.ID] {
				bufs[s.ID].WriteString(segmentHeading + segEnd)
			}
		}
		i++
	}
	if err := pairs.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(bufs))
	for id, b := range bufs {
		out[id] = b.String()
	}
	return out, nil
}

// sourceHeader returns "source : <meta.source>\n\n" when the source
// document has metadata with a source.
func (f *AlignmentFormatter) sourceHeader(sourceID string) (string, error) {
	doc, err := f.alignment.Document(sourceID)
	if err != nil {
		return "", err
	}
	md, ok := doc.(metaDocument)
	if !ok {
		return "", nil
	}
	meta, err := md.Meta()
	if err != nil {
		return "", err
	}
	src, ok := meta["source"]
	if !ok || src == nil {
		return "", nil
	}
	return fmt.Sprintf("source : %v\n\n", src), nil
}

// Serialize writes {source_id}_{lang}.md per source into outDir in declared
// source order and returns the written paths.
func (f *AlignmentFormatter) Serialize(outDir string) ([]string, error) {
	start := time.Now()
	content, err := f.Render()
	if err != nil {
		return nil, errors.Wrapf(err, "render alignment %s", f.alignment.ID())
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, errors.NewIO("create directory", outDir, err)
	}
	var paths []string
	for _, s := range f.alignment.Sources() {
		path, err := outputPath(outDir, s.ID+"_"+s.Source.Lang+".md")
		if err != nil {
			return paths, err
		}
		if err := writeFile(path, []byte(content[s.ID]), 0644); err != nil {
			return paths, errors.NewIO("write", path, err)
		}
		paths = append(paths, path)
	}
	logging.RenderEvent(f.alignment.ID(), outDir, time.Since(start), "files", len(paths))
	return paths, nil
}
