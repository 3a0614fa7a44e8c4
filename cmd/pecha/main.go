// Command pecha converts, merges, queries, renders and bundles pecha
// annotation stores.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"

	"github.com/FocuswithJustin/PechaStam/core/alignment"
	"github.com/FocuswithJustin/PechaStam/core/bundle"
	"github.com/FocuswithJustin/PechaStam/core/cache"
	"github.com/FocuswithJustin/PechaStam/core/errors"
	"github.com/FocuswithJustin/PechaStam/core/index"
	"github.com/FocuswithJustin/PechaStam/core/markdown"
	"github.com/FocuswithJustin/PechaStam/core/opf"
	"github.com/FocuswithJustin/PechaStam/core/pecha"
	"github.com/FocuswithJustin/PechaStam/core/query"
	"github.com/FocuswithJustin/PechaStam/core/sqlite"
	"github.com/FocuswithJustin/PechaStam/core/stam"
	"github.com/FocuswithJustin/PechaStam/internal/logging"
	"github.com/FocuswithJustin/PechaStam/internal/validation"
)

const version = "0.1.0"

// stdout receives command output; logs go to stderr.
var stdout io.Writer = os.Stdout

// CLI defines the command-line interface for pecha.
var CLI struct {
	// Global flags
	LogLevel  string          `name:"log-level" default:"info" enum:"debug,info,warn,error" env:"PECHA_LOG_LEVEL" help:"Log level"`
	LogFormat string          `name:"log-format" default:"text" enum:"text,json" env:"PECHA_LOG_FORMAT" help:"Log format"`
	Config    kong.ConfigFlag `help:"Load flag defaults from a JSON file"`

	// Command groups
	Convert     ConvertCmd     `cmd:"" help:"Convert legacy layer trees into annotation stores"`
	Merge       MergeCmd       `cmd:"" help:"Merge annotation stores into one"`
	Annotations AnnotationsCmd `cmd:"" help:"List the annotations of a store matching a filter"`
	Render      RenderGroup    `cmd:"" help:"Render Markdown"`
	Inspect     InspectCmd     `cmd:"" help:"Summarise a rendered Markdown file"`
	Index       IndexGroup     `cmd:"" help:"SQLite annotation index"`
	Bundle      BundleGroup    `cmd:"" help:"Pack and unpack pecha bundles"`
	Version     VersionCmd     `cmd:"" help:"Print version information"`
}

// RenderGroup contains the Markdown renderers.
type RenderGroup struct {
	Pecha     RenderPechaCmd     `cmd:"" help:"Render every volume of a pecha"`
	Alignment RenderAlignmentCmd `cmd:"" help:"Render one file per alignment source"`
}

// IndexGroup contains index operations.
type IndexGroup struct {
	Build IndexBuildCmd `cmd:"" help:"Export pecha stores into an index"`
	Find  IndexFindCmd  `cmd:"" help:"Find annotations by data key and value"`
}

// BundleGroup contains bundle operations.
type BundleGroup struct {
	Pack   BundlePackCmd   `cmd:"" help:"Pack a directory into a bundle"`
	Unpack BundleUnpackCmd `cmd:"" help:"Unpack a bundle"`
	Verify BundleVerifyCmd `cmd:"" help:"Check a bundle against its manifest"`
}

// SourceFlags locate converted documents.
type SourceFlags struct {
	Root    string        `required:"" env:"PECHA_ROOT" type:"path" help:"Directory holding converted documents"`
	Org     string        `default:"PechaData" env:"PECHA_ORG" help:"Organisation to fetch missing documents from"`
	Fetch   bool          `help:"Clone documents missing under --root"`
	GitURL  string        `name:"git-url" default:"https://github.com" env:"PECHA_GIT_URL" help:"Git host to clone from"`
	Token   string        `env:"PECHA_GIT_TOKEN" help:"Access token for private repositories"`
	Timeout time.Duration `default:"2m" help:"Clone timeout"`
}

func (f *SourceFlags) fetcher() pecha.Fetcher {
	if !f.Fetch {
		return nil
	}
	return pecha.GitFetcher{BaseURL: f.GitURL, Token: f.Token, Dest: f.Root, Timeout: f.Timeout}
}

// MarkdownFlags configure the projector.
type MarkdownFlags struct {
	Out         string `required:"" type:"path" help:"Output directory"`
	Newline     string `default:"<br>" help:"Marker replacing newlines inside segments"`
	FrontMatter bool   `name:"front-matter" help:"Prepend YAML front matter"`
}

func (f *MarkdownFlags) options() markdown.Options {
	opts := markdown.DefaultOptions()
	opts.NewlineMarker = f.Newline
	opts.FrontMatter = f.FrontMatter
	return opts
}

// ConvertCmd converts pechas or alignments.
type ConvertCmd struct {
	Src       string   `arg:"" type:"existingdir" help:"Directory holding the legacy documents"`
	IDs       []string `arg:"" name:"id" help:"Document ids to convert"`
	Out       string   `required:"" type:"path" help:"Output directory"`
	Workers   int      `default:"0" help:"Concurrent volumes per pecha (0 = one per CPU)"`
	Parallel  int      `default:"4" help:"Concurrent pechas"`
	Group     string   `default:"Structure Type" help:"Data key annotation types are stored under"`
	Alignment bool     `help:"Convert alignment trees instead of pechas"`
}

func (c *ConvertCmd) Run(ctx context.Context) error {
	for _, id := range c.IDs {
		if err := validation.ValidateID(id); err != nil {
			return err
		}
	}
	if c.Alignment {
		for _, id := range c.IDs {
			if err := opf.ConvertAlignment(c.Src, c.Out, id); err != nil {
				return errors.Wrapf(err, "alignment %s", id)
			}
			fmt.Fprintf(stdout, "%s\n", filepath.Join(c.Out, id))
		}
		return nil
	}

	group, err := stam.ParseAnnotationGroup(c.Group)
	if err != nil {
		return err
	}
	opts := opf.Options{Workers: c.Workers, Group: group, BatchLimit: c.Parallel}
	report, err := opf.ConvertBatch(ctx, c.Src, c.Out, c.IDs, opts)
	if err != nil {
		return err
	}
	for _, res := range report.Converted {
		for _, v := range res.Volumes {
			if v.Skipped {
				fmt.Fprintf(stdout, "  [SKIP] %s/%s: no annotations\n", res.PechaID, v.Volume)
				continue
			}
			fmt.Fprintf(stdout, "  [OK] %s/%s: %d layers -> %s\n", res.PechaID, v.Volume, v.Layers, v.Path)
		}
	}
	for id, ferr := range report.Failed {
		fmt.Fprintf(stdout, "  [FAIL] %s: %v\n", id, ferr)
	}
	if len(report.Failed) > 0 {
		return fmt.Errorf("conversion failed for %d of %d pecha(s)", len(report.Failed), len(c.IDs))
	}
	return nil
}

// MergeCmd combines stores.
type MergeCmd struct {
	Stores  []string `arg:"" type:"existingfile" help:"Store files to merge, in order"`
	Out     string   `required:"" type:"path" help:"Output store (.json)"`
	BaseDir string   `name:"base-dir" type:"path" help:"Directory resource includes are relative to"`
}

func (c *MergeCmd) Run() error {
	stores := make([]*stam.Store, 0, len(c.Stores))
	for _, path := range c.Stores {
		s, err := stam.Load(path, c.BaseDir)
		if err != nil {
			return err
		}
		stores = append(stores, s)
	}
	merged, err := stam.Combine(stores...)
	if err != nil {
		return err
	}
	if err := stam.Save(merged, c.Out, c.BaseDir); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "merged %d stores (%d annotations) into %s\n", len(stores), merged.Len(), c.Out)
	return nil
}

// AnnotationsCmd lists annotations.
type AnnotationsCmd struct {
	Store   string `arg:"" type:"existingfile" help:"Store file"`
	Filter  string `arg:"" optional:"" help:"Filter expression, e.g. 'type = Author and imgnum = 4'"`
	BaseDir string `name:"base-dir" type:"path" help:"Directory resource includes are relative to"`
	JSON    bool   `help:"Output JSON lines"`
}

func (c *AnnotationsCmd) Run() error {
	s, err := stam.Load(c.Store, c.BaseDir)
	if err != nil {
		return err
	}
	seq := s.Annotations()
	if c.Filter != "" {
		q, err := query.Parse(c.Filter)
		if err != nil {
			return err
		}
		seq = query.Select(s, q)
	}

	enc := json.NewEncoder(stdout)
	enc.SetEscapeHTML(false)
	n := 0
	for a := range seq {
		if a.IsMeta() {
			continue
		}
		rec, err := pecha.NewRecord(s, a)
		if err != nil {
			return err
		}
		n++
		if c.JSON {
			if err := enc.Encode(rec); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(stdout, "%s\t%s\t%s\t%q\n", rec.ID, rec.Type, rec.Span, rec.Text)
	}
	logging.Debug("annotations listed", "store", c.Store, "matches", n)
	return nil
}

// RenderPechaCmd renders a pecha.
type RenderPechaCmd struct {
	ID string `arg:"" help:"Pecha id"`
	SourceFlags
	MarkdownFlags
}

func (c *RenderPechaCmd) Run(ctx context.Context) error {
	p, err := pecha.FromID(ctx, c.ID, c.Root, c.Org, c.fetcher())
	if err != nil {
		return err
	}
	paths, err := markdown.NewPechaFormatter(p, c.options()).Serialize(c.Out)
	for _, path := range paths {
		fmt.Fprintln(stdout, path)
	}
	return err
}

// RenderAlignmentCmd renders alignments. Source documents are shared
// between the alignments of one run.
type RenderAlignmentCmd struct {
	IDs            []string `arg:"" name:"id" help:"Alignment ids"`
	Strict         bool     `help:"Fail on segment pairs missing a declared source"`
	NoSourceHeader bool     `name:"no-source-header" help:"Omit the source line taken from each document's metadata"`
	SourceFlags
	MarkdownFlags
}

func (c *RenderAlignmentCmd) Run() error {
	dirs := alignment.DirResolver{Root: c.Root, Org: c.Org, Fetcher: c.fetcher()}
	resolver := alignment.NewCachingResolver(dirs, cache.DefaultConfig())
	opts := c.options()
	opts.SourceHeader = !c.NoSourceHeader

	for _, id := range c.IDs {
		a, err := alignment.Open(c.Root, id, resolver, alignment.Options{Strict: c.Strict})
		if err != nil {
			return err
		}
		paths, err := markdown.NewAlignmentFormatter(a, opts).Serialize(filepath.Join(c.Out, id))
		for _, path := range paths {
			fmt.Fprintln(stdout, path)
		}
		if err != nil {
			return err
		}
	}
	s := resolver.Stats()
	logging.Debug("alignment documents", "loaded", s.Loads, "reused", s.Hits)
	return nil
}

// InspectCmd summarises a Markdown file.
type InspectCmd struct {
	File string `arg:"" type:"existingfile" help:"Markdown file"`
	HTML bool   `help:"Print the file rendered as HTML instead"`
}

func (c *InspectCmd) Run() error {
	data, err := os.ReadFile(c.File)
	if err != nil {
		return errors.NewIO("read", c.File, err)
	}
	if c.HTML {
		out, err := markdown.RenderHTML(data)
		if err != nil {
			return err
		}
		_, err = stdout.Write(out)
		return err
	}
	in, err := markdown.Inspect(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "File: %s\n", c.File)
	for k, v := range in.FrontMatter {
		fmt.Fprintf(stdout, "  %s: %v\n", k, v)
	}
	fmt.Fprintf(stdout, "  Headings: %d\n", len(in.Headings))
	fmt.Fprintf(stdout, "  Segments: %d\n", in.Segments())
	return nil
}

// IndexBuildCmd exports pechas into an index.
type IndexBuildCmd struct {
	DB   string   `required:"" type:"path" env:"PECHA_INDEX" help:"Index database"`
	IDs  []string `arg:"" name:"id" help:"Pecha ids"`
	Root string   `required:"" env:"PECHA_ROOT" type:"path" help:"Directory holding converted pechas"`
}

func (c *IndexBuildCmd) Run(ctx context.Context) error {
	ix, err := index.Create(ctx, c.DB)
	if err != nil {
		return err
	}
	defer ix.Close()

	for _, id := range c.IDs {
		p, err := pecha.Open(id, filepath.Join(c.Root, id))
		if err != nil {
			return err
		}
		for _, vol := range p.Volumes() {
			s, err := p.Store(vol)
			if err != nil {
				return err
			}
			if err := ix.AddStore(ctx, id+"/"+vol, s); err != nil {
				return err
			}
		}
	}
	n, err := ix.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: %d annotations\n", c.DB, n)
	return nil
}

// IndexFindCmd queries an index.
type IndexFindCmd struct {
	DB    string `required:"" type:"existingfile" env:"PECHA_INDEX" help:"Index database"`
	Key   string `arg:"" help:"Data key"`
	Value string `arg:"" optional:"" help:"Data value (any when omitted)"`
	JSON  bool   `help:"Output JSON lines"`
}

func (c *IndexFindCmd) Run(ctx context.Context) error {
	ix, err := index.Open(c.DB)
	if err != nil {
		return err
	}
	defer ix.Close()

	hits, err := ix.Find(ctx, c.Key, c.Value)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	for _, h := range hits {
		if c.JSON {
			if err := enc.Encode(h); err != nil {
				return err
			}
			continue
		}
		target := h.ResourceID + " " + h.Span.String()
		if h.IsMeta() {
			target = "-> " + h.Target
		}
		fmt.Fprintf(stdout, "%s\t%s\t%s\t%s=%s\n", h.Store, h.AnnotationID, target, h.Key, h.Value)
	}
	return nil
}

// BundlePackCmd packs a directory.
type BundlePackCmd struct {
	Src string `arg:"" type:"existingdir" help:"Directory to pack"`
	Out string `arg:"" type:"path" help:"Bundle path (.tar.xz, .tar.zst, .tar.gz or .tar)"`
}

func (c *BundlePackCmd) Run() error {
	m, err := bundle.Pack(c.Src, c.Out)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: %d files\n", c.Out, len(m.Files))
	return nil
}

// BundleUnpackCmd unpacks a bundle.
type BundleUnpackCmd struct {
	Src string `arg:"" type:"existingfile" help:"Bundle path"`
	Dir string `arg:"" type:"path" help:"Destination directory"`
}

func (c *BundleUnpackCmd) Run() error {
	m, err := bundle.Unpack(c.Src, c.Dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: %d files\n", c.Dir, len(m.Files))
	return nil
}

// BundleVerifyCmd verifies a bundle.
type BundleVerifyCmd struct {
	Src  string `arg:"" type:"existingfile" help:"Bundle path"`
	JSON bool   `help:"Output as JSON"`
}

func (c *BundleVerifyCmd) Run() error {
	rep, err := bundle.Verify(c.Src)
	if err != nil {
		return err
	}
	if c.JSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(stdout, "Bundle: %s\n", c.Src)
		fmt.Fprintf(stdout, "  Files: %d\n", len(rep.Manifest.Files))
		for _, m := range rep.Mismatches {
			fmt.Fprintf(stdout, "  [FAIL] %s: %s\n", m.Path, m.Reason)
		}
	}
	if !rep.OK() {
		return fmt.Errorf("verification failed: %d error(s)", len(rep.Mismatches))
	}
	if !c.JSON {
		fmt.Fprintln(stdout, "Verification passed!")
	}
	return nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	info := sqlite.GetInfo()
	fmt.Fprintf(stdout, "pecha version %s (sqlite: %s, %s)\n", version, info.DriverType, info.Package)
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	kctx := kong.Parse(&CLI,
		kong.Name("pecha"),
		kong.Description("Pecha annotation stores - convert, merge, render and bundle"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Configuration(kong.JSON, "/etc/pecha/config.json", "~/.config/pecha/config.json"),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	logging.InitLogger(logging.ParseLevel(CLI.LogLevel), logging.ParseFormat(CLI.LogFormat))
	err := kctx.Run()
	if err != nil {
		logging.Error("command failed", "command", kctx.Command(), "error", err)
	}
	kctx.FatalIfErrorf(err)
}
