package opf

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/FocuswithJustin/PechaStam/core/errors"
	"github.com/FocuswithJustin/PechaStam/core/stam"
	"github.com/FocuswithJustin/PechaStam/internal/fileutil"
	"github.com/FocuswithJustin/PechaStam/internal/logging"
	"github.com/FocuswithJustin/PechaStam/internal/workerpool"
)

const (
	layerExt     = ".yml"
	layersDir    = "layers"
	baseTextExt  = ".txt"
	storeFileExt = ".opf.json"
)

// Injectable for testing.
var (
	saveStore = stam.Save
	writeFile = os.WriteFile
)

// Options configures pecha conversion.
type Options struct {
	// Workers bounds concurrent volumes per pecha. 0 uses one per CPU.
	Workers int
	// Group is the data key annotations are typed under.
	Group stam.AnnotationGroup
	// BatchLimit bounds concurrent pechas in ConvertBatch.
	BatchLimit int
}

// DefaultOptions returns the options used by the CLI.
func DefaultOptions() Options {
	return Options{
		Group:      stam.GroupStructureType,
		BatchLimit: 4,
	}
}

// VolumeResult describes the conversion of one volume.
type VolumeResult struct {
	Volume  string
	Path    string // written store file, empty when skipped
	Layers  int    // layers that contributed annotations
	Skipped bool   // no layer had annotations
	Err     error
}

// Result describes the conversion of one pecha.
type Result struct {
	PechaID string
	Root    string // converted pecha directory
	Volumes []VolumeResult
}

// Stores returns the paths of the written store files in volume order.
func (r *Result) Stores() []string {
	var out []string
	for _, v := range r.Volumes {
		if v.Path != "" {
			out = append(out, v.Path)
		}
	}
	return out
}

// volumeJob is the unit handed to the worker pool.
type volumeJob struct {
	volume   string
	outDir   string
	basePath string
	layers   []string
}

// ConvertPecha converts the OpenPecha-Data tree <src>/<id> into
// <dst>/<id>. Layer files under layers/<volume>/ become one store per
// volume, other YAML files become JSON and everything else is copied.
func ConvertPecha(ctx context.Context, src, dst, id string, opts Options) (*Result, error) {
	srcRoot := filepath.Join(src, id)
	if info, err := os.Stat(srcRoot); err != nil || !info.IsDir() {
		return nil, &errors.NotFoundError{Resource: "pecha", ID: srcRoot, Err: errors.ErrNotFound}
	}
	dstRoot := filepath.Join(dst, id)
	ctx = logging.WithPechaID(ctx, id)
	if opts.Group == "" {
		opts.Group = stam.GroupStructureType
	}

	logging.ConversionEvent(id, "", "copy", "src", srcRoot, "dst", dstRoot)
	if err := fileutil.CopyTree(srcRoot, dstRoot, skipYAML); err != nil {
		return nil, errors.NewIO("copy", srcRoot, err)
	}

	volumes := make(map[string]*volumeJob)
	err := filepath.WalkDir(srcRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if fileutil.SkipGit(path, d) {
			return filepath.SkipDir
		}
		if d.IsDir() || filepath.Ext(path) != layerExt {
			return nil
		}
		rel, err := filepath.Rel(srcRoot, path)
		if err != nil {
			return err
		}
		if vol, ok := layerVolume(rel); ok {
			logging.DebugContext(ctx, "layer found", "volume", vol, "layer", rel)
			job := volumes[vol]
			if job == nil {
				job = &volumeJob{volume: vol, outDir: filepath.Join(dstRoot, filepath.Dir(rel))}
				volumes[vol] = job
			}
			job.layers = append(job.layers, path)
			return nil
		}
		return convertYAMLFile(path, filepath.Join(dstRoot, strings.TrimSuffix(rel, layerExt)+".json"))
	})
	if err != nil {
		return nil, errors.Wrapf(err, "pecha %s", id)
	}

	bases, err := baseTexts(dstRoot)
	if err != nil {
		return nil, errors.Wrapf(err, "pecha %s", id)
	}

	jobs := make([]*volumeJob, 0, len(volumes))
	for _, job := range volumes {
		job.basePath = bases[job.volume]
		slices.Sort(job.layers)
		jobs = append(jobs, job)
	}
	slices.SortFunc(jobs, func(a, b *volumeJob) int { return strings.Compare(a.volume, b.volume) })

	result := &Result{PechaID: id, Root: dstRoot}
	result.Volumes = workerpool.Map(ctx, opts.Workers, jobs, func(ctx context.Context, job *volumeJob) VolumeResult {
		return convertVolumeJob(ctx, id, dstRoot, job, opts.Group)
	})

	var first error
	for _, v := range result.Volumes {
		if v.Err != nil {
			logging.ErrorContext(ctx, "volume conversion failed", "volume", v.Volume, "error", v.Err)
			if first == nil {
				first = errors.Wrapf(v.Err, "pecha %s volume %s", id, v.Volume)
			}
		}
	}
	if first == nil {
		logging.InfoContext(ctx, "pecha converted", "volumes", len(result.Volumes))
	}
	return result, first
}

func convertVolumeJob(ctx context.Context, pechaID, dstRoot string, job *volumeJob, group stam.AnnotationGroup) VolumeResult {
	res := VolumeResult{Volume: job.volume}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	if job.basePath == "" {
		res.Err = errors.NewNotFound("base text", job.volume+baseTextExt)
		return res
	}

	start := time.Now()
	resourceID := filepath.Base(job.basePath)
	stores := make([]*stam.Store, 0, len(job.layers))
	for _, path := range job.layers {
		layer, err := LoadLayer(path)
		if err != nil {
			res.Err = err
			return res
		}
		if len(layer.Annotations) == 0 {
			logging.ConversionEvent(pechaID, job.volume, "skip empty layer", "layer", filepath.Base(path))
			continue
		}
		s, err := LayerStore(layer, resourceID, job.basePath, group)
		if err != nil {
			res.Err = errors.Wrapf(err, "layer %s", filepath.Base(path))
			return res
		}
		stores = append(stores, s)
	}
	if len(stores) == 0 {
		logging.WarnContext(ctx, "volume has no annotated layers", "volume", job.volume)
		res.Skipped = true
		return res
	}

	store, err := ConvertVolume(job.volume, stores)
	if err != nil {
		res.Err = err
		return res
	}
	out := filepath.Join(job.outDir, job.volume+storeFileExt)
	if err := saveStore(store, out, dstRoot); err != nil {
		res.Err = err
		return res
	}
	res.Path = out
	res.Layers = len(stores)
	logging.ConversionEvent(pechaID, job.volume, "saved",
		"path", out,
		"layers", len(stores),
		"annotations", store.Len(),
		"duration", time.Since(start))
	return res
}

// layerVolume reports whether rel is a layer file (layers/<volume>/<type>.yml)
// and returns its volume.
func layerVolume(rel string) (string, bool) {
	dir := filepath.Dir(rel)
	if filepath.Base(filepath.Dir(dir)) != layersDir {
		return "", false
	}
	return filepath.Base(dir), true
}

// baseTexts maps volume names to the first <volume>.txt found under root.
func baseTexts(root string) (map[string]string, error) {
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != baseTextExt {
			return nil
		}
		vol := strings.TrimSuffix(d.Name(), baseTextExt)
		if _, ok := out[vol]; !ok {
			out[vol] = path
		}
		return nil
	})
	return out, err
}

func skipYAML(rel string, d fs.DirEntry) bool {
	return fileutil.SkipGit(rel, d) || (!d.IsDir() && filepath.Ext(rel) == layerExt)
}

func convertYAMLFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return errors.NewIO("read", src, err)
	}
	out, err := YAMLToJSON(data)
	if err != nil {
		var pe *errors.ParseError
		if errors.As(err, &pe) {
			pe.Path = src
		}
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.NewIO("create directory", filepath.Dir(dst), err)
	}
	if err := writeFile(dst, out, 0644); err != nil {
		return errors.NewIO("write", dst, err)
	}
	return nil
}

// ConvertAlignment converts the alignment tree <src>/<id> into <dst>/<id>.
// meta.yml becomes meta.json, any other YAML file inside the .opa
// directory becomes alignment.json, other files are copied.
func ConvertAlignment(src, dst, id string) error {
	srcRoot := filepath.Join(src, id)
	if info, err := os.Stat(srcRoot); err != nil || !info.IsDir() {
		return &errors.NotFoundError{Resource: "alignment", ID: srcRoot, Err: errors.ErrNotFound}
	}
	dstRoot := filepath.Join(dst, id)
	if err := fileutil.CopyTree(srcRoot, dstRoot, skipYAML); err != nil {
		return errors.NewIO("copy", srcRoot, err)
	}

	return filepath.WalkDir(srcRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if fileutil.SkipGit(path, d) {
			return filepath.SkipDir
		}
		if d.IsDir() || filepath.Ext(path) != layerExt {
			return nil
		}
		rel, err := filepath.Rel(srcRoot, path)
		if err != nil {
			return err
		}
		dir := filepath.Dir(rel)
		name := strings.TrimSuffix(d.Name(), layerExt) + ".json"
		if d.Name() != "meta.yml" && strings.HasSuffix(dir, ".opa") {
			name = "alignment.json"
		}
		logging.ConversionEvent(id, "", "convert yaml", "file", rel)
		return convertYAMLFile(path, filepath.Join(dstRoot, dir, name))
	})
}

// BatchReport lists the outcome of ConvertBatch.
type BatchReport struct {
	Converted []*Result
	Failed    map[string]error
}

// ConvertBatch converts several pechas concurrently. A failing pecha is
// logged and reported; the others continue.
func ConvertBatch(ctx context.Context, src, dst string, ids []string, opts Options) (*BatchReport, error) {
	report := &BatchReport{Failed: make(map[string]error)}
	results := make([]*Result, len(ids))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	limit := opts.BatchLimit
	if limit <= 0 {
		limit = DefaultOptions().BatchLimit
	}
	g.SetLimit(limit)

	for i, id := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := ConvertPecha(ctx, src, dst, id, opts)
			if err != nil {
				logging.ConversionError(id, "convert pecha", err)
				mu.Lock()
				report.Failed[id] = err
				mu.Unlock()
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	for _, res := range results {
		if res != nil {
			report.Converted = append(report.Converted, res)
		}
	}
	return report, nil
}
