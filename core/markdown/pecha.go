package markdown

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/FocuswithJustin/PechaStam/core/errors"
	"github.com/FocuswithJustin/PechaStam/core/pecha"
	"github.com/FocuswithJustin/PechaStam/internal/logging"
	"github.com/FocuswithJustin/PechaStam/internal/validation"
)

// Injectable for testing.
var writeFile = os.WriteFile

// PechaFormatter renders every volume of a pecha.
type PechaFormatter struct {
	pecha *pecha.Pecha
	opts  Options
}

// NewPechaFormatter returns a formatter for p.
func NewPechaFormatter(p *pecha.Pecha, opts Options) *PechaFormatter {
	return &PechaFormatter{pecha: p, opts: opts}
}

// Volume renders one volume.
func (f *PechaFormatter) Volume(volume string) (string, error) {
	base, err := f.pecha.BaseText(volume)
	if err != nil {
		return "", err
	}
	records, err := f.pecha.Records(volume)
	if err != nil {
		return "", err
	}
	out := NormalizeHeadings(f.opts.Project(base, GroupByType(records)))
	if f.opts.FrontMatter {
		fm, err := frontMatter(map[string]string{"pecha_id": f.pecha.ID(), "volume": volume})
		if err != nil {
			return "", err
		}
		out = fm + out
	}
	return out, nil
}

// Serialize writes {pecha_id}_{volume}.md for every volume into outDir
// and returns the written paths.
func (f *PechaFormatter) Serialize(outDir string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, errors.NewIO("create directory", outDir, err)
	}
	var paths []string
	for _, volume := range f.pecha.Volumes() {
		start := time.Now()
		text, err := f.Volume(volume)
		if err != nil {
			return paths, errors.Wrapf(err, "render %s volume %s", f.pecha.ID(), volume)
		}
		path, err := outputPath(outDir, f.pecha.ID()+"_"+volume+".md")
		if err != nil {
			return paths, err
		}
		if err := writeFile(path, []byte(text), 0644); err != nil {
			return paths, errors.NewIO("write", path, err)
		}
		logging.RenderEvent(f.pecha.ID(), path, time.Since(start), "volume", volume)
		paths = append(paths, path)
	}
	return paths, nil
}

// outputPath joins dir and name once name is a plain file name.
func outputPath(dir, name string) (string, error) {
	if err := validation.ValidateFilename(name); err != nil {
		return "", &errors.ValidationError{Field: "output file", Value: name, Message: err.Error()}
	}
	return filepath.Join(dir, name), nil
}

// frontMatter renders fields as a YAML front matter block.
func frontMatter(fields any) (string, error) {
	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(fields); err != nil {
		return "", errors.Wrap(err, "encode front matter")
	}
	if err := enc.Close(); err != nil {
		return "", errors.Wrap(err, "encode front matter")
	}
	buf.WriteString("---\n")
	return buf.String(), nil
}
