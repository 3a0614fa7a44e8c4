package opf

import (
	"github.com/FocuswithJustin/PechaStam/core/errors"
	"github.com/FocuswithJustin/PechaStam/core/stam"
)

// LayerStore builds the store for one layer. The base text at basePath is
// registered as resourceID, the layer id names the data set keyed by group,
// and every annotation gets its own data entry. Payload fields are carried
// by one meta-annotation per annotation.
func LayerStore(layer *Layer, resourceID, basePath string, group stam.AnnotationGroup) (*stam.Store, error) {
	if layer == nil {
		return nil, errors.NewValidation("layer", "layer must not be nil")
	}
	s := stam.New(layer.ID)
	if _, err := s.AddResourceFile(resourceID, basePath, ""); err != nil {
		return nil, err
	}
	ds, err := s.AddDataSet(layer.ID, group.String())
	if err != nil {
		return nil, err
	}

	for _, la := range layer.Annotations {
		target := stam.TextTarget(resourceID, la.Span)
		if _, err := s.AnnotateWith(la.ID, target, ds.ID(), group.String(), layer.AnnotationType.String()); err != nil {
			return nil, errors.Wrapf(err, "layer %s", layer.ID)
		}
		if len(la.Payloads) == 0 {
			continue
		}

		refs := make([]stam.DataRef, 0, len(la.Payloads))
		for _, p := range la.Payloads {
			ds.AddKey(p.Key)
			d, err := s.AddData(ds.ID(), p.Key, p.Value, "")
			if err != nil {
				return nil, errors.Wrapf(err, "layer %s annotation %s", layer.ID, la.ID)
			}
			refs = append(refs, d.Ref())
		}
		if _, err := s.Annotate("", stam.AnnotationTarget(la.ID), refs...); err != nil {
			return nil, errors.Wrapf(err, "layer %s annotation %s", layer.ID, la.ID)
		}
	}
	return s, nil
}

// ConvertVolume combines the per-type stores of one volume. A single store
// is returned unchanged.
func ConvertVolume(volume string, stores []*stam.Store) (*stam.Store, error) {
	switch len(stores) {
	case 0:
		return nil, errors.NewValidation("volume", "volume "+volume+" has no annotated layers")
	case 1:
		return stores[0], nil
	}
	out, err := stam.Combine(stores...)
	if err != nil {
		return nil, errors.Wrapf(err, "volume %s", volume)
	}
	return out, nil
}
