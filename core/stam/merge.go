package stam

import (
	"github.com/FocuswithJustin/PechaStam/core/errors"
)

// Combine merges stores left to right into a new store carrying the first
// store's id. The inputs are not modified.
func Combine(stores ...*Store) (*Store, error) {
	if len(stores) < 2 {
		return nil, errors.NewValidation("stores", "combine requires at least two stores")
	}
	out := New(stores[0].id)
	for _, s := range stores {
		if err := MergeInto(out, s); err != nil {
			return nil, errors.Wrapf(err, "merge %s into %s", s.id, out.id)
		}
	}
	return out, nil
}

// MergeInto copies resources, data sets and annotations of src into dst.
//
// Data sets are matched by primary key: a dst set with the same key is
// reused and its keys are extended; otherwise a set mirroring the src set
// is created. Annotations keep their id and selector. A shared annotation
// id or a resource id with divergent content is an error, and dst is left
// untouched in that case.
func MergeInto(dst, src *Store) error {
	if err := checkMerge(dst, src); err != nil {
		return err
	}

	for _, r := range src.resources {
		if _, ok := dst.resourceByID[r.id]; ok {
			continue
		}
		dst.insertResource(r.clone())
	}

	sets := make(map[string]*DataSet, len(src.dataSets))
	for _, ds := range src.dataSets {
		target, ok := dst.DataSetByKey(ds.PrimaryKey())
		if !ok {
			var err error
			target, err = dst.addDataSet(ds.id, ds.keys)
			if err != nil {
				return err
			}
		}
		for _, k := range ds.keys {
			target.AddKey(k)
		}
		sets[ds.id] = target
	}

	for _, a := range src.annotations {
		data := make([]*Data, 0, len(a.data))
		for _, d := range a.data {
			target := sets[d.set.id]
			id := d.id
			if _, taken := target.dataByID[id]; taken {
				id = ""
			}
			nd, err := addData(target, d.key, d.value, id)
			if err != nil {
				return err
			}
			data = append(data, nd)
		}
		dst.insertAnnotation(a.id, a.target, data)
	}
	return nil
}

// checkMerge reports conflicts before dst is modified.
func checkMerge(dst, src *Store) error {
	for _, r := range src.resources {
		existing, ok := dst.resourceByID[r.id]
		if !ok {
			continue
		}
		same, err := sameContent(existing, r)
		if err != nil {
			return err
		}
		if !same {
			return &errors.DuplicateError{Kind: "resource", ID: r.id}
		}
	}
	for _, ds := range src.dataSets {
		if _, ok := dst.DataSetByKey(ds.PrimaryKey()); ok {
			continue
		}
		if existing, ok := dst.dataSetByID[ds.id]; ok {
			return &errors.DuplicateError{
				Kind: "dataset",
				ID:   ds.id + " (key " + existing.PrimaryKey() + ")",
			}
		}
	}
	for _, a := range src.annotations {
		if _, ok := dst.annotationByID[a.id]; ok {
			return &errors.DuplicateError{Kind: "annotation", ID: a.id, Err: ErrDuplicateAnnotationID}
		}
	}
	return nil
}

func sameContent(a, b *Resource) (bool, error) {
	if !a.inline && !b.inline && a.Path() == b.Path() {
		return true, nil
	}
	ca, err := a.Checksum()
	if err != nil {
		return false, err
	}
	cb, err := b.Checksum()
	if err != nil {
		return false, err
	}
	return ca == cb, nil
}
