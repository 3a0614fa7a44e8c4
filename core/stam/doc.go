// Package stam provides the annotation store used for pecha texts.
//
// A Store owns three kinds of objects, all kept in insertion order:
//
//   - Resource: an addressable base text, either inline or an included file
//   - DataSet: a controlled vocabulary (one primary key such as "Structure Type")
//     holding Data entries (key, value, id)
//   - Annotation: a fact bound to Data and targeted at a span of a resource
//     (text selector) or at another annotation (annotation selector)
//
// # Offsets
//
// Spans are half-open ranges [Start, End) counted in Unicode code points of
// the resource text, so Tibetan text can be addressed independently of its
// UTF-8 encoding.
//
// # Meta-annotations
//
// Annotations may target other annotations. These meta-annotations carry
// payload metadata (page numbers, image references) that does not belong to
// the controlled vocabulary. Text and Span of a meta-annotation resolve
// through its target.
//
// # Merge and persistence
//
// Per-type stores are combined with Combine/MergeInto, which reuses data sets
// by primary key and refuses identifier collisions. Save and Load convert a
// store to and from its JSON document, rewriting file includes relative to a
// base directory so saved stores can be relocated.
//
// # Example
//
//	store := stam.New("P000216_v001")
//	store.AddResource("v001.txt", text)
//	store.AddDataSet("structure", stam.GroupStructureType.String())
//	span, _ := stam.NewSpan(19, 83)
//	store.AnnotateWith("a1", stam.TextTarget("v001.txt", span),
//	    "structure", stam.GroupStructureType.String(), stam.TypeAuthor.String())
package stam
