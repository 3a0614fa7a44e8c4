package alignment

import (
	"context"

	"github.com/FocuswithJustin/PechaStam/core/cache"
	"github.com/FocuswithJustin/PechaStam/core/pecha"
	"github.com/FocuswithJustin/PechaStam/core/stam"
)

// Document gives access to the segments of one source document.
type Document interface {
	Segment(volume, annotationID string) (string, stam.Span, error)
}

// Resolver finds the document behind a source id.
type Resolver interface {
	Document(sourceID string) (Document, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(sourceID string) (Document, error)

// Document calls f.
func (f ResolverFunc) Document(sourceID string) (Document, error) { return f(sourceID) }

// DirResolver opens converted pechas under Root. Pechas missing locally
// are fetched from Org through Fetcher when one is set.
type DirResolver struct {
	Root    string
	Org     string
	Fetcher pecha.Fetcher
}

// Document opens the pecha <Root>/<sourceID>.
func (r DirResolver) Document(sourceID string) (Document, error) {
	org := r.Org
	if org == "" {
		org = pecha.DefaultOrg
	}
	p, err := pecha.FromID(context.Background(), sourceID, r.Root, org, r.Fetcher)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CachingResolver shares resolved documents between alignments. Failed
// resolutions are retried on the next call.
type CachingResolver struct {
	resolver Resolver
	docs     *cache.LRU[string, Document]
}

// NewCachingResolver wraps r with an LRU cache of the given configuration.
func NewCachingResolver(r Resolver, config cache.Config) *CachingResolver {
	return &CachingResolver{resolver: r, docs: cache.New[string, Document](config)}
}

// Document returns the cached document or resolves it.
func (c *CachingResolver) Document(sourceID string) (Document, error) {
	return c.docs.GetOrLoad(sourceID, func() (Document, error) {
		return c.resolver.Document(sourceID)
	})
}

// Stats reports cache usage.
func (c *CachingResolver) Stats() cache.Stats { return c.docs.Stats() }
