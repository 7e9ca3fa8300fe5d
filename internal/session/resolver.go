package session

import (
	"context"

	"github.com/joescharf/tasktrack/internal/descriptor"
	"github.com/joescharf/tasktrack/internal/resolve"
)

// PipelineResolver locates descriptors on disk and resolves them through the
// resolution pipeline.
type PipelineResolver struct {
	Pipeline *resolve.Resolver
}

// NewPipelineResolver wraps p.
func NewPipelineResolver(p *resolve.Resolver) *PipelineResolver {
	return &PipelineResolver{Pipeline: p}
}

func (r *PipelineResolver) Locate(dir string) (*descriptor.Found, error) {
	return descriptor.Find(dir)
}

func (r *PipelineResolver) Resolve(ctx context.Context, found *descriptor.Found) (*resolve.Resolution, error) {
	return r.Pipeline.Resolve(ctx, found.Dir, found.Descriptor)
}
