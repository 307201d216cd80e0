package domain

import "context"

// ModelGateway sends a prompt to the external inference service.
type ModelGateway interface {
	Invoke(ctx context.Context, req ModelRequest) (*ModelResponse, error)
}

// Plotter renders a function graph to an image.
type Plotter interface {
	Render(ctx context.Context, req PlotRequest) (*Attachment, error)
}
