package annotator

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/pinpoint/annotation"
	"github.com/hazyhaar/pinpoint/dom"
	"github.com/hazyhaar/pinpoint/kit"
	"github.com/hazyhaar/pinpoint/location"
	"github.com/hazyhaar/pinpoint/resolver"
	"github.com/hazyhaar/pinpoint/store"
)

// ErrBadRequest marks request validation failures.
var ErrBadRequest = errors.New("annotator: bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

// ResolveRequest positions annotations on the current page.
type ResolveRequest struct {
	Annotations []annotation.Annotation `json:"annotations"`
	Strict      bool                    `json:"strict,omitempty"`
}

// ResolveResponse holds one position per requested annotation, in order.
type ResolveResponse struct {
	Positions []resolver.Position `json:"positions"`
}

// EncodeRequest is a viewport point to serialise.
type EncodeRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CoordinatesValue is an opaque serialised point.
type CoordinatesValue struct {
	Value string `json:"value"`
}

// ListRequest filters stored annotations.
type ListRequest struct {
	Location      location.Location `json:"location,omitempty"`
	SourceID      string            `json:"source_id,omitempty"`
	ThreadID      string            `json:"thread_id,omitempty"`
	CommittedOnly bool              `json:"committed_only,omitempty"`
	Limit         int               `json:"limit,omitempty"`
}

// ListResponse is the result of a list call.
type ListResponse struct {
	Annotations []store.Record `json:"annotations"`
}

// Endpoints are the session operations shared by HTTP and MCP.
type Endpoints struct {
	Resolve    kit.Endpoint
	Encode     kit.Endpoint
	Decode     kit.Endpoint
	Screenshot kit.Endpoint
	List       kit.Endpoint
	Create     kit.Endpoint
}

// NewEndpoints builds the endpoints of s, each wrapped in logging.
func NewEndpoints(s *Session) *Endpoints {
	wrap := func(name string, ep kit.Endpoint) kit.Endpoint {
		mw := kit.Chain(withSession(s.ID()), kit.Logging(s.logger, name))
		return mw(ep)
	}
	return &Endpoints{
		Resolve:    wrap("resolve", s.resolveEndpoint),
		Encode:     wrap("encode_coordinates", s.encodeEndpoint),
		Decode:     wrap("decode_coordinates", s.decodeEndpoint),
		Screenshot: wrap("screenshot", s.screenshotEndpoint),
		List:       wrap("list_annotations", s.listEndpoint),
		Create:     wrap("create_annotation", s.createEndpoint),
	}
}

func withSession(id string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			return next(kit.WithSessionID(ctx, id), req)
		}
	}
}

func (s *Session) resolveEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*ResolveRequest)
	out := ResolveResponse{Positions: make([]resolver.Position, 0, len(r.Annotations))}
	for i, ann := range r.Annotations {
		if ann.CoordsRelativeToTarget == (annotation.Point{}) {
			ann.CoordsRelativeToTarget = annotation.Centre
		}
		if err := ann.Validate(); err != nil {
			return nil, badRequest("annotation %d: %v", i, err)
		}
		pos := s.Resolve(ctx, ann, r.Strict)
		pos.AnnotationID = ann.ID
		out.Positions = append(out.Positions, pos)
	}
	return out, nil
}

func (s *Session) encodeEndpoint(_ context.Context, req any) (any, error) {
	r := req.(*EncodeRequest)
	v, err := s.EncodeCoordinates(dom.Point{X: r.X, Y: r.Y})
	if err != nil {
		return nil, err
	}
	return CoordinatesValue{Value: v}, nil
}

func (s *Session) decodeEndpoint(_ context.Context, req any) (any, error) {
	r := req.(*CoordinatesValue)
	if r.Value == "" {
		return nil, badRequest("value is required")
	}
	p, err := s.DecodeCoordinates(r.Value)
	if err != nil {
		return nil, badRequest("%v", err)
	}
	return p, nil
}

func (s *Session) screenshotEndpoint(ctx context.Context, req any) (any, error) {
	return s.Screenshot(ctx, *req.(*ScreenshotRequest))
}

func (s *Session) listEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*ListRequest)
	recs, err := s.List(ctx, store.Filter{
		Location:      r.Location,
		SourceID:      r.SourceID,
		ThreadID:      r.ThreadID,
		CommittedOnly: r.CommittedOnly,
		Limit:         r.Limit,
	})
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []store.Record{}
	}
	return ListResponse{Annotations: recs}, nil
}

func (s *Session) createEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*CaptureRequest)
	if r.Location != nil && !location.IsLocation(r.Location) {
		return nil, badRequest("location must be a flat object")
	}
	return s.CreateAnnotation(ctx, *r)
}
