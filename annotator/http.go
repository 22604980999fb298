package annotator

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/pinpoint/kit"
	"github.com/hazyhaar/pinpoint/location"
	"github.com/hazyhaar/pinpoint/observability"
	"github.com/hazyhaar/pinpoint/screenshot"
	"github.com/hazyhaar/pinpoint/shield"
	"github.com/hazyhaar/pinpoint/store"
)

// Handler returns the HTTP API of s. maxBody bounds request bodies.
func Handler(s *Session, maxBody int64) http.Handler {
	eps := NewEndpoints(s)
	r := chi.NewRouter()
	for _, mw := range shield.Stack(shield.DefaultHeaders(), maxBody, s.logger) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "session": s.ID()})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/positions", serveJSON[ResolveRequest](eps.Resolve, http.StatusOK))
		r.Get("/positions", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, s.Positions())
		})
		r.Get("/positions/stream", func(w http.ResponseWriter, req *http.Request) {
			s.stream.Serve(w, req, s.Positions())
		})
		r.Post("/coordinates/encode", serveJSON[EncodeRequest](eps.Encode, http.StatusOK))
		r.Post("/coordinates/decode", serveJSON[CoordinatesValue](eps.Decode, http.StatusOK))
		r.Post("/redraw", func(w http.ResponseWriter, _ *http.Request) {
			s.Redraw()
			w.WriteHeader(http.StatusAccepted)
		})
		r.Post("/screenshots", serveJSON[ScreenshotRequest](eps.Screenshot, http.StatusOK))

		r.Get("/annotations", func(w http.ResponseWriter, req *http.Request) {
			lr, err := listRequestFromQuery(req)
			if err != nil {
				writeError(w, err)
				return
			}
			resp, err := eps.List(req.Context(), lr)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
		})
		r.Post("/annotations", serveJSON[CaptureRequest](eps.Create, http.StatusCreated))
		r.Post("/annotations/{id}/commit", func(w http.ResponseWriter, req *http.Request) {
			rec, err := s.Commit(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, rec)
		})
		r.Post("/annotations/{id}/click", func(w http.ResponseWriter, req *http.Request) {
			if err := s.Click(req.Context(), chi.URLParam(req, "id")); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
		r.Delete("/annotations/{id}", func(w http.ResponseWriter, req *http.Request) {
			if err := s.Delete(req.Context(), chi.URLParam(req, "id")); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
		r.Get("/audit", func(w http.ResponseWriter, req *http.Request) {
			f, err := auditFilterFromQuery(req)
			if err != nil {
				writeError(w, err)
				return
			}
			entries, err := s.AuditTrail(req.Context(), f)
			if err != nil {
				writeError(w, err)
				return
			}
			if entries == nil {
				entries = []*observability.AuditEntry{}
			}
			writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
		})
	})
	return r
}

// serveJSON decodes the body into a *T and calls ep.
func serveJSON[T any](ep kit.Endpoint, status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in := new(T)
		if err := json.NewDecoder(r.Body).Decode(in); err != nil && !errors.Is(err, io.EOF) {
			var maxErr *http.MaxBytesError
			if !errors.As(err, &maxErr) {
				err = badRequest("invalid body: %v", err)
			}
			writeError(w, err)
			return
		}
		ctx := kit.WithTransport(r.Context(), kit.TransportHTTP)
		resp, err := ep(ctx, in)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, status, resp)
	}
}

func listRequestFromQuery(r *http.Request) (*ListRequest, error) {
	q := r.URL.Query()
	lr := &ListRequest{
		SourceID: q.Get("source_id"),
		ThreadID: q.Get("thread_id"),
	}
	if v := q.Get("committed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, badRequest("committed: %v", err)
		}
		lr.CommittedOnly = b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, badRequest("limit must be a non-negative integer")
		}
		lr.Limit = n
	}
	if v := q.Get("location"); v != "" {
		loc, err := location.Parse([]byte(v))
		if err != nil {
			return nil, badRequest("location: %v", err)
		}
		lr.Location = loc
	}
	return lr, nil
}

func auditFilterFromQuery(r *http.Request) (observability.AuditFilter, error) {
	q := r.URL.Query()
	f := observability.AuditFilter{
		AnnotationID: q.Get("annotation_id"),
		Operation:    q.Get("operation"),
		Status:       q.Get("status"),
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &f.Limit}, {"offset", &f.Offset}} {
		if v := q.Get(p.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return f, badRequest("%s must be a non-negative integer", p.name)
			}
			*p.dst = n
		}
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusOf maps domain errors to HTTP statuses.
func statusOf(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, store.ErrInvalid):
		return http.StatusBadRequest
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrImmutable), errors.Is(err, screenshot.ErrInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrNoScreenshotter):
		return http.StatusNotImplemented
	case errors.Is(err, screenshot.ErrCancelled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), map[string]string{"error": err.Error()})
}
