package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"schedulr/internal/identity"
	"schedulr/internal/logging"
	"schedulr/internal/model"
	"schedulr/internal/pages"
	"schedulr/internal/router"
)

// state is the settled gate state for a request: HTTP callers are never
// Unknown.
func (h *Handler) state(r *http.Request) (router.State, *model.Identity) {
	id, ok := h.requestIdentity(r)
	if !ok {
		return router.Unauthenticated, nil
	}
	return router.Authenticated, &id
}

func (h *Handler) handleRoute(w http.ResponseWriter, r *http.Request) {
	st, id := h.state(r)
	writeJSON(w, http.StatusOK, h.router.Route(r.URL.Query().Get("path"), st, id))
}

// resolve routes /{uid}/{page} and writes the error response when the
// outcome is not a render.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) (router.Outcome, *model.Identity, bool) {
	st, id := h.state(r)
	path := "/" + r.PathValue("uid") + "/" + r.PathValue("page")
	out := h.router.Route(path, st, id)
	if out.Kind == router.Render {
		return out, id, true
	}

	status, code := http.StatusForbidden, "forbidden"
	switch out.Location {
	case router.SignInPath:
		status, code = http.StatusUnauthorized, "unauthenticated"
	case router.NotFoundPath:
		status, code = http.StatusNotFound, "not_found"
	}
	writeJSON(w, status, errorResponse{Error: responseError{Code: code, Message: "cannot open " + path, Redirect: out.Location}})
	return out, nil, false
}

// mount creates the page for one request. The caller must Unmount it.
func (h *Handler) mount(ctx context.Context, out router.Outcome, id *model.Identity) (pages.Component, error) {
	comp, err := pages.New(out.Page, h.deps)
	if err != nil {
		return nil, err
	}
	comp.Mount(identity.ContextWithIdentity(ctx, *id), id, func() {})

	wctx, cancel := context.WithTimeout(ctx, h.opts.ViewWait)
	defer cancel()
	if err := comp.Wait(wctx); err != nil {
		h.log.Debug().Err(err).Str(logging.PAGE, string(out.Page)).Msg("view not ready in time")
	}
	return comp, nil
}

func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	out, id, ok := h.resolve(w, r)
	if !ok {
		return
	}
	comp, err := h.mount(r.Context(), out, id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	defer comp.Unmount()
	writeJSON(w, http.StatusOK, viewResponse{Page: out.Page, Path: router.Path(out.UID, out.Page), View: comp.View()})
}

// handleCommand mounts the page, runs one command, waits for the writes it
// started and returns the resulting view.
func (h *Handler) handleCommand(w http.ResponseWriter, r *http.Request) {
	out, id, ok := h.resolve(w, r)
	if !ok {
		return
	}
	args, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeFailure(w, pages.ErrBadArgs)
		return
	}
	if len(args) > 0 && !json.Valid(args) {
		writeFailure(w, pages.ErrBadArgs)
		return
	}

	comp, err := h.mount(r.Context(), out, id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	defer comp.Unmount()

	hd, ok := comp.(pages.Handler)
	if !ok {
		writeFailure(w, pages.ErrUnknownCommand)
		return
	}
	if err := hd.Handle(r.Context(), r.PathValue("command"), args); err != nil {
		writeFailure(w, err)
		return
	}
	if f, ok := comp.(pages.Flusher); ok {
		if err := f.Flush(r.Context()); err != nil {
			writeFailure(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, viewResponse{Page: out.Page, Path: router.Path(out.UID, out.Page), View: comp.View()})
}
