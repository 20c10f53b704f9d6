/*
Copyright © 2026 Porter Authors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package httpasset is the HTTP middleware surface spec.md §1 calls out
// as an external collaborator of the core: it decodes a request into an
// App.ReadAsset call and renders the result as the GET /<id> contract of
// spec.md §6 (200/304/404, ETag/Last-Modified, "?main" entry marking).
// It never touches the Packet/Module graph directly.
package httpasset

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/porterhq/porter/app"
)

// Handler serves spec.md §6's GET /<id> asset contract on top of one App.
type Handler struct {
	App *app.App

	// Now supplies the Last-Modified time; nil means time.Now.
	Now func() time.Time
}

// New wraps a in a ready-to-mount http.Handler.
func New(a *app.App) *Handler {
	return &Handler{App: a}
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// ServeHTTP implements spec.md §6: 200 with the rendered bundle or raw
// source, 304 when the request is fresh against If-None-Match, 404 when
// the id does not resolve, or a 500 on a transpile/cache failure
// (spec.md §7).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	_, main := r.URL.Query()["main"]

	asset, err := h.App.ReadAsset(r.Context(), id, main)
	if err != nil {
		h.writeError(w, id, err)
		return
	}

	// spec.md §6: "strong ETag (md5 of body)" — Asset.ContentHash
	// (cache.ShortHash, md5) is always derived from the served body
	// itself, unlike Bundle's own internal ETag (a function of the
	// entries set, used for Bundle's own change bookkeeping).
	etag := strconv.Quote(asset.ContentHash)
	w.Header().Set("Content-Type", asset.ContentType)
	w.Header().Set("Cache-Control", "max-age=0")
	w.Header().Set("ETag", etag)
	w.Header().Set("Last-Modified", h.now().UTC().Format(http.TimeFormat))

	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write([]byte(asset.Code))
}

// writeError maps an App error to the spec.md §7 HTTP surfacing: a
// not-found id is a 404, anything else (TranspileError, CacheError,
// BundleError propagating through App) is a 500.
func (h *Handler) writeError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, app.ErrNotFound) {
		http.NotFound(w, nil)
		return
	}
	var assetErr *app.AssetError
	if errors.As(err, &assetErr) && errors.Is(assetErr.Err, app.ErrNotFound) {
		http.NotFound(w, nil)
		return
	}
	http.Error(w, "porter: failed to build "+id, http.StatusInternalServerError)
}
