package httpctx

import (
	"net/http"
	"sort"
)

// Admin route paths.
const (
	HealthzPath     = "/healthz"
	AdminStatusPath = "/healthz/admin/overwrite-from-context/status"
	AdminJSONPath   = "/healthz/admin/overwrite-from-context/json"
	AdminKeysPath   = "/healthz/admin/overwrite-from-context/keys"
)

// Mount registers the health and admin routes on mux.
func (h *Handler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("GET "+HealthzPath, h.healthz)
	mux.HandleFunc("GET "+AdminStatusPath, h.adminStatus)
	mux.HandleFunc("GET "+AdminJSONPath, h.adminJSON)
	mux.HandleFunc("GET "+AdminKeysPath, h.adminKeys)
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) adminStatus(w http.ResponseWriter, _ *http.Request) {
	_, ready := h.Resolved()
	if !ready {
		writeJSON(w, http.StatusOK, notInitialized())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"initialized":          true,
		"registered_functions": h.opts.Resolver.Registry().List(),
	})
}

func (h *Handler) adminJSON(w http.ResponseWriter, _ *http.Request) {
	resolved, ready := h.Resolved()
	if !ready {
		writeJSON(w, http.StatusOK, notInitialized())
		return
	}

	reg := h.opts.Resolver.Registry()
	names := reg.List()
	scopes := make(map[string]string, len(names))
	for _, name := range names {
		if scope, ok := reg.Scope(name); ok {
			scopes[name] = scope.String()
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"initialized": true,
		"config": map[string]interface{}{
			"registered_functions": names,
			"function_scopes":      scopes,
			"raw_config":           h.Raw(),
			"resolved_config":      resolved,
		},
	})
}

func (h *Handler) adminKeys(w http.ResponseWriter, _ *http.Request) {
	resolved, ready := h.Resolved()
	if !ready {
		writeJSON(w, http.StatusOK, notInitialized())
		return
	}

	keys := make([]string, 0, len(resolved))
	for k := range resolved {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"initialized":          true,
		"registered_functions": h.opts.Resolver.Registry().List(),
		"keys":                 keys,
	})
}

func notInitialized() map[string]interface{} {
	return map[string]interface{}{
		"initialized": false,
		"error":       ErrNotInitialized.Error(),
	}
}
