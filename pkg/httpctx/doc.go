// Package httpctx resolves configuration for HTTP servers.
//
// A Handler resolves the raw configuration once in STARTUP scope and then
// again, in REQUEST scope, for every request passing through Middleware.
// The per-request tree has its overwrite_from_context sections applied and
// is available to downstream handlers through FromContext:
//
//	h, _ := httpctx.New(httpctx.Options{Resolver: r, Raw: raw, Logger: logger})
//	if err := h.Startup(ctx); err != nil {
//	    return err
//	}
//	mux := http.NewServeMux()
//	h.Mount(mux)
//	mux.Handle("/", h.Middleware(app))
//
// Templates see the request as
//
//	request: {id, method, path, query, headers, host}
//
// with lower-cased header names. The request id comes from X-Request-ID or
// is generated, and is echoed on the response.
package httpctx
