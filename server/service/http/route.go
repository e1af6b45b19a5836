// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.
// This file is based on [Prometheus](https://github.com/prometheus/common/blob/8c9cb3fa6d01832ea16937b20ea561eed81abd2f/route/route.go)

package http

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

type paramKey string

// Middleware wraps the handler registered under a route name.
type Middleware func(routeName string, next http.HandlerFunc) http.HandlerFunc

// Router registers handlers on a shared httprouter.Router. Routers derived with WithPrefix or
// WithInstrumentation share the underlying routes.
type Router struct {
	mux        *httprouter.Router
	prefix     string
	middleware Middleware
}

func New() *Router {
	return &Router{mux: httprouter.New()}
}

func (r *Router) WithPrefix(prefix string) *Router {
	derived := *r
	derived.prefix += prefix
	return &derived
}

// WithInstrumentation returns a router applying m. An existing middleware keeps running inside m.
func (r *Router) WithInstrumentation(m Middleware) *Router {
	derived := *r
	if inner := r.middleware; inner != nil {
		derived.middleware = func(routeName string, next http.HandlerFunc) http.HandlerFunc {
			return m(routeName, inner(routeName, next))
		}
	} else {
		derived.middleware = m
	}
	return &derived
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) Get(path string, h http.HandlerFunc) {
	r.register(http.MethodGet, r.prefix+path, path, h)
}

// GetWithoutPrefix registers path as is, ignoring the prefix of the router.
func (r *Router) GetWithoutPrefix(path string, h http.HandlerFunc) {
	r.register(http.MethodGet, path, path, h)
}

func (r *Router) Post(path string, h http.HandlerFunc) {
	r.register(http.MethodPost, r.prefix+path, path, h)
}

func (r *Router) Put(path string, h http.HandlerFunc) {
	r.register(http.MethodPut, r.prefix+path, path, h)
}

func (r *Router) Del(path string, h http.HandlerFunc) {
	r.register(http.MethodDelete, r.prefix+path, path, h)
}

func (r *Router) register(method, fullPath, routeName string, h http.HandlerFunc) {
	if r.middleware != nil {
		h = r.middleware(routeName, h)
	}
	r.mux.Handle(method, fullPath, func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		ctx := req.Context()
		for _, p := range params {
			ctx = context.WithValue(ctx, paramKey(p.Key), p.Value)
		}
		h(w, req.WithContext(ctx))
	})
}

// Param returns the path parameter p, or "" when the route has none.
func Param(ctx context.Context, p string) string {
	v, _ := ctx.Value(paramKey(p)).(string)
	return v
}
