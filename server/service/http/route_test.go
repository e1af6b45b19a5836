// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRouter(t *testing.T) {
	re := require.New(t)

	var calls []string
	tag := func(name string) Middleware {
		return func(routeName string, next http.HandlerFunc) http.HandlerFunc {
			return func(w http.ResponseWriter, req *http.Request) {
				calls = append(calls, name+":"+routeName)
				next(w, req)
			}
		}
	}

	root := New()
	router := root.WithPrefix("/api").WithInstrumentation(tag("inner")).WithInstrumentation(tag("outer"))
	router.Del("/shards/:shard", func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(Param(req.Context(), "shard") + Param(req.Context(), "missing")))
	})
	router.GetWithoutPrefix("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	root.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/shards/shard-2", nil))
	re.Equal(http.StatusOK, rec.Code)
	re.Equal("shard-2", rec.Body.String())
	re.Equal([]string{"outer:/shards/:shard", "inner:/shards/:shard"}, calls)

	rec = httptest.NewRecorder()
	root.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	re.Equal(http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	root.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	re.Equal(http.StatusNotFound, rec.Code)
}
