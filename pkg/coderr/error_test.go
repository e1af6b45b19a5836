// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package coderr

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestErrorStack(t *testing.T) {
	r := require.New(t)
	cerr := NewCodeError(Internal, "test internal error")
	err := cerr.WithCausef("failed reason:%s", "for test")
	errDesc := fmt.Sprintf("%s", err)
	expectErrDesc := "shardrouter/pkg/coderr/error_test.go:"

	r.True(strings.Contains(errDesc, expectErrDesc), "actual errDesc:%s", errDesc)
}

func TestIsKind(t *testing.T) {
	r := require.New(t)
	errA := NewCodeError(BadRequest, "invalid weight")
	errB := NewCodeError(BadRequest, "validation failed")

	wrapped := errors.WithMessage(errA.WithCausef("weight:%d", 120), "add shard")
	r.True(Is(wrapped, BadRequest))
	r.True(IsKind(wrapped, errA))
	r.False(IsKind(wrapped, errB))
	r.False(IsKind(errors.New("plain"), errA))
	r.Equal("invalid weight", Desc(wrapped))
}

func TestToHTTPCode(t *testing.T) {
	r := require.New(t)
	r.Equal(http.StatusGatewayTimeout, Code(GatewayTimeout).ToHTTPCode())
	r.Equal(http.StatusNotFound, Code(NotFound).ToHTTPCode())
	r.Equal(http.StatusInternalServerError, Invalid.ToHTTPCode())
	r.Equal(http.StatusInternalServerError, Code(PrintHelpUsage).ToHTTPCode())
}
