// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package operation

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const defaultRequestTimeout = 10 * time.Second

type response struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
	Msg    string          `json:"msg"`
}

func tableWriter(headers []string) table.Writer {
	header := table.Row{}
	for _, s := range headers {
		header = append(header, s)
	}
	t := table.NewWriter()
	t.AppendHeader(header)
	return t
}

func routerURL(path string) string {
	return HTTP + viper.GetString(RootRouterAddr) + path
}

// HttpUtil sends the request and decodes the data of a successful response into data, which may be nil.
func HttpUtil(method, url string, body any, data any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.WithMessage(err, "encode request")
		}
		reader = bytes.NewReader(b)
	}

	request, err := http.NewRequest(method, url, reader)
	if err != nil {
		return errors.WithMessagef(err, "build request, url:%s", url)
	}
	request.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{Timeout: defaultRequestTimeout}).Do(request)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var r response
	if err := json.Unmarshal(b, &r); err != nil {
		return errors.WithMessagef(err, "decode response, http status:%d", resp.StatusCode)
	}
	if r.Status != statusSuccess {
		return errors.Errorf("%s (http status %d): %s", r.Error, resp.StatusCode, r.Msg)
	}
	if data == nil || len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, data)
}
