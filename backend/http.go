package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/BaSui01/scenegen/types"
)

// maxResponseBytes 单个响应体上限（网格文件可达数十 MB），超出时报错而不是截断
var maxResponseBytes int64 = 256 << 20

// DoJSON 发送 JSON 请求并将成功响应解码到 out，out 为 nil 时丢弃响应体
func DoJSON(ctx context.Context, client *http.Client, method, url string, body, out any, backend string) error {
	data, _, err := DoBytes(ctx, client, method, url, body, backend)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return types.NewError(types.ErrGenerationFailed, "malformed response").
			WithBackend(backend).
			WithCause(err)
	}
	return nil
}

// DoBytes 发送请求并返回原始响应体与响应头
func DoBytes(ctx context.Context, client *http.Client, method, url string, body any, backend string) ([]byte, http.Header, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, nil, types.NewError(types.ErrValidation, "encode request").WithBackend(backend).WithCause(err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, nil, types.NewError(types.ErrInternalError, fmt.Sprintf("build request: %v", err)).WithBackend(backend)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json, application/octet-stream, */*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, TransportError(ctx, err, backend)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, resp.Header, MapHTTPError(resp.StatusCode, ReadErrorMessage(resp.Body), backend)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, resp.Header, TransportError(ctx, err, backend)
	}
	if int64(len(data)) > maxResponseBytes {
		return nil, resp.Header, types.NewError(types.ErrGenerationFailed,
			fmt.Sprintf("response body exceeds %d bytes", maxResponseBytes)).WithBackend(backend)
	}
	return data, resp.Header, nil
}
