package http

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

//go:generate mockgen -destination=mocks/http.go -package=mocks . IClient
type IClient interface {
	DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error
}

// RequestParam 描述一次请求; StatusCode 和 ResponseHeader 在请求返回后回填
//
// Response 支持:
//   - *[]byte: 原样写入响应体 (图片等二进制)
//   - io.Writer: 响应体拷贝进去
//   - 其他指针: 按 JSON 解码
type RequestParam struct {
	RequestURI string
	Method     string
	Header     map[string]string
	Body       interface{}
	Response   interface{}

	Timeout time.Duration

	StatusCode     int
	ResponseHeader http.Header
}

// StatusError 服务端返回非 2xx
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP request failed with status %d: %s", e.StatusCode, e.Body)
}
