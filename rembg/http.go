package rembg

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	nhttp "github.com/chaos-io/bgremover/util/http"
)

const (
	DefaultEndpoint = "http://localhost:8000/remove-background"
	// multipart field the service reads the image from
	fileField = "file"
)

type HTTPRemover struct {
	endpoint  string
	healthURL string
	cli       nhttp.IClient
	logger    *zap.Logger
}

// NewHTTPRemover builds a client for endpoint. An empty healthURL is derived
// from the endpoint origin plus /health. A nil cli uses nhttp.NewHTTPClient.
func NewHTTPRemover(endpoint, healthURL string, cli nhttp.IClient, logger *zap.Logger) (*HTTPRemover, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("endpoint %q must be an absolute URL", endpoint)
	}
	if healthURL == "" {
		healthURL = (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/health"}).String()
	}
	if cli == nil {
		cli = nhttp.NewHTTPClient()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HTTPRemover{
		endpoint:  endpoint,
		healthURL: healthURL,
		cli:       cli,
		logger:    logger.Named("rembg"),
	}, nil
}

func (r *HTTPRemover) Endpoint() string { return r.endpoint }

func (r *HTTPRemover) HealthURL() string { return r.healthURL }

// Remove uploads the image as multipart field "file", the equivalent of
//
//	curl -X POST "$ENDPOINT" -F "file=@my_image.png;type=image/png" -o no-background.png
func (r *HTTPRemover) Remove(ctx context.Context, upload Upload) ([]byte, error) {
	body, contentType, err := multipartBody(upload)
	if err != nil {
		return nil, err
	}

	var out []byte
	reqParam := &nhttp.RequestParam{
		RequestURI: r.endpoint,
		Method:     "POST",
		Header:     map[string]string{"Content-Type": contentType},
		Body:       body,
		Response:   &out,
	}
	if err := r.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrEmptyResult
	}

	r.logger.Debug("got the processed image",
		zap.String("name", upload.Name),
		zap.Int("status", reqParam.StatusCode),
		zap.String("content_type", reqParam.ResponseHeader.Get("Content-Type")),
		zap.Int("size", len(out)))

	return out, nil
}

type healthResp struct {
	Status string `json:"status"`
}

func (r *HTTPRemover) Health(ctx context.Context) error {
	resp := &healthResp{}
	reqParam := &nhttp.RequestParam{
		RequestURI: r.healthURL,
		Method:     "GET",
		Response:   resp,
	}
	if err := r.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if resp.Status != "healthy" {
		return fmt.Errorf("health check: service reported status %q", resp.Status)
	}
	return nil
}

func multipartBody(upload Upload) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	name := filepath.Base(upload.Name)
	if name == "." || name == string(filepath.Separator) {
		name = "image"
	}
	mediaType := upload.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}

	// CreateFormFile always sets application/octet-stream; keep the real type.
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, fileField, escapeQuotes(name)))
	h.Set("Content-Type", mediaType)

	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(upload.Data); err != nil {
		return nil, "", fmt.Errorf("write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}

	return body, writer.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
