package util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	nhttp "github.com/chaos-io/bgremover/util/http"
	"github.com/chaos-io/bgremover/workflow"
)

// ErrTooLarge 远程文件超过 workflow.MaxFileSize
var ErrTooLarge = errors.New("remote file exceeds 10MB")

// cappedBuffer 写入超过 limit 时报错, 下载不会读入超限的内容
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int64
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if int64(b.buf.Len())+int64(len(p)) > b.limit {
		return 0, ErrTooLarge
	}
	return b.buf.Write(p)
}

// IsURL 判断 src 是否为 http(s) 地址
func IsURL(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

// LoadFile 按来源打开图片, 远程地址下载到内存, 本地路径延迟读取
func LoadFile(ctx context.Context, cli nhttp.IClient, src string) (*workflow.File, error) {
	if IsURL(src) {
		return FetchFile(ctx, cli, src)
	}
	return OpenFile(src)
}

// OpenFile 打开本地图片, 媒体类型按内容识别
func OpenFile(p string) (*workflow.File, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", p)
	}

	mtype, err := mimetype.DetectFile(p)
	if err != nil {
		return nil, fmt.Errorf("detect media type: %w", err)
	}

	return &workflow.File{
		Name:      filepath.Base(p),
		MediaType: mtype.String(),
		Size:      info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(p)
		},
	}, nil
}

// FetchFile 下载远程图片
func FetchFile(ctx context.Context, cli nhttp.IClient, rawURL string) (*workflow.File, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if cli == nil {
		cli = nhttp.NewHTTPClient()
	}

	body := &cappedBuffer{limit: workflow.MaxFileSize}
	param := &nhttp.RequestParam{
		RequestURI: rawURL,
		Method:     http.MethodGet,
		Response:   body,
	}
	if err := cli.DoHTTPRequest(ctx, param); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	data := body.buf.Bytes()

	name := path.Base(u.Path)
	if name == "." || name == "/" {
		name = u.Host
	}
	return workflow.BytesFile(name, mimetype.Detect(data).String(), data), nil
}
