package workflow

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/chaos-io/bgremover/preview"
	"github.com/chaos-io/bgremover/rembg"
)

type removerFunc func(ctx context.Context, upload rembg.Upload) ([]byte, error)

func (f removerFunc) Remove(ctx context.Context, upload rembg.Upload) ([]byte, error) {
	return f(ctx, upload)
}

// gatedPreviewer blocks per file content until its gate is closed. It ignores
// ctx so completions can arrive late.
type gatedPreviewer struct {
	gates map[string]chan struct{}
}

func (g *gatedPreviewer) Generate(_ context.Context, mediaType string, data []byte) (*preview.Image, error) {
	if gate, ok := g.gates[string(data)]; ok {
		<-gate
	}
	return &preview.Image{MediaType: mediaType, Data: data, Width: 1, Height: 1}, nil
}

type recordingSaver struct {
	mu    sync.Mutex
	calls int
	name  string
	data  []byte
}

func (s *recordingSaver) Save(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.name = name
	s.data = data
	return nil
}

func pngBytes(t *testing.T, alpha uint8) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 10, G: 200, B: 30, A: alpha})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func okRemover(out []byte) rembg.Remover {
	return removerFunc(func(context.Context, rembg.Upload) ([]byte, error) {
		return out, nil
	})
}

var emptyState = State{Phase: PhaseEmpty, Status: StatusIdle}

// selectAndWait selects f and waits for its preview.
func selectAndWait(t *testing.T, c *Controller, f *File) {
	t.Helper()
	require.NoError(t, c.Select(f))
	c.Wait()
}

func TestController_SelectGeneratesPreview(t *testing.T) {
	t.Parallel()

	c := New(okRemover(nil))
	defer c.Close()

	src := pngBytes(t, 255)
	selectAndWait(t, c, BytesFile("cat.png", "image/png", src))

	st := c.Snapshot()
	assert.Equal(t, PhaseReady, st.Phase)
	assert.Equal(t, StatusIdle, st.Status)
	assert.Equal(t, &FileInfo{Name: "cat.png", MediaType: "image/png", Size: int64(len(src))}, st.File)
	assert.NotEmpty(t, st.Preview)
	assert.Empty(t, st.Result)
	assert.Empty(t, st.Error)

	p := c.Preview()
	require.NotNil(t, p)
	assert.Equal(t, src, p.Bytes())
	assert.Contains(t, p.DataURI(), "data:image/png;base64,")
	assert.Equal(t, 1, c.Handles().Live())
}

func TestController_SelectRejected(t *testing.T) {
	t.Parallel()

	c := New(okRemover(nil))
	defer c.Close()

	err := c.Select(BytesFile("notes.txt", "text/plain", []byte("hello")))
	require.Error(t, err)

	st := c.Snapshot()
	assert.Equal(t, PhaseEmpty, st.Phase)
	assert.Nil(t, st.File)
	assert.Equal(t, "Please select a valid image file", st.Error)
	assert.Equal(t, KindInvalidInput, st.Kind)

	big := &File{Name: "huge.png", MediaType: "image/png", Size: MaxFileSize + 1}
	require.Error(t, c.Select(big))
	assert.Equal(t, "File size must be less than 10MB", c.Snapshot().Error)
	assert.Nil(t, c.Snapshot().File)
}

func TestController_RejectionKeepsPreviousSelection(t *testing.T) {
	t.Parallel()

	c := New(okRemover(nil))
	defer c.Close()

	selectAndWait(t, c, BytesFile("a.png", "image/png", pngBytes(t, 255)))
	require.Error(t, c.Select(BytesFile("b.pdf", "application/pdf", []byte("%PDF"))))

	st := c.Snapshot()
	require.NotNil(t, st.File)
	assert.Equal(t, "a.png", st.File.Name)
	assert.NotEmpty(t, st.Preview)
	assert.Equal(t, KindInvalidInput, st.Kind)

	// a valid selection clears the error
	selectAndWait(t, c, BytesFile("c.png", "image/png", pngBytes(t, 255)))
	assert.Empty(t, c.Snapshot().Error)
}

func TestController_DecodeFailure(t *testing.T) {
	t.Parallel()

	c := New(okRemover(nil))
	defer c.Close()

	selectAndWait(t, c, BytesFile("broken.png", "image/png", []byte("definitely not a png")))

	st := c.Snapshot()
	assert.Equal(t, PhasePreviewing, st.Phase)
	assert.Empty(t, st.Preview)
	assert.Equal(t, KindDecodeFailure, st.Kind)
	assert.Contains(t, st.Error, "Failed to load preview")
	assert.Equal(t, 0, c.Handles().Live())
}

func TestController_ProcessSuccess(t *testing.T) {
	t.Parallel()

	want := pngBytes(t, 0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = file.Close()
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(want)
	}))
	defer server.Close()

	remover, err := rembg.NewHTTPRemover(server.URL+"/remove-background", "", nil, nil)
	require.NoError(t, err)

	c := New(remover)
	defer c.Close()

	selectAndWait(t, c, BytesFile("cat.png", "image/png", pngBytes(t, 255)))
	require.NoError(t, c.Process(context.Background()))

	st := c.Snapshot()
	assert.Equal(t, PhaseDone, st.Phase)
	assert.Equal(t, StatusIdle, st.Status)
	assert.Empty(t, st.Error)

	res := c.Result()
	require.NotNil(t, res)
	assert.Equal(t, want, res.Bytes())
	assert.Equal(t, "image/png", res.MediaType())
	assert.Equal(t, 2, c.Handles().Live())
}

func TestController_ProcessServiceFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Error processing image"}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	remover, err := rembg.NewHTTPRemover(server.URL, "", nil, nil)
	require.NoError(t, err)

	c := New(remover)
	defer c.Close()

	selectAndWait(t, c, BytesFile("cat.png", "image/png", pngBytes(t, 255)))
	err = c.Process(context.Background())
	require.Error(t, err)

	var werr *Error
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, KindServiceFailure, werr.Kind)
	assert.Equal(t, http.StatusInternalServerError, werr.StatusCode)

	st := c.Snapshot()
	assert.Contains(t, st.Error, "500")
	assert.Equal(t, "Failed to process image: Server error: 500", st.Error)
	assert.Empty(t, st.Result)
	assert.Nil(t, c.Result())
	assert.Equal(t, StatusIdle, st.Status)
	assert.Equal(t, PhaseReady, st.Phase)
}

func TestController_ProcessTransportFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	remover, err := rembg.NewHTTPRemover(url, "", nil, nil)
	require.NoError(t, err)

	c := New(remover)
	defer c.Close()

	selectAndWait(t, c, BytesFile("cat.png", "image/png", pngBytes(t, 255)))
	require.Error(t, c.Process(context.Background()))

	st := c.Snapshot()
	assert.Equal(t, KindTransportFailure, st.Kind)
	assert.Contains(t, st.Error, "Failed to process image: ")
	assert.Equal(t, StatusIdle, st.Status)
	assert.Nil(t, c.Result())

	// manual retry: the error clears when the new attempt starts
	c.remover = okRemover(pngBytes(t, 0))
	require.NoError(t, c.Process(context.Background()))
	assert.Empty(t, c.Snapshot().Error)
	assert.NotNil(t, c.Result())
}

func TestController_ProcessEmptyResult(t *testing.T) {
	t.Parallel()

	c := New(removerFunc(func(context.Context, rembg.Upload) ([]byte, error) {
		return nil, rembg.ErrEmptyResult
	}))
	defer c.Close()

	selectAndWait(t, c, BytesFile("cat.png", "image/png", pngBytes(t, 255)))
	require.Error(t, c.Process(context.Background()))
	assert.Equal(t, KindServiceFailure, c.Snapshot().Kind)
	assert.Nil(t, c.Result())
}

func TestController_ProcessWithoutFile(t *testing.T) {
	t.Parallel()

	called := false
	c := New(removerFunc(func(context.Context, rembg.Upload) ([]byte, error) {
		called = true
		return nil, nil
	}))
	defer c.Close()

	assert.ErrorIs(t, c.Process(context.Background()), ErrNoFile)
	assert.ErrorIs(t, c.ProcessAsync(), ErrNoFile)
	assert.False(t, called)
	assert.Equal(t, emptyState, c.Snapshot())
}

func TestController_ProcessWhileBusyIsNoop(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	calls := 0
	want := pngBytes(t, 0)

	c := New(removerFunc(func(ctx context.Context, _ rembg.Upload) ([]byte, error) {
		calls++
		close(started)
		<-release
		return want, nil
	}))
	defer c.Close()

	selectAndWait(t, c, BytesFile("cat.png", "image/png", pngBytes(t, 255)))
	require.NoError(t, c.ProcessAsync())
	<-started

	before := c.Snapshot()
	assert.Equal(t, StatusProcessing, before.Status)
	assert.Equal(t, PhaseProcessing, before.Phase)

	assert.ErrorIs(t, c.Process(context.Background()), ErrBusy)
	assert.ErrorIs(t, c.ProcessAsync(), ErrBusy)
	assert.Equal(t, before, c.Snapshot())

	close(release)
	c.Wait()

	assert.Equal(t, 1, calls)
	assert.Equal(t, PhaseDone, c.Snapshot().Phase)
	assert.Equal(t, want, c.Result().Bytes())
}

func TestController_ReprocessReplacesResult(t *testing.T) {
	t.Parallel()

	outputs := [][]byte{pngBytes(t, 0), pngBytes(t, 10)}
	n := 0
	c := New(removerFunc(func(context.Context, rembg.Upload) ([]byte, error) {
		out := outputs[n]
		n++
		return out, nil
	}))
	defer c.Close()

	selectAndWait(t, c, BytesFile("cat.png", "image/png", pngBytes(t, 255)))
	require.NoError(t, c.Process(context.Background()))
	first := c.Result()
	require.NotNil(t, first)

	require.NoError(t, c.Process(context.Background()))
	second := c.Result()
	require.NotNil(t, second)

	assert.True(t, first.Released())
	assert.Equal(t, outputs[1], second.Bytes())
	assert.Equal(t, 2, c.Handles().Live())
}

func TestController_NewSelectionClearsResult(t *testing.T) {
	t.Parallel()

	c := New(okRemover(pngBytes(t, 0)))
	defer c.Close()

	selectAndWait(t, c, BytesFile("a.png", "image/png", pngBytes(t, 255)))
	require.NoError(t, c.Process(context.Background()))
	oldResult, oldPreview := c.Result(), c.Preview()
	require.NotNil(t, oldResult)

	require.NoError(t, c.Select(BytesFile("b.png", "image/png", pngBytes(t, 128))))
	assert.Nil(t, c.Result())
	assert.True(t, oldResult.Released())
	assert.True(t, oldPreview.Released())
	assert.Contains(t, []Phase{PhasePreviewing, PhaseReady}, c.Snapshot().Phase)

	c.Wait()
	assert.Equal(t, PhaseReady, c.Snapshot().Phase)
	assert.Equal(t, 1, c.Handles().Live())
}

func TestController_StalePreviewDiscarded(t *testing.T) {
	t.Parallel()

	gates := map[string]chan struct{}{
		"A": make(chan struct{}),
		"B": make(chan struct{}),
	}
	c := New(okRemover(nil), WithPreviewer(&gatedPreviewer{gates: gates}))
	defer c.Close()

	require.NoError(t, c.Select(BytesFile("a.png", "image/png", []byte("A"))))
	require.NoError(t, c.Select(BytesFile("b.png", "image/png", []byte("B"))))

	close(gates["B"])
	require.Eventually(t, func() bool { return c.Preview() != nil }, time.Second, time.Millisecond)

	close(gates["A"])
	c.Wait()

	p := c.Preview()
	require.NotNil(t, p)
	assert.Equal(t, "B", string(p.Bytes()))
	assert.Equal(t, "b.png", c.Snapshot().File.Name)
	assert.Equal(t, 1, c.Handles().Live())
}

func TestController_StalePreviewBeforeNewer(t *testing.T) {
	t.Parallel()

	gates := map[string]chan struct{}{
		"A": make(chan struct{}),
		"B": make(chan struct{}),
	}
	c := New(okRemover(nil), WithPreviewer(&gatedPreviewer{gates: gates}))
	defer c.Close()

	require.NoError(t, c.Select(BytesFile("a.png", "image/png", []byte("A"))))
	require.NoError(t, c.Select(BytesFile("b.png", "image/png", []byte("B"))))

	// A finishing does not overwrite B
	close(gates["A"])
	time.Sleep(10 * time.Millisecond)
	assert.Nil(t, c.Preview())

	close(gates["B"])
	c.Wait()
	assert.Equal(t, "B", string(c.Preview().Bytes()))
}

func TestController_SelectionChangeDuringProcessing(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	out := pngBytes(t, 0)
	c := New(removerFunc(func(context.Context, rembg.Upload) ([]byte, error) {
		close(started)
		<-release
		return out, nil
	}))
	defer c.Close()

	selectAndWait(t, c, BytesFile("a.png", "image/png", pngBytes(t, 255)))

	errCh := make(chan error, 1)
	go func() { errCh <- c.Process(context.Background()) }()
	<-started

	selectAndWait(t, c, BytesFile("b.png", "image/png", pngBytes(t, 255)))
	assert.Equal(t, StatusProcessing, c.Status())

	close(release)
	assert.ErrorIs(t, <-errCh, ErrStale)

	st := c.Snapshot()
	assert.Equal(t, StatusIdle, st.Status)
	assert.Equal(t, PhaseReady, st.Phase)
	assert.Equal(t, "b.png", st.File.Name)
	assert.Nil(t, c.Result())
	assert.Equal(t, 1, c.Handles().Live())
}

func TestController_ResetCancelsProcessing(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	c := New(removerFunc(func(ctx context.Context, _ rembg.Upload) ([]byte, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	defer c.Close()

	selectAndWait(t, c, BytesFile("a.png", "image/png", pngBytes(t, 255)))

	errCh := make(chan error, 1)
	go func() { errCh <- c.Process(context.Background()) }()
	<-started

	c.Reset()
	assert.Equal(t, emptyState, c.Snapshot())
	assert.ErrorIs(t, <-errCh, ErrStale)

	assert.Equal(t, emptyState, c.Snapshot())
	assert.Equal(t, 0, c.Handles().Live())
}

func TestController_Reset(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(t *testing.T, c *Controller)
	}{
		{name: "empty", setup: func(*testing.T, *Controller) {}},
		{name: "rejected", setup: func(t *testing.T, c *Controller) {
			_ = c.Select(BytesFile("a.txt", "text/plain", []byte("x")))
		}},
		{name: "previewing", setup: func(t *testing.T, c *Controller) {
			require.NoError(t, c.Select(BytesFile("a.png", "image/png", pngBytes(t, 255))))
		}},
		{name: "ready", setup: func(t *testing.T, c *Controller) {
			selectAndWait(t, c, BytesFile("a.png", "image/png", pngBytes(t, 255)))
		}},
		{name: "done", setup: func(t *testing.T, c *Controller) {
			selectAndWait(t, c, BytesFile("a.png", "image/png", pngBytes(t, 255)))
			require.NoError(t, c.Process(context.Background()))
		}},
		{name: "decode failure", setup: func(t *testing.T, c *Controller) {
			selectAndWait(t, c, BytesFile("a.png", "image/png", []byte("junk")))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := New(okRemover(pngBytes(t, 0)))
			defer c.Close()

			tt.setup(t, c)
			c.Reset()
			c.Wait()

			once := c.Snapshot()
			assert.Equal(t, emptyState, once)
			assert.Nil(t, c.Preview())
			assert.Nil(t, c.Result())
			assert.Nil(t, c.Err())
			assert.Equal(t, 0, c.Handles().Live())

			c.Reset()
			assert.Equal(t, once, c.Snapshot())
		})
	}
}

func TestController_DownloadWithoutResult(t *testing.T) {
	t.Parallel()

	saver := &recordingSaver{}
	c := New(okRemover(nil), WithSaver(saver))
	defer c.Close()

	require.NoError(t, c.Download())
	selectAndWait(t, c, BytesFile("a.png", "image/png", pngBytes(t, 255)))
	require.NoError(t, c.Download())

	assert.Equal(t, 0, saver.calls)
}

func TestController_Download(t *testing.T) {
	t.Parallel()

	want := pngBytes(t, 0)
	saver := &recordingSaver{}
	c := New(okRemover(want), WithSaver(saver))
	defer c.Close()

	selectAndWait(t, c, BytesFile("a.png", "image/png", pngBytes(t, 255)))
	require.NoError(t, c.Process(context.Background()))
	require.NoError(t, c.Download())

	assert.Equal(t, 1, saver.calls)
	assert.Equal(t, DownloadName, saver.name)
	assert.Equal(t, want, saver.data)
}

func TestController_DownloadToDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "out")
	want := pngBytes(t, 0)
	c := New(okRemover(want), WithSaver(DirSaver{Dir: dir}))
	defer c.Close()

	selectAndWait(t, c, BytesFile("a.png", "image/png", pngBytes(t, 255)))
	require.NoError(t, c.Process(context.Background()))
	require.NoError(t, c.Download())

	got, err := os.ReadFile(filepath.Join(dir, "no-background.png"))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestController_Close(t *testing.T) {
	t.Parallel()

	c := New(okRemover(pngBytes(t, 0)))
	selectAndWait(t, c, BytesFile("a.png", "image/png", pngBytes(t, 255)))
	require.NoError(t, c.Process(context.Background()))
	require.Equal(t, 2, c.Handles().Live())

	c.Close()
	c.Close()

	assert.Equal(t, 0, c.Handles().Live())
	assert.ErrorIs(t, c.Select(BytesFile("b.png", "image/png", pngBytes(t, 255))), ErrClosed)
	assert.ErrorIs(t, c.Process(context.Background()), ErrClosed)
	assert.Equal(t, emptyState, c.Snapshot())
}

func TestController_ResultInspection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		out     func(t *testing.T) []byte
		wantMsg string
		wantMT  string
	}{
		{name: "不透明", out: func(t *testing.T) []byte { return pngBytes(t, 255) }, wantMsg: "result has no transparent pixels", wantMT: "image/png"},
		{name: "全透明", out: func(t *testing.T) []byte { return pngBytes(t, 0) }, wantMsg: "result is fully transparent", wantMT: "image/png"},
		{name: "非图片", out: func(*testing.T) []byte { return []byte("plain text body") }, wantMsg: "result is not a recognized image", wantMT: "image/png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			core, logs := observer.New(zapcore.WarnLevel)
			c := New(okRemover(tt.out(t)), WithLogger(zap.New(core)))
			defer c.Close()

			selectAndWait(t, c, BytesFile("a.png", "image/png", pngBytes(t, 255)))
			require.NoError(t, c.Process(context.Background()))

			assert.Equal(t, 1, logs.FilterMessage(tt.wantMsg).Len())
			assert.Equal(t, tt.wantMT, c.Result().MediaType())
		})
	}
}

func TestController_OversizedDimensions(t *testing.T) {
	// small once compressed, too many pixels to decode
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 6500, 6500))))
	huge := buf.Bytes()

	core, logs := observer.New(zapcore.DebugLevel)
	c := New(okRemover(huge), WithLogger(zap.New(core)))
	defer c.Close()

	selectAndWait(t, c, BytesFile("blank.png", "image/png", huge))
	st := c.Snapshot()
	assert.Equal(t, KindDecodeFailure, st.Kind)
	assert.Contains(t, st.Error, "image dimensions too large")
	assert.Nil(t, c.Preview())

	// an oversized result is only logged
	require.NoError(t, c.Process(context.Background()))
	assert.NotNil(t, c.Result())
	assert.Empty(t, c.Snapshot().Error)
	assert.Equal(t, 1, logs.FilterMessage("cannot analyze result").Len())
}

func TestController_SelectNilIsNoop(t *testing.T) {
	t.Parallel()

	c := New(okRemover(nil))
	defer c.Close()

	require.NoError(t, c.Select(nil))
	assert.Equal(t, emptyState, c.Snapshot())

	// selection and error are kept
	selectAndWait(t, c, BytesFile("a.png", "image/png", pngBytes(t, 255)))
	require.Error(t, c.Select(BytesFile("a.txt", "text/plain", []byte("x"))))
	before := c.Snapshot()

	require.NoError(t, c.Select(nil))
	c.Wait()
	assert.Equal(t, before, c.Snapshot())
	assert.Equal(t, "Please select a valid image file", c.Snapshot().Error)
}
