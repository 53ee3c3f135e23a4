package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chaos-io/bgremover/handle"
	"github.com/chaos-io/bgremover/workflow"
)

type Handler struct {
	ctrl   *workflow.Controller
	health *HealthMonitor
	log    *zap.Logger
}

func NewHandler(ctrl *workflow.Controller, health *HealthMonitor, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		ctrl:   ctrl,
		health: health,
		log:    log,
	}
}

type stateResponse struct {
	workflow.State
	Service *ServiceStatus `json:"service,omitempty"`
}

func (h *Handler) state() stateResponse {
	resp := stateResponse{State: h.ctrl.Snapshot()}
	if h.health != nil {
		st := h.health.Status()
		resp.Service = &st
	}
	return resp
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *Handler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.state())
}

func (h *Handler) SelectFile(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image file provided"})
		return
	}

	f, err := formFile(fh)
	if err != nil {
		h.log.Error("Failed to read uploaded file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read file"})
		return
	}

	if err := h.ctrl.Select(f); err != nil {
		if errors.Is(err, workflow.ErrClosed) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, h.state())
		return
	}
	c.JSON(http.StatusOK, h.state())
}

// formFile copies an upload into memory, since multipart temp files are
// removed when the request ends. Oversized uploads keep only their metadata.
func formFile(fh *multipart.FileHeader) (*workflow.File, error) {
	f := &workflow.File{
		Name:      fh.Filename,
		MediaType: fh.Header.Get("Content-Type"),
		Size:      fh.Size,
	}
	if fh.Size > workflow.MaxFileSize {
		return f, nil
	}

	src, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = src.Close()
	}()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	return workflow.BytesFile(f.Name, f.MediaType, data), nil
}

func (h *Handler) Process(c *gin.Context) {
	err := h.ctrl.ProcessAsync()
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, h.state())
	case errors.Is(err, workflow.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, workflow.ErrNoFile):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	}
}

// GetPreview serves the preview bytes, or with ?encoding=datauri the
// self-contained data URI of the preview.
func (h *Handler) GetPreview(c *gin.Context) {
	hd := h.ctrl.Preview()
	if c.Query("encoding") != "datauri" {
		h.serveHandle(c, hd)
		return
	}

	var uri string
	if hd != nil {
		uri = hd.DataURI()
	}
	if uri == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Image not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data_uri": uri})
}

func (h *Handler) GetResult(c *gin.Context) {
	h.serveHandle(c, h.ctrl.Result())
}

// GetBlob resolves the blob:<id> URLs reported in the state.
func (h *Handler) GetBlob(c *gin.Context) {
	hd, ok := h.ctrl.Handles().Lookup(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Image not found"})
		return
	}
	h.serveHandle(c, hd)
}

func (h *Handler) serveHandle(c *gin.Context, hd *handle.Handle) {
	var data []byte
	if hd != nil {
		data = hd.Bytes()
	}
	if data == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Image not found"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, hd.MediaType(), data)
}

func (h *Handler) Download(c *gin.Context) {
	written := false
	err := h.ctrl.DownloadTo(workflow.SaverFunc(func(name string, data []byte) error {
		written = true
		c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
		c.Data(http.StatusOK, mimetype.Detect(data).String(), data)
		return nil
	}))
	if err != nil {
		h.log.Error("Failed to download result", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to download result"})
		return
	}
	if !written {
		c.JSON(http.StatusNotFound, gin.H{"error": "No processed image"})
	}
}

func (h *Handler) Reset(c *gin.Context) {
	h.ctrl.Reset()
	c.JSON(http.StatusOK, h.state())
}
