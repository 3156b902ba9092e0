package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/waybill/internal/dispatch"
	"github.com/zulandar/waybill/internal/media"
	"github.com/zulandar/waybill/internal/sheet"
)

// sendRequest is the body of both send endpoints. customMessage is the
// template field name older clients use.
type sendRequest struct {
	Messages      []dispatch.Recipient `json:"messages"`
	Template      string               `json:"template"`
	CustomMessage string               `json:"customMessage"`
	ImagePaths    []string             `json:"imagePaths"`
	SkipPacing    bool                 `json:"skipPacing"`
}

func (r sendRequest) options(kind string) dispatch.Options {
	tmpl := r.Template
	if tmpl == "" {
		tmpl = r.CustomMessage
	}
	return dispatch.Options{Kind: kind, Template: tmpl, SkipPacing: r.SkipPacing}
}

func (s *Server) handleSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	s.send(c, req.Messages, req.options("text"), nil)
}

func (s *Server) handleSendWithMedia(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	paths := make([]string, 0, len(req.ImagePaths))
	for _, p := range req.ImagePaths {
		abs, err := s.media.Resolve(p)
		if err != nil {
			fail(c, err)
			return
		}
		paths = append(paths, abs)
	}
	opts := req.options("media")
	opts.Media = paths
	s.send(c, req.Messages, opts, paths)
}

// handleSendSheet sends product announcements read from an uploaded
// workbook. template and skipPacing come in as form fields.
func (s *Server) handleSendSheet(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		fail(c, fmt.Errorf("%w: file is required", errBadRequest))
		return
	}
	if !strings.EqualFold(filepath.Ext(fh.Filename), ".xlsx") {
		fail(c, fmt.Errorf("%w: unsupported file %q (want .xlsx)", errBadRequest, fh.Filename))
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, fmt.Errorf("server: open upload: %w", err))
		return
	}
	defer f.Close()

	recipients, err := sheet.ReadProducts(f)
	if err != nil {
		fail(c, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	skip, _ := strconv.ParseBool(c.PostForm("skipPacing"))
	s.send(c, recipients, dispatch.Options{
		Kind:       "product",
		Template:   c.PostForm("template"),
		SkipPacing: skip,
	}, nil)
}

// send runs the batch detached from the request so a client hangup does not
// cut it short. Uploaded media is removed once the batch completes.
func (s *Server) send(c *gin.Context, recipients []dispatch.Recipient, opts dispatch.Options, cleanup []string) {
	sum, err := s.dispatcher.Send(context.WithoutCancel(c.Request.Context()), recipients, opts)
	if err != nil {
		body := gin.H{"success": false, "error": err.Error()}
		if sum != nil {
			body["summary"] = sum
			body["results"] = sum.Results
		}
		c.JSON(statusFor(err), body)
		return
	}
	if len(cleanup) > 0 {
		s.media.Remove(cleanup)
	}
	results := sum.Results
	if results == nil {
		results = []dispatch.Result{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "summary": sum, "results": results})
}

func (s *Server) handleUpload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	files := form.File["images"]
	if len(files) == 0 {
		fail(c, fmt.Errorf("%w: no images uploaded", errBadRequest))
		return
	}
	uploads := make([]media.Upload, 0, len(files))
	for _, fh := range files {
		uploads = append(uploads, media.Upload{
			Name: fh.Filename,
			Open: func() (io.ReadCloser, error) { return fh.Open() },
		})
	}
	paths, err := s.media.SaveAll(uploads)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "imagePaths": paths})
}

func (s *Server) handleBatchList(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "batches": []any{}})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	batches, err := s.history.Recent(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "batches": batches})
}

func (s *Server) handleBatchDetail(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "batch history disabled"})
		return
	}
	batch, err := s.history.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "batch": batch})
}
