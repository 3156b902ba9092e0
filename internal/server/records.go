package server

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/waybill/internal/models"
	"github.com/zulandar/waybill/internal/records"
	"github.com/zulandar/waybill/internal/sheet"
)

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid ID format"})
		return 0, false
	}
	return uint(id), true
}

func (s *Server) handleRecordList(c *gin.Context) {
	all, err := s.records.List(c.Request.Context())
	if err != nil {
		failMessage(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": all})
}

func (s *Server) handleRecordGet(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	r, err := s.records.Get(c.Request.Context(), id)
	if err != nil {
		failMessage(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) handleRecordCreate(c *gin.Context) {
	var in models.Record
	if err := c.ShouldBindJSON(&in); err != nil {
		failMessage(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := s.records.Create(c.Request.Context(), &in); err != nil {
		failMessage(c, err)
		return
	}
	c.JSON(http.StatusCreated, in)
}

func (s *Server) handleRecordUpdate(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var in models.Record
	if err := c.ShouldBindJSON(&in); err != nil {
		failMessage(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	r, err := s.records.Update(c.Request.Context(), id, in)
	if err != nil {
		failMessage(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) handleRecordDelete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.records.Delete(c.Request.Context(), id); err != nil {
		failMessage(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Record deleted successfully"})
}

func (s *Server) handleRecordSearch(c *gin.Context) {
	found, err := s.records.SearchByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		failMessage(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

// handleRecordImport loads an uploaded .xlsx or .json ledger export.
func (s *Server) handleRecordImport(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		failMessage(c, fmt.Errorf("%w: file is required", errBadRequest))
		return
	}
	f, err := fh.Open()
	if err != nil {
		failMessage(c, fmt.Errorf("records: open upload: %w", err))
		return
	}
	defer f.Close()

	var rows []models.Record
	switch strings.ToLower(filepath.Ext(fh.Filename)) {
	case ".xlsx":
		rows, err = sheet.ReadLedger(f)
	case ".json":
		rows, err = records.DecodeJSON(f)
	default:
		err = fmt.Errorf("unsupported file %q (want .xlsx or .json)", fh.Filename)
	}
	if err != nil {
		failMessage(c, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	n, err := s.records.ImportMany(c.Request.Context(), rows)
	if err != nil {
		failMessage(c, err)
		return
	}
	s.log.Info().Int("imported", n).Str("file", fh.Filename).Msg("records imported")
	c.JSON(http.StatusCreated, gin.H{"imported": n})
}
