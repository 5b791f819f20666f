package server

import (
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/labstack/echo/v4"

	"github.com/eloisaabril01/emailscrap/internal/app"
	"github.com/eloisaabril01/emailscrap/internal/export"
	"github.com/eloisaabril01/emailscrap/internal/listing"
)

func (s *Server) handleProgress(c echo.Context) error {
	return c.JSON(http.StatusOK, s.runs.Tracker().Snapshot())
}

func (s *Server) handleStop(c echo.Context) error {
	s.runs.Stop()
	return c.JSON(http.StatusOK, map[string]string{"status": "stopping"})
}

func (s *Server) handleResults(c echo.Context) error {
	results := s.runs.Tracker().Results()
	if results == nil {
		results = []listing.VerifiedResult{}
	}
	return c.JSON(http.StatusOK, results)
}

type searchRequest struct {
	Query string `json:"query" form:"query" query:"query"`
	Limit int    `json:"limit" form:"limit" query:"limit"`
}

type searchResponse struct {
	Status string `json:"status"`
	Query  string `json:"query"`
	Limit  int    `json:"limit"`
}

func (s *Server) handleSearch(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid search request")
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, app.ErrEmptyQuery.Error())
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}

	if err := s.runs.Start(req.Query, req.Limit); err != nil {
		if errors.Is(err, app.ErrRunInProgress) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.log.Infow("Search started", "query", req.Query, "limit", req.Limit)
	return c.JSON(http.StatusAccepted, searchResponse{Status: "started", Query: req.Query, Limit: req.Limit})
}

func (s *Server) handleExports(c echo.Context) error {
	files, err := s.exports.List()
	if err != nil {
		return err
	}
	if files == nil {
		files = []export.FileInfo{}
	}
	return c.JSON(http.StatusOK, files)
}

func (s *Server) handleCombine(c echo.Context) error {
	summary, err := s.exports.Combine(c.Request().Context())
	if errors.Is(err, export.ErrNoDestinations) {
		return echo.NewHTTPError(http.StatusNotFound, "no export files to combine")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) handleDownload(c echo.Context) error {
	name := c.Param("filename")
	path, err := s.exports.Path(name)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "file not found")
	}
	return c.Attachment(path, name)
}
