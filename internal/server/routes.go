// Package server exposes the dispatch surface over HTTP: status of the
// current run, start / reset triggers, and payslip upload.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lucasplcorrea/EnviaFolha/internal/common"
	"github.com/lucasplcorrea/EnviaFolha/internal/dispatch"
	"github.com/lucasplcorrea/EnviaFolha/internal/segment"
	"github.com/lucasplcorrea/EnviaFolha/internal/status"
)

// DispatchRunner starts one dispatch pass. *dispatch.Orchestrator
// satisfies it.
type DispatchRunner interface {
	Run(ctx context.Context) (*dispatch.Summary, error)
}

// PayslipSegmenter splits an uploaded document into per-employee
// pages. *segment.Segmenter satisfies it.
type PayslipSegmenter interface {
	Segment(ctx context.Context, sourcePath, outputDir string) (*segment.Result, error)
}

type API struct {
	paths     common.PathsConfig
	tracker   *status.Tracker
	runner    DispatchRunner
	segmenter PayslipSegmenter
	logger    *slog.Logger
}

func NewAPI(paths common.PathsConfig, tracker *status.Tracker, runner DispatchRunner, segmenter PayslipSegmenter, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{paths: paths, tracker: tracker, runner: runner, segmenter: segmenter, logger: logger}
}

func registerRoutes(r *gin.Engine, api *API) {
	r.GET("/healthz", api.handleHealth)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/dispatch/status", api.handleStatus)
		v1.POST("/dispatch/start", api.handleStart)
		v1.POST("/dispatch/reset", api.handleReset)
		v1.POST("/payslips/upload", api.handleUpload)
		v1.GET("/payslips", api.handleListPayslips)
	}
}

func (a *API) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *API) handleStatus(c *gin.Context) {
	snap := a.tracker.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":   snap,
		"progress": a.tracker.Progress(),
	})
}

// handleStart launches a run in the background. The single-flight
// guard lives in the tracker, so a concurrent start simply fails.
func (a *API) handleStart(c *gin.Context) {
	if a.tracker.IsRunning() {
		c.JSON(http.StatusConflict, gin.H{"error": common.ErrRunActive.Error()})
		return
	}

	go func() {
		summary, err := a.runner.Run(context.Background())
		if err != nil {
			a.logger.Error("server.dispatch.failed", "error", err)
			return
		}
		a.logger.Info("server.dispatch.done",
			"execution_id", summary.ExecutionID,
			"success", summary.Success,
			"failed", summary.Failed)
	}()

	c.JSON(http.StatusAccepted, gin.H{"message": "dispatch started"})
}

// handleReset is the emergency stop: it destroys the run record
// unconditionally so a running flag left behind by a crash never
// blocks the next start. It does not interrupt an in-flight send.
func (a *API) handleReset(c *gin.Context) {
	if err := a.tracker.Reset(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "status reset"})
}

// handleUpload receives the multi-page payroll PDF and segments it
// into the payslip directory.
func (a *API) handleUpload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
		return
	}
	if !strings.EqualFold(filepath.Ext(file.Filename), ".pdf") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only PDF uploads are accepted"})
		return
	}

	dest := filepath.Join(a.paths.UploadDir, filepath.Base(file.Filename))
	if err := c.SaveUploadedFile(file, dest); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	result, err := a.segmenter.Segment(c.Request.Context(), dest, a.paths.PayslipDir)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pages":       result.Pages,
		"unprotected": result.Unprotected,
	})
}

func (a *API) handleListPayslips(c *gin.Context) {
	names, err := segment.ListSegmented(a.paths.PayslipDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.JSON(http.StatusOK, gin.H{"files": []string{}})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"files": names})
}
