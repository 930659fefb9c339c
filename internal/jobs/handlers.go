package jobs

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/nikhilvedi/esrigeo/internal/auth"
	"github.com/nikhilvedi/esrigeo/internal/dumper"
	"github.com/nikhilvedi/esrigeo/internal/middleware"
	"github.com/nikhilvedi/esrigeo/internal/utils"
)

// startRequest is the POST /api/dumps request body: everything in dumper.Config that makes
// sense to accept from an HTTP caller, plus credentials for secured layers. State and
// OutputFormat are not exposed here — a fresh HTTP-triggered job always starts from scratch
// and always writes GeoJSON.
type startRequest struct {
	LayerURL          string            `json:"layer_url" binding:"required"`
	OutFields         string            `json:"out_fields"`
	Where             string            `json:"where"`
	RequestGeometry   bool              `json:"request_geometry"`
	OutSR             string            `json:"out_sr"`
	GeometryPrecision string            `json:"geometry_precision"`
	PaginateOID       bool              `json:"paginate_oid"`
	MaxPageSize       int               `json:"max_page_size"`
	TimeoutSeconds    int               `json:"timeout_seconds"`
	ProxyURL          string            `json:"proxy_url"`
	ExtraQueryArgs    map[string]string `json:"extra_query_args"`
	Token             string            `json:"token"`
	Username          string            `json:"username"`
	Password          string            `json:"password"`
	TokenURL          string            `json:"token_url"`
}

// RegisterRoutes wires the job-control API onto r.
func (s *Service) RegisterRoutes(r *gin.Engine, outputDir string) {
	api := r.Group("/api/dumps")
	api.Use(middleware.ValidationMiddleware())
	{
		api.POST("", s.handleStart(outputDir))
		api.GET("", s.handleList)
		api.GET("/:jobId", s.handleGet)
		api.GET("/:jobId/download", s.handleDownload)
		api.DELETE("/:jobId", s.handleCancel)
	}
}

func (s *Service) handleList(c *gin.Context) {
	params := utils.GetPaginationParams(c)
	all := s.List()

	start := params.Offset
	if start > len(all) {
		start = len(all)
	}
	end := start + params.Limit
	if end > len(all) {
		end = len(all)
	}

	utils.SuccessResponse(c, utils.NewPaginatedResponse(all[start:end], len(all), params))
}

func (s *Service) handleStart(outputDir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req startRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.ErrorResponse(c, utils.NewAPIError(http.StatusBadRequest, "invalid request body", err.Error()))
			return
		}

		extra := req.ExtraQueryArgs
		if req.Where != "" {
			if extra == nil {
				extra = map[string]string{}
			}
			extra["where"] = req.Where
		}
		if req.Token != "" {
			if extra == nil {
				extra = map[string]string{}
			}
			extra["token"] = req.Token
		}
		if req.Username != "" {
			svc := auth.NewService(auth.Config{
				Username: req.Username,
				Password: req.Password,
				Referer:  req.LayerURL,
				TokenURL: req.TokenURL,
			})
			merged, err := auth.WithToken(c.Request.Context(), svc, extra)
			if err != nil {
				utils.ErrorResponse(c, utils.NewAPIError(http.StatusBadGateway, "failed to mint arcgis token", err.Error()))
				return
			}
			extra = merged
		}

		cfg := dumper.Config{
			LayerURL:          req.LayerURL,
			ExtraQueryArgs:    extra,
			OutFields:         req.OutFields,
			RequestGeometry:   req.RequestGeometry,
			OutSR:             req.OutSR,
			GeometryPrecision: req.GeometryPrecision,
			PaginateOID:       req.PaginateOID,
			MaxPageSize:       req.MaxPageSize,
			TimeoutSeconds:    req.TimeoutSeconds,
			ProxyURL:          req.ProxyURL,
			OutputFormat:      dumper.OutputGeoJSON,
		}

		jobID, err := s.Start(cfg, outputDir)
		if err != nil {
			utils.ErrorResponse(c, utils.NewAPIError(http.StatusInternalServerError, "failed to start job", err.Error()))
			return
		}

		utils.SuccessResponse(c, gin.H{"job_id": jobID})
	}
}

func (s *Service) handleGet(c *gin.Context) {
	jobID := c.Param("jobId")
	status, ok := s.Get(jobID)
	if !ok {
		utils.ErrorResponse(c, utils.ErrNotFound)
		return
	}
	utils.SuccessResponse(c, status)
}

func (s *Service) handleCancel(c *gin.Context) {
	jobID := c.Param("jobId")
	if _, ok := s.Get(jobID); !ok {
		utils.ErrorResponse(c, utils.ErrNotFound)
		return
	}
	if !s.Cancel(jobID) {
		utils.ErrorResponse(c, utils.NewAPIError(http.StatusConflict, "job is not running", ""))
		return
	}
	utils.SuccessResponse(c, gin.H{"job_id": jobID, "status": "cancelled"})
}

func (s *Service) handleDownload(c *gin.Context) {
	jobID := c.Param("jobId")
	status, ok := s.Get(jobID)
	if !ok {
		utils.ErrorResponse(c, utils.ErrNotFound)
		return
	}
	if status.Status == "running" {
		utils.ErrorResponse(c, utils.NewAPIError(http.StatusConflict, "job still running", ""))
		return
	}
	if _, err := os.Stat(status.OutputPath); err != nil {
		utils.ErrorResponse(c, utils.ErrNotFound)
		return
	}
	c.FileAttachment(status.OutputPath, jobID+".jsonl")
}
