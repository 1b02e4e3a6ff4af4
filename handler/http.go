package handler

import (
	"errors"
	"net/http"

	"clip-worker/dto"
	"clip-worker/repository"
	"clip-worker/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type JobAPI struct {
	submissions *service.SubmissionService
	queries     *service.QueryService
}

func NewJobAPI(submissions *service.SubmissionService, queries *service.QueryService) *JobAPI {
	return &JobAPI{submissions: submissions, queries: queries}
}

func (a *JobAPI) Register(r gin.IRouter) {
	r.POST("/jobs", a.create)
	r.GET("/jobs", a.list)
	r.GET("/jobs/:id", a.get)
}

func (a *JobAPI) create(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
		return
	}

	job, err := a.submissions.Submit(c.Request.Context(), req)
	if err != nil {
		var vErr *service.ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: vErr.Error(), Field: vErr.Field})
			return
		}
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("failed to submit job")
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to submit job"})
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (a *JobAPI) list(c *gin.Context) {
	jobs, err := a.queries.List(c.Request.Context())
	if err != nil {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("failed to list jobs")
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to list jobs"})
		return
	}
	c.JSON(http.StatusOK, jobs)
}

func (a *JobAPI) get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "job not found"})
		return
	}
	job, err := a.queries.Get(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "job not found"})
		return
	}
	if err != nil {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("failed to get job")
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to get job"})
		return
	}
	c.JSON(http.StatusOK, job)
}
