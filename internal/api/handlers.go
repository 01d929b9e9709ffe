package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/hjunqq/hydrosim-platform/internal/auth"
	"github.com/hjunqq/hydrosim-platform/internal/build"
	"github.com/hjunqq/hydrosim-platform/internal/config"
	"github.com/hjunqq/hydrosim-platform/internal/db"
	"github.com/hjunqq/hydrosim-platform/internal/deploy"
	"github.com/hjunqq/hydrosim-platform/internal/errors"
	"github.com/hjunqq/hydrosim-platform/internal/monitoring"
	"github.com/hjunqq/hydrosim-platform/internal/settings"
	"github.com/hjunqq/hydrosim-platform/internal/status"
	"github.com/hjunqq/hydrosim-platform/internal/storage"
	"github.com/hjunqq/hydrosim-platform/internal/types"
	"github.com/hjunqq/hydrosim-platform/internal/webhook"
)

// Handler exposes the core operations over HTTP. CRUD over students,
// teachers, semesters and registries lives with the admin surface; only
// the endpoints whose contracts cross into the core are here.
type Handler struct {
	cfg          *config.Config
	repos        *db.Repositories
	controller   *deploy.Controller
	orchestrator *build.Orchestrator
	aggregator   *status.Aggregator
	intake       *webhook.Intake
	storage      *storage.Client
	logger       *logrus.Logger
}

func NewHandler(
	cfg *config.Config,
	repos *db.Repositories,
	controller *deploy.Controller,
	orchestrator *build.Orchestrator,
	aggregator *status.Aggregator,
	intake *webhook.Intake,
	storageClient *storage.Client,
	logger *logrus.Logger,
) *Handler {
	return &Handler{
		cfg:          cfg,
		repos:        repos,
		controller:   controller,
		orchestrator: orchestrator,
		aggregator:   aggregator,
		intake:       intake,
		storage:      storageClient,
		logger:       logger,
	}
}

type deployRequest struct {
	Image        string `json:"image" binding:"required"`
	ProjectClass string `json:"project_class" binding:"required"`
}

// Deploy handles POST /api/v1/deploy/:student_code.
func (h *Handler) Deploy(c *gin.Context) {
	var req deployRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.ErrInvalidInput.WithError(err))
		return
	}

	student, err := h.repos.Students.GetByCode(c.Request.Context(), c.Param("student_code"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !auth.CanDeploy(actorFrom(c), student) {
		respondError(c, errors.ErrForbidden)
		return
	}

	result, err := h.controller.Deploy(c.Request.Context(), student, req.Image, types.ProjectClass(req.ProjectClass), nil)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// DeployBuild handles POST /api/v1/builds/:id/deploy: deploy the image a
// finished build produced.
func (h *Handler) DeployBuild(c *gin.Context) {
	buildID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, errors.ErrInvalidInput.WithMessage("Invalid build id"))
		return
	}

	buildRow, err := h.repos.Builds.GetByID(c.Request.Context(), buildID)
	if err != nil {
		respondError(c, err)
		return
	}
	if buildRow.Status != types.BuildStatusSuccess {
		respondError(c, errors.ErrStateConflict.WithMessage("Build has not succeeded"))
		return
	}

	student, err := h.repos.Students.GetByID(c.Request.Context(), buildRow.StudentID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !auth.CanDeploy(actorFrom(c), student) {
		respondError(c, errors.ErrForbidden)
		return
	}

	image, err := h.resolveBuildImage(c, buildRow, student)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.controller.Deploy(c.Request.Context(), student, image, student.ProjectClass, &buildRow.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) resolveBuildImage(c *gin.Context, buildRow *types.Build, student *types.Student) (string, error) {
	ctx := c.Request.Context()
	cfg, err := h.repos.BuildConfigs.GetByStudentID(ctx, student.ID)
	if err != nil {
		return "", err
	}

	if cfg.ImageRepo != nil && *cfg.ImageRepo != "" {
		return *cfg.ImageRepo + ":" + buildRow.ImageTag, nil
	}

	sys, err := h.repos.Settings.Get(ctx)
	if err != nil {
		return "", err
	}
	var registry *types.Registry
	registryID := cfg.RegistryID
	if registryID == nil {
		registryID = sys.DefaultRegistryID
	}
	if registryID != nil {
		registry, _ = h.repos.Registries.GetByID(ctx, *registryID)
	}
	repo := settings.RenderImageRepo(sys.DefaultImageRepoTemplate, registry, student.StudentCode)
	if repo == "" {
		return "", errors.ErrImageRepoUnresolved
	}
	return repo + ":" + buildRow.ImageTag, nil
}

// Delete handles DELETE /api/v1/deploy/:student_code.
func (h *Handler) Delete(c *gin.Context) {
	student, err := h.repos.Students.GetByCode(c.Request.Context(), c.Param("student_code"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !auth.CanDelete(actorFrom(c), student) {
		respondError(c, errors.ErrForbidden)
		return
	}

	class := types.ProjectClass(c.Query("project_class"))
	if class == "" {
		class = student.ProjectClass
	}

	result, err := h.controller.Delete(c.Request.Context(), student, class)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Status handles GET /api/v1/deploy/:student_code/status.
func (h *Handler) Status(c *gin.Context) {
	student, err := h.repos.Students.GetByCode(c.Request.Context(), c.Param("student_code"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !auth.CanViewStudent(actorFrom(c), student) {
		respondError(c, errors.ErrForbidden)
		return
	}

	monitoring.StatusQueries.WithLabelValues("single").Inc()
	c.JSON(http.StatusOK, h.aggregator.Status(c.Request.Context(), student.StudentCode, student.ProjectClass))
}

// StatusAll handles GET /api/v1/status for the admin list view.
func (h *Handler) StatusAll(c *gin.Context) {
	actor := actorFrom(c)
	if actor.Role != auth.RoleAdmin && actor.Role != auth.RoleTeacher {
		respondError(c, errors.ErrForbidden)
		return
	}

	monitoring.StatusQueries.WithLabelValues("bulk").Inc()
	c.JSON(http.StatusOK, h.aggregator.All(c.Request.Context()))
}

type triggerRequest struct {
	StudentID int64  `json:"student_id" binding:"required"`
	CommitSHA string `json:"commit_sha"`
	Branch    string `json:"branch"`
}

// TriggerBuild handles POST /api/v1/builds/trigger.
func (h *Handler) TriggerBuild(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.ErrInvalidInput.WithError(err))
		return
	}

	student, err := h.repos.Students.GetByID(c.Request.Context(), req.StudentID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !auth.CanDeploy(actorFrom(c), student) {
		respondError(c, errors.ErrForbidden)
		return
	}

	commitSHA := req.CommitSHA
	if commitSHA == "" {
		commitSHA = "latest"
	}

	buildRow, err := h.orchestrator.Trigger(c.Request.Context(), req.StudentID, commitSHA, req.Branch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, buildRow)
}

// GetBuild handles GET /api/v1/builds/:id with lazy sync-on-read.
func (h *Handler) GetBuild(c *gin.Context) {
	buildID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, errors.ErrInvalidInput.WithMessage("Invalid build id"))
		return
	}

	buildRow, err := h.repos.Builds.GetByID(c.Request.Context(), buildID)
	if err != nil {
		respondError(c, err)
		return
	}

	student, err := h.repos.Students.GetByID(c.Request.Context(), buildRow.StudentID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !auth.CanViewStudent(actorFrom(c), student) {
		respondError(c, errors.ErrForbidden)
		return
	}

	synced, err := h.orchestrator.Sync(c.Request.Context(), buildRow)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, synced)
}

// GetBuildLogs handles GET /api/v1/builds/:id/logs, serving the archived
// log content.
func (h *Handler) GetBuildLogs(c *gin.Context) {
	buildID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, errors.ErrInvalidInput.WithMessage("Invalid build id"))
		return
	}

	buildRow, err := h.repos.Builds.GetByID(c.Request.Context(), buildID)
	if err != nil {
		respondError(c, err)
		return
	}

	student, err := h.repos.Students.GetByID(c.Request.Context(), buildRow.StudentID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !auth.CanViewStudent(actorFrom(c), student) {
		respondError(c, errors.ErrForbidden)
		return
	}

	if h.storage == nil {
		respondError(c, errors.ErrStorageUnavailable)
		return
	}
	if buildRow.LogObjectKey == nil || *buildRow.LogObjectKey == "" {
		respondError(c, errors.ErrNotFound.WithMessage("Build logs not archived"))
		return
	}

	if c.Query("presign") == "true" {
		url, err := h.storage.PresignedLogURL(c.Request.Context(), *buildRow.LogObjectKey, time.Hour)
		if err != nil {
			respondError(c, errors.ErrInternal.WithError(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"url": url})
		return
	}

	content, err := h.storage.GetLog(c.Request.Context(), *buildRow.LogObjectKey)
	if err != nil {
		respondError(c, errors.ErrInternal.WithError(err))
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(content))
}

// RotateDeployKey handles POST /api/v1/students/:id/deploy-key.
func (h *Handler) RotateDeployKey(c *gin.Context) {
	studentID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, errors.ErrInvalidInput.WithMessage("Invalid student id"))
		return
	}

	student, err := h.repos.Students.GetByID(c.Request.Context(), studentID)
	if err != nil {
		respondError(c, err)
		return
	}

	cfg, err := h.repos.BuildConfigs.GetByStudentID(c.Request.Context(), studentID)
	if err != nil {
		respondError(c, err)
		return
	}

	actor := actorFrom(c)
	hasKey := cfg.DeployKeyPrivate != nil && *cfg.DeployKeyPrivate != ""
	if hasKey {
		// Rotation replaces an existing pair and needs explicit privilege;
		// first-time generation follows the view rule.
		if !auth.CanRotateDeployKey(actor, student) {
			respondError(c, errors.ErrForbidden)
			return
		}
	} else if !auth.CanViewStudent(actor, student) {
		respondError(c, errors.ErrForbidden)
		return
	}

	pair, err := build.GenerateDeployKeyPair()
	if err != nil {
		respondError(c, errors.ErrInternal.WithError(err))
		return
	}
	if err := h.repos.BuildConfigs.SetDeployKey(c.Request.Context(), studentID, pair.PublicKey, pair.PrivateKey, pair.Fingerprint); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"public_key":  pair.PublicKey,
		"fingerprint": pair.Fingerprint,
	})
}

// Webhook handles POST /api/v1/webhooks/push.
func (h *Handler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, errors.ErrInvalidInput.WithMessage("Failed to read body"))
		return
	}

	result, err := h.intake.OnPush(c.Request.Context(), c.Request.Header, body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Health handles GET /healthz.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
