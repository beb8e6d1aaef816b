package livesession

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aura-learning/backend/internal/auth"
	"github.com/aura-learning/backend/internal/middleware"
	"github.com/aura-learning/backend/internal/models"
	"github.com/aura-learning/backend/internal/platform"
	"github.com/aura-learning/backend/internal/store"
	"github.com/aura-learning/backend/pkg/response"
)

// JoinRequest is the body for POST /sessions/:id/join.
type JoinRequest struct {
	Role models.ParticipantRole `json:"role"`
}

// MicRequest is the body for PATCH /sessions/:id/participants/:identity/mic.
type MicRequest struct {
	Unmute *bool `json:"unmute" binding:"required"`
}

// CameraRequest is the body for PATCH /sessions/:id/participants/:identity/camera.
type CameraRequest struct {
	Enable *bool `json:"enable" binding:"required"`
}

// RaiseHandRequest is the body for POST /sessions/:id/hands.
type RaiseHandRequest struct {
	ParticipantID string `json:"participant_id" binding:"required,uuid"`
}

// RespondRequest is the body for POST /sessions/:id/hands/:handId/respond.
type RespondRequest struct {
	Decision string `json:"decision" binding:"required,oneof=accept reject"`
}

// Handler exposes the orchestrator over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a live session handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the session routes on a JWT-protected group. staff gates
// instructor-only operations.
func (h *Handler) Register(api gin.IRoutes, staff gin.HandlerFunc) {
	api.POST("/sessions", staff, h.Create)
	api.GET("/sessions", h.List)
	api.GET("/sessions/:id", h.Get)
	api.POST("/sessions/:id/start", staff, h.Start)
	api.POST("/sessions/:id/end", staff, h.End)
	api.POST("/sessions/:id/join", h.Join)
	api.POST("/sessions/:id/leave", h.Leave)
	api.GET("/sessions/:id/credential", h.Credential)
	api.PATCH("/sessions/:id/participants/:identity/mic", h.Mic)
	api.PATCH("/sessions/:id/participants/:identity/camera", h.Camera)
	api.DELETE("/sessions/:id/participants/:identity", staff, h.Remove)
	api.POST("/sessions/:id/hands", h.RaiseHand)
	api.POST("/sessions/:id/hands/:handId/respond", staff, h.Respond)
	api.POST("/sessions/:id/hands/:handId/end", staff, h.EndInteraction)
}

func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

func ok(c *gin.Context, data any, warnings []platform.Warning) {
	if len(warnings) > 0 {
		response.OKWithWarnings(c, data, platform.Messages(warnings))
		return
	}
	response.OK(c, data)
}

// Create handles POST /sessions.
func (h *Handler) Create(c *gin.Context) {
	var in CreateSessionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	in.CreatedBy = middleware.UserID(c)
	sess, err := h.svc.CreateSession(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, sess)
}

// List handles GET /sessions with optional course_id, cohort_id, state, platform, from, to, limit and offset.
func (h *Handler) List(c *gin.Context) {
	var f store.SessionFilter
	for _, q := range []struct {
		name string
		dst  **uuid.UUID
	}{{"course_id", &f.CourseID}, {"cohort_id", &f.CohortID}} {
		if v := c.Query(q.name); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				response.BadRequest(c, "invalid "+q.name)
				return
			}
			*q.dst = &id
		}
	}
	for _, q := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		if v := c.Query(q.name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				response.BadRequest(c, "invalid "+q.name+", expected RFC3339")
				return
			}
			*q.dst = &t
		}
	}
	f.State = models.SessionState(c.Query("state"))
	f.Platform = models.Platform(c.Query("platform"))
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			response.BadRequest(c, "invalid limit")
			return
		}
		f.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			response.BadRequest(c, "invalid offset")
			return
		}
		f.Offset = n
	}
	list, err := h.svc.ListSessions(c.Request.Context(), f)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// Get handles GET /sessions/:id.
func (h *Handler) Get(c *gin.Context) {
	id, valid := sessionID(c)
	if !valid {
		return
	}
	details, err := h.svc.GetSessionDetails(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, details)
}

// Start handles POST /sessions/:id/start.
func (h *Handler) Start(c *gin.Context) {
	id, valid := sessionID(c)
	if !valid {
		return
	}
	sess, err := h.svc.StartSession(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, sess)
}

// End handles POST /sessions/:id/end.
func (h *Handler) End(c *gin.Context) {
	id, valid := sessionID(c)
	if !valid {
		return
	}
	res, err := h.svc.EndSession(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	ok(c, res, res.Warnings)
}

// Join handles POST /sessions/:id/join. The caller joins as themselves; elevated
// session roles need a matching platform role.
func (h *Handler) Join(c *gin.Context) {
	id, valid := sessionID(c)
	if !valid {
		return
	}
	var req JoinRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	if req.Role == "" {
		req.Role = models.RoleStudent
	}
	caller := middleware.UserRole(c)
	switch req.Role {
	case models.RoleInstructor:
		if !middleware.HasRole(caller, auth.RoleInstructor, auth.RoleAdmin) {
			response.Forbidden(c, "only instructors can join as instructor")
			return
		}
	case models.RoleModerator:
		if !middleware.HasRole(caller, auth.RoleInstructor, auth.RoleAdmin, string(models.RoleModerator)) {
			response.Forbidden(c, "only staff can join as moderator")
			return
		}
	}
	res, err := h.svc.JoinSession(c.Request.Context(), id, middleware.UserID(c), req.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// Leave handles POST /sessions/:id/leave.
func (h *Handler) Leave(c *gin.Context) {
	id, valid := sessionID(c)
	if !valid {
		return
	}
	res, err := h.svc.LeaveSession(c.Request.Context(), id, middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// Credential handles GET /sessions/:id/credential.
func (h *Handler) Credential(c *gin.Context) {
	id, valid := sessionID(c)
	if !valid {
		return
	}
	cred, err := h.svc.RefreshCredential(c.Request.Context(), id, middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, cred)
}

// Mic handles PATCH /sessions/:id/participants/:identity/mic.
func (h *Handler) Mic(c *gin.Context) {
	id, valid := sessionID(c)
	if !valid {
		return
	}
	var req MicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !actsFor(c, c.Param("identity")) {
		response.Forbidden(c, "students can only change their own microphone")
		return
	}
	res, err := h.svc.SetMic(c.Request.Context(), id, c.Param("identity"), *req.Unmute)
	if err != nil {
		response.Error(c, err)
		return
	}
	ok(c, res, res.Warnings)
}

// Camera handles PATCH /sessions/:id/participants/:identity/camera.
func (h *Handler) Camera(c *gin.Context) {
	id, valid := sessionID(c)
	if !valid {
		return
	}
	var req CameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !actsFor(c, c.Param("identity")) {
		response.Forbidden(c, "students can only change their own camera")
		return
	}
	res, err := h.svc.SetCamera(c.Request.Context(), id, c.Param("identity"), *req.Enable)
	if err != nil {
		response.Error(c, err)
		return
	}
	ok(c, res, res.Warnings)
}

// Remove handles DELETE /sessions/:id/participants/:identity.
func (h *Handler) Remove(c *gin.Context) {
	id, valid := sessionID(c)
	if !valid {
		return
	}
	res, err := h.svc.RemoveParticipant(c.Request.Context(), id, c.Param("identity"))
	if err != nil {
		response.Error(c, err)
		return
	}
	ok(c, res, res.Warnings)
}

// RaiseHand handles POST /sessions/:id/hands.
func (h *Handler) RaiseHand(c *gin.Context) {
	id, valid := sessionID(c)
	if !valid {
		return
	}
	var req RaiseHandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	participantID := uuid.MustParse(req.ParticipantID)
	if !isStaff(c) {
		self, err := h.svc.presentParticipant(c.Request.Context(), id, middleware.UserID(c))
		if err != nil || self.ID != participantID {
			response.Forbidden(c, "students can only raise their own hand")
			return
		}
	}
	hand, err := h.svc.RaiseHand(c.Request.Context(), id, participantID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, hand)
}

func isStaff(c *gin.Context) bool {
	return middleware.HasRole(middleware.UserRole(c), auth.RoleInstructor, auth.RoleAdmin)
}

// actsFor reports whether the caller may change identity's media.
func actsFor(c *gin.Context, identity string) bool {
	return identity == middleware.UserID(c) || isStaff(c)
}

func handID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("handId"))
	if err != nil {
		response.BadRequest(c, "invalid hand id")
		return uuid.Nil, false
	}
	return id, true
}

// Respond handles POST /sessions/:id/hands/:handId/respond.
func (h *Handler) Respond(c *gin.Context) {
	id, valid := sessionID(c)
	if !valid {
		return
	}
	hid, valid := handID(c)
	if !valid {
		return
	}
	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.svc.RespondToHand(c.Request.Context(), id, hid, req.Decision == "accept")
	if err != nil {
		response.Error(c, err)
		return
	}
	ok(c, res, res.Warnings)
}

// EndInteraction handles POST /sessions/:id/hands/:handId/end.
func (h *Handler) EndInteraction(c *gin.Context) {
	id, valid := sessionID(c)
	if !valid {
		return
	}
	hid, valid := handID(c)
	if !valid {
		return
	}
	res, err := h.svc.EndHandInteraction(c.Request.Context(), id, hid)
	if err != nil {
		response.Error(c, err)
		return
	}
	ok(c, res, res.Warnings)
}
