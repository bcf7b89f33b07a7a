package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"callbridge/internal/auth"
	"callbridge/internal/availability"
	"callbridge/internal/calls"
	"callbridge/internal/reporting"
	"callbridge/internal/routing"
	"callbridge/internal/signaling"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth         *auth.Manager
	Router       *routing.Router
	Signals      *signaling.Service
	Availability availability.Repository
	Reports      *reporting.Service
	Store        calls.Store

	// DefaultOrgID backs requests whose token carries no org claim.
	DefaultOrgID string
}

// --- Auth ---

type loginRequest struct {
	UserID     string `json:"user_id"`
	OrgID      string `json:"org_id"`
	Role       string `json:"role"`
	StaffID    string `json:"staff_id,omitempty"`
	Department string `json:"department,omitempty"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.OrgID == "" {
		req.OrgID = h.DefaultOrgID
	}
	if req.UserID == "" || req.OrgID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, org_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), auth.Identity{
		UserID:  req.UserID,
		OrgID:   req.OrgID,
		Role:    req.Role,
		StaffID: req.StaffID,
		Dept:    req.Department,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	claims, err := h.Auth.Verify(req.RefreshToken, auth.TokenTypeRefresh, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), auth.Identity{
		UserID:  claims.UserID,
		OrgID:   claims.OrgID,
		Role:    claims.Role,
		StaffID: claims.StaffID,
		Dept:    claims.Dept,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

type initiateCallRequest struct {
	Reason        string   `json:"reason,omitempty"`
	TargetStaffID string   `json:"target_staff_id,omitempty"`
	Department    string   `json:"department,omitempty"`
	Skills        []string `json:"skills,omitempty"`
}

// InitiateCall routes a new call. A routing miss is a normal outcome and
// answers 503 with the terminal missed record, not a server error.
func (h Handlers) InitiateCall(c *gin.Context) {
	ident, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req initiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	routed, err := h.Router.RouteNewCall(c.Request.Context(), routing.Request{
		OrgID:         ident.OrgID,
		ClientID:      ident.UserID,
		Reason:        req.Reason,
		TargetStaffID: req.TargetStaffID,
		Department:    req.Department,
		Skills:        req.Skills,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call routing failed"})
		return
	}

	h.Signals.AnnounceRinging(c.Request.Context(), routed, ident)

	if routed.Missed {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   routed.Call.Reason,
			"callId":  routed.Call.ID,
			"status":  routed.Call.Status,
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"callId": routed.Call.ID, "status": routed.Call.Status})
}

func (h Handlers) AcceptCall(c *gin.Context) {
	ident, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	callID := c.Param("id")

	call, err := h.Signals.Accept(c.Request.Context(), ident, callID)
	if err != nil {
		abortWithCallError(c, err, http.StatusConflict)
		return
	}
	c.JSON(http.StatusOK, gin.H{"callId": call.ID, "status": call.Status, "staffId": call.AcceptedByUserID})
}

type declineCallRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h Handlers) DeclineCall(c *gin.Context) {
	ident, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	callID := c.Param("id")

	var req declineCallRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}

	call, err := h.Signals.Decline(c.Request.Context(), ident, callID, req.Reason)
	if err != nil {
		abortWithCallError(c, err, http.StatusConflict)
		return
	}
	c.JSON(http.StatusOK, gin.H{"callId": call.ID, "status": call.Status})
}

func (h Handlers) CancelCall(c *gin.Context) {
	ident, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	callID := c.Param("id")

	call, err := h.Signals.Cancel(c.Request.Context(), ident, callID)
	if err != nil {
		// Cancel after pickup is a caller mistake, not a race.
		abortWithCallError(c, err, http.StatusBadRequest)
		return
	}
	c.JSON(http.StatusOK, gin.H{"callId": call.ID, "status": call.Status})
}

func (h Handlers) EndCall(c *gin.Context) {
	ident, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	callID := c.Param("id")

	call, err := h.Signals.End(c.Request.Context(), ident, callID)
	if err != nil {
		abortWithCallError(c, err, http.StatusConflict)
		return
	}
	c.JSON(http.StatusOK, gin.H{"callId": call.ID, "status": call.Status})
}

func (h Handlers) GetCall(c *gin.Context) {
	ident, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	callID := c.Param("id")

	call, err := h.Store.Get(c.Request.Context(), callID)
	if err != nil {
		abortWithCallError(c, err, http.StatusInternalServerError)
		return
	}
	// Tenant isolation: a call in another org does not exist for this caller.
	if call.OrgID != ident.OrgID {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	participants, err := h.Store.GetParticipants(c.Request.Context(), callID)
	if err != nil {
		abortWithCallError(c, err, http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": call, "participants": participants})
}

// --- Availability ---

type setAvailabilityRequest struct {
	Status string   `json:"status"`
	Skills []string `json:"skills,omitempty"`
}

func (h Handlers) SetAvailability(c *gin.Context) {
	ident, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	var req setAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	status := availability.Status(req.Status)
	if !status.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	staffID := ident.StaffID
	if staffID == "" {
		staffID = ident.UserID
	}
	resp := availability.Responder{
		UserID:    staffID,
		OrgID:     ident.OrgID,
		Status:    status,
		Dept:      ident.Dept,
		Skills:    req.Skills,
		UpdatedAt: time.Now().UTC(),
	}
	if err := h.Availability.Set(c.Request.Context(), resp); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "availability update failed"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h Handlers) ListAvailable(c *gin.Context) {
	ident, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	var skills []string
	if raw := strings.TrimSpace(c.Query("skills")); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				skills = append(skills, s)
			}
		}
	}
	responders, err := h.Availability.FindAvailable(c.Request.Context(), ident.OrgID, skills)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "availability lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"responders": responders})
}

// --- Reports ---

func (h Handlers) CallsReport(c *gin.Context) {
	ident, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	from, errF := time.Parse(time.RFC3339, c.Query("from"))
	to, errT := time.Parse(time.RFC3339, c.Query("to"))
	if errF != nil || errT != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and to must be RFC3339 timestamps"})
		return
	}
	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		OrgID: ident.OrgID,
		Range: reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// abortWithCallError maps store and relay errors onto the REST taxonomy.
// conflictStatus lets cancel report 400 where accept reports 409.
func abortWithCallError(c *gin.Context, err error, conflictStatus int) {
	switch {
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
	case errors.Is(err, calls.ErrConflict):
		c.AbortWithStatusJSON(conflictStatus, gin.H{"error": "call already resolved"})
	case errors.Is(err, signaling.ErrForbidden):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not allowed"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "operation failed"})
	}
}
