package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tradepilot/internal/engine"
	"tradepilot/internal/vault"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func (s *Server) handleStartSession(c *gin.Context) {
	var req engine.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	report, err := s.engine.StartSession(c.Request.Context(), s.userID(c), req)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrSessionActive):
			errorResponse(c, http.StatusConflict, err.Error())
		case errors.Is(err, engine.ErrEngineClosed):
			errorResponse(c, http.StatusServiceUnavailable, err.Error())
		default:
			errorResponse(c, http.StatusBadRequest, err.Error())
		}
		return
	}

	successResponse(c, report)
}

func (s *Server) handleStopSession(c *gin.Context) {
	summary, err := s.engine.StopSession(c.Request.Context(), s.userID(c))
	if err != nil {
		if errors.Is(err, engine.ErrNoActiveSession) {
			errorResponse(c, http.StatusNotFound, err.Error())
			return
		}
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}

	successResponse(c, summary)
}

func (s *Server) handleStatus(c *gin.Context) {
	report, err := s.engine.Status(s.userID(c))
	if err != nil {
		if errors.Is(err, engine.ErrNoActiveSession) {
			errorResponse(c, http.StatusNotFound, err.Error())
			return
		}
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}

	successResponse(c, report)
}

func (s *Server) handleHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))

	records, err := s.engine.History(c.Request.Context(), s.userID(c), c.Query("session_id"), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}

	successResponse(c, records)
}

func (s *Server) handleSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	sessions, err := s.engine.Sessions(c.Request.Context(), s.userID(c), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}

	successResponse(c, sessions)
}

type credentialsRequest struct {
	Venue     string `json:"venue" binding:"required"`
	APIKey    string `json:"api_key" binding:"required"`
	SecretKey string `json:"secret_key" binding:"required"`
}

func (s *Server) handleStoreCredentials(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	err := s.vaultClient.StoreCredentials(c.Request.Context(), s.userID(c), vault.Credentials{
		Venue:     req.Venue,
		APIKey:    req.APIKey,
		SecretKey: req.SecretKey,
	})
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to store credentials")
		return
	}

	// Drop cached venue clients so the next order uses the new keys.
	if s.venueCache != nil {
		s.venueCache.Invalidate(s.userID(c))
	}

	successResponse(c, gin.H{"venue": req.Venue})
}

func (s *Server) handleDeleteCredentials(c *gin.Context) {
	venueName := c.Param("venue")
	if err := s.vaultClient.DeleteCredentials(c.Request.Context(), s.userID(c), venueName); err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to delete credentials")
		return
	}

	if s.venueCache != nil {
		s.venueCache.Invalidate(s.userID(c))
	}

	successResponse(c, gin.H{"venue": venueName})
}
