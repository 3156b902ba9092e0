package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/waybill/internal/session"
)

// handleAuthCode starts the session if needed and waits for a login code.
// A request that arrives while initialization is already under way joins it
// and returns the same code.
func (s *Server) handleAuthCode(c *gin.Context) {
	ctx := c.Request.Context()
	// Initialization outlives the request that triggered it.
	detached := context.WithoutCancel(ctx)

	if _, err := s.sess.EnsureReady(detached); err != nil && !errors.Is(err, session.ErrAlreadyInitializing) {
		s.log.Error().Err(err).Msg("session start failed")
		s.sess.Reset(detached)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	code, err := s.sess.WaitForCode(ctx, s.codeAttempts, s.codeInterval)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.log.Warn().Err(err).Msg("no login code, resetting session")
		s.sess.Reset(detached)
		fail(c, err)
		return
	}
	if code == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "code": nil, "ready": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"code":     code.Artifact,
		"issuedAt": code.IssuedAt,
		"ready":    false,
	})
}

func (s *Server) handleSessionStatus(c *gin.Context) {
	st := s.sess.Status()
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"ready":        st.Ready,
		"retries":      st.Retries,
		"state":        st.State,
		"initializing": st.Initializing,
		"lastError":    st.LastError,
	})
}

func (s *Server) handleSessionReset(c *gin.Context) {
	s.sess.Reset(context.WithoutCancel(c.Request.Context()))
	c.JSON(http.StatusOK, gin.H{"success": true, "ready": s.sess.Status().Ready})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "session": s.sess.Status()})
}
