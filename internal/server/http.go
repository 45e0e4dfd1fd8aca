package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"openfms/jt808/internal/command"
	"openfms/jt808/internal/jt808"
	"openfms/jt808/internal/protocol"
)

const defaultHistoryLimit = 20

func (s *TCPServer) serveHTTP(srv *http.Server, l net.Listener) {
	s.log.Info().Str("addr", l.Addr().String()).Msg("HTTP server listening")
	if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
		s.log.Error().Err(err).Msg("HTTP server error")
	}
}

// Router builds the admin API
func (s *TCPServer) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)

	admin := r.Group("/")
	if s.config.AdminSecret != "" {
		admin.Use(bearerAuth([]byte(s.config.AdminSecret)))
	}
	admin.GET("/sessions", s.handleSessions)
	admin.GET("/commands/:terminal", s.handleCommandHistory)
	admin.POST("/send-command", s.handleSendCommand)
	return r
}

// bearerAuth accepts HS256 tokens signed with secret and stores their claims
// under "claims"
func bearerAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}
		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("claims", claims)
		c.Next()
	}
}

func operator(c *gin.Context) string {
	if claims, ok := c.Get("claims"); ok {
		if sub, err := claims.(jwt.MapClaims).GetSubject(); err == nil {
			return sub
		}
	}
	return ""
}

func (s *TCPServer) handleHealth(c *gin.Context) {
	sessions := 0
	s.sessions.Range(func(_, _ interface{}) bool {
		sessions++
		return true
	})
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"gateway_id":       s.config.GatewayID,
		"sessions":         sessions,
		"pending_commands": s.tracker.Len(),
		"history":          s.commands != nil,
	})
}

func (s *TCPServer) handleSessions(c *gin.Context) {
	sessions := make([]SessionInfo, 0)
	s.sessions.Range(func(_, value interface{}) bool {
		sessions = append(sessions, value.(*Session).Info())
		return true
	})
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].DeviceID < sessions[j].DeviceID })
	c.JSON(http.StatusOK, sessions)
}

func (s *TCPServer) handleCommandHistory(c *gin.Context) {
	if s.commands == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "command history is not configured"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit)))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	terminal := jt808.NormalizeTerminalID(c.Param("terminal"))
	records, err := s.commands.CommandHistory(c.Request.Context(), terminal, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"device_id": terminal, "commands": records})
}

type sendCommandRequest struct {
	CommandID string                 `json:"command_id"`
	DeviceID  string                 `json:"device_id" binding:"required"`
	Type      string                 `json:"type" binding:"required"`
	Params    map[string]interface{} `json:"params"`
	Wait      bool                   `json:"wait"`
}

func (s *TCPServer) handleSendCommand(c *gin.Context) {
	var req sendCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd := protocol.StandardCommand{
		CommandID: req.CommandID,
		DeviceID:  req.DeviceID,
		Type:      req.Type,
		Params:    req.Params,
	}
	p, err := s.SendCommand(c.Request.Context(), cmd)
	switch {
	case errors.Is(err, ErrNotConnected):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, command.ErrAlreadyQueued):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if op := operator(c); op != "" {
		s.log.Info().Str("operator", op).Str("device_id", req.DeviceID).Str("type", req.Type).Msg("command issued")
	}

	if p == nil {
		c.JSON(http.StatusOK, gin.H{"status": protocol.StatusSent})
		return
	}
	if !req.Wait {
		c.JSON(http.StatusAccepted, gin.H{
			"status":     protocol.StatusSent,
			"command_id": p.ID,
			"serial":     p.Serial,
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.CommandTimeout)
	defer cancel()
	resp, err := p.Wait(ctx)
	if err != nil {
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"error":      err.Error(),
			"command_id": p.ID,
			"serial":     p.Serial,
		})
		return
	}
	c.JSON(http.StatusOK, resp)
}
