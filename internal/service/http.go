package service

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/holoctl/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	version          = "0.0.1"
	maxBodyBytes     = 8 << 20
	streamWriteWait  = 10 * time.Second
	streamPingPeriod = 30 * time.Second
	streamBuffer     = 32
)

type measurementBody struct {
	Configuration any `json:"configuration"`
}

type evaluationBody struct {
	EvaluationType any `json:"evaluation_type"`
	ResourceURIs   any `json:"resource_uris"`
}

// Router builds the HTTP surface.
func (s *Service) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.HTTPMiddleware(s.cfg.ID))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  normalizeOrigins(s.cfg.CORSOrigins),
		AllowMethods:  []string{"GET", "POST"},
		AllowHeaders:  []string{"Origin", "Content-Type", observability.RequestIDHeader},
		ExposeHeaders: []string{observability.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"service": s.cfg.ID,
			"version": version,
		})
	})
	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":   s.orch != nil,
			"uptime":  time.Since(s.started).String(),
			"service": s.cfg.ID,
			"version": version,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Status())
	})

	r.POST("/services/measurement", s.handleMeasurement)
	r.POST("/services/evaluation", s.handleEvaluation)
	r.POST("/validate", s.handleValidate)
	r.GET("/tasks", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tasks": s.PendingTasks()})
	})
	r.GET("/events", s.handleRecentEvents)
	r.GET("/events/stream", s.handleEventStream)
	return r
}

func (s *Service) handleMeasurement(c *gin.Context) {
	var body measurementBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ack := s.RequestMeasurement(body.Configuration)
	c.Set(observability.KeyTaskKind, "measurement")
	c.Set(observability.KeyTrigger, ack.TriggerResult)
	c.JSON(http.StatusOK, ack)
}

func (s *Service) handleEvaluation(c *gin.Context) {
	var body evaluationBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ack := s.RequestEvaluation(body.EvaluationType, body.ResourceURIs)
	c.Set(observability.KeyTaskKind, "evaluation")
	c.Set(observability.KeyTrigger, ack.TriggerResult)
	c.JSON(http.StatusOK, ack)
}

// handleValidate takes the configuration document as the raw request body.
func (s *Service) handleValidate(c *gin.Context) {
	doc, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.Validate(doc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":       res.OK(),
		"summary":  res.Summary(),
		"errors":   nonNil(res.Errors),
		"warnings": nonNil(res.Warnings),
		"values":   res.Values,
	})
}

func (s *Service) handleRecentEvents(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, gin.H{"events": s.RecentEvents(limit)})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the cors middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEventStream pushes every completion event to a websocket client as
// one JSON text message.
func (s *Service) handleEventStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("service: websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := s.hub.Subscribe(streamBuffer)
	defer cancel()

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-gone:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Warn().Err(err).Str("task_id", ev.TaskID).Msg("service: encode event failed")
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
