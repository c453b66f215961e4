package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"page-mirror/internal/db"
	"page-mirror/internal/models"
	"page-mirror/internal/webhook"
)

const maxWebhookBody = 1 << 20 // 1MB

// webhookChallenge answers the platform's subscription handshake. The
// challenge echoes back as a raw string, not JSON.
func (s *Server) webhookChallenge(c *gin.Context) {
	mode := c.Query("hub.mode")
	challenge := c.Query("hub.challenge")
	verifyToken := c.Query("hub.verify_token")

	echo, ok := webhook.VerifyChallenge(mode, verifyToken, challenge, s.cfg.WebhookVerifyToken)
	if !ok {
		s.log.Warn("webhook_challenge_rejected", "mode", mode)
		c.JSON(http.StatusForbidden, gin.H{
			"error": gin.H{
				"code":    "verification_failed",
				"message": "webhook verification failed",
			},
		})
		return
	}

	s.log.Info("webhook_challenge_accepted")
	c.String(http.StatusOK, echo)
}

// webhookDelivery verifies and processes one pushed delivery. The signature
// is computed over the exact raw body bytes, so the body is read before any
// decoding happens.
func (s *Server) webhookDelivery(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "invalid_body",
				"message": "failed to read request body",
			},
		})
		return
	}

	signature := c.GetHeader("X-Hub-Signature-256")
	if !webhook.VerifySignature(body, signature, s.cfg.AppSecret) {
		s.log.Warn("webhook_rejected", "reason", "bad_signature", "client_ip", c.ClientIP())
		c.JSON(http.StatusForbidden, gin.H{
			"error": gin.H{
				"code":    "invalid_signature",
				"message": "signature verification failed",
			},
		})
		return
	}

	payload, validationErrs := webhook.ValidatePayload(body)
	if len(validationErrs) > 0 {
		s.log.Warn("webhook_rejected", "reason", "invalid_payload", "violations", len(validationErrs))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "invalid_payload",
				"message": "payload validation failed",
				"details": validationErrs,
			},
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	summary := s.reconciler.ProcessPayload(ctx, payload)
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"processed": summary.Processed,
		"skipped":   summary.Skipped,
	})
}

// triggerSync runs a full sync on demand (admin only).
func (s *Server) triggerSync(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Minute)
	defer cancel()

	result, err := s.orch.Run(ctx)
	timestamp := time.Now().UTC().Format(time.RFC3339)

	if err != nil {
		s.log.Error("manual_sync_failed", "error", err)
		// no internal detail in the response body
		c.JSON(http.StatusInternalServerError, gin.H{
			"success":   false,
			"error":     "sync failed",
			"timestamp": timestamp,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"synced_pages":    result.SyncedPages,
		"synced_events":   result.SyncedEvents,
		"expiring_tokens": result.ExpiringTokens,
		"timestamp":       timestamp,
	})
}

// getEvent serves one mirrored event by its upstream id.
func (s *Server) getEvent(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	ev, err := s.store.GetEvent(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": gin.H{
					"code":    "not_found",
					"message": "event not found",
				},
			})
			return
		}
		s.log.Error("get_event_failed", "event_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "internal_error",
				"message": "failed to load event",
			},
		})
		return
	}

	c.JSON(http.StatusOK, ev)
}

// listPageEvents serves a page's mirrored events ordered by start time.
func (s *Server) listPageEvents(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := s.store.ListEventsByPage(ctx, c.Param("id"), limit)
	if err != nil {
		s.log.Error("list_page_events_failed", "page_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "internal_error",
				"message": "failed to load events",
			},
		})
		return
	}
	if events == nil {
		events = []models.EventRecord{}
	}

	c.JSON(http.StatusOK, gin.H{
		"page_id": c.Param("id"),
		"count":   len(events),
		"events":  events,
	})
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	dbStatus := "connected"
	if err := s.db.Pool.Ping(ctx); err != nil {
		dbStatus = "unreachable"
	}

	redisStatus := "connected"
	if err := s.redis.Ping(ctx); err != nil {
		redisStatus = "unreachable"
	}

	status := http.StatusOK
	label := "healthy"
	if dbStatus != "connected" {
		status = http.StatusServiceUnavailable
		label = "degraded"
	}

	c.JSON(status, gin.H{
		"status":   label,
		"database": dbStatus,
		"redis":    redisStatus,
	})
}
