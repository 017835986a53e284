package gateway

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/contextgate/contextgate/internal/prunelist"
)

// pruneRequest is an explicit prune action: numeric aliases from a previously
// injected listing, plus a reason tag. The first element of ids may double as
// the reason tag.
type pruneRequest struct {
	SessionID string   `json:"session_id"`
	Reason    string   `json:"reason"`
	IDs       []string `json:"ids"`
}

type idleRequest struct {
	SessionID string `json:"session_id"`
	ParentID  string `json:"parent_id"`
}

var validReasons = map[string]struct{}{
	"completion":    {},
	"noise":         {},
	"consolidation": {},
}

func (s *Server) handlePrune(c *gin.Context) {
	var req pruneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"message": "invalid JSON body", "type": "invalid_request_error"},
		})
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = strings.TrimSpace(c.GetHeader("X-Session-Id"))
	}
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"message": "session_id is required", "type": "invalid_request_error"},
		})
		return
	}

	reason := strings.ToLower(strings.TrimSpace(req.Reason))
	ids := req.IDs
	// Some callers pass the reason tag as the first list element instead of
	// a separate field.
	if len(ids) > 0 {
		if _, err := strconv.Atoi(strings.TrimSpace(ids[0])); err != nil {
			if _, ok := validReasons[strings.ToLower(strings.TrimSpace(ids[0]))]; ok && reason == "" {
				reason = strings.ToLower(strings.TrimSpace(ids[0]))
				ids = ids[1:]
			}
		}
	}
	if reason == "" {
		reason = "completion"
	}
	if _, ok := validReasons[reason]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"message": fmt.Sprintf("unknown reason %q: must be completion, noise, or consolidation", reason),
				"type":    "invalid_request_error",
			},
		})
		return
	}

	var aliases []int
	for _, raw := range ids {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"message": fmt.Sprintf("invalid id %q: expected a numeric identifier from the prunable listing", raw),
					"type":    "invalid_request_error",
				},
			})
			return
		}
		aliases = append(aliases, n)
	}
	if len(aliases) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"message": "no ids to prune", "type": "invalid_request_error"},
		})
		return
	}

	callIDs := s.store.ResolveAliases(sessionID, aliases)
	if len(callIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"message": "none of the given ids match the current session's listing",
				"type":    "invalid_request_error",
			},
		})
		return
	}

	s.store.AddPrunedIDs(sessionID, callIDs)
	saved := s.savingsFor(sessionID, callIDs)
	if saved > 0 {
		s.store.RecordTokensSaved(sessionID, saved)
		RecordTokensSaved(saved)
	}
	RecordPruneAction(reason)

	names := s.describeCalls(callIDs)
	log.WithFields(log.Fields{
		"session": sessionID,
		"reason":  reason,
		"count":   len(callIDs),
	}).Info("explicit prune action committed")

	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"pruned":       len(callIDs),
		"tokens_saved": saved,
		"message":      fmt.Sprintf("Pruned %d tool result(s): %s", len(callIDs), strings.Join(names, "; ")),
	})
}

func (s *Server) handleIdle(c *gin.Context) {
	var req idleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"message": "invalid JSON body", "type": "invalid_request_error"},
		})
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"message": "session_id is required", "type": "invalid_request_error"},
		})
		return
	}

	if parent := strings.TrimSpace(req.ParentID); parent != "" {
		s.store.MarkChild(sessionID)
		c.JSON(http.StatusAccepted, gin.H{"status": "skipped", "detail": "child session"})
		return
	}
	if s.store.IsChild(sessionID) {
		c.JSON(http.StatusAccepted, gin.H{"status": "skipped", "detail": "child session"})
		return
	}

	body := s.recallBody(sessionID)
	if len(body) == 0 {
		c.JSON(http.StatusAccepted, gin.H{"status": "skipped", "detail": "no conversation history observed yet"})
		return
	}

	s.engine.AnalyzeAsync(sessionID, body)
	RecordAnalysisRun()
	c.JSON(http.StatusAccepted, gin.H{"status": "scheduled"})
}

// savingsFor estimates the tokens elided by redacting the given calls in the
// session's last observed request body.
func (s *Server) savingsFor(sessionID string, callIDs []string) int {
	body := s.recallBody(sessionID)
	if len(body) == 0 {
		return 0
	}
	return s.engine.EstimateSavings(body, callIDs)
}

// describeCalls renders "name, summary" strings for the confirmation message.
func (s *Server) describeCalls(callIDs []string) []string {
	out := make([]string, 0, len(callIDs))
	for _, id := range callIDs {
		rec, ok := s.cache.Get(id)
		if !ok || rec.Name == "" {
			out = append(out, "unknown tool")
			continue
		}
		if summary := prunelist.Summarize(rec.Name, rec.Args); summary != "" {
			out = append(out, rec.Name+" ("+summary+")")
		} else {
			out = append(out, rec.Name)
		}
	}
	return out
}
