package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"campusgate/gatepass/internal/model"
	"campusgate/gatepass/internal/service"
)

// Recent scans live in a capped Redis list the security dashboard
// polls. The feed is best-effort: verification never fails because the
// feed is down.
const (
	scanFeedKey = "gatepass:scans:recent"
	scanFeedMax = 50
	scanFeedTTL = 12 * time.Hour
)

func (s *Server) recordScan(ctx context.Context, view service.View) {
	if s.redis == nil {
		return
	}
	event := model.ScanEvent{
		ID:          uuid.NewString(),
		PassID:      view.Pass.PassID,
		VisitorName: view.Pass.VisitorName,
		Lifecycle:   view.Status.Lifecycle,
		ScannedAt:   s.svc.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	pipe := s.redis.TxPipeline()
	pipe.LPush(ctx, scanFeedKey, payload)
	pipe.LTrim(ctx, scanFeedKey, 0, scanFeedMax-1)
	pipe.Expire(ctx, scanFeedKey, scanFeedTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("scan feed push error: %v", err)
	}
}

func (s *Server) handleRecentScans(w http.ResponseWriter, r *http.Request) {
	scans := []model.ScanEvent{}
	if s.redis != nil {
		entries, err := s.redis.LRange(r.Context(), scanFeedKey, 0, scanFeedMax-1).Result()
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "scan_feed_unavailable")
			return
		}
		for _, entry := range entries {
			var event model.ScanEvent
			if err := json.Unmarshal([]byte(entry), &event); err != nil {
				continue
			}
			scans = append(scans, event)
		}
	}
	writeJSON(w, http.StatusOK, scans)
}
