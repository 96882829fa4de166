package handler

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"numix-engine/internal/notify"
	"numix-engine/internal/service"

	"github.com/gin-gonic/gin"
)

const defaultKeepAlive = 15 * time.Second

// ChangeHandler 以 SSE 推送活動的變更訊號
type ChangeHandler struct {
	hub       *notify.Hub
	keepAlive time.Duration
}

func NewChangeHandler(hub *notify.Hub) *ChangeHandler {
	return &ChangeHandler{hub: hub, keepAlive: defaultKeepAlive}
}

func (h *ChangeHandler) RegisterRoutes(r *gin.Engine) {
	router := r.Group("/api/v1")
	{
		router.GET("events/:id/changes", h.Stream)
	}
}

// Stream 訂閱活動的配額與狀態變更；帶有販售員 header 時也訂閱其票券列表
func (h *ChangeHandler) Stream(c *gin.Context) {
	eventID := c.Param("id")
	subs := []*notify.Subscription{
		h.hub.Subscribe(notify.KindQuotas, eventID),
		h.hub.Subscribe(notify.KindEvents, eventID),
	}
	if vendor := strings.TrimSpace(c.GetHeader(VendorHeader)); vendor != "" {
		subs = append(subs, h.hub.Subscribe(notify.KindTickets, service.TicketsKey(eventID, vendor)))
	}

	ctx := c.Request.Context()
	merged := make(chan notify.Signal, len(subs))
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *notify.Subscription) {
			defer wg.Done()
			for sig := range sub.C {
				select {
				case merged <- sig:
				case <-ctx.Done():
					return
				}
			}
		}(sub)
	}
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
		wg.Wait()
	}()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	// 先送出一個事件讓用戶端知道訂閱已建立
	c.SSEvent("ready", gin.H{"event_id": eventID})
	c.Writer.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-merged:
			c.SSEvent("change", sig)
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
		}
		c.Writer.Flush()
	}
}
