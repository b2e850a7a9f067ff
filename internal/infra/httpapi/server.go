package httpapi

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"installment_notifier/internal/app"
	"installment_notifier/internal/domain/notification"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Subscriber yields live pushes until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan notification.Push, error)
}

// Pinger reports whether a dependency is reachable. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Deps struct {
	Notifications app.NotificationService
	Live          Subscriber
	DB            Pinger
	Gatherer      prometheus.Gatherer
	Logger        *logrus.Entry
}

type handler struct {
	notifications app.NotificationService
	live          Subscriber
	db            Pinger
	logger        *logrus.Entry
}

// NewRouter wires the client query surface.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(d.Logger))

	h := &handler{notifications: d.Notifications, live: d.Live, db: d.DB, logger: d.Logger}

	r.GET("/healthz", h.health)
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1/notifications", RequireUser())
	v1.GET("", h.list)
	v1.GET("/unread-count", h.unreadCount)
	v1.POST("/:id/read", h.markRead)
	if d.Live != nil {
		v1.GET("/stream", h.stream)
	}
	return r
}

func (h *handler) health(c *gin.Context) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			h.logger.WithError(err).Warn("Health check: database unreachable")
			c.JSON(http.StatusServiceUnavailable, NewErrorResponse("database unreachable"))
			return
		}
	}
	c.JSON(http.StatusOK, NewSuccessResponse(gin.H{"database": "ok"}))
}

func (h *handler) list(c *gin.Context) {
	unreadOnly, err := strconv.ParseBool(c.DefaultQuery("unread_only", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("unread_only must be true or false"))
		return
	}

	records, err := h.notifications.List(c.Request.Context(), currentUser(c), unreadOnly)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list notifications")
		c.JSON(http.StatusInternalServerError, NewErrorResponse("could not load notifications"))
		return
	}
	if records == nil {
		records = []*notification.Record{}
	}
	c.JSON(http.StatusOK, NewSuccessResponse(records))
}

func (h *handler) unreadCount(c *gin.Context) {
	n, err := h.notifications.UnreadCount(c.Request.Context(), currentUser(c))
	if err != nil {
		h.logger.WithError(err).Error("Failed to count unread notifications")
		c.JSON(http.StatusInternalServerError, NewErrorResponse("could not count notifications"))
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse(gin.H{"unread": n}))
}

func (h *handler) markRead(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, NewErrorResponse("invalid notification id"))
		return
	}

	err = h.notifications.MarkRead(c.Request.Context(), id, currentUser(c))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, NewSuccessResponse(gin.H{"id": id, "is_read": true}))
	case errors.Is(err, notification.ErrNotOwner):
		c.JSON(http.StatusForbidden, NewErrorResponse(err.Error()))
	case errors.Is(err, notification.ErrNotificationNotFound):
		c.JSON(http.StatusNotFound, NewErrorResponse(err.Error()))
	default:
		h.logger.WithError(err).WithField("notification_id", id).Error("Failed to mark notification read")
		c.JSON(http.StatusInternalServerError, NewErrorResponse("could not update notification"))
	}
}

// stream forwards the caller's live pushes as server-sent events.
func (h *handler) stream(c *gin.Context) {
	userID := currentUser(c)
	ctx := c.Request.Context()

	pushes, err := h.live.Subscribe(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to subscribe to live pushes")
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse("live updates unavailable"))
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Content-Type", "text/event-stream")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-pushes:
			if !ok {
				return
			}
			if slices.Contains(p.UserIDs, userID) {
				c.SSEvent("notification", p.Data)
				c.Writer.Flush()
			}
		}
	}
}
