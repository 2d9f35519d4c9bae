package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const streamHeartbeat = 15 * time.Second

// RegisterStream wires the server-sent-events route. Each connection holds
// its own change-stream subscription so a slow consumer never backs up the
// session's own feed.
func RegisterStream(e *echo.Echo, client *redis.Client, auth Authenticator, logger *log.Logger) {
	e.GET("/api/stream", streamEvents(client, auth, logger))
}

func streamEvents(client *redis.Client, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		// EventSource cannot set headers, so the token may arrive as a
		// query parameter instead.
		header := c.Request().Header.Get("Authorization")
		if header == "" {
			if token := c.QueryParam("token"); token != "" {
				header = "Bearer " + token
			}
		}
		userID, err := auth.UserIDFromAuthHeader(header)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		ctx := c.Request().Context()
		pubsub := client.Subscribe(ctx, "task-changes:"+userID)
		defer func() {
			if cerr := pubsub.Close(); cerr != nil {
				logger.WithError(cerr).Warn("closing stream subscription")
			}
		}()
		if _, err := pubsub.Receive(ctx); err != nil {
			return c.String(http.StatusBadGateway, "change stream unavailable")
		}

		c.Response().WriteHeader(http.StatusOK)
		flusher.Flush()

		ticker := time.NewTicker(streamHeartbeat)
		defer ticker.Stop()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, open := <-ch:
				if !open {
					return nil
				}
				if _, err := c.Response().Write([]byte("data: ")); err != nil {
					return nil
				}
				if _, err := c.Response().Write([]byte(msg.Payload)); err != nil {
					return nil
				}
				if _, err := c.Response().Write([]byte("\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case <-ticker.C:
				if _, err := c.Response().Write([]byte(": ping\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}
