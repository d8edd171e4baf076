package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/segmentio/ksuid"

	"github.com/datallboy/dlqueue/internal/app"
)

const keepAliveInterval = 15 * time.Second

type EventsController struct {
	App *app.Context
}

// Stream relays hub updates as server-sent events until the client leaves.
func (ctrl *EventsController) Stream(c *echo.Context) error {
	updates, unsubscribe := ctrl.App.Hub.Subscribe(128)
	defer unsubscribe()

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		return err
	}

	// a fresh subscriber starts from the full list
	ctrl.App.Manager.ReportAll()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			data, err := json.Marshal(u)
			if err != nil {
				ctrl.App.Logger.Warn("Dropping unencodable %s update: %v", u.Command(), err)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ksuid.New(), u.Command(), data); err != nil {
				return nil
			}
		}
		if err := rc.Flush(); err != nil {
			return nil
		}
	}
}
