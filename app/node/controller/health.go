package controller

import (
	"net/http"
	"time"
)

func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := "online"
	deps := map[string]string{}
	if c.App.Events != nil {
		deps["redis"] = "ok"
		if err := c.App.Events.Health(ctx); err != nil {
			deps["redis"] = err.Error()
			status = "degraded"
		}
	}
	if c.App.MarketData != nil {
		deps["clickhouse"] = "ok"
		if err := c.App.MarketData.Health(ctx); err != nil {
			deps["clickhouse"] = err.Error()
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"timestamp":    time.Now().Unix(),
		"dependencies": deps,
	})
}

func (c *Controller) HandleNetworkStats(w http.ResponseWriter, r *http.Request) {
	stats, err := c.App.Chain.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
