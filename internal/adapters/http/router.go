package http

import (
	"net/http"

	"github.com/dkeye/StatsRelay/internal/adapters/rtcstats"
	"github.com/dkeye/StatsRelay/internal/app"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// StateReporter reports the collector connection state.
type StateReporter interface {
	State() rtcstats.State
}

// ConferenceLister is the read side of the conference store.
type ConferenceLister interface {
	List() []app.ConferenceInfo
	Len() int
}

func SetupRouter(mode string, transport StateReporter, conferences ConferenceLister) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"transport":   transport.State().String(),
			"conferences": conferences.Len(),
		})
	})

	api := r.Group("/api")
	api.GET("/conferences", func(c *gin.Context) {
		c.JSON(http.StatusOK, conferences.List())
	})

	log.Info().Str("module", "adapters.http").Str("mode", mode).Msg("router setup")
	return r
}
