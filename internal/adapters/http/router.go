package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Relay/internal/adapters/signal"
	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
)

func abortWithError(c *gin.Context, err error) {
	e := core.AsError(err)
	c.AbortWithStatusJSON(e.HTTPStatus(), gin.H{"error": e})
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": o.Registry.Len()})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	ctrl := signal.NewSignalWSController(o, cfg)
	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	api.GET("/router/capabilities", func(c *gin.Context) {
		c.JSON(http.StatusOK, o.Router.RtpCapabilities())
	})

	api.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": o.Registry.Snapshot()})
	})

	api.DELETE("/sessions/:id", func(c *gin.Context) {
		id := domain.ClientID(c.Param("id"))
		sess, err := o.Registry.Get(id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		o.Disconnect(id)
		if sig := sess.Signal(); sig != nil {
			sig.Close()
		}
		log.Info().Str("module", "adapters.http").Str("sid", string(id)).Msg("session closed by admin")
		c.Status(http.StatusNoContent)
	})

	return r
}
