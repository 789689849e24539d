package http

import (
	"context"

	"github.com/dkeye/attendmeet/internal/adapters/signal"
	"github.com/dkeye/attendmeet/internal/app/orch"
	"github.com/dkeye/attendmeet/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// IdentityHeader carries the verified identity when the auth boundary is a
// reverse proxy rather than a shared session cookie.
const IdentityHeader = "X-Authenticated-Identity"

const sessionName = "AttendMeetSession"

// IdentityMiddleware exposes the identity established by the auth boundary
// under signal.IdentityKey. The session wins over the header, and the header
// is ignored unless trustHeader is set.
func IdentityMiddleware(trustHeader bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		if v, ok := sess.Get(signal.IdentityKey).(string); ok && v != "" {
			c.Set(signal.IdentityKey, v)
		} else if h := c.GetHeader(IdentityHeader); trustHeader && h != "" {
			c.Set(signal.IdentityKey, h)
		}
		c.Next()
	}
}

func SetupRouter(
	ctx context.Context,
	cfg *config.Config,
	o *orch.Orchestrator,
	ctrl *signal.SignalWSController,
	gatherer prometheus.Gatherer,
) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", HttpOnly: true, MaxAge: 3600 * 12})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(IdentityMiddleware(cfg.TrustIdentityHeader))

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Bool("trust_identity_header", cfg.TrustIdentityHeader).Msg("router setup")

	h := &handlers{orch: o, ice: cfg.WebRTCICEServers()}
	api := r.Group("/api")
	api.GET("/health", h.health)
	api.GET("/rooms", h.listRooms)
	api.GET("/rooms/new", h.newRoom)
	api.GET("/ice-servers", h.iceServers)

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("identity", c.GetString(signal.IdentityKey)).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	return r
}
