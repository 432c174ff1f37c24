package router

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/mailing-scheduler/internal/middleware"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

// WebhookHandler splits its routes between the signed and the public group.
type WebhookHandler interface {
	RegisterRoutes(signed, public *gin.RouterGroup)
}

type MetricsHandler interface {
	Handler
	Middleware() gin.HandlerFunc
}

// Handlers groups every HTTP surface the API process serves.
type Handlers struct {
	Health     Handler
	Metrics    MetricsHandler
	Webhooks   WebhookHandler
	Cron       Handler
	Tracking   Handler
	AdminLogin Handler
	Admin      []Handler
}

type Config struct {
	WebhookSecret string
	CronAPIKey    string
	MaxBodySize   int64
	StoreOrigins  []string
	// PublicLimiter throttles tracking, unsubscribe and the storefront form per client IP.
	PublicLimiter *middleware.RateLimiter
	// LoginLimiter throttles admin login attempts per client IP.
	LoginLimiter *middleware.RateLimiter
}

type Router struct {
	engine   *gin.Engine
	auth     *middleware.AuthMiddleware
	handlers Handlers
	config   Config
}

func NewRouter(auth *middleware.AuthMiddleware, handlers Handlers, config Config) *Router {
	engine := gin.New()
	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
		middleware.SecurityHeaders(),
	)
	if handlers.Metrics != nil {
		engine.Use(handlers.Metrics.Middleware())
	}

	return &Router{
		engine:   engine,
		auth:     auth,
		handlers: handlers,
		config:   config,
	}
}

func (r *Router) Setup() {
	root := &r.engine.RouterGroup

	r.handlers.Health.RegisterRoutes(root)
	if r.handlers.Metrics != nil {
		r.handlers.Metrics.RegisterRoutes(root)
	}

	r.setupWebhooks()

	cron := r.engine.Group("/api/cron", middleware.APIKey(r.config.CronAPIKey))
	r.handlers.Cron.RegisterRoutes(cron)

	public := r.engine.Group("", r.limit(r.config.PublicLimiter)...)
	r.handlers.Tracking.RegisterRoutes(public)

	r.setupAdmin()
}

func (r *Router) setupWebhooks() {
	hooks := r.engine.Group("/api/webhooks/woocommerce", middleware.SizeLimit(r.config.MaxBodySize))

	signed := hooks.Group("", middleware.WebhookSignature(r.config.WebhookSecret))

	form := append([]gin.HandlerFunc{middleware.CORS(middleware.StoreFrontCORSConfig(r.config.StoreOrigins))},
		r.limit(r.config.PublicLimiter)...)
	public := hooks.Group("", form...)
	public.OPTIONS("/stock-notifications", func(*gin.Context) {})

	r.handlers.Webhooks.RegisterRoutes(signed, public)
}

func (r *Router) setupAdmin() {
	admin := r.engine.Group("/api/admin", middleware.SizeLimit(r.config.MaxBodySize))

	login := admin.Group("", r.limit(r.config.LoginLimiter)...)
	r.handlers.AdminLogin.RegisterRoutes(login)

	protected := admin.Group("", r.auth.Authenticate())
	for _, h := range r.handlers.Admin {
		h.RegisterRoutes(protected)
	}
}

func (r *Router) limit(rl *middleware.RateLimiter) []gin.HandlerFunc {
	if rl == nil {
		return nil
	}
	return []gin.HandlerFunc{rl.RateLimit()}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
