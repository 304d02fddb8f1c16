package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	bookingdomain "github.com/smallbiznis/studiobook/internal/booking/domain"
	"github.com/smallbiznis/studiobook/internal/config"
	"github.com/smallbiznis/studiobook/internal/materializer"
	"github.com/smallbiznis/studiobook/internal/waitlist"
	"github.com/smallbiznis/studiobook/internal/webhook"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Cfg          config.Config
	BookingSvc   bookingdomain.Service
	Promoter     *waitlist.Promoter
	Materializer *materializer.Materializer
	Reconciler   *webhook.Reconciler
}

type Server struct {
	db           *gorm.DB
	log          *zap.Logger
	cfg          config.Config
	bookingSvc   bookingdomain.Service
	promoter     *waitlist.Promoter
	materializer *materializer.Materializer
	reconciler   *webhook.Reconciler
}

func NewServer(p Params) *Server {
	return &Server{
		db:           p.DB,
		log:          p.Log.Named("server"),
		cfg:          p.Cfg,
		bookingSvc:   p.BookingSvc,
		promoter:     p.Promoter,
		materializer: p.Materializer,
		reconciler:   p.Reconciler,
	}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	if s.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", "Idempotency-Key")
	engine.Use(cors.New(corsCfg))

	engine.GET("/healthz", s.Healthz)
	engine.POST("/book", s.Book)
	engine.POST("/cancel", s.Cancel)
	engine.POST("/webhooks/stripe", s.StripeWebhook)

	cron := engine.Group("/", s.CronAuthRequired())
	cron.POST("/events-generate", s.EventsGenerate)
	cron.POST("/waitlist-promote", s.WaitlistPromote)

	return engine
}

// CronAuthRequired gates the operational endpoints behind the shared cron
// secret. Constant-time compare; an unset secret rejects everything.
func (s *Server) CronAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := strings.TrimSpace(c.GetHeader("Authorization"))
		secret := s.cfg.CronSecret
		if secret == "" || provided == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func (s *Server) Healthz(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "database unavailable", "code": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"status": "ok"}})
}
