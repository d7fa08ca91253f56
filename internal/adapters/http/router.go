package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/artemkas/watchparty/internal/adapters/signal"
	"github.com/artemkas/watchparty/internal/app"
	"github.com/artemkas/watchparty/internal/config"
	"github.com/artemkas/watchparty/internal/domain"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware tags each browser with a stable cookie token,
// used for session affinity and logging. Participant identity stays
// per-connection; two tabs with the same token are two participants.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, orch *app.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("WatchPartySessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	ctrl := signal.NewController(orch, cfg)

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("token", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	api.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Out-of-band room bootstrap: the party creator reserves a room with
	// its content before anyone connects over WebSocket.
	api.POST("/create-room", func(c *gin.Context) {
		var req struct {
			RoomID     string `json:"roomId"`
			ContentRef string `json:"contentRef"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
			return
		}
		if req.RoomID == "" {
			req.RoomID = uuid.NewString()
		}
		id := domain.RoomID(req.RoomID)
		if err := domain.ValidateRoomID(id); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if _, ok := orch.Rooms.Get(id); ok {
			c.JSON(http.StatusConflict, gin.H{"error": "room-already-exists"})
			return
		}
		room, err := orch.Rooms.GetOrCreate(c.Request.Context(), id, domain.ContentRef(req.ContentRef))
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine-unavailable"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"roomId":     room.ID(),
			"contentRef": room.ContentRef(),
		})
	})

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, orch.Rooms.List())
	})

	api.GET("/room-exists/:roomId", func(c *gin.Context) {
		if _, ok := orch.Rooms.Get(domain.RoomID(c.Param("roomId"))); !ok {
			c.Status(http.StatusNotFound)
			return
		}
		c.Status(http.StatusOK)
	})

	api.GET("/content-for-room/:roomId", func(c *gin.Context) {
		room, ok := orch.Rooms.Get(domain.RoomID(c.Param("roomId")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room-not-found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"contentRef": room.ContentRef()})
	})

	return r
}
