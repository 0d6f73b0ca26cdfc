package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-signaling/internal/auth"
	"github.com/vovakirdan/wirechat-signaling/internal/config"
	"github.com/vovakirdan/wirechat-signaling/internal/relay"
)

// NewServer builds an HTTP server with the signaling socket and host controls.
// presence may be nil when no mirror is configured.
func NewServer(rel *relay.Relay, authn auth.Authenticator, presence PresenceReader, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	router.GET("/ws", gin.WrapH(NewWSHandler(rel, authn, cfg.Server, logger)))

	rooms := NewRoomHandlers(rel, presence, logger)
	api := router.Group("/api", AuthMiddleware(authn, logger))
	{
		api.GET("/rooms", rooms.ListRooms)
		api.GET("/rooms/:roomId/participants", rooms.ListParticipants)
		api.GET("/rooms/:roomId/admission", rooms.GetAdmission)
		api.PUT("/rooms/:roomId/admission", rooms.UpdateAdmission)
		api.GET("/rooms/:roomId/admission/decisions", rooms.ListDecisions)
		api.POST("/rooms/:roomId/admission/admit-all", rooms.AdmitAll)
		api.POST("/rooms/:roomId/admission/:candidateId/admit", rooms.Admit)
		api.POST("/rooms/:roomId/admission/:candidateId/deny", rooms.Deny)
	}

	return &stdhttp.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
