package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/jam-signaling/internal/models"
	"github.com/mossy-p/jam-signaling/internal/relay"
	"github.com/mossy-p/jam-signaling/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// HandleSignaling upgrades to a WebSocket and runs a relay peer in the session
// named by the :session path parameter, or defaultSession when the route has
// none. Peers are torn down when ctx is cancelled.
func HandleSignaling(ctx context.Context, registry *session.Registry, defaultSession string, opts relay.Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("session")
		if name == "" {
			name = defaultSession
		}
		if err := session.ValidateName(name); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session name"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logrus.WithError(err).Warn("Failed to upgrade connection")
			return
		}

		peerOpts := opts
		peerOpts.Session = name
		relay.NewPeer(conn, registry, peerOpts).Run(ctx)
	}
}

// LiveSessions lists sessions that currently have a signaling broadcast (public)
func LiveSessions(registry *session.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		infos := registry.Sessions()
		live := make([]models.LiveSession, 0, len(infos))
		for _, info := range infos {
			live = append(live, models.LiveSession{Name: info.Name, Peers: info.Peers})
		}
		c.JSON(http.StatusOK, gin.H{"sessions": live})
	}
}
