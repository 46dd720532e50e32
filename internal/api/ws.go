package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"parley/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser origin checks do not apply; the token in the query string is
	// the credential.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serveWS upgrades the connection and hands it to the hub. One user may hold
// several connections; each gets the full event feed.
func (a *API) serveWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade: %v", err)
		return
	}
	client := ws.NewClient(a.Hub, conn, UserID(c))
	a.Hub.Register <- client

	go client.WritePump()
	go client.ReadPump()
}
