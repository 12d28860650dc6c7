package main

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	xreal "github.com/xreal-go/glasses"
)

// upgrader allows any origin, matching the local-development
// debug handlers (calibration_handler.go, register_debug_handler.go).
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsBridge serves a single /ws endpoint that pushes TrackingSample JSON
// to every connected browser, grounded on the register-debug
// and calibration websocket handlers (push-only here: there is no
// write-side command set to accept back).
type wsBridge struct {
	server *http.Server
}

func startWSBridge(c *xreal.Client, addr string) *wsBridge {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		handlePoseWS(c, w, r)
	})

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("xrealctl: websocket bridge error: %v", err)
		}
	}()
	log.Printf("xrealctl: debug websocket bridge listening on %s/ws", addr)
	return &wsBridge{server: server}
}

func handlePoseWS(c *xreal.Client, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("xrealctl: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	id, ch := c.Tracking().Subscribe(32)
	defer c.Tracking().Unsubscribe(id)

	for sample := range ch {
		if err := conn.WriteJSON(sample); err != nil {
			return
		}
	}
}

func (b *wsBridge) stop() {
	_ = b.server.Close()
}
