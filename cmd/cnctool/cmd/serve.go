package cmd

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/roffe/gocnc"
	"github.com/spf13/cobra"
	"golang.org/x/net/websocket"
)

const flagListen = "listen"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "bridge the controller to websocket clients",
	Long: `Serve controller events as JSON on /ws. Text frames received from a
client are sent to the controller, "!", "~" and "reset" are handled as
feed hold, resume and abort.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		addr, _ := cmd.Flags().GetString(flagListen)
		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		mux := http.NewServeMux()
		mux.Handle("/ws", websocket.Handler(func(ws *websocket.Conn) {
			bridge(c, ws)
		}))
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			select {
			case <-ctx.Done():
			case <-c.Done():
			}
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(sctx)
		}()
		log.Infof("serving on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return c.Err()
	},
}

type wireEvent struct {
	Type  string      `json:"type"`
	Event gocnc.Event `json:"event"`
}

// bridge forwards every client event to ws until either side goes away.
func bridge(c *gocnc.Client, ws *websocket.Conn) {
	defer ws.Close()
	sub := c.Subscribe()
	defer sub.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			var msg string
			if err := websocket.Message.Receive(ws, &msg); err != nil {
				return
			}
			if err := handleText(c, strings.TrimSpace(msg)); err != nil {
				log.Warnf("websocket %s: %v", ws.Request().RemoteAddr, err)
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case e, ok := <-sub.Chan():
			if !ok {
				return
			}
			if err := websocket.JSON.Send(ws, wireEvent{Type: e.Type().String(), Event: e}); err != nil {
				return
			}
		}
	}
}

func handleText(c *gocnc.Client, msg string) error {
	switch msg {
	case "":
		return nil
	case "!":
		return c.Hold()
	case "~":
		return c.Resume()
	case "reset":
		return c.Abort()
	default:
		return c.Command(msg)
	}
}

func init() {
	serveCmd.Flags().String(flagListen, "127.0.0.1:8080", "address to listen on")
	rootCmd.AddCommand(serveCmd)
}
