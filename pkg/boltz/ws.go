package boltz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"
	log "github.com/sirupsen/logrus"
)

const (
	reconnectInterval = 15 * time.Second
	pingInterval      = 30 * time.Second
	pongWait          = 5 * time.Second
)

type SwapStatusResponse struct {
	Status           string `json:"status"`
	ZeroConfRejected bool   `json:"zeroConfRejected"`
	Transaction      struct {
		Id  string `json:"id"`
		Hex string `json:"hex"`
	} `json:"transaction"`

	Error string `json:"error"`
}

type SwapUpdate struct {
	SwapStatusResponse `mapstructure:",squash"`
	Id                 string `json:"id"`
}

// Websocket is a subscription to the counterparty's swap.update channel.
// It pings the server, reconnects on read failures and re-subscribes the
// tracked swap ids after a reconnect.
type Websocket struct {
	Updates chan SwapUpdate

	apiUrl        string
	subscriptions chan bool
	conn          *websocket.Conn
	closed        bool
	reconnect     bool
	dialer        *websocket.Dialer
	swapIds       []string
}

type wsResponse struct {
	Event   string `json:"event"`
	Error   string `json:"error"`
	Channel string `json:"channel"`
	Args    []any  `json:"args"`
}

func (boltz *Api) NewWebsocket() *Websocket {
	dialer := *websocket.DefaultDialer
	if httpTransport, ok := boltz.Client.Transport.(*http.Transport); ok {
		dialer.Proxy = httpTransport.Proxy
	}

	return &Websocket{
		apiUrl:        boltz.WSURL,
		subscriptions: make(chan bool),
		dialer:        &dialer,
		Updates:       make(chan SwapUpdate),
	}
}

// ConnectAndSubscribe dials the feed and subscribes the given swap ids,
// bounded by the timeout.
func (boltz *Websocket) ConnectAndSubscribe(
	ctx context.Context, swapIds []string, timeout time.Duration,
) error {
	done := make(chan error, 1)
	go func() {
		if err := boltz.Connect(); err != nil {
			done <- err
			return
		}
		done <- boltz.Subscribe(swapIds)
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("timeout connecting to status feed at %s", boltz.apiUrl)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (boltz *Websocket) Connect() error {
	wsUrl, err := url.Parse(boltz.apiUrl)
	if err != nil {
		return err
	}
	wsUrl.Path += "/v2/ws"

	if wsUrl.Scheme == "https" {
		wsUrl.Scheme = "wss"
	} else if wsUrl.Scheme == "http" {
		wsUrl.Scheme = "ws"
	}

	conn, _, err := boltz.dialer.Dial(wsUrl.String(), nil)
	if err != nil {
		return fmt.Errorf("could not connect to boltz ws at %s: %w", wsUrl, err)
	}
	boltz.conn = conn

	setDeadline := func() error {
		return conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	}
	_ = setDeadline()
	conn.SetPongHandler(func(string) error {
		return setDeadline()
	})
	pingTicker := time.NewTicker(pingInterval)

	go func() {
		defer pingTicker.Stop()
		for range pingTicker.C {
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pongWait))
			if err != nil {
				return
			}
		}
	}()

	go func() {
		for {
			msgType, message, err := conn.ReadMessage()
			if err != nil {
				if boltz.closed {
					close(boltz.Updates)
					return
				}
				break
			}

			if msgType != websocket.TextMessage {
				continue
			}

			var response wsResponse
			if err := json.Unmarshal(message, &response); err != nil {
				log.WithError(err).Debug("discarding unreadable ws message")
				continue
			}
			if response.Error != "" {
				log.Warnf("boltz ws error: %s", response.Error)
				continue
			}

			switch response.Event {
			case "update":
				if response.Channel != "swap.update" {
					continue
				}
				for _, arg := range response.Args {
					var update SwapUpdate
					if err := mapstructure.Decode(arg, &update); err != nil {
						log.WithError(err).Warn("failed to decode swap update")
						continue
					}
					boltz.Updates <- update
				}
			case "subscribe":
				boltz.subscriptions <- true
			}
		}

		pingTicker.Stop()
		for {
			if boltz.reconnect {
				boltz.reconnect = false
				return
			}
			time.Sleep(reconnectInterval)
			if err := boltz.Connect(); err == nil {
				return
			}
		}
	}()

	if len(boltz.swapIds) > 0 {
		return boltz.subscribe(boltz.swapIds)
	}

	return nil
}

func (boltz *Websocket) subscribe(swapIds []string) error {
	if boltz.closed {
		return errors.New("websocket is closed")
	}
	if len(swapIds) == 0 {
		return nil
	}
	if err := boltz.conn.WriteJSON(map[string]any{
		"op":      "subscribe",
		"channel": "swap.update",
		"args":    swapIds,
	}); err != nil {
		return err
	}
	select {
	case <-boltz.subscriptions:
		return nil
	case <-time.After(5 * time.Second):
		return errors.New("no answer from boltz")
	}
}

func (boltz *Websocket) Subscribe(swapIds []string) error {
	if err := boltz.subscribe(swapIds); err != nil {
		// the connection might be dead, force a reconnect
		if err := boltz.Reconnect(); err != nil {
			return fmt.Errorf("could not reconnect boltz ws: %w", err)
		}
		if err := boltz.subscribe(swapIds); err != nil {
			return err
		}
	}
	boltz.swapIds = append(boltz.swapIds, swapIds...)
	return nil
}

func (boltz *Websocket) Unsubscribe(swapId string) {
	boltz.swapIds = slices.DeleteFunc(boltz.swapIds, func(id string) bool {
		return id == swapId
	})
}

func (boltz *Websocket) Close() error {
	boltz.closed = true
	return boltz.conn.Close()
}

func (boltz *Websocket) Reconnect() error {
	if boltz.closed {
		return errors.New("websocket is closed")
	}
	boltz.reconnect = true
	if err := boltz.conn.Close(); err != nil {
		log.WithError(err).Debug("error closing ws connection before reconnect")
	}
	return boltz.Connect()
}
