package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	// Rate limiting for client commands to prevent message flooding.
	"golang.org/x/time/rate"

	"github.com/btaudio/bridge/internal/apperrors"
	"github.com/btaudio/bridge/internal/pipeline"
	"github.com/btaudio/bridge/internal/state"
)

// Client is one connected WebSocket observer. It doubles as a pipeline
// subscriber: the broadcaster pushes status snapshots through Send.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server

	// send carries outbound messages; writePump serializes them.
	send chan any

	// done signals shutdown; closed exactly once via closeSend.
	done     chan struct{}
	sendOnce sync.Once

	// limiter throttles inbound commands per client.
	limiter *rate.Limiter

	subID pipeline.SubscriptionID
}

// closeSend safely signals the client to shut down exactly once.
// Only the done channel is closed (not send) to avoid racing with ongoing
// send operations; all senders check done before sending.
func (c *Client) closeSend() {
	c.sendOnce.Do(func() {
		close(c.done)
	})
}

// Send implements pipeline.Subscriber. It is bounded: a closed client
// returns an error (so the broadcaster prunes it) and a full buffer drops
// the snapshot rather than blocking the broadcast tick.
func (c *Client) Send(snap state.Snapshot) error {
	select {
	case <-c.done:
		return errors.New("client closed")
	default:
	}

	select {
	case c.send <- newStatusMessage(snap):
		return nil
	default:
		log.Printf("server: client %s send buffer full, dropping status push", c.id)
		return nil
	}
}

// Close implements pipeline.Subscriber.
func (c *Client) Close() {
	c.closeSend()
}

// enqueue queues a non-status message, dropping it if the client is
// closed or its buffer is full.
func (c *Client) enqueue(msg any) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg:
	default:
		log.Printf("server: client %s send buffer full, dropping message", c.id)
	}
}

// handleWebSocket upgrades the connection and runs the client's pumps.
// Each client is subscribed to the status broadcaster for its lifetime.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: websocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		server: s,
		send:   make(chan any, channelBufferSize),
		done:   make(chan struct{}),
		// Commands are human-initiated; 5/s with a small burst is plenty.
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}

	s.mu.Lock()
	s.clients[client] = true
	s.mu.Unlock()

	client.subID = s.pipe.Subscribe(client)
	log.Printf("server: client %s connected (%d total)", client.id, s.ClientCount())

	// Immediate snapshot so new clients don't wait for the next tick.
	client.enqueue(newStatusMessage(s.pipe.Snapshot()))

	go client.writePump()
	client.readPump()
}

// writePump sends messages from the send channel to the WebSocket and
// pings periodically to detect dead connections.
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("server: failed to marshal message: %v", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("server: write error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client commands until the connection drops, then
// unregisters the client.
func (c *Client) readPump() {
	defer func() {
		c.server.mu.Lock()
		delete(c.server.clients, c)
		c.server.mu.Unlock()

		// Unsubscribe closes the client, which signals writePump to exit.
		c.server.pipe.Unsubscribe(c.subID)

		log.Printf("server: client %s disconnected (%d remaining)", c.id, c.server.ClientCount())
	}()

	c.conn.SetReadLimit(32 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				log.Printf("server: read error: %v", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			coded := apperrors.InvalidMessage("malformed JSON message")
			c.enqueue(ResultMessage{Type: MessageTypeResult, OK: false, ErrorCode: coded.Code, Error: coded.Message})
			continue
		}

		if !c.limiter.Allow() {
			coded := apperrors.RateLimited()
			c.enqueue(ResultMessage{Type: MessageTypeResult, Request: msg.Type, OK: false, ErrorCode: coded.Code, Error: coded.Message})
			continue
		}

		c.handleCommand(msg)
	}
}

// handleCommand dispatches one client command. Restarts run on their own
// goroutine: they sleep through settle and backoff delays and must not
// stall the read loop.
func (c *Client) handleCommand(msg Message) {
	switch msg.Type {
	case MessageTypeGetStatus:
		c.enqueue(newStatusMessage(c.server.pipe.Snapshot()))

	case MessageTypeRestart:
		go func() {
			outcome, err := c.server.pipe.Restart(c.server.pipe.DefaultPolicy())
			c.enqueue(restartResult(msg.Type, outcome, err))
		}()

	case MessageTypeSetSource:
		if msg.Source == "" {
			coded := apperrors.InvalidMessage("set_source requires a source")
			c.enqueue(ResultMessage{Type: MessageTypeResult, Request: msg.Type, OK: false, ErrorCode: coded.Code, Error: coded.Message})
			return
		}
		c.server.pipe.SetPreferredSource(msg.Source)
		c.server.pipe.RecordExternalEvent("source_override", msg.Source)
		go func() {
			outcome, err := c.server.pipe.Restart(c.server.pipe.DefaultPolicy())
			c.enqueue(restartResult(msg.Type, outcome, err))
		}()

	default:
		coded := apperrors.InvalidMessage("unknown message type: " + msg.Type)
		c.enqueue(ResultMessage{Type: MessageTypeResult, Request: msg.Type, OK: false, ErrorCode: coded.Code, Error: coded.Message})
	}
}

func restartResult(request string, outcome pipeline.Outcome, err error) ResultMessage {
	res := ResultMessage{
		Type:     MessageTypeResult,
		Request:  request,
		OK:       outcome.Success,
		Attempts: outcome.AttemptsUsed,
	}
	if err != nil {
		res.ErrorCode, res.Error = apperrors.ToCodeAndMessage(err)
	}
	return res
}
