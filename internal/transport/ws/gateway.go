package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sakashimaa/order-backend/internal/domain"
	"github.com/sakashimaa/order-backend/pkg/auth"
	"github.com/sakashimaa/order-backend/pkg/mylogger"
	"go.uber.org/zap"
)

// Authorizer answers "may this principal observe this order's status?". The
// order domain owns the decision; the gateway only relays it.
type Authorizer interface {
	CanSubscribeToOrder(ctx context.Context, orderID string, claims *auth.Claims) error
}

type Config struct {
	RateLimitCalls  int
	RateLimitWindow time.Duration
}

const (
	eventSubscribe   = "subscribeOrder"
	eventUnsubscribe = "unsubscribeOrder"
	eventOrderStatus = "order.status"

	writeTimeout = 5 * time.Second
)

type clientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type subscribePayload struct {
	OrderID string `json:"orderId"`
}

type ackMessage struct {
	Event string `json:"event"`
	Ok    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type broadcastMessage struct {
	Event string                    `json:"event"`
	Data  domain.StatusChangedEvent `json:"data"`
}

type connection struct {
	ws      *websocket.Conn
	claims  *auth.Claims
	limiter *rateLimiter

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *connection) send(ctx context.Context, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return wsjson.Write(ctx, c.ws, v)
}

// close is safe to call more than once; only the first call reaches the
// socket.
func (c *connection) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		_ = c.ws.Close(code, reason)
	})
}

// Gateway upgrades realtime connections, authenticates them with a signed
// token and relays bus output to order rooms.
type Gateway struct {
	verifier   *auth.Verifier
	authorizer Authorizer
	rooms      *roomRegistry
	logger     *zap.Logger
	cfg        Config
}

func NewGateway(verifier *auth.Verifier, authorizer Authorizer, logger *zap.Logger, cfg Config) *Gateway {
	if cfg.RateLimitCalls <= 0 {
		cfg.RateLimitCalls = 5
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = 3 * time.Second
	}

	return &Gateway{
		verifier:   verifier,
		authorizer: authorizer,
		rooms:      newRoomRegistry(),
		logger:     logger,
		cfg:        cfg,
	}
}

// HandleEvent is the bus subscriber: the event goes verbatim to every
// connection in the order's room, and to nobody else.
func (g *Gateway) HandleEvent(event domain.StatusChangedEvent) {
	msg := broadcastMessage{Event: eventOrderStatus, Data: event}

	for _, c := range g.rooms.Members(event.OrderID) {
		if err := c.send(context.Background(), msg); err != nil {
			g.logger.Debug(
				"broadcast write failed",
				zap.String("order_id", event.OrderID),
				zap.Error(err),
			)
		}
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := tokenFromRequest(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := g.verifier.ValidateToken(token)
	if err != nil {
		g.logger.Warn("realtime auth failed", zap.Error(err))
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		g.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	c := &connection{
		ws:      ws,
		claims:  claims,
		limiter: newRateLimiter(g.cfg.RateLimitWindow, g.cfg.RateLimitCalls),
	}

	defer g.disconnect(c)
	g.readLoop(r.Context(), c)
}

// tokenFromRequest extracts the bearer credential, checking in order: the
// explicit auth header, the Authorization header, then the query parameter.
func tokenFromRequest(r *http.Request) string {
	if token := r.Header.Get("X-Auth-Token"); token != "" {
		return token
	}

	header := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[len("bearer "):])
	}

	return r.URL.Query().Get("token")
}

func (g *Gateway) readLoop(ctx context.Context, c *connection) {
	for {
		var msg clientMessage
		if err := wsjson.Read(ctx, c.ws, &msg); err != nil {
			return
		}

		switch msg.Event {
		case eventSubscribe:
			g.subscribeOrder(ctx, c, msg.Data)
		case eventUnsubscribe:
			g.unsubscribeOrder(ctx, c, msg.Data)
		default:
			g.reject(ctx, c, msg.Event, "unknown event")
		}
	}
}

func (g *Gateway) subscribeOrder(ctx context.Context, c *connection, data json.RawMessage) {
	if !c.limiter.Allow(time.Now()) {
		g.reject(ctx, c, eventSubscribe, "Rate limit exceeded")
		return
	}

	orderID, ok := parseOrderID(data)
	if !ok {
		g.reject(ctx, c, eventSubscribe, "orderId is required")
		return
	}

	if c.claims == nil {
		g.reject(ctx, c, eventSubscribe, "Unauthenticated")
		return
	}

	if err := g.authorizer.CanSubscribeToOrder(ctx, orderID, c.claims); err != nil {
		mylogger.Warn(
			ctx,
			g.logger,
			"subscribeOrder denied",
			zap.String("subject", c.claims.Subject),
			zap.String("order_id", orderID),
			zap.Error(err),
		)

		g.reject(ctx, c, eventSubscribe, err.Error())
		return
	}

	g.rooms.Join(orderID, c)

	mylogger.Info(
		ctx,
		g.logger,
		"subscribeOrder",
		zap.String("subject", c.claims.Subject),
		zap.String("order_id", orderID),
	)

	g.ack(ctx, c, eventSubscribe)
}

// unsubscribeOrder needs no authorization re-check: leaving a room cannot
// leak anything.
func (g *Gateway) unsubscribeOrder(ctx context.Context, c *connection, data json.RawMessage) {
	orderID, ok := parseOrderID(data)
	if !ok {
		g.reject(ctx, c, eventUnsubscribe, "orderId is required")
		return
	}

	g.rooms.Leave(orderID, c)
	g.ack(ctx, c, eventUnsubscribe)
}

func (g *Gateway) disconnect(c *connection) {
	g.rooms.Drop(c)
	c.limiter.Reset()
	c.close(websocket.StatusNormalClosure, "")
}

func (g *Gateway) ack(ctx context.Context, c *connection, event string) {
	if err := c.send(ctx, ackMessage{Event: event, Ok: true}); err != nil {
		g.logger.Debug("ack write failed", zap.Error(err))
	}
}

func (g *Gateway) reject(ctx context.Context, c *connection, event, reason string) {
	if err := c.send(ctx, ackMessage{Event: event, Ok: false, Error: reason}); err != nil {
		g.logger.Debug("reject write failed", zap.Error(err))
	}
}

func parseOrderID(data json.RawMessage) (string, bool) {
	var payload subscribePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", false
	}
	if payload.OrderID == "" {
		return "", false
	}
	return payload.OrderID, true
}
