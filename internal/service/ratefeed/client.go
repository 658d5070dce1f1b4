package ratefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"BondYield/internal/domain/models"
	drepo "BondYield/internal/domain/repository"
	applogger "BondYield/pkg/logger"
	"BondYield/pkg/util"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

var errNotConnected = errors.New("ratefeed: not connected")

// Client streams index fixings from a WebSocket rate feed.
type Client struct {
	apiKey         string
	websocketURL   string
	codes          []models.IndexCode
	reconnectDelay time.Duration
	pingInterval   time.Duration
	l              *applogger.Logger

	mu        sync.Mutex // guards conn and writes
	conn      *websocket.Conn
	connected bool

	pingers atomic.Int32 // live ping loops
}

// New creates a feed client for the given index codes.
func New(apiKey, websocketURL string, codes []string, reconnectDelay, pingInterval time.Duration, l *applogger.Logger) *Client {
	if l == nil {
		l = applogger.Nop()
	}
	cs := make([]models.IndexCode, 0, len(codes))
	for _, c := range codes {
		cs = append(cs, models.IndexCode(strings.TrimSpace(c)))
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Client{
		apiKey:         apiKey,
		websocketURL:   websocketURL,
		codes:          cs,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		l:              l,
	}
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.websocketURL)
	if err != nil {
		return "", fmt.Errorf("ratefeed url: %w", err)
	}
	if c.apiKey != "" {
		q := u.Query()
		q.Set("token", c.apiKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u, err := c.dialURL()
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("ratefeed connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.l.Info("ratefeed connected", applogger.String("url", c.websocketURL))
	return nil
}

type subscribeMsg struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

// Subscribe requests fixings for every configured code.
func (c *Client) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.connected {
		return errNotConnected
	}
	for _, code := range c.codes {
		if err := c.conn.WriteJSON(subscribeMsg{Type: "subscribe", Code: string(code)}); err != nil {
			return fmt.Errorf("subscribe %s: %w", code, err)
		}
		c.l.Debug("ratefeed subscribed", applogger.String("code", string(code)))
	}
	return nil
}

type feedFixing struct {
	Code   string `json:"c"`
	Date   string `json:"d"`
	Rate   string `json:"r"`
	Source string `json:"s"`
}

type feedMessage struct {
	Type string       `json:"type"`
	Data []feedFixing `json:"data"`
}

// decodeFixings turns a feed frame into rates. Non-fixing frames yield nothing;
// malformed entries are skipped.
func decodeFixings(b []byte) ([]*models.IndexRate, error) {
	var m feedMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if m.Type != "fixing" {
		return nil, nil
	}
	out := make([]*models.IndexRate, 0, len(m.Data))
	for _, f := range m.Data {
		d, ok := util.ParseDate(f.Date)
		if !ok {
			continue
		}
		r, err := decimal.NewFromString(f.Rate)
		if err != nil {
			continue
		}
		src := f.Source
		if src == "" {
			src = "ratefeed"
		}
		out = append(out, &models.IndexRate{Code: models.IndexCode(f.Code), Date: d, Rate: r, Source: src})
	}
	return out, nil
}

func (c *Client) currentConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Read streams fixings and errors until ctx is done or the connection fails.
// The ping loop started here ends with the read loop.
func (c *Client) Read(ctx context.Context) (<-chan *models.IndexRate, <-chan error) {
	rates := make(chan *models.IndexRate, 256)
	errs := make(chan error, 1)
	done := make(chan struct{})

	c.pingers.Add(1)
	go func() {
		defer c.pingers.Add(-1)
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				c.mu.Lock()
				if c.conn != nil {
					_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				}
				c.mu.Unlock()
			}
		}
	}()

	go func() {
		defer close(rates)
		defer close(errs)
		defer close(done)
		for {
			if ctx.Err() != nil {
				return
			}
			conn := c.currentConn()
			if conn == nil {
				errs <- errNotConnected
				return
			}
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("ratefeed read: %w", err)
				}
				return
			}
			fixings, err := decodeFixings(b)
			if err != nil {
				c.l.Debug("ratefeed: ignoring frame", applogger.Error(err))
				continue
			}
			for _, r := range fixings {
				select {
				case rates <- r:
				case <-ctx.Done():
					return
				default:
					c.l.Warn("ratefeed: dropping fixing on backpressure", applogger.String("code", string(r.Code)))
				}
			}
		}
	}()

	return rates, errs
}

// Reconnect closes, waits reconnectDelay and reconnects.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.reconnectDelay):
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

var _ drepo.IndexRateStream = (*Client)(nil)
