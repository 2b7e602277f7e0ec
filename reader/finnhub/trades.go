package finnhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	appconfig "marketpipe/config"
	"marketpipe/logger"
	"marketpipe/models"
	"marketpipe/reader/common"

	"github.com/gorilla/websocket"
)

const Source = "finnhub"

type subscribeRequest struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

type streamMessage struct {
	Type string  `json:"type"`
	Msg  string  `json:"msg"`
	Data []trade `json:"data"`
}

type trade struct {
	Symbol     string   `json:"s"`
	Price      float64  `json:"p"`
	Time       int64    `json:"t"`
	Volume     float64  `json:"v"`
	Conditions []string `json:"c"`
}

// TradeStream receives real-time trades over the Finnhub websocket. Run
// returns an error when the connection drops so the orchestrator can
// reconnect with backoff.
type TradeStream struct {
	cfg    appconfig.FinnhubConfig
	dialer *websocket.Dialer
	log    *logger.Entry

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewTradeStream(cfg appconfig.FinnhubConfig, log *logger.Log) *TradeStream {
	return &TradeStream{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		log:    log.WithComponent("finnhub_stream"),
	}
}

func (s *TradeStream) Name() string { return appconfig.SourceFinnhub }

// ReconnectBounds returns the minimum and maximum reconnect delay.
func (s *TradeStream) ReconnectBounds() (time.Duration, time.Duration) {
	return s.cfg.ReconnectMin, s.cfg.ReconnectMax
}

func (s *TradeStream) endpoint() (string, error) {
	u, err := url.Parse(s.cfg.WSURL)
	if err != nil {
		return "", fmt.Errorf("parse ws url: %w", err)
	}
	q := u.Query()
	q.Set("token", s.cfg.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *TradeStream) Run(ctx context.Context, in common.Ingester) error {
	endpoint, err := s.endpoint()
	if err != nil {
		return err
	}

	conn, _, err := s.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("dial finnhub: %w", err)
	}
	s.setConn(conn)
	defer s.setConn(nil)
	defer conn.Close()

	for _, symbol := range s.cfg.Symbols {
		if err := conn.WriteJSON(subscribeRequest{Type: "subscribe", Symbol: symbol}); err != nil {
			return fmt.Errorf("subscribe %s: %w", symbol, err)
		}
	}
	s.log.WithField("symbols", s.cfg.Symbols).Info("finnhub stream subscribed")

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-streamCtx.Done()
		conn.Close()
	}()
	go s.pingLoop(streamCtx, conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("finnhub stream: %w", err)
		}
		if err := s.handle(ctx, raw, in); err != nil {
			s.log.WithError(err).Debug("failed to decode finnhub message")
		}
	}
}

func (s *TradeStream) handle(ctx context.Context, raw []byte, in common.Ingester) error {
	var msg streamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return err
	}
	switch msg.Type {
	case "trade":
		n := common.Emit(ctx, in, Source, tradePoints(msg.Data))
		logger.LogDataFlowEntry(s.log, "finnhub_ws", "pipeline", n, "trade")
	case "error":
		s.log.WithField("message", msg.Msg).Warn("finnhub stream error message")
	}
	return nil
}

func tradePoints(trades []trade) []models.DataPoint {
	points := make([]models.DataPoint, 0, len(trades))
	for _, t := range trades {
		conditions := t.Conditions
		if conditions == nil {
			conditions = []string{}
		}
		points = append(points, models.DataPoint{
			Symbol:    t.Symbol,
			Timestamp: time.UnixMilli(t.Time).UTC(),
			Price:     t.Price,
			Volume:    int64(t.Volume),
			Source:    Source,
			Category:  models.CategoryTrade,
			Metadata:  map[string]interface{}{"conditions": conditions},
		})
	}
	return points
}

func (s *TradeStream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	interval := s.cfg.KeepAlive
	if interval <= 0 {
		interval = 20 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) && !strings.Contains(err.Error(), "closed") {
					s.log.WithError(err).Warn("failed to send websocket ping")
				}
				return
			}
		}
	}
}

func (s *TradeStream) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// Connected reports whether a websocket session is open.
func (s *TradeStream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}
