package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/dkeye/Relay/internal/core"
)

const (
	defaultWriteWait  = 5 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultInflight   = 8
	defaultReqTimeout = 10 * time.Second
)

func (ctl *SignalWSController) writeWait() time.Duration {
	if ctl.cfg.WriteWait > 0 {
		return ctl.cfg.WriteWait
	}
	return defaultWriteWait
}

func (ctl *SignalWSController) pongWait() time.Duration {
	if ctl.cfg.PongWait > 0 {
		return ctl.cfg.PongWait
	}
	return defaultPongWait
}

func (ctl *SignalWSController) pingPeriod() time.Duration {
	if ctl.cfg.PingPeriod > 0 && ctl.cfg.PingPeriod < ctl.pongWait() {
		return ctl.cfg.PingPeriod
	}
	return ctl.pongWait() * 9 / 10
}

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.pingPeriod())
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.writeWait())); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.writeWait())); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sess *core.Session, c *WsSignalConn) {
	sid := string(sess.ID())

	inflight := ctl.cfg.MaxInflightRequests
	if inflight <= 0 {
		inflight = defaultInflight
	}
	requests := pool.New().WithMaxGoroutines(inflight)
	limiter := newRequestLimiter(ctl.cfg.RateLimit)

	defer func() {
		cancel()
		ctl.Orch.Disconnect(sess.ID())
		c.Close()
		requests.Wait()
		log.Info().Str("module", "signal").Str("sid", sid).Msg("readPump closed")
	}()

	if ctl.cfg.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.cfg.ReadLimit)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", sid).Msg("readPump read error")
			}
			return
		}
		// any client traffic proves liveness
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))

		req, err := decodeRequest(data)
		if err != nil {
			ctl.reply(sess, c, req, nil, err)
			continue
		}
		if !limiter.Allow() {
			ctl.reply(sess, c, req, nil, core.ErrRateLimited.Withf("too many requests"))
			continue
		}
		requests.Go(func() {
			ctl.dispatch(ctx, sess, c, req)
		})
	}
}

// request is the envelope every client message arrives in.
type request struct {
	Type      string          `json:"type"`
	RequestID json.RawMessage `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type response struct {
	Type      string          `json:"type"`
	RequestID json.RawMessage `json:"request_id,omitempty"`
	OK        bool            `json:"ok"`
	Data      any             `json:"data,omitempty"`
	Error     *core.Error     `json:"error,omitempty"`
}

func decodeRequest(data []byte) (request, error) {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		return request{}, core.ErrInvalidRequest.Withf("malformed message: %v", err)
	}
	if req.Type == "" {
		return req, core.ErrInvalidRequest.Withf("missing type")
	}
	return req, nil
}

func (ctl *SignalWSController) dispatch(ctx context.Context, sess *core.Session, c *WsSignalConn, req request) {
	timeout := ctl.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultReqTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := ctl.handle(ctx, sess, req)
	ctl.reply(sess, c, req, data, err)
}

func (ctl *SignalWSController) reply(sess *core.Session, c *WsSignalConn, req request, data any, err error) {
	resp := response{Type: req.Type, RequestID: req.RequestID, OK: err == nil, Data: data}
	code := "ok"
	if err != nil {
		resp.Data = nil
		resp.Error = core.AsError(err)
		code = string(resp.Error.Code)
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Str("type", req.Type).Msg("request failed")
	}
	method := req.Type
	if _, known := handlers[method]; !known {
		method = "unknown"
	}
	ctl.Orch.Metrics.Request(method, code)
	ctl.sendJSON(c, resp)
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); errors.Is(err, ErrBackpressure) {
		// a client that cannot take its own replies is gone for practical purposes
		log.Warn().Str("module", "signal").Msg("reply dropped, closing connection")
		c.Close()
	}
}
