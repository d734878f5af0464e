package reader

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"exchangecatalog/logger"
)

// CaptureWebSocket dials url, sends subscribe when it is non-empty and
// returns up to max text or binary frames. The connection is closed before
// returning. Fewer frames are returned when the deadline passes first.
func (c *Client) CaptureWebSocket(ctx context.Context, url, subscribe string, max int) ([][]byte, error) {
	if max <= 0 {
		max = c.config.MaxMessages
	}
	if max <= 0 {
		max = 1
	}
	log := c.log.WithComponent("reader").WithFields(logger.Fields{"url": url, "operation": "capture_websocket", "max": max})

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.http.Timeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: c.http.Timeout}
	header := http.Header{}
	if c.config.UserAgent != "" {
		header.Set("User-Agent", c.config.UserAgent)
	}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	if subscribe != "" {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(subscribe)); err != nil {
			return nil, fmt.Errorf("send subscribe: %w", err)
		}
	}

	deadline, _ := ctx.Deadline()
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}
	// Unblock ReadMessage when the caller cancels.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	start := time.Now()
	frames := make([][]byte, 0, max)
	for len(frames) < max {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if len(frames) > 0 {
				log.WithError(err).WithFields(logger.Fields{"captured": len(frames)}).Warn("websocket capture ended early")
				break
			}
			return nil, fmt.Errorf("read %s: %w", url, err)
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		frames = append(frames, data)
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))

	logger.LogPerformanceEntry(log, "reader", "websocket_capture", time.Since(start), logger.Fields{"frames": len(frames)})
	return frames, nil
}
