package mediastream

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Link owns the inbound media-stream websocket.
type Link struct {
	conn         *websocket.Conn
	log          *zap.Logger
	writeTimeout time.Duration

	mu        sync.Mutex // serializes writes; gorilla allows one concurrent writer
	closeOnce sync.Once
}

// NewLink wraps an upgraded connection.
func NewLink(conn *websocket.Conn, log *zap.Logger, writeTimeout time.Duration) *Link {
	if log == nil {
		log = zap.NewNop()
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Link{conn: conn, log: log, writeTimeout: writeTimeout}
}

// ReadLoop delivers decoded frames to out until the connection fails or ctx
// is done. Malformed frames are logged and skipped. The returned error is the
// read error that ended the loop, or nil on ctx cancellation.
func (l *Link) ReadLoop(ctx context.Context, out chan<- Frame) error {
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		frame, err := ParseFrame(data)
		if err != nil {
			l.log.Warn("dropping malformed client frame", zap.Error(err), zap.ByteString("raw", truncate(data, 256)))
			continue
		}
		select {
		case out <- frame:
		case <-ctx.Done():
			return nil
		}
	}
}

// SendMedia writes one audio payload to the client, unmodified.
func (l *Link) SendMedia(streamSID, payload string) error {
	data, err := EncodeMedia(streamSID, payload)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout)); err != nil {
		return err
	}
	return l.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal close frame and closes the socket. Safe to call more than once.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(l.writeTimeout))
		l.mu.Unlock()
		err = l.conn.Close()
	})
	return err
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
