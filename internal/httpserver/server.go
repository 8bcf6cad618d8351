// Package httpserver exposes the health check, the Twilio voice webhook and
// the media-stream websocket endpoint.
package httpserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/twilio/twilio-go/twiml"
	"go.uber.org/zap"

	"github.com/425732441/OpenAI-Realtime-API-Twilio-Phone-Call-Assistant/internal/logger"
	"github.com/425732441/OpenAI-Realtime-API-Twilio-Phone-Call-Assistant/internal/middleware"
)

// MediaStreamPath is where Twilio opens the media-stream websocket.
const MediaStreamPath = "/media-stream"

// Bridge serves one upgraded media-stream connection until it ends.
type Bridge interface {
	Serve(ctx context.Context, conn *websocket.Conn) error
}

// Options configures the HTTP surface.
type Options struct {
	PublicBaseURL   string
	TwilioAuthToken string
	Greeting        string
}

// Server bundles the echo router and its dependencies.
type Server struct {
	Echo *echo.Echo

	opts     Options
	bridge   Bridge
	upgrader websocket.Upgrader
}

// New constructs the HTTP server with routes.
func New(opts Options, b Bridge) *Server {
	s := &Server{
		Echo:   NewEcho(),
		opts:   opts,
		bridge: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	s.Echo.Use(middleware.TwilioAuth(func() string { return opts.TwilioAuthToken }, opts.PublicBaseURL))

	s.Echo.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	s.Echo.POST("/twilio/voice", s.voice)
	s.Echo.GET(MediaStreamPath, s.mediaStream)
	return s
}

func (s *Server) voice(c echo.Context) error {
	params, _ := c.Get(middleware.ParamsKey).(map[string]string)
	streamURL := s.streamURL(c.Request())
	logger.Info("incoming call",
		zap.String("call_sid", params["CallSid"]),
		zap.String("from", params["From"]),
		zap.String("stream_url", streamURL),
	)

	var verbs []twiml.Element
	if s.opts.Greeting != "" {
		verbs = append(verbs, &twiml.VoiceSay{Message: s.opts.Greeting})
	}
	verbs = append(verbs, &twiml.VoiceConnect{
		InnerElements: []twiml.Element{&twiml.VoiceStream{Url: streamURL}},
	})
	response, err := twiml.Voice(verbs)
	if err != nil {
		logger.Error("failed to build TwiML", zap.Error(err))
		return c.String(http.StatusInternalServerError, "failed to build TwiML")
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/xml")
	return c.String(http.StatusOK, response)
}

// streamURL is the websocket URL Twilio should connect the call to.
func (s *Server) streamURL(r *http.Request) string {
	base := s.opts.PublicBaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case base == "":
		base = "wss://" + r.Host
	}
	return strings.TrimRight(base, "/") + MediaStreamPath
}

func (s *Server) mediaStream(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		logger.Warn("media stream upgrade failed", zap.Error(err))
		return nil
	}
	if err := s.bridge.Serve(c.Request().Context(), conn); err != nil {
		logger.Debug("media stream session ended with error", zap.Error(err))
	}
	return nil
}
