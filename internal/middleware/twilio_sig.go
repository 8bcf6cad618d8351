package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/twilio/twilio-go/client"
	"go.uber.org/zap"

	"github.com/425732441/OpenAI-Realtime-API-Twilio-Phone-Call-Assistant/internal/logger"
)

// ParamsKey is the echo context key holding the webhook form parameters.
const ParamsKey = "twilioParams"

// SignatureHeader carries the webhook signature.
const SignatureHeader = "X-Twilio-Signature"

// TwilioAuth validates Twilio webhook requests under /twilio/ and exposes
// their form parameters as map[string]string under ParamsKey.
//
// With an empty auth token the signature is not checked. publicBaseURL, when
// set, replaces scheme and host of the URL the signature is computed over;
// this is needed behind proxies that rewrite the Host header.
func TwilioAuth(getAuthToken func() string, publicBaseURL string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/twilio/") {
				return next(c)
			}

			body, err := io.ReadAll(req.Body)
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to read request body")
			}
			req.Body = io.NopCloser(bytes.NewReader(body))

			form, err := url.ParseQuery(string(body))
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to parse form data")
			}
			params := make(map[string]string, len(form))
			for key, values := range form {
				if len(values) > 0 {
					params[key] = values[0]
				}
			}

			if token := getAuthToken(); token != "" {
				validator := client.NewRequestValidator(token)
				signed := signedURL(req, publicBaseURL)
				if !validator.Validate(signed, params, req.Header.Get(SignatureHeader)) {
					logger.Warn("rejected webhook with invalid signature",
						zap.String("path", req.URL.Path),
						zap.String("url", signed),
					)
					return c.String(http.StatusUnauthorized, "Invalid Twilio signature")
				}
			}

			c.Set(ParamsKey, params)
			return next(c)
		}
	}
}

func signedURL(req *http.Request, publicBaseURL string) string {
	if publicBaseURL != "" {
		return strings.TrimRight(publicBaseURL, "/") + req.URL.RequestURI()
	}
	return "https://" + req.Host + req.URL.RequestURI()
}
