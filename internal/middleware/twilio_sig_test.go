package middleware

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func sign(token, fullURL string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data := fullURL
	for _, k := range keys {
		data += k + params[k]
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func newEcho(token, base string, got *map[string]string) *echo.Echo {
	e := echo.New()
	e.Use(TwilioAuth(func() string { return token }, base))
	e.POST("/twilio/voice", func(c echo.Context) error {
		*got, _ = c.Get(ParamsKey).(map[string]string)
		return c.String(http.StatusOK, "ok")
	})
	e.POST("/other", func(c echo.Context) error { return c.String(http.StatusOK, "other") })
	return e
}

func formRequest(path string, params map[string]string) *http.Request {
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	req.Host = "bridge.example.com"
	return req
}

func TestTwilioAuth_ValidSignature(t *testing.T) {
	params := map[string]string{"CallSid": "CA1", "From": "+15550001111"}
	var got map[string]string
	e := newEcho("secret", "", &got)

	req := formRequest("/twilio/voice", params)
	req.Header.Set(SignatureHeader, sign("secret", "https://bridge.example.com/twilio/voice", params))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, params, got)
}

func TestTwilioAuth_PublicBaseURL(t *testing.T) {
	params := map[string]string{"CallSid": "CA1"}
	var got map[string]string
	e := newEcho("secret", "https://public.example.com/", &got)

	req := formRequest("/twilio/voice", params)
	req.Header.Set(SignatureHeader, sign("secret", "https://public.example.com/twilio/voice", params))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTwilioAuth_RejectsBadSignature(t *testing.T) {
	params := map[string]string{"CallSid": "CA1"}
	var got map[string]string
	e := newEcho("secret", "", &got)

	req := formRequest("/twilio/voice", params)
	req.Header.Set(SignatureHeader, sign("other-token", "https://bridge.example.com/twilio/voice", params))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, got)
}

func TestTwilioAuth_NoTokenSkipsValidation(t *testing.T) {
	var got map[string]string
	e := newEcho("", "", &got)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, formRequest("/twilio/voice", map[string]string{"CallSid": "CA9"}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CA9", got["CallSid"])
}

func TestTwilioAuth_IgnoresOtherPaths(t *testing.T) {
	var got map[string]string
	e := newEcho("secret", "", &got)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, formRequest("/other", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "other", rec.Body.String())
}
