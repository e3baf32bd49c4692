package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestLogger_SkipsHealthChecks(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/db", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := Logger(logger)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no log output for health check, got %s", buf.String())
	}
}

func TestLogger_TagsWebhookRequests(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/dispatch", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "rid-2")

	err := Logger(logger)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"webhook":true`) {
		t.Errorf("expected webhook tag in log line, got %s", out)
	}
	if !strings.Contains(out, `"request_id":"rid-2"`) {
		t.Errorf("expected request id in log line, got %s", out)
	}
}

func TestLogger_ClientErrorLogsWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	_ = Logger(logger)(func(c echo.Context) error {
		return c.NoContent(http.StatusBadRequest)
	})(c)

	if !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Errorf("expected warn level for 4xx, got %s", buf.String())
	}
}

func TestRecovery_ConvertsPanicTo500(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/dispatch", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := Recovery(logger)(func(c echo.Context) error {
		panic("boom")
	})(c)

	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 from recovered panic, got %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "panic recovered") || !strings.Contains(out, "boom") {
		t.Errorf("expected panic log line, got %s", out)
	}
	if !strings.Contains(out, `"path":"/webhooks/dispatch"`) {
		t.Errorf("expected request path in panic log, got %s", out)
	}
}
