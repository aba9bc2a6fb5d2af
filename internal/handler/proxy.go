package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"prefix-gateway/internal/gateway"
	"prefix-gateway/internal/model"
	"prefix-gateway/internal/service"
)

const streamBufferSize = 32 * 1024

// ProxyHandler forwards every request that is not a gateway endpoint to the
// upstream registered for its route prefix.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request and streams the rewritten response back.
//
// Status and headers are committed on the first emitted byte, so a failure in the
// body phase before anything was emitted still yields a JSON error response.
// Once committed, a failure leaves the client with a truncated body.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()
	rc := h.service.NewContext()

	var err error
	defer func() {
		status := 0
		if c.Response().Committed {
			status = c.Response().Status
		}
		h.service.Finish(req, rc, status, err)
	}()

	var resp *model.ProxyResponse
	resp, err = h.service.Forward(req, rc)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	err = h.stream(c, resp)
	if err != nil && !c.Response().Committed {
		return h.mapError(c, err)
	}
	return nil
}

func (h *ProxyHandler) stream(c echo.Context, resp *model.ProxyResponse) error {
	w := c.Response()
	commit := func() {
		for key, vals := range resp.Header {
			for _, v := range vals {
				w.Header().Add(key, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
	}

	buf := make([]byte, streamBufferSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if !w.Committed {
				commit()
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			if !w.Committed {
				commit()
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	status, msg := classify(err)
	h.logger.Debug("proxy error response",
		"status", status,
		"path", c.Request().URL.Path,
	)
	return c.JSON(status, map[string]string{"error": msg})
}

// classify maps a pipeline failure to the status and message shown to the client.
func classify(err error) (int, string) {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind.Status(), gwErr.Msg
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "upstream request timed out"
	}

	if errors.Is(err, context.Canceled) {
		return http.StatusBadGateway, "client disconnected"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return http.StatusBadGateway, "upstream host unreachable"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return http.StatusBadGateway, "upstream connection failed"
	}

	return http.StatusBadGateway, "upstream request failed"
}
