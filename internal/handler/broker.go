package handler

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"

	"broker-proxy-go/internal/auth"
	"broker-proxy-go/internal/client"
	"broker-proxy-go/internal/service"
)

const xmlContentType = "application/xml; charset=UTF-8"

// Broker is the translate-and-forward operation set behind the /Broker routes.
type Broker interface {
	Get(ctx context.Context, header http.Header) (string, error)
	Post(ctx context.Context, header http.Header, body []byte) (string, error)
}

// BrokerHandler serves the XML-facing /Broker endpoint.
type BrokerHandler struct {
	broker Broker
	logger *slog.Logger
}

// NewBrokerHandler creates a BrokerHandler.
func NewBrokerHandler(svc *service.BrokerService, logger *slog.Logger) *BrokerHandler {
	return &BrokerHandler{
		broker: svc,
		logger: logger.With("component", "broker_handler"),
	}
}

// errorBody is the XML error document returned to callers.
type errorBody struct {
	XMLName xml.Name `xml:"error"`
	Message string   `xml:",chardata"`
}

// HandleGet forwards a GET to the target named in the request headers.
func (h *BrokerHandler) HandleGet(c echo.Context) error {
	req := c.Request()
	out, err := h.broker.Get(req.Context(), req.Header)
	if err != nil {
		return h.mapError(c, err)
	}
	return h.respond(c, out)
}

// HandlePost converts the XML body to JSON and forwards it as a POST.
func (h *BrokerHandler) HandlePost(c echo.Context) error {
	req := c.Request()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		// BodyLimit reports oversized bodies as an *echo.HTTPError while reading.
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		h.logger.Error("reading request body", "err", err)
		return c.XML(http.StatusBadRequest, errorBody{Message: "could not read request body"})
	}

	out, err := h.broker.Post(req.Context(), req.Header, body)
	if err != nil {
		return h.mapError(c, err)
	}
	return h.respond(c, out)
}

func (h *BrokerHandler) respond(c echo.Context, out string) error {
	if out == "" {
		return c.NoContent(http.StatusNotFound)
	}
	return c.Blob(http.StatusOK, xmlContentType, []byte(out))
}

func (h *BrokerHandler) mapError(c echo.Context, err error) error {
	status, msg := classify(err)
	h.logger.Debug("broker error mapped",
		"status", status,
		"err", err,
		"path", c.Request().URL.Path,
	)
	return c.XML(status, errorBody{Message: msg})
}

// classify maps a broker error to the response status and caller-facing message.
func classify(err error) (int, string) {
	var tre *service.TargetResolutionError
	if errors.As(err, &tre) {
		return http.StatusBadRequest, tre.Error()
	}

	if errors.Is(err, service.ErrRequestBody) {
		return http.StatusBadRequest, "request body is not well-formed XML"
	}

	var ue *service.UpstreamError
	if errors.As(err, &ue) {
		status := ue.StatusCode
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		return status, ue.Error()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "upstream request timed out"
	}

	if errors.Is(err, context.Canceled) {
		return http.StatusBadGateway, "client disconnected"
	}

	var tokErr *auth.TokenError
	if errors.As(err, &tokErr) {
		return http.StatusBadGateway, "could not obtain upstream access token"
	}

	if errors.Is(err, service.ErrResponseBody) {
		return http.StatusBadGateway, "upstream response is not convertible JSON"
	}

	if errors.Is(err, client.ErrResponseTooLarge) {
		return http.StatusBadGateway, "upstream response too large"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return http.StatusGatewayTimeout, "upstream request timed out"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return http.StatusBadGateway, "upstream host unreachable"
	}

	var te *client.TransportError
	if errors.As(err, &te) {
		return http.StatusBadGateway, "upstream connection failed"
	}

	return http.StatusInternalServerError, "internal error"
}
