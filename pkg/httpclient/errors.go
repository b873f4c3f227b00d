package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/utafrali/notifier/pkg/errors"
)

// GatewayErrorResponse is the structured error body returned by delivery
// gateways (SMS relays, push gateways) that follow the standard envelope.
type GatewayErrorResponse struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError reads the body of a non-2xx HTTP response and translates
// it into an error. Structured bodies keep the gateway's code and message;
// anything else is reported with the status code and raw body.
//
// The response body is fully consumed and closed.
func ParseResponseError(resp *http.Response, gateway string) error {
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB limit
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", gateway, resp.StatusCode, err)
	}

	var downstream GatewayErrorResponse
	if json.Unmarshal(bodyBytes, &downstream) == nil && downstream.Error != nil {
		return mapGatewayError(resp.StatusCode, downstream.Error.Code, downstream.Error.Message, gateway)
	}

	return fmt.Errorf("%s returned status %d: %s", gateway, resp.StatusCode, string(bodyBytes))
}

// mapGatewayError translates a gateway status code and error code into an
// AppError that preserves the error semantics.
func mapGatewayError(status int, code, message, gateway string) error {
	qualifiedMsg := fmt.Sprintf("%s: %s", gateway, message)

	switch {
	case status == http.StatusNotFound:
		return apperrors.NotFound(gateway, message)
	case status == http.StatusBadRequest:
		return apperrors.InvalidInput(qualifiedMsg)
	case status == http.StatusConflict:
		return apperrors.Conflict(qualifiedMsg)
	case status == http.StatusTooManyRequests:
		return apperrors.TooManyRequests(qualifiedMsg)
	case status == http.StatusServiceUnavailable:
		return apperrors.ServiceUnavailable(qualifiedMsg)
	case status >= 500:
		return fmt.Errorf("%s server error (%d/%s): %s", gateway, status, code, message)
	default:
		return &apperrors.AppError{
			Code:    code,
			Message: qualifiedMsg,
			Status:  status,
		}
	}
}
