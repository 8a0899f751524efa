package clients

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	x402types "github.com/vitwit/x402gate/types"
)

// ErrorResponse is the error body returned by the node API.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// APIError is a non-2xx node response.
type APIError struct {
	StatusCode int
	Message    string
	Reason     string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("node API error: status=%d, message=%s, reason=%s", e.StatusCode, e.Message, e.Reason)
	}
	return fmt.Sprintf("node API error: status=%d, message=%s", e.StatusCode, e.Message)
}

// handleAPIResponse decodes a 200 body into result, or classifies the failure.
// 5xx responses become NetworkUnavailable, everything else an *APIError.
func handleAPIResponse(resp *http.Response, result any) error {
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		if result != nil {
			if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
		}
		return nil
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return x402types.NewError(x402types.CodeNetworkUnavailable, fmt.Sprintf("node returned status %d", resp.StatusCode), nil)
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to read error response: %v", err),
		}
	}

	var errorResp ErrorResponse
	if err := json.Unmarshal(bodyBytes, &errorResp); err != nil {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("unexpected status code: %d", resp.StatusCode),
		}
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    errorResp.Error,
		Reason:     errorResp.Reason,
	}
}
