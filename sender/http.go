package sender

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/trackwell/beacon/signature"
)

const maxResponseBody = 64 * 1024 // 64KB cap on response body capture

// HTTPSender posts payloads verbatim to a destination HTTP endpoint.
//
// It covers destinations that accept server-side JSON events directly; the
// platform-specific formatting (field mapping, PII hashing) is expected to
// have happened before the payload reached Beacon.
type HTTPSender struct {
	url     string
	secret  string
	headers map[string]string
	client  *http.Client
}

// NewHTTPSender creates an HTTP sender for the given destination URL.
// If secret is non-empty, every request carries an HMAC-SHA256 signature
// header the destination can verify. The timeout bounds the whole request.
func NewHTTPSender(url, secret string, timeout time.Duration, headers map[string]string) *HTTPSender {
	return &HTTPSender{
		url:     url,
		secret:  secret,
		headers: headers,
		client:  &http.Client{Timeout: timeout},
	}
}

// Send implements Sender.
func (s *HTTPSender) Send(ctx context.Context, sr Request) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(sr.Payload))
	if err != nil {
		return Result{Err: fmt.Sprintf("create request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Beacon/1.0")
	req.Header.Set("X-Beacon-Order-ID", sr.OrderID)
	if sr.EventID != "" {
		req.Header.Set("X-Beacon-Event-ID", sr.EventID)
	}

	if s.secret != "" {
		ts := time.Now().Unix()
		req.Header.Set("X-Beacon-Signature", signature.Sign(sr.Payload, s.secret, ts))
		req.Header.Set("X-Beacon-Timestamp", strconv.FormatInt(ts, 10))
	}

	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{Err: err.Error()}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if readErr != nil {
		return Result{
			ResponseCode: resp.StatusCode,
			Err:          fmt.Sprintf("read response: %v", readErr),
		}
	}

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	res := Result{
		Success:      success,
		ResponseCode: resp.StatusCode,
		ResponseBody: string(respBody),
	}
	if !success {
		res.Err = fmt.Sprintf("destination returned status %d", resp.StatusCode)
	}
	return res
}
