package consumer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/otpless/usage-ingestion/internal/ingest/domain"
)

// BillingSink forwards canonical events to the billing aggregation service
// over HTTP. It implements Handler; a non-2xx response or transport error is
// a processing failure and routes the message to the DLQ.
type BillingSink struct {
	baseURL string
	client  *http.Client
}

// NewBillingSink returns a sink posting to baseURL (e.g.
// http://billing:8081/usage).
func NewBillingSink(baseURL string) *BillingSink {
	return &BillingSink{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Handle posts the event JSON to the billing service.
func (s *BillingSink) Handle(ctx context.Context, ev *domain.Event) error {
	body, err := ev.MarshalValue()
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("billing sink: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("billing sink: unexpected status %d", resp.StatusCode)
	}
	return nil
}
