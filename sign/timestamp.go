package sign

import (
	"bytes"
	"context"
	"crypto"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/digitorus/pkcs7"
	"github.com/digitorus/timestamp"
)

const defaultTSATimeout = 30 * time.Second

// fetchTimestamp requests an RFC 3161 token over signature and returns the
// DER encoded token.
func fetchTimestamp(ctx context.Context, client *http.Client, tsa TSA, h crypto.Hash, signature []byte) ([]byte, error) {
	tsRequest, err := timestamp.CreateRequest(bytes.NewReader(signature), &timestamp.RequestOptions{
		Hash:         h,
		Certificates: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	timeout := tsa.Timeout
	if timeout <= 0 {
		timeout = defaultTSATimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tsa.URL, bytes.NewReader(tsRequest))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare request (%s): %w", tsa.URL, err)
	}
	req.Header.Add("Content-Type", "application/timestamp-query")
	req.Header.Add("Content-Transfer-Encoding", "binary")
	if tsa.Username != "" && tsa.Password != "" {
		req.SetBasicAuth(tsa.Username, tsa.Password)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.New("non success response (" + strconv.Itoa(resp.StatusCode) + "): " + string(body))
	}

	ts, err := timestamp.ParseResponse(body)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp: %w", err)
	}
	if _, err := pkcs7.Parse(ts.RawToken); err != nil {
		return nil, fmt.Errorf("parse timestamp token: %w", err)
	}

	digest := h.New()
	digest.Write(signature)
	if !bytes.Equal(ts.HashedMessage, digest.Sum(nil)) {
		return nil, errors.New("timestamp token covers a different message")
	}
	return ts.RawToken, nil
}
