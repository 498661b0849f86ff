package toolbroker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/corvidlabs/symborc/pkg/httpclient"
)

// EditorClient wraps the HTTP calls to the editor bridge: POST
// {editor_url}/{op} with a JSON body, JSON response (spec.md §6).
type EditorClient struct {
	http *httpclient.Client
}

// NewEditorClient builds an EditorClient with the retrying transport every
// outbound call in this module shares.
func NewEditorClient() *EditorClient {
	return &EditorClient{
		http: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 120 * time.Second}),
			httpclient.WithMaxRetries(3),
			httpclient.WithBaseDelay(500*time.Millisecond),
		),
	}
}

// Call performs one editor bridge RPC: POST {editorURL}/{op} with body
// marshaled from req, decoding the response into resp.
func (c *EditorClient) Call(ctx context.Context, editorURL, op string, req any, resp any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, editorURL+"/"+op, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("editor bridge %s returned HTTP %d: %s", op, httpResp.StatusCode, string(data))
	}

	if resp == nil {
		return nil
	}
	if err := json.Unmarshal(data, resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
