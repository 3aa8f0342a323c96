package driftq

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
)

func (c *Client) doJSON(ctx context.Context, method, path string, q url.Values, in any, out any) error {
	return c.doJSONWithHeaders(ctx, method, path, q, nil, in, out)
}

func (c *Client) doJSONWithHeaders(ctx context.Context, method, path string, q url.Values, hdr http.Header, in any, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}

	if resp.StatusCode == http.StatusNoContent || out == nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeAPIError maps a non-2xx response to an *APIError, best-effort
// parsing the broker's {error, message} body. Malformed or absent bodies
// leave Code/Message empty.
func decodeAPIError(resp *http.Response) error {
	var er ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&er) // best-effort

	return &APIError{
		Status:  resp.StatusCode,
		Code:    er.Error,
		Message: er.Message,
	}
}
