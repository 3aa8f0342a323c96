package driftq

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Consume records can carry whole payloads; keep room for large values.
const maxConsumeLineBytes = 10 << 20

// ConsumeStream opens /v1/consume and decodes NDJSON records until ctx is
// cancelled or the server closes the stream. Records are delivered in
// arrival order, one at a time; a record that does not parse as a delivery
// is skipped and logged at warn level rather than tearing down the stream.
//
// IMPORTANT: this intentionally does NOT use doJSON and opts out of the
// client's default timeout. Streaming lifetime must be controlled by ctx
// (or server-side shutdown), not a generic client timeout.
func (c *Client) ConsumeStream(ctx context.Context, opt ConsumeOptions) (<-chan ConsumeMessage, <-chan error, error) {
	topic := strings.TrimSpace(opt.Topic)
	group := strings.TrimSpace(opt.Group)
	owner := strings.TrimSpace(opt.Owner)

	if topic == "" || group == "" || owner == "" {
		return nil, nil, errors.New("driftq: topic, group, and owner are required")
	}
	if opt.LeaseMS < 0 {
		return nil, nil, errors.New("driftq: lease_ms must be >= 0")
	}

	q := url.Values{}
	q.Set("topic", topic)
	q.Set("group", group)
	q.Set("owner", owner)
	if opt.LeaseMS > 0 {
		q.Set("lease_ms", strconv.FormatInt(opt.LeaseMS, 10))
	}

	u := c.baseURL + "/v1/consume?" + q.Encode()

	req, err := http.NewRequestWithContext(WithNoDefaultTimeout(ctx), http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/x-ndjson")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, nil, err
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, nil, decodeAPIError(resp)
	}

	msgs := make(chan ConsumeMessage)
	errs := make(chan error, 1)

	go func() {
		defer close(msgs)
		defer close(errs)
		defer resp.Body.Close()

		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 64*1024), maxConsumeLineBytes)

		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}

			var m ConsumeMessage
			if err := json.Unmarshal(line, &m); err != nil {
				// One bad record must not kill the stream; once its lease
				// expires the broker redelivers it anyway.
				c.logger.Warnf("driftq: skipping malformed consume record (topic=%s group=%s): %v", topic, group, err)
				continue
			}

			select {
			case msgs <- m:
			case <-ctx.Done():
				return
			}
		}

		// normal shutdown cases
		if err := sc.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, io.EOF) {
			// report unexpected read errors without deadlocking
			select {
			case errs <- err:
			default:
			}
		}
	}()

	return msgs, errs, nil
}
