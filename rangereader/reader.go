package rangereader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	catrate "github.com/joeycumines/go-catrate"

	"github.com/kestrelrun/corert/corerr"
)

// TokenSource supplies a bearer token for each request, the boundary
// spec.md §6 describes in place of a concrete cloud auth implementation.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same value,
// useful for tests and for backends that don't rotate credentials.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

const defaultMaxRetries = 3

// Option configures a RangeReader at construction.
type Option func(*config)

type config struct {
	client     *http.Client
	baseURL    string
	maxRetries int
	limiter    *catrate.Limiter
}

// WithHTTPClient overrides the *http.Client used to send requests.
func WithHTTPClient(c *http.Client) Option { return func(cfg *config) { cfg.client = c } }

// WithBaseURL overrides the storage endpoint; defaults to
// "https://storage.googleapis.com", matching spec.md §6's object-store
// request shape.
func WithBaseURL(u string) Option { return func(cfg *config) { cfg.baseURL = u } }

// WithMaxRetries overrides the retry budget for transient auth/transport
// errors; defaults to 3, per spec.md §4.G.
func WithMaxRetries(n int) Option { return func(cfg *config) { cfg.maxRetries = n } }

// WithRateLimiter shapes retry attempts through a go-catrate Limiter,
// keyed per object URL, so a persistently failing object can't be
// retried in a tight loop across callers sharing the limiter.
func WithRateLimiter(l *catrate.Limiter) Option { return func(cfg *config) { cfg.limiter = l } }

// RangeReader reads a remote object body sequentially, reopening at the
// current offset on mid-stream truncation.
type RangeReader struct {
	client     *http.Client
	tokens     TokenSource
	objectURL  string
	maxRetries int
	limiter    *catrate.Limiter

	currentOffset int64
	size          int64
	body          io.ReadCloser
	isDone        bool
}

// New constructs a RangeReader for (bucket, object) against tokens. Call
// Open before the first Read.
func New(bucket, object string, tokens TokenSource, opts ...Option) *RangeReader {
	cfg := config{
		client:     http.DefaultClient,
		baseURL:    "https://storage.googleapis.com",
		maxRetries: defaultMaxRetries,
	}
	for _, o := range opts {
		o(&cfg)
	}
	objectURL := fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media",
		cfg.baseURL, url.PathEscape(bucket), url.QueryEscape(object))

	return &RangeReader{
		client:     cfg.client,
		tokens:     tokens,
		objectURL:  objectURL,
		maxRetries: cfg.maxRetries,
		limiter:    cfg.limiter,
	}
}

// Size returns the object's total length, known only after Open.
func (r *RangeReader) Size() int64 { return r.size }

// Open sends the initial (or resuming) GET request, setting a Range
// header when currentOffset > 0, via a retrying sender that makes at most
// maxRetries retries (maxRetries+1 attempts) for transient auth/transport
// errors.
func (r *RangeReader) Open(ctx context.Context) error {
	resp, err := r.send(ctx)
	if err != nil {
		return err
	}
	r.body = resp.Body
	r.isDone = false

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			if resp.StatusCode == http.StatusPartialContent {
				r.size = r.currentOffset + n
			} else {
				r.size = n
			}
		}
	}
	return nil
}

// send performs the retrying GET, per spec.md §4.G: bounded retries
// (default 3) for transient auth/transport errors, shaped by an optional
// go-catrate Limiter keyed on the object URL.
func (r *RangeReader) send(ctx context.Context) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			if r.limiter != nil {
				if next, ok := r.limiter.Allow(r.objectURL); !ok {
					select {
					case <-time.After(time.Until(next)):
					case <-ctx.Done():
						return nil, corerr.Wrap(corerr.KindAborted, "rangereader: open", ctx.Err())
					}
				}
			}
		}

		resp, err := r.attempt(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isTransient(err) {
			return nil, err
		}
	}
	return nil, corerr.Wrap(corerr.KindAborted, "rangereader: retry budget exhausted", lastErr)
}

func (r *RangeReader) attempt(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.objectURL, nil)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindInvalidArgument, "rangereader: build request", err)
	}
	if r.currentOffset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", r.currentOffset))
	}
	token, err := r.tokens.Token(ctx)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindTransport, "rangereader: token", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindTransport, "rangereader: do", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, corerr.New(classifyStatus(resp.StatusCode), fmt.Sprintf("rangereader: status %d", resp.StatusCode))
	}
	return resp, nil
}

func classifyStatus(code int) corerr.Kind {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden, code == http.StatusTooManyRequests, code >= 500:
		return corerr.KindTransport
	default:
		return corerr.KindInvalidArgument
	}
}

func isTransient(err error) bool {
	return corerr.Of(err) == corerr.KindTransport
}

// Read fills buffer starting at offset, which must equal the reader's
// current offset. Once the stream is exhausted it returns 0 and an error
// classified corerr.KindEOF (via corerr.Of), rather than a bare io.EOF,
// following the convention the rest of this package uses.
func (r *RangeReader) Read(ctx context.Context, offset int64, buffer []byte) (int, error) {
	if offset != r.currentOffset {
		return 0, corerr.New(corerr.KindInvalidArgument, "rangereader: non-sequential read")
	}
	if r.isDone {
		return 0, corerr.New(corerr.KindEOF, "rangereader: stream exhausted")
	}

	alreadyRead := 0
	for {
		n, err := r.body.Read(buffer[alreadyRead:])
		httpRead := n

		switch {
		case err == nil:
			r.currentOffset += int64(httpRead)
			return alreadyRead + httpRead, nil

		case err == io.EOF && httpRead > 0:
			// a final, non-empty read that also signals end-of-stream
			r.currentOffset += int64(httpRead)
			if r.size == 0 || r.currentOffset >= r.size {
				r.isDone = true
			}
			return alreadyRead + httpRead, nil

		case err == io.EOF:
			if r.size != 0 && r.currentOffset < r.size {
				// stream_truncated: body closed before size was reached.
				r.currentOffset += int64(httpRead)
				if err := r.reopen(ctx); err != nil {
					return alreadyRead, err
				}
				alreadyRead += httpRead
				continue
			}
			r.isDone = true
			if alreadyRead+httpRead == 0 {
				return 0, corerr.New(corerr.KindEOF, "rangereader: stream exhausted")
			}
			return alreadyRead + httpRead, nil

		case err == io.ErrUnexpectedEOF:
			// partial_message: treat as truncation, advance by what we got
			// and reopen from the new offset.
			r.currentOffset += int64(httpRead)
			if err := r.reopen(ctx); err != nil {
				return alreadyRead, err
			}
			alreadyRead += httpRead
			continue

		default:
			r.discard()
			return alreadyRead, corerr.Wrap(corerr.KindTransport, "rangereader: read", err)
		}
	}
}

// reopen discards the current body and reissues the GET with a Range
// header from currentOffset.
func (r *RangeReader) reopen(ctx context.Context) error {
	r.discard()
	return r.Open(ctx)
}

func (r *RangeReader) discard() {
	if r.body != nil {
		_ = r.body.Close()
		r.body = nil
	}
}

// Close releases the underlying response body. If the stream is
// mid-body (not yet exhausted), the body is closed without draining —
// per spec.md §4.G, favoring a fresh connection over paying the cost of
// draining a large remaining body just to let the transport reuse it.
func (r *RangeReader) Close() error {
	defer func() { r.body = nil }()
	if r.body == nil {
		return nil
	}
	return r.body.Close()
}
