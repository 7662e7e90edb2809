// Package httpmw adapts the tracker to net/http.
//
// The middleware keys requests by the Idempotency-Key header. The first
// request with a key executes the wrapped handler and caches its response;
// repeats replay the cached response, concurrent duplicates get 409, key
// reuse with a different payload gets 422, and requests whose original
// execution crashed get 500.
package httpmw

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/danschultzer/idempotency-plug/digest"
	"github.com/danschultzer/idempotency-plug/types"
)

// Tracker is the subset of the tracker API consumed by the middleware.
type Tracker interface {
	Track(ctx context.Context, key, fingerprint []byte) types.Outcome
	Complete(ctx context.Context, key []byte, resp types.Response) types.Outcome
}

// DefaultHeader is the request header carrying the idempotency key.
const DefaultHeader = "Idempotency-Key"

// ErrorHandler renders an error response for a non-replayable outcome.
// status is the suggested HTTP status for the outcome kind.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, status int, outcome types.Outcome)

// Option configures the middleware.
type Option func(*middlewareOptions)

type middlewareOptions struct {
	header     string
	hasher     digest.Hasher
	methods    map[string]struct{}
	onError    ErrorHandler
	bodyLimit  int64
	requireKey bool
}

// WithHeader overrides the header name carrying the idempotency key.
func WithHeader(name string) Option {
	return func(o *middlewareOptions) {
		o.header = name
	}
}

// WithHasher overrides the digest algorithm used for keys and fingerprints.
func WithHasher(h digest.Hasher) Option {
	return func(o *middlewareOptions) {
		o.hasher = h
	}
}

// WithMethods overrides the HTTP methods subject to idempotency tracking.
// Defaults to POST and PATCH; all other methods pass through untouched.
func WithMethods(methods ...string) Option {
	return func(o *middlewareOptions) {
		o.methods = make(map[string]struct{}, len(methods))
		for _, m := range methods {
			o.methods[m] = struct{}{}
		}
	}
}

// WithErrorHandler overrides how conflict, mismatch and failure outcomes
// are rendered. The default writes a plain-text status message.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(o *middlewareOptions) {
		o.onError = fn
	}
}

// WithOptionalKey makes the key header optional: requests without it pass
// through untracked instead of receiving 400.
func WithOptionalKey() Option {
	return func(o *middlewareOptions) {
		o.requireKey = false
	}
}

// WithBodyLimit caps how many request body bytes are read for
// fingerprinting. Bodies beyond the cap yield 413. Default: 4 MiB.
func WithBodyLimit(n int64) Option {
	return func(o *middlewareOptions) {
		o.bodyLimit = n
	}
}

// Handler wraps next with idempotency tracking backed by tracker.
//
// Tracked requests must carry the key header (400 otherwise). The key
// digest covers the header value and the request path, so the same key on
// different endpoints tracks independently. The fingerprint digest covers
// the method and body, so reusing a key with a different payload is
// rejected with 422.
//
// The wrapped handler's response is captured write-through and stored via
// Complete before Handler returns. If the handler panics, the panic
// propagates and the entry converts to its halted state once the request
// context ends.
func Handler(tracker Tracker, next http.Handler, opts ...Option) http.Handler {
	options := &middlewareOptions{
		header:     DefaultHeader,
		hasher:     digest.SHA256{},
		methods:    map[string]struct{}{http.MethodPost: {}, http.MethodPatch: {}},
		onError:    defaultErrorHandler,
		bodyLimit:  4 << 20,
		requireKey: true,
	}
	for _, opt := range opts {
		opt(options)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, tracked := options.methods[r.Method]; !tracked {
			next.ServeHTTP(w, r)

			return
		}

		headerKey := r.Header.Get(options.header)
		if headerKey == "" {
			if !options.requireKey {
				next.ServeHTTP(w, r)

				return
			}
			http.Error(w, fmt.Sprintf("missing %s header", options.header), http.StatusBadRequest)

			return
		}

		body, err := readBody(r, options.bodyLimit)
		if err != nil {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)

			return
		}

		key := options.hasher.Sum([]byte(headerKey), []byte(r.URL.Path))
		fingerprint := options.hasher.Sum([]byte(r.Method), body)

		outcome := tracker.Track(r.Context(), key, fingerprint)

		switch outcome.Kind {
		case types.OutcomeInit:
			rec := newRecorder(w)
			next.ServeHTTP(rec, r)

			// Store before returning so net/http's post-handler context
			// cancellation never races the completion into a halt.
			done := tracker.Complete(r.Context(), key, rec.response())
			if done.Kind != types.OutcomeCompleted {
				// The client already has the response; only the replay cache
				// is lost.
				return
			}

		case types.OutcomeCachedDone:
			replay(w, outcome.Response)

		case types.OutcomeInFlight:
			options.onError(w, r, http.StatusConflict, outcome)

		case types.OutcomeMismatch:
			options.onError(w, r, http.StatusUnprocessableEntity, outcome)

		case types.OutcomeCachedHalted:
			options.onError(w, r, http.StatusInternalServerError, outcome)

		default:
			options.onError(w, r, http.StatusInternalServerError, outcome)
		}
	})
}

func readBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}

	// Hand the handler a fresh reader over the consumed bytes.
	r.Body = io.NopCloser(bytes.NewReader(body))

	return body, nil
}

func replay(w http.ResponseWriter, resp types.Response) {
	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}

func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, status int, outcome types.Outcome) {
	var msg string
	switch outcome.Kind {
	case types.OutcomeInFlight:
		msg = "request with this idempotency key is already being processed"
	case types.OutcomeMismatch:
		msg = "idempotency key reused with a different request payload"
	case types.OutcomeCachedHalted:
		msg = "previous request with this idempotency key terminated abnormally"
	default:
		msg = "idempotency tracking unavailable"
	}

	http.Error(w, msg, status)
}
