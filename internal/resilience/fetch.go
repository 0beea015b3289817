package resilience

import "io"

// GuardFetch wraps a URL fetch function with cb so that a host returning
// consecutive errors trips the breaker instead of being retried on every
// request. The returned function has the same shape the upload and play-url
// handlers expect.
func GuardFetch(cb *CircuitBreaker, fetch func(url string) (io.ReadCloser, error)) func(url string) (io.ReadCloser, error) {
	return func(url string) (io.ReadCloser, error) {
		var rc io.ReadCloser
		err := cb.Execute(func() error {
			var ferr error
			rc, ferr = fetch(url)
			return ferr
		})
		if err != nil {
			return nil, err
		}
		return rc, nil
	}
}
