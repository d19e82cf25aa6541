package api

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// PublishBody decompresses gzip-encoded publish requests and caps the decoded
// body at limit bytes. Invalid gzip payloads are rejected with a 400 response.
func PublishBody(limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			body := req.Body
			if hasGzipEncoding(req.Header.Get(echo.HeaderContentEncoding)) {
				gr, err := gzip.NewReader(body)
				if err != nil {
					_ = body.Close()
					return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
				}
				req.Header.Del(echo.HeaderContentEncoding)
				req.Header.Del(echo.HeaderContentLength)
				req.ContentLength = -1
				req.Body = &gzipReadCloser{Reader: gr, body: body}
			}
			req.Body = http.MaxBytesReader(c.Response(), req.Body, limit)
			return next(c)
		}
	}
}

// AdmitStreams rejects new stream subscriptions with 429 once the limiter's
// bucket is empty. A nil limiter admits everything.
func AdmitStreams(limiter *rate.Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if limiter != nil && !limiter.Allow() {
				c.Response().Header().Set(echo.HeaderRetryAfter, "1")
				return c.String(http.StatusTooManyRequests, "too many new streams")
			}
			return next(c)
		}
	}
}

func hasGzipEncoding(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

type gzipReadCloser struct {
	*gzip.Reader
	body io.Closer
}

func (g *gzipReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.body.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
