package middleware

import (
	"time"

	applogger "PolyPaper/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Paths polled by infrastructure. Logging them drowns out real traffic.
var quietPaths = map[string]struct{}{
	"/healthz": {},
	"/metrics": {},
}

// RequestLogging emits one structured line per request, skipping probe
// endpoints. A nil logger disables it.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if l == nil {
				return next(c)
			}
			if _, quiet := quietPaths[c.Request().URL.Path]; quiet {
				return next(c)
			}

			start := time.Now()
			err := next(c)

			req := c.Request()
			l.Debug("http request",
				applogger.String("method", req.Method),
				applogger.String("path", req.URL.Path),
				applogger.String("remote", c.RealIP()),
				applogger.Int("status", c.Response().Status),
				applogger.Duration("duration_ms", time.Since(start)),
			)
			return err
		}
	}
}
