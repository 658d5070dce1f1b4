package middleware

import (
	"fmt"
	"runtime/debug"

	applogger "BondYield/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Recover turns a handler panic into an error for echo's error handler, so
// the response and the request metrics both see a 500.
func Recover(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				perr, ok := r.(error)
				if !ok {
					perr = fmt.Errorf("%v", r)
				}
				l.Error("http handler panic",
					applogger.String("route", routeOf(c)),
					applogger.Error(perr),
					applogger.String("stack", string(debug.Stack())),
				)
				err = fmt.Errorf("handler panic: %w", perr)
			}()
			return next(c)
		}
	}
}
