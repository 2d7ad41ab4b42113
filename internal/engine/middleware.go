package engine

import (
	"github.com/gin-gonic/gin"
)

// Middleware returns the gin handler that inspects every request before
// the application sees it. When the resolved action terminates the
// request (block, redirect, refused throttle) the chain is aborted; when
// it observes (log-only, shadow, marker policies) the context handoff
// items are copied into the gin context for downstream middleware, and
// the response side is analysed after the handler chain returns.
func (e *Engine) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := e.Inspect(c.Request.Context(), c.Writer, c.Request)
		if err != nil {
			// Caller cancellation: the client is gone, nothing to serve.
			c.Abort()
			return
		}
		if !out.Result.Continue {
			c.Abort()
			return
		}

		for k, v := range out.Items {
			c.Set(k, v)
		}

		c.Next()

		e.RecordOperation(out, c.Request, c.Writer.Status(), int64(c.Writer.Size()))
	}
}
