package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sorrel/pkg/context"
)

const (
	// HeaderCollection selects the entity map collection to read.
	HeaderCollection = "X-Collection"
	// QueryCollection is the query parameter equivalent of HeaderCollection.
	QueryCollection = "collection"
)

// Context stores request metadata and the requested collection on the request
// context. The query parameter wins over the header; defaultCollection fills in
// when neither is given.
func Context(defaultCollection string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			collection := c.QueryParam(QueryCollection)
			if collection == "" {
				collection = req.Header.Get(HeaderCollection)
			}
			if collection == "" {
				collection = defaultCollection
			}

			ctx := req.Context()
			ctx = context.SetRequestID(ctx, requestID)
			ctx = context.SetMethod(ctx, req.Method)
			ctx = context.SetRoute(ctx, c.Path())
			ctx = context.SetRemoteIP(ctx, c.RealIP())
			ctx = context.SetCollection(ctx, collection)

			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}
