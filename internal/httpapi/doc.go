// Package httpapi serves the marketplace API: round listings, a round's
// matches, a websocket stream of round events, the Prometheus endpoint and,
// when an order service is mounted, order intake. Callers are authenticated
// upstream; the gateway passes the user id in the X-User-ID header.
//
// Routes:
//
//	GET    /health
//	GET    /api/v1/rounds
//	GET    /api/v1/rounds/active
//	GET    /api/v1/rounds/{id}/matches
//	POST   /api/v1/orders/{side}
//	GET    /api/v1/orders/{side}
//	GET    /api/v1/orders/{side}/{id}
//	PATCH  /api/v1/orders/{side}/{id}
//	DELETE /api/v1/orders/{side}/{id}
//	POST   /api/v1/bans
//	GET    /ws
//	GET    /metrics
package httpapi
