// # Endpoints
//
//	POST /api/v1/events          scan event from a device (202, 200 ignored, 400, 409)
//	POST /api/v1/access          door choice {door_id, qr_code} (200, 400, 502)
//	GET  /api/v1/access/events   audit log (device_id, outcome, limit, offset)
//	GET  /api/v1/health          component health (200 or 503)
//	GET  /api/v1/metrics         runtime and hub statistics as JSON
//	GET  /metrics                Prometheus exposition
//	GET  /api/v1/ws              WebSocket (also websocket.path, default /ws)
//
// # WebSocket
//
// Every frame is a WSMessage. Clients send subscribe and unsubscribe
// with {"channels": [...]}, ping, http_sio_event with a scan event (object
// or JSON string) and user_access with a door choice. The server sends
// event frames whose event_type is the channel, plus response, pong and
// error replies carrying the request id. Subscribing to "*" receives every
// channel.
//
// Processing notifications use two channels per user:
//
//	access_{userId}_success   a door was opened
//	user_{userId}_access      several doors are allowed; answer with user_access
//
// The success notice for a user_access sent over the socket goes to that
// socket only.
//
// Requests are rate limited per client address when
// security.rate_limit.enabled is set.
package api
