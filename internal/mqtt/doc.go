// Package mqtt publishes agent telemetry to an MQTT broker: a retained
// availability topic, one message per finished turn, and a periodic
// retained stats snapshot with today's token usage.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. A will message
// moves the availability topic to "offline" on unexpected disconnects.
// Telemetry is best effort: turns observed while the broker is
// unreachable are counted but not published.
package mqtt
