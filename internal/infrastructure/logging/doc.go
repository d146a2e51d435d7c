// Package logging provides structured logging for the onpass gateway.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same handler, level and default fields.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("scan accepted", "device_id", id)
//	logger.Error("relay activation failed", "error", err)
//
// # Security
//
// Never log QR payloads, MQTT passwords or InfluxDB tokens. The access
// package logs a credential's length or subject claim instead of its value.
package logging
