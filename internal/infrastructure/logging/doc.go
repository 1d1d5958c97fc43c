// Package logging provides structured logging for the Insteon bridge service.
//
// It wraps log/slog with service defaults and optional rotating file output
// (lumberjack). Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file, both
//	  file:
//	    path: "/var/log/insteonbridge/bridge.log"
//	    max_size: 50     # megabytes
//	    max_backups: 5
//	    max_age: 30      # days
//	    compress: true
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
