// Package config handles configuration loading for coven-broker.
//
// Configuration is loaded from a YAML file with ${VAR_NAME} environment
// variable expansion and time.ParseDuration values for timing fields. A
// missing file is not an error: every field has a default, and the broker
// runs out of the box on 127.0.0.1:9999.
//
//	server:
//	  host: "127.0.0.1"
//	  port: 9999
//	  pid_file: "/run/coven-broker.pid"
//	  poll_timeout: "1s"
//	  shutdown_grace: "5s"
//	  report_interval: "60s"
//
//	agents:
//	  heartbeat_timeout: "30s"
//	  roster_path: ""
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json, color
package config
