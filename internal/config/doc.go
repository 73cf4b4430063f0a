// Package config loads kvdb configuration: built-in defaults, an optional
// JSON or YAML file, and an environment overlay, followed by validation.
//
//	cfg, err := config.Load("/etc/kvdb.yaml")
//	if err != nil { /* handle */ }
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil {
//	    // *config.ConfigurationFault: refuse to start
//	}
package config
