// Package config provides loading and environment overlay for pulse
// configuration. It exposes a Default() baseline that files (JSON, YAML or
// TOML) and PULSE_* environment variables are layered on.
//
// Example:
//
//	_ = config.LoadDotEnv()
//	cfg, err := config.Load("/etc/pulse.yaml")
//	if err != nil {
//	    return err
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config
