// Package config loads server settings from config.yaml and GARMAX_*
// environment variables, fills in defaults for the batch, poller, budget and
// notifier tunables, and validates the result with struct tags.
package config
