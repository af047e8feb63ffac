/*
Package config loads sessionsync configuration with viper.

Values come from three layers, later layers winning:

 1. Built-in defaults (SetDefaults)
 2. A config file: the --config path, or sessionsync.{yaml,toml,json} found
    in the working directory, $HOME/.sessionsync or /etc/sessionsync
 3. SESSIONSYNC_* environment variables, with "." in key names replaced by
    "_" (SESSIONSYNC_HOST_URL overrides host.url)

A missing default config file is fine; the service can run from the
environment alone. An explicit --config path that cannot be read is an
error.

# Example

	host:
	  url: http://whatsapp-host:3000
	  token: ${SESSIONSYNC_HOST_TOKEN}
	store:
	  dsn: postgres://crm:crm@db/crm?sslmode=disable
	reconcile:
	  interval: 60s
	  workers: 5
	  default_owner_id: tenant-fallback

# Hot Reload

Watch re-reads the file on change (fsnotify) and hands the validated result
to a callback. The serve command uses it to adjust the log level and the
reconciliation interval without a restart; other fields require a restart.
*/
package config
