package config

// DefaultConfigYAML is written by `upgrader init`. It lists every key with
// its default value.
const DefaultConfigYAML = `# upgrader configuration
#
# Every key can be overridden with an UPGRADER_* environment variable,
# e.g. UPGRADER_MANAGER_TOKEN or UPGRADER_LOG_LEVEL.

log:
  level: info          # debug, info, warn, error
  format: auto         # auto (pretty on a terminal, JSON otherwise), text, json

manager:
  url: ""              # e.g. https://example.com/contao-manager.phar.php
  token: ""            # prefer UPGRADER_MANAGER_TOKEN
  timeout: 30s         # per HTTP request

workflow:
  perform_dry_run: true     # pause after the composer dry run for review
  skip_composer: false      # leave out the composer steps entirely
  with_deletes: false       # default for migration confirmations
  migration_timeline: loop  # loop: reuse the migration steps; expand: add a pair per cycle

polling:
  interval: 1s
  max_duration: 30m

# Retries of the task delete issued while clearing pending tasks
clear:
  attempts: 30
  delay: 500ms
  max_delay: 5s

state:
  backend: sqlite      # sqlite or json
  path: .upgrader/state.db
  lock_ttl: 1h

server:
  listen: 127.0.0.1:8480
  allowed_origins: []
  request_timeout: 60s
`
