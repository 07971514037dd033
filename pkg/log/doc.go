/*
Package log provides structured logging built on github.com/rs/zerolog.

Init configures the package-level Logger from a Config (level, JSON vs
console output, writer). WithComponent, WithDatasetID, and WithVolumeID
return child loggers carrying a field used throughout the agent's
discovery/plan/execute path and the scoped-action logging helper in
pkg/statechange (action-start/action-finish events named
"agent:blockdevice:create", "…:destroy", and so on, each carrying the
relevant dataset or block-device id).
*/
package log
