// Package storage persists dispatch dedup state across daemon restarts.
//
// It is optional: with storage disabled the pipeline runs purely in memory
// and may re-fire effects after a restart.
package storage
