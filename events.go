package multidb

import (
	"fmt"
	"log/slog"
	"time"
)

type LogEvent interface {
	EventName() string
	Message() string
	LogLevel() slog.Level
	LogAttrs() []slog.Attr
}

type baseEvent struct {
	target    string
	EventTime time.Time
}

func newBaseEvent(target string) baseEvent {
	return baseEvent{
		target:    target,
		EventTime: time.Now(),
	}
}

func (e baseEvent) baseAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("component", "multidb"),
		slog.Time("event_time", e.EventTime),
	}
	if e.target != "" {
		attrs = append(attrs, slog.String("target", e.target))
	}
	return attrs
}

type AllReplicasBlacklistedEvent struct {
	baseEvent
}

func (e AllReplicasBlacklistedEvent) EventName() string { return "all_replicas_blacklisted" }
func (e AllReplicasBlacklistedEvent) Message() string {
	return "All replicas are blacklisted. Reading from primary"
}
func (e AllReplicasBlacklistedEvent) LogLevel() slog.Level { return slog.LevelWarn }
func (e AllReplicasBlacklistedEvent) LogAttrs() []slog.Attr {
	return append(e.baseAttrs(), slog.String("event", e.EventName()))
}

type ReplicaFailedEvent struct {
	baseEvent
	Operation string
	Error     error
}

func (e ReplicaFailedEvent) EventName() string { return "replica_failed" }
func (e ReplicaFailedEvent) Message() string {
	return fmt.Sprintf("Error reading from replica %s", e.target)
}
func (e ReplicaFailedEvent) LogLevel() slog.Level { return slog.LevelWarn }
func (e ReplicaFailedEvent) LogAttrs() []slog.Attr {
	attrs := e.baseAttrs()
	attrs = append(attrs,
		slog.String("event", e.EventName()),
		slog.String("operation", e.Operation),
	)
	if e.Error != nil {
		attrs = append(attrs, slog.String("error", e.Error.Error()))
	}
	return attrs
}

type ReplicaBlacklistedEvent struct {
	baseEvent
	Timeout time.Duration
}

func (e ReplicaBlacklistedEvent) EventName() string { return "replica_blacklisted" }
func (e ReplicaBlacklistedEvent) Message() string {
	return fmt.Sprintf("Replica %s blacklisted for %s", e.target, e.Timeout)
}
func (e ReplicaBlacklistedEvent) LogLevel() slog.Level { return slog.LevelInfo }
func (e ReplicaBlacklistedEvent) LogAttrs() []slog.Attr {
	return append(e.baseAttrs(),
		slog.String("event", e.EventName()),
		slog.String("blacklist_timeout", e.Timeout.String()),
	)
}

type ReplicaLagTooHighEvent struct {
	baseEvent
}

func (e ReplicaLagTooHighEvent) EventName() string { return "replica_lag_too_high" }
func (e ReplicaLagTooHighEvent) Message() string {
	return fmt.Sprintf("Replica %s lags behind the primary too much", e.target)
}
func (e ReplicaLagTooHighEvent) LogLevel() slog.Level { return slog.LevelWarn }
func (e ReplicaLagTooHighEvent) LogAttrs() []slog.Attr {
	return append(e.baseAttrs(), slog.String("event", e.EventName()))
}

type LagProbeFailedEvent struct {
	baseEvent
	Error error
}

func (e LagProbeFailedEvent) EventName() string { return "lag_probe_failed" }
func (e LagProbeFailedEvent) Message() string {
	return fmt.Sprintf("Failed to probe replication lag of %s: %s", e.target, e.Error)
}
func (e LagProbeFailedEvent) LogLevel() slog.Level { return slog.LevelWarn }
func (e LagProbeFailedEvent) LogAttrs() []slog.Attr {
	attrs := e.baseAttrs()
	attrs = append(attrs, slog.String("event", e.EventName()))
	if e.Error != nil {
		attrs = append(attrs, slog.String("error", e.Error.Error()))
	}
	return attrs
}

type PrimaryFailedEvent struct {
	baseEvent
	Operation string
	Error     error
}

func (e PrimaryFailedEvent) EventName() string { return "primary_failed" }
func (e PrimaryFailedEvent) Message() string {
	return "Error accessing primary database. Scheduling reconnect"
}
func (e PrimaryFailedEvent) LogLevel() slog.Level { return slog.LevelError }
func (e PrimaryFailedEvent) LogAttrs() []slog.Attr {
	attrs := e.baseAttrs()
	attrs = append(attrs,
		slog.String("event", e.EventName()),
		slog.String("operation", e.Operation),
	)
	if e.Error != nil {
		attrs = append(attrs, slog.String("error", e.Error.Error()))
	}
	return attrs
}

type PrimaryReconnectedEvent struct {
	baseEvent
}

func (e PrimaryReconnectedEvent) EventName() string    { return "primary_reconnected" }
func (e PrimaryReconnectedEvent) Message() string      { return "Reconnected to primary database" }
func (e PrimaryReconnectedEvent) LogLevel() slog.Level { return slog.LevelInfo }
func (e PrimaryReconnectedEvent) LogAttrs() []slog.Attr {
	return append(e.baseAttrs(), slog.String("event", e.EventName()))
}

type PrimaryReconnectFailedEvent struct {
	baseEvent
	Error error
}

func (e PrimaryReconnectFailedEvent) EventName() string { return "primary_reconnect_failed" }
func (e PrimaryReconnectFailedEvent) Message() string {
	return fmt.Sprintf("Failed to reconnect to primary database: %s", e.Error)
}
func (e PrimaryReconnectFailedEvent) LogLevel() slog.Level { return slog.LevelError }
func (e PrimaryReconnectFailedEvent) LogAttrs() []slog.Attr {
	attrs := e.baseAttrs()
	attrs = append(attrs, slog.String("event", e.EventName()))
	if e.Error != nil {
		attrs = append(attrs, slog.String("error", e.Error.Error()))
	}
	return attrs
}
