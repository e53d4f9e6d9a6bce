// Package manager supervises the local inference server. It is structured
// into small files by concern:
//
//   - supervisor.go: Supervisor state machine (Load, Eject, StopChat) and the
//     reuse-or-reload decision.
//   - config.go: SupervisorConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: State, ModelFile, effective options and the live instance.
//   - args.go: translation of load options into runtime arguments.
//   - runtime.go: RuntimeImage, resolved once at startup and shared read-only.
//   - launcher.go: Launcher/Worker and the child-process implementation.
//   - ports.go: listen address selection.
//   - readiness.go: ReadinessProbe polling the server's /echo endpoint.
//   - proxy.go: Proxy forwarding chat completions to the active instance.
//   - errors.go: error types and helpers (IsSpawn, IsReadinessTimeout, IsUpstream).
//   - events.go, eventpub_memory.go: lifecycle events.
//   - metrics.go: Prometheus collectors.
//
// At most one instance is current. A Load that differs from the current
// instance retires it completely (graceful shutdown bounded by a force kill)
// before the replacement is spawned on the same port.
package manager
