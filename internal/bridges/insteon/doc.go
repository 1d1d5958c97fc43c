// Package insteon implements the Insteon protocol bridge for Gray Logic.
//
// The bridge accepts device commands, hands them to the best available
// Insteon interface, and reconciles the status reports that come back so
// each command is confirmed exactly once and each state change is credited
// to whoever caused it.
//
// # Architecture
//
//	┌─────────────────┐          ┌──────────────────────────────┐
//	│   Gray Logic    │   MQTT   │   Insteon Bridge (this pkg)  │   serial / MQTT
//	│      Core       │◄────────►│ Gateway ─► active Interface  │◄──────────────► devices
//	└─────────────────┘          │    ▲                         │
//	                             │ Reconciler ◄─ Observations   │
//	                             └──────────────────────────────┘
//
// # Components
//
//   - Translate: linear scaling between level ranges (0-255 ↔ 0-100)
//   - InterfaceRegistry: candidate interfaces and the active selection
//   - Tracker: in-flight and finished commands keyed by request id
//   - Reconciler: matches observations to recent compatible commands
//   - Gateway: accepts or rejects commands and finalizes them
//   - Bridge: MQTT command intake, acks, state and discovery publishing
//
// # Command Lifecycle
//
//	new ─► sent ─► done
//	  │      │
//	  └──────┴───► failed
//
// A command is done when a compatible status arrives within the
// reconciliation window (default 1s), when its interface reports success,
// or immediately for one-way interfaces. It fails on a send error, a
// failure report, or expiry by the sweep.
//
// # Addresses
//
// Insteon addresses are three bytes written as hex pairs. Input may use
// dots, colons, dashes or no separator; the canonical form is uppercase
// dotted:
//
//	addr, err := insteon.NormalizeAddress("1a2b3c")
//	// addr == "1A.2B.3C"
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package insteon
