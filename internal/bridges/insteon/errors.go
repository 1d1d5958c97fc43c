package insteon

import "errors"

// Rejections returned by Gateway.Submit. Each names a distinct reason so the
// requester can tell them apart.
var (
	// ErrNotMyDevice is returned when the device belongs to another gateway.
	ErrNotMyDevice = errors.New("insteon: device is not managed by this gateway")

	// ErrNoActiveInterface is returned when no healthy interface is selected.
	ErrNoActiveInterface = errors.New("insteon: no active interface")

	// ErrInterfaceUnhealthy is returned when the selected interface has
	// reported itself unhealthy since selection.
	ErrInterfaceUnhealthy = errors.New("insteon: active interface is unhealthy")

	// ErrInvalidCommand is returned for an empty command label or address.
	ErrInvalidCommand = errors.New("insteon: invalid command")

	// ErrDeviceNotFound is returned by the bridge when a command names a
	// device it has no record of.
	ErrDeviceNotFound = errors.New("insteon: device not found")
)

// Command tracking errors. These are logged as warnings by callers and are
// never fatal.
var (
	ErrDuplicateRequestID = errors.New("insteon: duplicate request id")
	ErrInvalidTransition  = errors.New("insteon: invalid lifecycle transition")
	ErrAlreadyFinalized   = errors.New("insteon: command already finalized")
	ErrCommandNotFound    = errors.New("insteon: command not found")
)

// Configuration and registry errors.
var (
	// ErrDegenerateRange is returned when a translation input range is empty
	// (min == max).
	ErrDegenerateRange = errors.New("insteon: degenerate translation range")

	ErrDuplicateInterface = errors.New("insteon: interface already registered")
	ErrInterfaceNotFound  = errors.New("insteon: interface not found")
	ErrUnknownDeviceType  = errors.New("insteon: unknown device type")
)

// Transport errors from interface providers.
var (
	// ErrNAK is returned when the modem refuses a command.
	ErrNAK = errors.New("insteon: modem NAK")

	// ErrAckTimeout is returned when the modem does not echo a command in time.
	ErrAckTimeout = errors.New("insteon: modem ack timeout")

	// ErrPortClosed is returned after the interface has been closed.
	ErrPortClosed = errors.New("insteon: port closed")

	// ErrUnsupportedCommand is returned when a label has no wire encoding.
	ErrUnsupportedCommand = errors.New("insteon: unsupported command")
)

// ErrInvalidAddress is returned for addresses that are not three hex bytes.
var ErrInvalidAddress = errors.New("insteon: invalid address")
