package insteon

import (
	"fmt"
	"io"
	"time"
)

// OpenInterfaces builds the enabled interfaces in config order. Modems are
// opened immediately; remote interfaces subscribe when the bridge starts.
// On error, interfaces already opened are closed.
func OpenInterfaces(cfg *Config, client MQTTClient, logger Logger) ([]Interface, error) {
	var out []Interface

	closeAll := func() {
		for _, iface := range out {
			if c, ok := iface.(io.Closer); ok {
				c.Close() //nolint:errcheck // unwinding after a failed open
			}
		}
	}

	for _, ic := range cfg.Interfaces {
		if !ic.IsEnabled() {
			continue
		}

		var (
			iface Interface
			err   error
		)
		switch ic.Kind {
		case KindPLM:
			iface, err = OpenPLM(PLMOptions{
				Name:       ic.Name,
				Priority:   ic.Priority,
				AckTimeout: time.Duration(ic.Serial.AckTimeoutMS) * time.Millisecond,
				Open:       SerialOpener(ic.Serial),
				Logger:     logger,
			})
		case KindRemote:
			iface, err = NewRemote(RemoteOptions{
				Name:        ic.Name,
				Priority:    ic.Priority,
				TopicPrefix: ic.Remote.TopicPrefix,
				OneWay:      ic.Remote.OneWay,
				Client:      client,
				Logger:      logger,
			})
		default:
			err = fmt.Errorf("unknown interface kind %q", ic.Kind)
		}
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("interface %s: %w", ic.Name, err)
		}
		out = append(out, iface)
	}
	return out, nil
}
