package mqtt

import "fmt"

// TopicPrefix is the root of every topic this service uses.
// Bridge topics follow graylogic/{category}/{protocol}/{address}.
const TopicPrefix = "graylogic"

// Topics provides builders for MQTT topics shared with the rest of the
// Gray Logic bus.
type Topics struct{}

// BridgeState returns the retained device state topic.
//
// Example: graylogic/state/insteon/1A.2B.3C
func (Topics) BridgeState(protocol, address string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, protocol, address)
}

// BridgeCommand returns the command topic for a device.
func (Topics) BridgeCommand(protocol, address string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, protocol, address)
}

// BridgeAck returns the acknowledgement topic for a device.
func (Topics) BridgeAck(protocol, address string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, protocol, address)
}

// BridgeHealth returns the bridge health topic.
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, protocol)
}

// BridgeDiscovery returns the discovery topic for a protocol.
func (Topics) BridgeDiscovery(protocol string) string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, protocol)
}

// AllBridgeCommands matches every command for a protocol.
func (Topics) AllBridgeCommands(protocol string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, protocol)
}

// SystemStatus is where online/offline status and the LWT are published.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}
