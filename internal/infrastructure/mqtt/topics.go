package mqtt

import "fmt"

// DeviceRxd is the topic the device reports state on.
func DeviceRxd(deviceID string) string {
	return fmt.Sprintf("/device/rxd/%s", deviceID)
}

// DeviceTxd is the topic commands are sent to the device on. The mobile
// app publishes here too, which is what template learning listens for.
func DeviceTxd(deviceID string) string {
	return fmt.Sprintf("/device/txd/%s", deviceID)
}
