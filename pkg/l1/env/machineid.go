package env

import (
	"os"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
)

// AppID salts the machine ID so the raw ID isn't exposed on the bus.
const AppID = "stepctl"

// MachineID retrieves the unique ID identifying the machine.
func MachineID() (string, error) {
	return machineid.ProtectedID(AppID)
}

// DeviceID returns a short ID for the device topic: the first 12
// hex digits of the protected machine ID, or the host name when the
// machine ID is unavailable.
func DeviceID() string {
	id, err := MachineID()
	if err == nil && len(id) >= 12 {
		return id[:12]
	}
	glog.Warningf("machine id unavailable: %v", err)
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return AppID
}
