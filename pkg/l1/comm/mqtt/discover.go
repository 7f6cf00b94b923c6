package mqtt

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"
)

// DefaultDiscoverTimeout defines the default timeout value of discovery.
const DefaultDiscoverTimeout = 500 * time.Millisecond

// DeviceInfo describes a device found on the bus.
type DeviceInfo struct {
	ID     string
	Online bool
}

// Discover collects the retained connection states of devices.
func Discover(ctx context.Context, ps PubSub, timeout time.Duration) ([]DeviceInfo, error) {
	var (
		lock    sync.Mutex
		devices = make(map[string]bool)
	)
	sub, err := ps.Subscribe("+/"+TopicConn, func(topic string, payload []byte) {
		lock.Lock()
		devices[path.Dir(topic)] = string(payload) == ConnOnline
		lock.Unlock()
	})
	if err != nil {
		return nil, err
	}
	defer sub.Close()

	if timeout <= 0 {
		timeout = DefaultDiscoverTimeout
	}
	select {
	case <-time.After(timeout):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	lock.Lock()
	defer lock.Unlock()
	res := make([]DeviceInfo, 0, len(devices))
	for id, online := range devices {
		res = append(res, DeviceInfo{ID: id, Online: online})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}
