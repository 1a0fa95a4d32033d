package services

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

const defaultLockShards = 256

// DeviceLocker serialises work per (org, device). Keys are spread across a
// fixed set of mutexes, so unrelated devices rarely contend.
type DeviceLocker struct {
	shards []sync.Mutex
}

func NewDeviceLocker(shards int) *DeviceLocker {
	if shards <= 0 {
		shards = defaultLockShards
	}
	return &DeviceLocker{shards: make([]sync.Mutex, shards)}
}

// Lock blocks until the device's shard is held and returns its unlock func.
func (l *DeviceLocker) Lock(orgID, deviceID string) func() {
	m := &l.shards[l.shard(orgID, deviceID)]
	m.Lock()
	return m.Unlock
}

func (l *DeviceLocker) shard(orgID, deviceID string) uint32 {
	h := murmur3.New32()
	h.Write([]byte(orgID))
	h.Write([]byte{0})
	h.Write([]byte(deviceID))
	return h.Sum32() % uint32(len(l.shards))
}
