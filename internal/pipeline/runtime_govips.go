//go:build govips && cgo

package pipeline

import (
	"errors"
	"runtime"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

// libvips cannot be started again once shut down.
var vipsRuntime struct {
	sync.Mutex
	running bool
	stopped bool
}

var errVipsStopped = errors.New("libvips has been shut down")

// Startup initialises libvips for decoding uploads. Only decode results are
// kept, so the operation cache stays small.
func Startup() error {
	vipsRuntime.Lock()
	defer vipsRuntime.Unlock()
	if vipsRuntime.stopped {
		return errVipsStopped
	}
	if vipsRuntime.running {
		return nil
	}
	vips.LoggingSettings(nil, vips.LogLevelError)
	vips.Startup(&vips.Config{
		ConcurrencyLevel: max(1, runtime.NumCPU()/2),
		MaxCacheFiles:    0,
		MaxCacheMem:      32 << 20,
		MaxCacheSize:     16,
	})
	vipsRuntime.running = true
	return nil
}

func Shutdown() {
	vipsRuntime.Lock()
	defer vipsRuntime.Unlock()
	if !vipsRuntime.running {
		return
	}
	vips.Shutdown()
	vipsRuntime.running = false
	vipsRuntime.stopped = true
}

func newDecoder() (Decoder, error) {
	if err := Startup(); err != nil {
		return nil, err
	}
	return govipsDecoder{}, nil
}
