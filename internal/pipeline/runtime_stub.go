//go:build !govips || !cgo

package pipeline

// Startup is a no-op without libvips.
func Startup() error { return nil }

func Shutdown() {}

func newDecoder() (Decoder, error) {
	return stdlibDecoder{}, nil
}
