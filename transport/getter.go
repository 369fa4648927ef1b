package transport

import (
	"fmt"

	"rpcscope.dev/buffer"
)

// Getter is the single accessor both transport paths satisfy:
// get_data(name) -> image.
type Getter interface {
	GetData(name string) (Image, error)
}

// LocalGetter serves GetData from a same-host registry by borrowing
// the buffer directly and releasing the registry's hold on it, a
// single round trip plus a memory-map view with no copy.
type LocalGetter struct {
	Registry *buffer.Registry
}

func (g *LocalGetter) GetData(name string) (Image, error) {
	buf, err := g.Registry.Borrow(name)
	if err != nil {
		return Image{}, err
	}
	img := Image{Height: buf.Height, Width: buf.Width, Data: buf.Data()}
	if _, err := g.Registry.Release(name); err != nil {
		return Image{}, err
	}
	return img, nil
}

// RemoteRequester performs the server-side pack(name, compressor,
// downsample) RPC and returns the wire bytes a RemoteGetter can
// Unpack; it also releases the name on the server.
type RemoteRequester func(name string, compressor Compressor, downsample int) ([]byte, error)

// RemoteGetter serves GetData across a host boundary: it asks the
// server to pack and release the named buffer, then unpacks the wire
// bytes locally.
type RemoteGetter struct {
	Request    RemoteRequester
	Compressor Compressor
	Downsample int
}

func (g *RemoteGetter) GetData(name string) (Image, error) {
	wire, err := g.Request(name, g.Compressor, g.Downsample)
	if err != nil {
		return Image{}, fmt.Errorf("transport: pack request for %q: %w", name, err)
	}
	return Unpack(wire, g.Compressor)
}

// NewGetter picks LocalGetter or RemoteGetter by comparing host
// identifiers at connect time: same host gets the zero-copy path,
// different hosts get the pack/unpack path.
func NewGetter(clientHostID, serverHostID string, registry *buffer.Registry, remote RemoteRequester, compressor Compressor, downsample int) Getter {
	if clientHostID == serverHostID {
		return &LocalGetter{Registry: registry}
	}
	return &RemoteGetter{Request: remote, Compressor: compressor, Downsample: downsample}
}
