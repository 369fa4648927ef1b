// package transport implements the shared-image transport: a same-host
// zero-copy path and a cross-host pack/unpack path behind one Image
// accessor.
package transport

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// Header is the wire metadata preceding an image's bytes: dtype,
// shape, and memory order. The compressor is deliberately not part of
// the header; it travels alongside the wire message as the RPC's own
// argument, the way the original pack/unpack pair is called with an
// explicit compressor name rather than discovering it from the bytes.
type Header struct {
	Dtype string `json:"dtype"`
	Shape []int  `json:"shape"`
	Order string `json:"order"`
}

// Compressor names one of the three supported payload codecs.
type Compressor string

const (
	CompressorNone Compressor = "none"
	CompressorZlib Compressor = "zlib"
	CompressorLZ4  Compressor = "lz4"
)

// Image is a decoded image: column-major uint16 samples (buffer.Buffer's
// layout) plus its shape.
type Image struct {
	Height, Width int
	Data          []uint16
}

var ErrUnknownCompressor = errors.New("transport: unknown compressor")

// Pack serialises img (optionally subsampled by a stride of
// downsample, downsample<=1 meaning no subsampling) using compressor,
// with level meaningful only for zlib. The wire format is a
// little-endian uint16 header length, the JSON header, then the
// payload bytes.
func Pack(img Image, compressor Compressor, level int, downsample int) ([]byte, error) {
	data, height, width := img.Data, img.Height, img.Width
	if downsample > 1 {
		data, height, width = downsampleColumnMajor(data, height, width, downsample)
	}

	raw := make([]byte, len(data)*2)
	for i, v := range data {
		binary.LittleEndian.PutUint16(raw[i*2:], v)
	}

	payload, err := compress(raw, compressor, level)
	if err != nil {
		return nil, err
	}

	header := Header{Dtype: "uint16", Shape: []int{height, width}, Order: "F"}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	if len(headerJSON) > 0xffff {
		return nil, fmt.Errorf("transport: header too large (%d bytes)", len(headerJSON))
	}

	wire := make([]byte, 2, 2+len(headerJSON)+len(payload))
	binary.LittleEndian.PutUint16(wire, uint16(len(headerJSON)))
	wire = append(wire, headerJSON...)
	wire = append(wire, payload...)
	return wire, nil
}

// Unpack reverses Pack. The caller must supply the same compressor
// that was used to produce wire.
func Unpack(wire []byte, compressor Compressor) (Image, error) {
	if len(wire) < 2 {
		return Image{}, errors.New("transport: wire message too short for header length")
	}
	headerLen := int(binary.LittleEndian.Uint16(wire))
	if len(wire) < 2+headerLen {
		return Image{}, errors.New("transport: wire message too short for header")
	}
	var header Header
	if err := json.Unmarshal(wire[2:2+headerLen], &header); err != nil {
		return Image{}, fmt.Errorf("transport: parse header: %w", err)
	}
	if len(header.Shape) != 2 {
		return Image{}, fmt.Errorf("transport: unsupported shape %v", header.Shape)
	}
	height, width := header.Shape[0], header.Shape[1]

	raw, err := decompress(wire[2+headerLen:], compressor)
	if err != nil {
		return Image{}, err
	}
	if len(raw) != height*width*2 {
		return Image{}, fmt.Errorf("transport: payload length %d does not match shape %dx%d", len(raw), height, width)
	}

	data := make([]uint16, height*width)
	for i := range data {
		data[i] = binary.LittleEndian.Uint16(raw[i*2:])
	}
	return Image{Height: height, Width: width, Data: data}, nil
}

func compress(raw []byte, c Compressor, level int) ([]byte, error) {
	switch c {
	case CompressorNone, "":
		return raw, nil
	case CompressorZlib:
		var buf bytes.Buffer
		w, err := zlib.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressorLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, ErrUnknownCompressor
	}
}

func decompress(payload []byte, c Compressor) ([]byte, error) {
	switch c {
	case CompressorNone, "":
		return payload, nil
	case CompressorZlib:
		r, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case CompressorLZ4:
		r := lz4.NewReader(bytes.NewReader(payload))
		return io.ReadAll(r)
	default:
		return nil, ErrUnknownCompressor
	}
}

// downsampleColumnMajor picks every stride'th row and column of a
// height x width column-major array (buffer.Buffer's layout:
// data[col*height+row]).
func downsampleColumnMajor(data []uint16, height, width, stride int) ([]uint16, int, int) {
	dh := (height + stride - 1) / stride
	dw := (width + stride - 1) / stride
	out := make([]uint16, dh*dw)
	for c := 0; c < dw; c++ {
		for r := 0; r < dh; r++ {
			out[c*dh+r] = data[(c*stride)*height+r*stride]
		}
	}
	return out, dh, dw
}
