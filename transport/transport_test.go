package transport

import (
	"testing"

	"rpcscope.dev/buffer"
)

func asciiImage(height, width int) Image {
	data := make([]uint16, height*width)
	for c := 0; c < width; c++ {
		for r := 0; r < height; r++ {
			data[c*height+r] = uint16(c*height + r)
		}
	}
	return Image{Height: height, Width: width, Data: data}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	img := asciiImage(8, 8)
	for _, c := range []Compressor{CompressorNone, CompressorZlib, CompressorLZ4} {
		wire, err := Pack(img, c, 6, 0)
		if err != nil {
			t.Fatalf("Pack(%s): %v", c, err)
		}
		got, err := Unpack(wire, c)
		if err != nil {
			t.Fatalf("Unpack(%s): %v", c, err)
		}
		if got.Height != img.Height || got.Width != img.Width {
			t.Fatalf("%s: shape = %dx%d, want %dx%d", c, got.Height, got.Width, img.Height, img.Width)
		}
		for i := range img.Data {
			if got.Data[i] != img.Data[i] {
				t.Fatalf("%s: data[%d] = %d, want %d", c, i, got.Data[i], img.Data[i])
			}
		}
	}
}

// TestDownsampleZlibSubarray is scenario S6: an 8x8 ascending image,
// zlib compressed, downsample=2, must decode to the 4x4 stride-2
// subarray of the original.
func TestDownsampleZlibSubarray(t *testing.T) {
	img := asciiImage(8, 8)

	wire, err := Pack(img, CompressorZlib, 6, 2)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	got, err := Unpack(wire, CompressorZlib)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if got.Height != 4 || got.Width != 4 {
		t.Fatalf("shape = %dx%d, want 4x4", got.Height, got.Width)
	}
	for c := 0; c < 4; c++ {
		for r := 0; r < 4; r++ {
			want := img.Data[(c*2)*8+r*2]
			gotV := got.Data[c*4+r]
			if gotV != want {
				t.Errorf("[%d,%d] = %d, want %d", c, r, gotV, want)
			}
		}
	}
}

func TestUnpackRejectsWrongCompressor(t *testing.T) {
	img := asciiImage(4, 4)
	wire, err := Pack(img, CompressorZlib, 6, 0)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if _, err := Unpack(wire, CompressorNone); err == nil {
		t.Errorf("expected Unpack to fail when given the wrong compressor")
	}
}

func TestLocalGetterBorrowsAndReleases(t *testing.T) {
	reg := buffer.NewRegistry()
	buf, err := reg.Create("frame-1", 4, 4)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	reg.RegisterForTransfer("frame-1", buf)

	g := &LocalGetter{Registry: reg}
	img, err := g.GetData("frame-1")
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if img.Height != 4 || img.Width != 4 {
		t.Errorf("shape = %dx%d, want 4x4", img.Height, img.Width)
	}

	if _, err := reg.Borrow("frame-1"); err != buffer.ErrUnknownName {
		t.Errorf("expected registry entry to be released, got err=%v", err)
	}
}

func TestRemoteGetterRoundTrip(t *testing.T) {
	img := asciiImage(4, 4)
	requester := func(name string, c Compressor, downsample int) ([]byte, error) {
		return Pack(img, c, 6, downsample)
	}
	g := &RemoteGetter{Request: requester, Compressor: CompressorZlib}
	got, err := g.GetData("anything")
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if got.Height != 4 || got.Width != 4 {
		t.Errorf("shape = %dx%d, want 4x4", got.Height, got.Width)
	}
}
