package camera

import (
	"encoding/binary"
	"errors"
)

// timestampChunkID is the metadata chunk id carrying the sensor-clock
// timestamp.
const timestampChunkID = 1

// ErrChunkNotFound is returned by parseBufferMetadata when the
// requested chunk id is not present in the trailer.
var ErrChunkNotFound = errors.New("camera: metadata chunk not found")

// parseBufferMetadata walks a raw device buffer's trailer backward,
// chunk by chunk, looking for chunkID. Each chunk is
// [payload][chunk_id u32 LE][length u32 LE], length covering
// payload+chunk_id (so payload length is length-4). Returns the
// chunk's payload. The walk stops at the first position that does not
// hold a well-formed trailer (where the chunk chain meets the image
// data before it); a chunkID not found by then yields ErrChunkNotFound.
func parseBufferMetadata(buf []byte, chunkID uint32) ([]byte, error) {
	pos := len(buf)
	for pos >= 8 {
		id := binary.LittleEndian.Uint32(buf[pos-8 : pos-4])
		length := binary.LittleEndian.Uint32(buf[pos-4 : pos])
		if length < 4 || int(length) > pos {
			break
		}
		payloadLen := int(length) - 4
		payloadStart := pos - 8 - payloadLen
		if payloadStart < 0 {
			break
		}
		if id == chunkID {
			return buf[payloadStart : pos-8], nil
		}
		pos = payloadStart
	}
	return nil, ErrChunkNotFound
}

// extractTimestamp returns the sensor-clock timestamp embedded in buf's
// metadata trailer, in ticks (divide by timestampHz for seconds).
func extractTimestamp(buf []byte) (uint64, error) {
	payload, err := parseBufferMetadata(buf, timestampChunkID)
	if err != nil {
		return 0, err
	}
	if len(payload) < 8 {
		return 0, errors.New("camera: short timestamp chunk")
	}
	return binary.LittleEndian.Uint64(payload[:8]), nil
}

// serializeMetadataChunk appends a single chunk carrying payload under
// chunkID to buf, in the trailer format parseBufferMetadata expects.
// Used by tests and by Simulator to fabricate realistic raw buffers.
func serializeMetadataChunk(buf []byte, chunkID uint32, payload []byte) []byte {
	buf = append(buf, payload...)
	var trailer [8]byte
	binary.LittleEndian.PutUint32(trailer[0:4], chunkID)
	binary.LittleEndian.PutUint32(trailer[4:8], uint32(len(payload)+4))
	return append(buf, trailer[:]...)
}

func serializeTimestampChunk(buf []byte, ticks uint64) []byte {
	var payload [8]byte
	binary.LittleEndian.PutUint64(payload[:], ticks)
	return serializeMetadataChunk(buf, timestampChunkID, payload[:])
}
