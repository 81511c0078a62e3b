// Package protocol holds the framing helpers shared by BLE writers.
package protocol

// DefaultMTUPayload is the ATT payload that fits a default 23-byte MTU.
const DefaultMTUPayload = 20

// Chunk splits payload into consecutive pieces of at most size bytes.
// The pieces alias payload and concatenate back to it exactly.
// Returns nil for an empty payload or a non-positive size.
func Chunk(payload []byte, size int) [][]byte {
	if len(payload) == 0 || size <= 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(payload)+size-1)/size)
	for len(payload) > 0 {
		n := min(size, len(payload))
		chunks = append(chunks, payload[:n:n])
		payload = payload[n:]
	}
	return chunks
}
