package proxy

import "github.com/golang/snappy"

// compressThreshold is the body size, in bytes, above which a flow message
// body is kept snappy-compressed in memory rather than as raw bytes. Flow
// bodies are the single biggest source of flow-store memory pressure (a
// few thousand flows times a body-limit's worth of JSON each adds up), and
// snappy trades a little CPU for a real reduction on the textual JSON/XML
// bodies most app traffic carries.
// Only response bodies are compressed: request bodies for the app traffic
// Quern targets are overwhelmingly small JSON payloads, while responses
// (JSON collections, images, app-bundle downloads) are where flow-store
// memory actually goes.
const compressThreshold = 4096

// compressBody returns body unchanged if it's under the threshold, or its
// snappy-compressed form with compressed=true otherwise.
func compressBody(body []byte) (out []byte, compressed bool) {
	if len(body) < compressThreshold {
		return body, false
	}
	return snappy.Encode(nil, body), true
}

// decompressBody reverses compressBody.
func decompressBody(body []byte, compressed bool) []byte {
	if !compressed {
		return body
	}
	out, err := snappy.Decode(nil, body)
	if err != nil {
		return nil
	}
	return out
}
