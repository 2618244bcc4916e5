package server

import (
	"io"
	"log"
	"net/http"
)

// contentTypeFor maps an encoder format to its MIME type. mp3 is special
// cased; other formats use the audio/<format> convention.
func contentTypeFor(format string) string {
	if format == "mp3" {
		return "audio/mpeg"
	}
	return "audio/" + format
}

// handleStream relays the encoder's output to an HTTP client in chunks.
// Listeners are live: no caching, no range requests, flushed per chunk.
// End-of-stream (encoder stopped or exited) terminates the response.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.pipe.Streaming() {
		http.Error(w, "Stream is not running", http.StatusServiceUnavailable)
		return
	}

	s.mu.RLock()
	format := s.format
	bufferSize := s.bufferSize
	s.mu.RUnlock()

	w.Header().Set("Content-Type", contentTypeFor(format))
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)

	log.Printf("server: stream listener connected from %s", r.RemoteAddr)
	defer log.Printf("server: stream listener %s disconnected", r.RemoteAddr)

	buf := make([]byte, bufferSize)
	for {
		select {
		case <-r.Context().Done():
			return
		default:
		}

		n, err := s.pipe.ReadOutputChunk(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("server: stream read error: %v", err)
			}
			return
		}
	}
}
