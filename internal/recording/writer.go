package recording

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"sync"
)

// FileRecorder is the default Recorder: one append-only file per stream.
// A production deployment substitutes an MP4 muxer behind the same
// interface; the engine does not care what the bytes are.
type FileRecorder struct {
	mu    sync.Mutex
	files map[string]*fileHandle
}

type fileHandle struct {
	f *os.File
	w *bufio.Writer
}

func NewFileRecorder() *FileRecorder {
	return &FileRecorder{
		files: make(map[string]*fileHandle),
	}
}

func (r *FileRecorder) Start(streamName, path, triggerType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.files[streamName]; ok {
		return fmt.Errorf("recorder already active for stream %s", streamName)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open recording file: %w", err)
	}
	r.files[streamName] = &fileHandle{f: f, w: bufio.NewWriterSize(f, 256*1024)}
	log.Printf("[DEBUG] recorder opened %s (stream: %s, trigger: %s)", path, streamName, triggerType)
	return nil
}

func (r *FileRecorder) WritePacket(streamName string, pkt Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.files[streamName]
	if !ok {
		return fmt.Errorf("no active recording for stream %s", streamName)
	}
	_, err := h.w.Write(pkt.Data)
	return err
}

func (r *FileRecorder) Stop(streamName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.files[streamName]
	if !ok {
		return fmt.Errorf("no active recording for stream %s", streamName)
	}
	delete(r.files, streamName)

	if err := h.w.Flush(); err != nil {
		h.f.Close()
		return err
	}
	return h.f.Close()
}
