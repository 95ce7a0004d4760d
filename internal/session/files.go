package session

import (
	"sync"
	"time"

	"github.com/satriahrh/kanal/server/domain/entities"
)

type fileEntry struct {
	channel entities.ChannelNo
	path    string
	at      time.Time
}

// FileTracker remembers recently registered attachments per channel so the next
// request on the same channel, or any channel when registered on the shared
// control channel, can pick them up.
type FileTracker struct {
	mu        sync.Mutex
	entries   []fileEntry
	retention time.Duration
	now       func() time.Time
}

// NewFileTracker creates an empty tracker that forgets entries after retention.
func NewFileTracker(retention time.Duration, now func() time.Time) *FileTracker {
	return &FileTracker{retention: retention, now: now}
}

// Register records path on ch.
func (t *FileTracker) Register(ch entities.ChannelNo, path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	kept := t.entries[:0]
	for _, e := range t.entries {
		if now.Sub(e.at) <= t.retention {
			kept = append(kept, e)
		}
	}
	t.entries = append(kept, fileEntry{channel: ch, path: path, at: now})
}

// Recent returns files registered on ch or the shared channel within window, oldest first.
func (t *FileTracker) Recent(ch entities.ChannelNo, window time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var out []string
	for _, e := range t.entries {
		if e.channel != ch && e.channel != entities.ChannelControl {
			continue
		}
		if now.Sub(e.at) <= window {
			out = append(out, e.path)
		}
	}
	return out
}
