package session

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/kanal/server/domain"
	"github.com/satriahrh/kanal/server/domain/entities"
	"github.com/satriahrh/kanal/server/domain/repositories"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errConnClosed = errors.New("connection closed")

type fakeConn struct {
	mu     sync.Mutex
	msgs   []domain.Message
	closed bool
}

func (c *fakeConn) Send(msg domain.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeConn) isClosed() bool {
	return !c.Connected()
}

func (c *fakeConn) kinds(kind domain.Kind) []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Message
	for _, m := range c.msgs {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) texts(kind domain.Kind) []string {
	var out []string
	for _, m := range c.kinds(kind) {
		s, _ := m.Text()
		out = append(out, s)
	}
	return out
}

type memStore struct {
	mu      sync.Mutex
	records map[string]entities.Session
	saves   int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]entities.Session)}
}

func (m *memStore) Save(_ context.Context, s *entities.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[s.ID] = *s
	m.saves++
	return nil
}

func (m *memStore) GetByID(_ context.Context, id string) (*entities.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.records[id]
	if !ok {
		return nil, repositories.ErrSessionNotFound
	}
	return &s, nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *memStore) ExpireSessions(context.Context) error { return nil }

func (m *memStore) get(id string) (entities.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.records[id]
	return s, ok
}

type memFiles struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func (f *memFiles) Save(_ context.Context, sessionID, name string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = make(map[string][]byte)
	}
	path := "/files/" + sessionID + "/" + name
	f.saved[path] = data
	return path, nil
}

func (f *memFiles) Read(_ context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved[path], nil
}

// pcmFrame builds 20ms of 16kHz PCM16 with samples alternating +amp/-amp.
func pcmFrame(amp int) []byte {
	out := make([]byte, 640)
	for i := 0; i+1 < len(out); i += 2 {
		v := amp
		if (i/2)%2 == 1 {
			v = -amp
		}
		binary.LittleEndian.PutUint16(out[i:], uint16(int16(v)))
	}
	return out
}

func newTestRegistry(t *testing.T, env Env) (*Registry, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	env.Now = clock.Now
	env.Logger = zap.NewNop()

	r := NewRegistry(context.Background(), env)
	t.Cleanup(func() { r.Shutdown(context.Background()) })
	return r, clock
}
