package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"parley/internal/app/registry"
	"parley/internal/config"
	"parley/internal/core/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testSessionConfig shrinks the timer windows so timeout paths run in
// milliseconds instead of seconds.
func testSessionConfig() *config.SessionConfig {
	cfg := config.DefaultSessionConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.HeartbeatTimeout = 20 * time.Millisecond
	cfg.MessageTimeout = 25 * time.Millisecond
	cfg.RetryBaseDelay = 5 * time.Millisecond
	cfg.ImageProcessingTimeout = 25 * time.Millisecond
	cfg.ReconnectBaseDelay = 5 * time.Millisecond
	return cfg
}

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", d, msg)
}

type fakeChannel struct {
	id    string
	state atomic.Int32

	mu     sync.Mutex
	sent   []domain.Envelope
	closed []string
}

func newFakeChannel(state domain.ChannelState) *fakeChannel {
	c := &fakeChannel{id: uuid.NewString()}
	c.state.Store(int32(state))
	return c
}

func (c *fakeChannel) ID() string { return c.id }

func (c *fakeChannel) State() domain.ChannelState {
	return domain.ChannelState(c.state.Load())
}

func (c *fakeChannel) setState(s domain.ChannelState) { c.state.Store(int32(s)) }

func (c *fakeChannel) Send(ctx context.Context, env domain.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeChannel) Close(reason string) error {
	c.mu.Lock()
	c.closed = append(c.closed, reason)
	c.mu.Unlock()
	c.state.Store(int32(domain.StateClosed))
	return nil
}

func (c *fakeChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *fakeChannel) sentOfType(msgType string) []domain.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Envelope
	for _, env := range c.sent {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

func (c *fakeChannel) closeReasons() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.closed...)
}

type fakePresence struct {
	mu       sync.Mutex
	checkIns map[string]int
	removed  map[string]int
}

func (p *fakePresence) CheckIn(ctx context.Context, clientID string, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.checkIns == nil {
		p.checkIns = make(map[string]int)
	}
	p.checkIns[clientID]++
	return nil
}

func (p *fakePresence) OnlineClients(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.checkIns))
	for id := range p.checkIns {
		out = append(out, id)
	}
	return out, nil
}

func (p *fakePresence) Remove(ctx context.Context, clientID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.removed == nil {
		p.removed = make(map[string]int)
	}
	p.removed[clientID]++
	return nil
}

func (p *fakePresence) checkInCount(clientID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checkIns[clientID]
}

func (p *fakePresence) removedCount(clientID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removed[clientID]
}

type fakeQueue struct {
	mu         sync.Mutex
	published  [][]byte
	publishErr error
}

func (q *fakeQueue) PublishToStream(ctx context.Context, topic string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, append([]byte(nil), payload...))
	return nil
}

func (q *fakeQueue) SubscribeToStream(ctx context.Context, topic, group string, handler func(ctx context.Context, messageID string, data []byte) error) error {
	return nil
}

func (q *fakeQueue) AcknowledgeMessage(ctx context.Context, topic, group, msgID string) error {
	return nil
}

func (q *fakeQueue) DeleteMessage(ctx context.Context, topic, msgID string) error {
	return nil
}

func (q *fakeQueue) publishedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.published)
}

func (q *fakeQueue) lastPublished() []byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.published) == 0 {
		return nil
	}
	return q.published[len(q.published)-1]
}

type fakeProcessor struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (p *fakeProcessor) Process(ctx context.Context, clientID, content string) (domain.Reply, error) {
	p.mu.Lock()
	p.calls = append(p.calls, content)
	err := p.err
	p.mu.Unlock()
	if err != nil {
		return domain.Reply{}, err
	}
	return domain.Reply{
		MessageID: uuid.NewString(),
		Content:   "echo: " + content,
		Timestamp: time.Now().UTC(),
	}, nil
}

func (p *fakeProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakeArchive struct {
	mu      sync.Mutex
	entries []domain.ArchiveEntry
	seqs    map[string]int64
}

func (a *fakeArchive) SaveWithSequence(ctx context.Context, entry *domain.ArchiveEntry) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seqs == nil {
		a.seqs = make(map[string]int64)
	}
	a.seqs[entry.ClientID]++
	saved := *entry
	saved.Seq = a.seqs[entry.ClientID]
	a.entries = append(a.entries, saved)
	return saved.Seq, nil
}

func (a *fakeArchive) RecentEntries(ctx context.Context, clientID string, limit int) ([]domain.ArchiveEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.ArchiveEntry
	for _, e := range a.entries {
		if e.ClientID == clientID {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (a *fakeArchive) byDirection(direction string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.entries {
		if e.Direction == direction {
			n++
		}
	}
	return n
}

// passTx runs the function without a real transaction.
type passTx struct{}

func (passTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type managerHarness struct {
	cfg       *config.SessionConfig
	registry  *registry.Registry
	delivery  *DeliveryService
	images    *ImageService
	reconnect *ReconnectService
	presence  *fakePresence
	queue     *fakeQueue
	processor *fakeProcessor
	archive   *fakeArchive
	manager   *ManagerService
}

// newManagerHarness wires the real session services over fake infrastructure.
// Delivery and image deadlines default to a minute so envelope counts stay
// deterministic; tests that exercise a timeout shrink them via mutate.
func newManagerHarness(t *testing.T, mutate func(cfg *config.SessionConfig)) *managerHarness {
	t.Helper()
	cfg := config.DefaultSessionConfig()
	cfg.MessageTimeout = time.Minute
	cfg.ImageProcessingTimeout = time.Minute
	cfg.ReconnectBaseDelay = 5 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	log := discardLogger()
	reg := registry.NewRegistry()
	delivery := NewDeliveryService(log, cfg, reg)
	queue := &fakeQueue{}
	worker := &config.WorkerConfig{ImageStream: "images:jobs", ImageGroup: "image-workers"}
	images := NewImageService(log, cfg, worker, reg, delivery, queue)
	reconnect := NewReconnectService(log, cfg)
	presence := &fakePresence{}
	processor := &fakeProcessor{}
	archive := &fakeArchive{}
	manager := NewManagerService(log, cfg, reg, delivery, images, reconnect, presence, processor, archive, passTx{})

	return &managerHarness{
		cfg:       cfg,
		registry:  reg,
		delivery:  delivery,
		images:    images,
		reconnect: reconnect,
		presence:  presence,
		queue:     queue,
		processor: processor,
		archive:   archive,
		manager:   manager,
	}
}

// connect registers an open channel for the client and fails the test if the
// session layer rejects it.
func (h *managerHarness) connect(t *testing.T, clientID string) *fakeChannel {
	t.Helper()
	ch := newFakeChannel(domain.StateOpen)
	client := domain.ClientData{ID: clientID, RemoteAddr: "10.0.0.1:52413"}
	if err := h.manager.AddConnection(context.Background(), ch, client); err != nil {
		t.Fatalf("add connection for %s: %v", clientID, err)
	}
	return ch
}
