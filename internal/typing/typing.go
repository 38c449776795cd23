package typing

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"mechat/internal/models"
)

const DefaultTimeout = 3 * time.Second

// Emitter sends a realtime event. Errors are not fatal to typing.
type Emitter interface {
	Emit(event models.EventName, payload any) error
}

type Config struct {
	SelfID  string
	Timeout time.Duration
	// OnChange is called when the set of peers typing in the open chat changes.
	OnChange func(chatID string, peers []string)
}

type peer struct {
	timer *time.Timer
	gen   uint64
}

// Coordinator debounces local typing signals and times out remote ones.
type Coordinator struct {
	cfg     Config
	emitter Emitter

	mu sync.Mutex
	// local side
	typing     bool
	typingChat string
	stopTimer  *time.Timer
	gen        uint64
	// remote side
	openChat string
	peers    map[string]peer
	peerGen  uint64
}

func NewCoordinator(emitter Emitter, cfg Config) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Coordinator{
		cfg:     cfg,
		emitter: emitter,
		peers:   make(map[string]peer),
	}
}

func (c *Coordinator) emit(event models.EventName, chatID string) {
	if err := c.emitter.Emit(event, chatID); err != nil {
		slog.Debug("typing signal not sent", "event", event, "chat_id", chatID, "error", err)
	}
}

// Keystroke records local input in chatID. The first keystroke emits typing;
// later ones only push the stop timer back.
func (c *Coordinator) Keystroke(chatID string) {
	if chatID == "" {
		return
	}

	c.mu.Lock()
	var stopChat string
	if c.typing && c.typingChat != chatID {
		stopChat = c.typingChat
		c.typing = false
	}
	start := !c.typing
	c.typing = true
	c.typingChat = chatID
	if c.stopTimer != nil {
		c.stopTimer.Stop()
	}
	c.gen++
	gen := c.gen
	c.stopTimer = time.AfterFunc(c.cfg.Timeout, func() { c.expire(gen) })
	c.mu.Unlock()

	if stopChat != "" {
		c.emit(models.EventStopTyping, stopChat)
	}
	if start {
		c.emit(models.EventTyping, chatID)
	}
}

func (c *Coordinator) expire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.typing {
		c.mu.Unlock()
		return
	}
	c.typing = false
	chatID := c.typingChat
	c.mu.Unlock()

	c.emit(models.EventStopTyping, chatID)
}

// Stop ends local typing right away, e.g. when the message is submitted.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.typing {
		c.mu.Unlock()
		return
	}
	c.typing = false
	c.gen++
	if c.stopTimer != nil {
		c.stopTimer.Stop()
	}
	chatID := c.typingChat
	c.mu.Unlock()

	c.emit(models.EventStopTyping, chatID)
}

// Typing reports whether the local user is marked as typing.
func (c *Coordinator) Typing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

// SetOpenChat changes the chat whose remote typing is shown.
func (c *Coordinator) SetOpenChat(chatID string) {
	c.mu.Lock()
	if c.openChat == chatID {
		c.mu.Unlock()
		return
	}
	prev := c.openChat
	hadPeers := c.clearPeersLocked()
	c.openChat = chatID
	stopLocal := c.typing && c.typingChat != chatID
	c.mu.Unlock()

	if stopLocal {
		c.Stop()
	}
	if hadPeers {
		c.notify(prev, nil)
	}
}

func (c *Coordinator) clearPeersLocked() bool {
	had := len(c.peers) > 0
	for id, p := range c.peers {
		p.timer.Stop()
		delete(c.peers, id)
	}
	return had
}

// RemoteTyping shows a peer as typing for at most the timeout, even when
// its stop typing never arrives.
func (c *Coordinator) RemoteTyping(sig models.TypingSignal) {
	c.mu.Lock()
	if sig.ChatID != c.openChat || sig.UserID == c.cfg.SelfID {
		c.mu.Unlock()
		return
	}
	p, existed := c.peers[sig.UserID]
	if existed {
		p.timer.Stop()
	}
	c.peerGen++
	gen := c.peerGen
	userID := sig.UserID
	p = peer{gen: gen, timer: time.AfterFunc(c.cfg.Timeout, func() { c.clearPeer(sig.ChatID, userID, gen) })}
	c.peers[userID] = p
	peers := c.peerIDsLocked()
	c.mu.Unlock()

	if !existed {
		c.notify(sig.ChatID, peers)
	}
}

// RemoteStopTyping clears the peer immediately.
func (c *Coordinator) RemoteStopTyping(sig models.TypingSignal) {
	c.mu.Lock()
	if sig.ChatID != c.openChat {
		c.mu.Unlock()
		return
	}
	p, ok := c.peers[sig.UserID]
	if !ok {
		c.mu.Unlock()
		return
	}
	p.timer.Stop()
	delete(c.peers, sig.UserID)
	peers := c.peerIDsLocked()
	c.mu.Unlock()

	c.notify(sig.ChatID, peers)
}

func (c *Coordinator) clearPeer(chatID, userID string, gen uint64) {
	c.mu.Lock()
	p, ok := c.peers[userID]
	if !ok || p.gen != gen || c.openChat != chatID {
		c.mu.Unlock()
		return
	}
	delete(c.peers, userID)
	peers := c.peerIDsLocked()
	c.mu.Unlock()

	c.notify(chatID, peers)
}

func (c *Coordinator) peerIDsLocked() []string {
	ids := make([]string, 0, len(c.peers))
	for id := range c.peers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// PeersTyping returns the peers currently typing in the open chat.
func (c *Coordinator) PeersTyping() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerIDsLocked()
}

func (c *Coordinator) IsPeerTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.peers) > 0
}

func (c *Coordinator) notify(chatID string, peers []string) {
	if c.cfg.OnChange != nil {
		c.cfg.OnChange(chatID, peers)
	}
}

// Close cancels every pending timer without emitting anything.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.typing = false
	if c.stopTimer != nil {
		c.stopTimer.Stop()
	}
	c.clearPeersLocked()
}
