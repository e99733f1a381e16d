package voiceagent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"interviewly/internal/livekit"
)

// 事件类型。
const (
	EventTranscript = "transcript"
	EventEnd        = "end"
)

// followerBuffer 每个房间排队等待处理的事件上限，满了丢弃并记录日志。
const followerBuffer = 256

// finishedTTL is how long a finished room keeps swallowing late events.
const finishedTTL = time.Hour

// Event is one message of the transcript feed.
type Event struct {
	Type      string    `json:"type"`
	Room      string    `json:"room"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Feed yields transcript events. Next blocks until an event arrives.
type Feed interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Options 配置 Agent。
type Options struct {
	SaveInterval time.Duration
	MaxQuestions int
	// FinishBackoff is the first delay between failed finish attempts.
	FinishBackoff time.Duration
	Logger        *slog.Logger
}

// Agent routes feed events to one Session per interview room.
type Agent struct {
	backend Backend
	opts    Options
	logger  *slog.Logger

	mu        sync.Mutex
	followers map[string]*follower
	finished  map[string]time.Time
	wg        sync.WaitGroup
	now       func() time.Time
}

type follower struct {
	events chan Event
	done   chan struct{}
}

func NewAgent(backend Backend, opts Options) *Agent {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		backend:   backend,
		opts:      opts,
		logger:    logger,
		followers: make(map[string]*follower),
		finished:  make(map[string]time.Time),
		now:       time.Now,
	}
}

// Active returns the number of rooms still being followed.
func (a *Agent) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, f := range a.followers {
		select {
		case <-f.done:
		default:
			n++
		}
	}
	return n
}

// Run dispatches events until the feed fails or ctx is done. Rooms stay
// followed after a feed error so a reconnected feed continues them.
func (a *Agent) Run(ctx context.Context, feed Feed) error {
	for {
		ev, err := feed.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		a.Dispatch(ctx, ev)
	}
}

// Dispatch hands ev to the session of its room, starting one when needed.
// Events for a room whose interview already finished are dropped, and so
// are events for a room whose queue is full.
func (a *Agent) Dispatch(ctx context.Context, ev Event) {
	sessionID, ok := livekit.SessionFromRoom(strings.TrimSpace(ev.Room))
	if !ok {
		a.logger.Warn("event for unknown room ignored", slog.String("room", ev.Room))
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, done := a.finished[sessionID]; done {
		return
	}
	f, exists := a.followers[sessionID]
	if !exists {
		if ev.Type == EventEnd {
			return
		}
		f = a.follow(ctx, sessionID)
	}

	// 持锁非阻塞发送：Shutdown 关闭 channel 也在锁内，不会向已关闭的 channel 写入。
	select {
	case f.events <- ev:
	default:
		a.logger.Warn("voice event dropped, room queue full",
			slog.String("session_id", sessionID),
			slog.String("type", ev.Type),
		)
	}
}

// follow starts the session goroutine of sessionID. a.mu must be held.
func (a *Agent) follow(ctx context.Context, sessionID string) *follower {
	f := &follower{events: make(chan Event, followerBuffer), done: make(chan struct{})}
	a.followers[sessionID] = f
	session := NewSession(sessionID, NewRecorder(a.opts.MaxQuestions), a.backend, a.logger)
	if a.opts.FinishBackoff > 0 {
		session.finishBackoff = a.opts.FinishBackoff
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer close(f.done)
		ended := session.Run(ctx, f.events, a.opts.SaveInterval)
		a.release(sessionID, f, ended)
	}()
	a.logger.Info("following voice interview", slog.String("session_id", sessionID))
	return f
}

// release forgets a follower whose session returned. Ended rooms are
// remembered for finishedTTL so late events do not restart them.
func (a *Agent) release(sessionID string, f *follower, ended bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.followers[sessionID] == f {
		delete(a.followers, sessionID)
	}
	if !ended {
		return
	}
	now := a.now()
	for id, at := range a.finished {
		if now.Sub(at) > finishedTTL {
			delete(a.finished, id)
		}
	}
	a.finished[sessionID] = now
}

// Shutdown stops following every room and waits for each session to save
// its transcript.
func (a *Agent) Shutdown() {
	a.mu.Lock()
	for id, f := range a.followers {
		close(f.events)
		delete(a.followers, id)
	}
	a.mu.Unlock()
	a.wg.Wait()
}
