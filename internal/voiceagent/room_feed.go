package voiceagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/livekit/protocol/auth"
	lkproto "github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/webhook"
	lksdk "github.com/livekit/server-sdk-go/v2"

	"interviewly/internal/interview"
	"interviewly/internal/livekit"
)

// LiveKit webhook 事件名。
const (
	hookRoomStarted       = "room_started"
	hookRoomFinished      = "room_finished"
	hookParticipantJoined = "participant_joined"
)

// ErrFeedClosed is returned by RoomFeed.Next after Close.
var ErrFeedClosed = errors.New("voiceagent: room feed closed")

// Segment is one transcription segment published in a room.
type Segment struct {
	ID          string
	Participant string
	Text        string
	Final       bool
}

// RoomJoiner joins a LiveKit room and reports its transcription segments
// until leave is called.
type RoomJoiner interface {
	Join(room string, onSegment func(Segment)) (leave func(), err error)
}

// WebhookReceiver authenticates and decodes a LiveKit webhook request.
type WebhookReceiver func(r *http.Request) (*lkproto.WebhookEvent, error)

// NewWebhookReceiver verifies the signed webhook body with the API key pair.
func NewWebhookReceiver(apiKey, apiSecret string) WebhookReceiver {
	provider := auth.NewSimpleKeyProvider(apiKey, apiSecret)
	return func(r *http.Request) (*lkproto.WebhookEvent, error) {
		return webhook.ReceiveWebhookEvent(r, provider)
	}
}

// RoomFeed is the Feed of the voice sidecar. LiveKit webhooks tell it when
// interview rooms start and finish; while a room is live the feed sits in it
// as a hidden participant and turns final transcription segments into
// transcript events.
type RoomFeed struct {
	joiner  RoomJoiner
	receive WebhookReceiver
	logger  *slog.Logger
	now     func() time.Time

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	rooms map[string]*joinedRoom
}

type joinedRoom struct {
	sessionID string
	leave     func()
	// seen 已转发的 final segment，LiveKit 可能重复推送同一段。
	seen map[string]struct{}
}

func NewRoomFeed(joiner RoomJoiner, receive WebhookReceiver, logger *slog.Logger) *RoomFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoomFeed{
		joiner:  joiner,
		receive: receive,
		logger:  logger,
		now:     time.Now,
		events:  make(chan Event, followerBuffer),
		done:    make(chan struct{}),
		rooms:   make(map[string]*joinedRoom),
	}
}

// Next blocks until a room produces an event.
func (f *RoomFeed) Next(ctx context.Context) (Event, error) {
	select {
	case ev := <-f.events:
		return ev, nil
	case <-f.done:
		return Event{}, ErrFeedClosed
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close leaves every room.
func (f *RoomFeed) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	f.mu.Lock()
	rooms := f.rooms
	f.rooms = make(map[string]*joinedRoom)
	f.mu.Unlock()
	for _, r := range rooms {
		if r.leave != nil {
			r.leave()
		}
	}
	return nil
}

// Rooms returns the number of rooms currently joined.
func (f *RoomFeed) Rooms() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rooms)
}

// ServeHTTP receives LiveKit webhooks.
func (f *RoomFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ev, err := f.receive(r)
	if err != nil {
		f.logger.Warn("rejected livekit webhook", slog.Any("error", err))
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	room := ev.GetRoom().GetName()
	sessionID, ok := livekit.SessionFromRoom(room)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}

	switch ev.GetEvent() {
	case hookRoomStarted, hookParticipantJoined:
		// 加入房间需要完成信令握手，不占用 webhook 请求。
		go f.join(room, sessionID)
	case hookRoomFinished:
		f.leave(room)
		f.emit(Event{Type: EventEnd, Room: room, Timestamp: f.now()})
	}
	w.WriteHeader(http.StatusOK)
}

func (f *RoomFeed) join(room, sessionID string) {
	f.mu.Lock()
	if _, joined := f.rooms[room]; joined {
		f.mu.Unlock()
		return
	}
	jr := &joinedRoom{sessionID: sessionID, seen: make(map[string]struct{})}
	f.rooms[room] = jr
	f.mu.Unlock()

	leave, err := f.joiner.Join(room, func(seg Segment) { f.onSegment(room, jr, seg) })
	if err != nil {
		f.logger.Error("join interview room failed", slog.String("room", room), slog.Any("error", err))
		f.mu.Lock()
		if f.rooms[room] == jr {
			delete(f.rooms, room)
		}
		f.mu.Unlock()
		return
	}

	f.mu.Lock()
	if f.rooms[room] != jr {
		// 握手期间房间已结束或 feed 已关闭。
		f.mu.Unlock()
		leave()
		return
	}
	jr.leave = leave
	f.mu.Unlock()
	f.logger.Info("joined interview room", slog.String("room", room))
}

func (f *RoomFeed) leave(room string) {
	f.mu.Lock()
	jr, ok := f.rooms[room]
	delete(f.rooms, room)
	f.mu.Unlock()
	if ok && jr.leave != nil {
		jr.leave()
	}
}

func (f *RoomFeed) onSegment(room string, jr *joinedRoom, seg Segment) {
	text := strings.TrimSpace(seg.Text)
	if !seg.Final || text == "" {
		return
	}
	f.mu.Lock()
	if _, dup := jr.seen[seg.ID]; dup && seg.ID != "" {
		f.mu.Unlock()
		return
	}
	jr.seen[seg.ID] = struct{}{}
	f.mu.Unlock()

	speaker := interview.SpeakerAgent
	if livekit.IsCandidate(seg.Participant, jr.sessionID) {
		speaker = interview.SpeakerCandidate
	}
	f.emit(Event{Type: EventTranscript, Room: room, Speaker: speaker, Text: text, Timestamp: f.now()})
}

func (f *RoomFeed) emit(ev Event) {
	select {
	case f.events <- ev:
	case <-f.done:
	}
}

// LiveKitJoiner joins rooms with the LiveKit Go SDK using recorder tokens.
type LiveKitJoiner struct {
	url      string
	identity string
	tokens   *livekit.TokenService
	logger   *slog.Logger
}

func NewLiveKitJoiner(tokens *livekit.TokenService, identity string, logger *slog.Logger) *LiveKitJoiner {
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveKitJoiner{url: tokens.URL(), identity: identity, tokens: tokens, logger: logger}
}

func (j *LiveKitJoiner) Join(room string, onSegment func(Segment)) (func(), error) {
	token, err := j.tokens.RecorderToken(room, j.identity)
	if err != nil {
		return nil, err
	}
	cb := lksdk.NewRoomCallback()
	cb.OnTranscriptionReceived = func(segments []*lksdk.TranscriptionSegment, p lksdk.Participant, _ lksdk.TrackPublication) {
		identity := ""
		if p != nil {
			identity = p.Identity()
		}
		for _, s := range segments {
			if s == nil {
				continue
			}
			onSegment(Segment{ID: s.ID, Participant: identity, Text: s.Text, Final: s.Final})
		}
	}
	cb.OnDisconnected = func() {
		j.logger.Info("left interview room", slog.String("room", room))
	}

	lkRoom, err := lksdk.ConnectToRoomWithToken(j.url, token, cb)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", room, err)
	}
	return lkRoom.Disconnect, nil
}
