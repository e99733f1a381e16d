// Package livekit issues access tokens for voice interview rooms.
package livekit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/livekit/protocol/auth"

	"interviewly/internal/config"
)

// DefaultTTL 语音面试令牌有效期，足够覆盖较长的面试。
const DefaultTTL = 7200 * time.Second

// DefaultParticipant is used when the caller sends no participant name.
const DefaultParticipant = "Candidate"

var (
	ErrNotConfigured = errors.New("livekit: not configured")
	ErrInvalidInput  = errors.New("livekit: invalid input")
)

// Grant is the result of a token request.
type Grant struct {
	Token    string `json:"token"`
	URL      string `json:"url"`
	RoomName string `json:"room_name"`
}

// Health 描述 LiveKit 接入状态。
type Health struct {
	Installed  bool   `json:"livekit_installed"`
	Configured bool   `json:"livekit_configured"`
	URL        string `json:"url"`
}

// TokenService signs room tokens with the LiveKit API key pair.
type TokenService struct {
	url       string
	apiKey    string
	apiSecret string
	ttl       time.Duration
}

func NewTokenService(cfg config.LiveKitConfig) *TokenService {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TokenService{
		url:       cfg.URL,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		ttl:       ttl,
	}
}

// Configured reports whether url, key and secret are all set.
func (s *TokenService) Configured() bool {
	return s.url != "" && s.apiKey != "" && s.apiSecret != ""
}

// URL is the LiveKit server clients connect to.
func (s *TokenService) URL() string { return s.url }

// RoomName returns the room a voice session runs in.
func RoomName(sessionID string) string {
	return "interview-" + sessionID
}

// SessionFromRoom is the inverse of RoomName.
func SessionFromRoom(room string) (string, bool) {
	id, ok := strings.CutPrefix(room, "interview-")
	return id, ok && id != ""
}

// CandidateIdentity is the participant identity of the candidate's token.
func CandidateIdentity(participantName, sessionID string) string {
	return participantName + "-" + sessionID
}

// IsCandidate 判断房间内的参与者是否为候选人；其余参与者视为面试官 agent。
func IsCandidate(identity, sessionID string) bool {
	return sessionID != "" && strings.HasSuffix(identity, "-"+sessionID)
}

// Issue creates a token that lets participantName join the session's room.
func (s *TokenService) Issue(sessionID, participantName string) (Grant, error) {
	if !s.Configured() {
		return Grant{}, ErrNotConfigured
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Grant{}, fmt.Errorf("%w: session_id is required", ErrInvalidInput)
	}
	participantName = strings.TrimSpace(participantName)
	if participantName == "" {
		participantName = DefaultParticipant
	}

	room := RoomName(sessionID)
	yes := true
	at := auth.NewAccessToken(s.apiKey, s.apiSecret)
	at.SetVideoGrant(&auth.VideoGrant{
		Room:           room,
		RoomJoin:       true,
		CanPublish:     &yes,
		CanSubscribe:   &yes,
		CanPublishData: &yes,
	}).
		SetIdentity(CandidateIdentity(participantName, sessionID)).
		SetName(participantName).
		SetValidFor(s.ttl)
	signed, err := at.ToJWT()
	if err != nil {
		return Grant{}, fmt.Errorf("sign livekit token: %w", err)
	}
	return Grant{Token: signed, URL: s.url, RoomName: room}, nil
}

// RecorderToken lets the transcript recorder join room as a hidden,
// subscribe-only participant.
func (s *TokenService) RecorderToken(room, identity string) (string, error) {
	if !s.Configured() {
		return "", ErrNotConfigured
	}
	no, yes := false, true
	at := auth.NewAccessToken(s.apiKey, s.apiSecret)
	at.SetVideoGrant(&auth.VideoGrant{
		Room:           room,
		RoomJoin:       true,
		Hidden:         true,
		CanPublish:     &no,
		CanPublishData: &no,
		CanSubscribe:   &yes,
	}).
		SetIdentity(identity).
		SetValidFor(s.ttl)
	signed, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("sign recorder token: %w", err)
	}
	return signed, nil
}

// Health reports the configuration state. The URL reads "Not configured" when empty.
func (s *TokenService) Health() Health {
	u := s.url
	if u == "" {
		u = "Not configured"
	}
	return Health{Installed: true, Configured: s.Configured(), URL: u}
}
