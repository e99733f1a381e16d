package interview

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"interviewly/internal/database"
	"interviewly/internal/llm"
	"interviewly/internal/metrics"
)

// 对话轮次类型。
const (
	TurnGreeting      = "greeting"
	TurnFollowUp      = "follow_up"
	TurnFinalQuestion = "final_question"
	TurnClosing       = "closing"
)

// historyWindow 每次调用模型时携带的最近消息数。
const historyWindow = 6

// Turn is one message of a conversational interview.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type,omitempty"`
}

// Conversation is the full state of a conversational interview. It round-trips
// through a Store as JSON.
type Conversation struct {
	SessionID      string    `json:"session_id"`
	UserID         uint      `json:"user_id"`
	JobTitle       string    `json:"job_title"`
	Seniority      string    `json:"seniority"`
	NumQuestions   int       `json:"num_questions"`
	QuestionsAsked int       `json:"questions_asked"`
	History        []Turn    `json:"conversation_history"`
	TopicsCovered  []string  `json:"topics_covered"`
	Complete       bool      `json:"is_complete"`
	StartedAt      time.Time `json:"started_at"`
}

// Reply is the interviewer's response to the candidate.
type Reply struct {
	Message        string `json:"message"`
	Type           string `json:"type"`
	QuestionsAsked int    `json:"questions_asked"`
	TotalQuestions int    `json:"total_questions"`
	IsComplete     bool   `json:"is_complete"`
}

// ConversationService drives conversational interviews. State lives in a
// Store so any API replica can continue a conversation.
type ConversationService struct {
	sessions *Service
	llm      *llm.Service
	store    Store
	logger   *slog.Logger
	now      func() time.Time
}

func NewConversationService(sessions *Service, llmService *llm.Service, store Store, logger *slog.Logger) *ConversationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationService{
		sessions: sessions,
		llm:      llmService,
		store:    store,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start creates the backing session and returns the greeting.
func (s *ConversationService) Start(ctx context.Context, userID uint, in StartInput) (*Conversation, Reply, error) {
	in.Mode = database.ModeConversational
	session, err := s.sessions.CreateSession(ctx, &userID, in)
	if err != nil {
		return nil, Reply{}, err
	}
	c := &Conversation{
		SessionID:    session.ID,
		UserID:       userID,
		JobTitle:     session.JobTitle,
		Seniority:    session.Seniority,
		NumQuestions: session.NumQuestions,
		StartedAt:    s.now(),
	}

	ctx = llm.WithUser(ctx, userID)
	msg, ok := s.llm.NextConversationalTurn(ctx, llm.ConversationPrompt{
		System: s.systemPrompt(c),
		Instruction: fmt.Sprintf(`Start the interview by:
1. Greeting the candidate warmly
2. Briefly introducing the role (%s %s)
3. Asking them to introduce themselves

Keep it conversational and friendly (2-3 sentences).`, c.Seniority, c.JobTitle),
	})
	if !ok || msg == "" {
		msg = fmt.Sprintf("Hello! Thank you for interviewing for the %s %s position. "+
			"Let's begin by having you tell me a bit about yourself and your relevant experience.", c.Seniority, c.JobTitle)
	}
	c.History = append(c.History, Turn{Role: llm.RoleAssistant, Content: msg, Timestamp: s.now(), Type: TurnGreeting})

	if err := s.save(ctx, c); err != nil {
		return nil, Reply{}, err
	}
	return c, Reply{Message: msg, Type: TurnGreeting, TotalQuestions: c.NumQuestions}, nil
}

var fallbackQuestions = []struct {
	topic string
	text  string
}{
	{"past projects", "Thank you for that answer. Can you tell me about a challenging project you've worked on?"},
	{"problem-solving", "I see. How do you approach problem-solving in your work?"},
	{"teamwork", "Interesting. Can you describe your experience with teamwork and collaboration?"},
	{"career goals", "Great. What are your career goals for the next few years?"},
	{"motivation", "Thank you. Why are you interested in this particular role?"},
}

// Answer records the candidate's answer and produces the next question. After
// the final question has been answered the reply is the closing message and
// IsComplete is set; the backing session is marked completed.
func (s *ConversationService) Answer(ctx context.Context, userID uint, sessionID, answer string) (Reply, error) {
	c, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return Reply{}, err
	}
	if c.Complete {
		return Reply{}, ErrConversationEnded
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return Reply{}, fmt.Errorf("%w: answer is required", ErrInvalidInput)
	}
	ctx = llm.WithUser(ctx, userID)
	c.History = append(c.History, Turn{Role: llm.RoleUser, Content: answer, Timestamp: s.now()})

	if c.QuestionsAsked >= c.NumQuestions {
		msg := s.closingMessage(ctx, c)
		c.History = append(c.History, Turn{Role: llm.RoleAssistant, Content: msg, Timestamp: s.now(), Type: TurnClosing})
		c.Complete = true
		if err := s.save(ctx, c); err != nil {
			return Reply{}, err
		}
		if err := s.sessions.markCompleted(ctx, c.SessionID); err != nil {
			return Reply{}, err
		}
		return Reply{Message: msg, Type: TurnClosing, QuestionsAsked: c.QuestionsAsked, TotalQuestions: c.NumQuestions, IsComplete: true}, nil
	}

	final := c.QuestionsAsked >= c.NumQuestions-1
	turnType := TurnFollowUp
	var instruction string
	if final {
		turnType = TurnFinalQuestion
		instruction = fmt.Sprintf(`The candidate just answered: %q

This is the LAST question of the interview.

1. Acknowledge their answer briefly
2. Ask one final, important question about their career goals or why they want this role
3. Keep it conversational

Remember: This should feel like a natural conversation, not a robotic response!`, answer)
	} else {
		instruction = fmt.Sprintf(`The candidate just answered: %q

Based on their answer:
1. If they mentioned something interesting, ask a follow-up question about it
2. If the topic is exhausted, transition naturally to a new relevant topic
3. Show you're listening ("I see...", "That's interesting...", etc.)
4. Ask your next question

Questions asked so far: %d/%d

Remember: Be conversational and natural, like a real interviewer!`, answer, c.QuestionsAsked+1, c.NumQuestions)
	}

	msg, ok := s.llm.NextConversationalTurn(ctx, llm.ConversationPrompt{
		System:      s.systemPrompt(c),
		History:     recentHistory(c.History),
		Instruction: instruction,
	})
	if !ok || msg == "" {
		msg = "Thank you for sharing that."
		if c.QuestionsAsked < len(fallbackQuestions) {
			fq := fallbackQuestions[c.QuestionsAsked]
			msg = fq.text
			c.TopicsCovered = append(c.TopicsCovered, fq.topic)
		}
	}
	c.QuestionsAsked++
	c.History = append(c.History, Turn{Role: llm.RoleAssistant, Content: msg, Timestamp: s.now(), Type: turnType})

	if err := s.save(ctx, c); err != nil {
		return Reply{}, err
	}
	return Reply{Message: msg, Type: turnType, QuestionsAsked: c.QuestionsAsked, TotalQuestions: c.NumQuestions}, nil
}

// End returns a closing message and removes the conversation from the store.
func (s *ConversationService) End(ctx context.Context, userID uint, sessionID string) (Reply, []Turn, error) {
	c, err := s.load(ctx, userID, sessionID)
	if err != nil {
		return Reply{}, nil, err
	}
	msg := s.closingMessage(llm.WithUser(ctx, userID), c)
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return Reply{}, nil, err
	}
	s.reportActive(ctx)
	reply := Reply{Message: msg, Type: TurnClosing, QuestionsAsked: c.QuestionsAsked, TotalQuestions: c.NumQuestions, IsComplete: true}
	return reply, c.History, nil
}

// Summary returns the conversation state as stored.
func (s *ConversationService) Summary(ctx context.Context, userID uint, sessionID string) (*Conversation, error) {
	return s.load(ctx, userID, sessionID)
}

// ActiveCount is the number of conversations held by the store.
func (s *ConversationService) ActiveCount(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

// LLMConfigured reports whether replies come from a model rather than templates.
func (s *ConversationService) LLMConfigured() bool { return s.llm.Configured() }

func (s *ConversationService) closingMessage(ctx context.Context, c *Conversation) string {
	msg, ok := s.llm.NextConversationalTurn(ctx, llm.ConversationPrompt{
		System: s.systemPrompt(c),
		Instruction: `Generate a warm closing message that:
1. Thanks the candidate for their time
2. Briefly mentions what impressed you
3. Explains next steps will be communicated

Keep it professional but friendly (2-3 sentences).`,
	})
	if !ok || msg == "" {
		return "Thank you for your time today. We'll review your responses and be in touch soon. Have a great day!"
	}
	return msg
}

func (s *ConversationService) systemPrompt(c *Conversation) string {
	return fmt.Sprintf(`You are an expert technical interviewer conducting a %s %s interview.

Your role:
1. Conduct a natural, conversational interview (not a rigid Q&A session)
2. Ask thoughtful questions that assess the candidate's skills and experience
3. Listen to their answers and ask relevant follow-up questions
4. Adapt your questions based on their responses
5. Be encouraging and help them showcase their abilities
6. Keep questions clear and concise (2-3 sentences)
7. Cover different topics: technical skills, past experience, problem-solving, teamwork, etc.

Interview goals:
- Total questions to ask: %d
- Current questions asked: %d
- Topics to cover: Technical expertise, past projects, problem-solving, teamwork, career goals

Interview style:
- Be conversational and natural (like a real person)
- Show interest in their answers ("That's interesting!", "Tell me more about...", etc.)
- Ask follow-up questions when they mention something important
- Vary your question types (technical, behavioral, situational)
- Don't just move to the next topic - explore their answers

Remember: This should feel like a real conversation with a human interviewer, not a robotic Q&A session!`,
		c.Seniority, c.JobTitle, c.NumQuestions, c.QuestionsAsked)
}

func recentHistory(turns []Turn) []llm.Message {
	if len(turns) > historyWindow {
		turns = turns[len(turns)-historyWindow:]
	}
	out := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, llm.Message{Role: t.Role, Content: t.Content})
	}
	return out
}

// load 其他用户的会话同样视为不存在。
func (s *ConversationService) load(ctx context.Context, userID uint, sessionID string) (*Conversation, error) {
	c, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, ErrConversationGone
	}
	return c, nil
}

func (s *ConversationService) save(ctx context.Context, c *Conversation) error {
	if err := s.store.Save(ctx, c); err != nil {
		return err
	}
	s.reportActive(ctx)
	return nil
}

func (s *ConversationService) reportActive(ctx context.Context) {
	n, err := s.store.Count(ctx)
	if err != nil {
		s.logger.Warn("count conversations failed", slog.Any("error", err))
		return
	}
	metrics.SetActiveConversations(n)
}
