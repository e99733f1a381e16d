package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"interviewly/internal/quota"
)

// 用量记录中的非计费功能标识。
const (
	FeatureVoiceSummary = "voice_interview_summary"
	FeatureSocialPost   = "ats_social_post"
)

// PlannedQuestion is one question of a structured interview plan.
type PlannedQuestion struct {
	Idx          int    `json:"idx"`
	Type         string `json:"type"`
	Competency   string `json:"competency"`
	QuestionText string `json:"question_text"`
}

// DimensionScores 四个评分维度，0-100。
type DimensionScores struct {
	Relevance float64 `json:"relevance"`
	Clarity   float64 `json:"clarity"`
	Structure float64 `json:"structure"`
	Impact    float64 `json:"impact"`
}

// Evaluation is the score of a single answer.
type Evaluation struct {
	ScoreOverall    float64         `json:"score_overall"`
	DimensionScores DimensionScores `json:"dimension_scores"`
	CoachNotes      string          `json:"coach_notes"`
}

// AnsweredQuestion feeds SummarizeSession.
type AnsweredQuestion struct {
	Type         string
	QuestionText string
	UserAnswer   string
	Scores       Evaluation
}

// SessionSummary is the end-of-interview report.
type SessionSummary struct {
	OverallScore   float64  `json:"overall_score"`
	Strengths      []string `json:"strengths"`
	Weaknesses     []string `json:"weaknesses"`
	ActionPlan     []string `json:"action_plan"`
	SuggestedRoles []string `json:"suggested_roles"`
}

var summaryKeys = []string{"overall_score", "strengths", "weaknesses", "action_plan", "suggested_roles"}

// GenerateInterviewPlan asks for numQuestions mixed-type questions.
func (s *Service) GenerateInterviewPlan(ctx context.Context, jobTitle, seniority, lang string, numQuestions int) []PlannedQuestion {
	prompt := fmt.Sprintf(`You are an expert technical interviewer. Generate %[1]d interview questions for a %[2]s %[3]s position.

Requirements:
- Mix question types: technical, behavioral, situational, and general
- Each question should test a specific competency
- Questions should be appropriate for %[2]s level
- Language: %[4]s

Return a JSON object {"questions": [...]} where each item has this exact structure:
{"idx": 1, "type": "technical", "competency": "Problem Solving", "question_text": "Your question here..."}

Types must be one of: technical, behavioral, situational, general
Competencies examples: Problem Solving, Leadership, Communication, Technical Expertise, Adaptability, Strategic Thinking, Teamwork, Innovation

Generate exactly %[1]d questions now.`, numQuestions, seniority, jobTitle, lang)

	req := Prompt("You are an expert interview coach. Always respond with valid JSON.", prompt)
	req.JSON = true
	if resp, ok := s.complete(ctx, quota.FeatureMockInterview, req); ok {
		if questions := parsePlan(resp.Text, numQuestions); len(questions) > 0 {
			return questions
		}
		s.logger.Warn("interview plan unusable, using fallback")
	}
	return s.dummyPlan(jobTitle, seniority, numQuestions)
}

// parsePlan accepts either a bare array or an object wrapping one.
func parsePlan(text string, numQuestions int) []PlannedQuestion {
	doc, ok := ExtractJSON(text)
	if !ok {
		return nil
	}
	arr := gjson.Parse(doc)
	if !arr.IsArray() {
		arr = gjson.Get(doc, "questions")
	}
	if !arr.IsArray() {
		return nil
	}
	var questions []PlannedQuestion
	if err := json.Unmarshal([]byte(arr.Raw), &questions); err != nil {
		return nil
	}
	out := make([]PlannedQuestion, 0, len(questions))
	for _, q := range questions {
		if strings.TrimSpace(q.QuestionText) == "" {
			continue
		}
		q.Idx = len(out) + 1
		if !validQuestionType(q.Type) {
			q.Type = "general"
		}
		out = append(out, q)
		if numQuestions > 0 && len(out) == numQuestions {
			break
		}
	}
	return out
}

func validQuestionType(t string) bool {
	switch t {
	case "technical", "behavioral", "situational", "general":
		return true
	}
	return false
}

// EvaluateAnswer scores one answer.
func (s *Service) EvaluateAnswer(ctx context.Context, questionText, questionType, answer, jobTitle, seniority string) Evaluation {
	prompt := fmt.Sprintf(`You are an expert interview coach evaluating a candidate's answer.

Job: %s %s
Question Type: %s
Question: %s

Candidate's Answer:
%s

Evaluate this answer and provide scores (0-100) for:
1. Relevance - Is the answer on-topic and addresses the question?
2. Clarity - Is the answer clear, well-articulated, and easy to understand?
3. Structure - Is the answer well-organized with logical flow?
4. Impact - Does it show results, specific examples, or measurable outcomes?

Also provide constructive coaching notes (2-3 sentences) on how to improve.

Return a JSON object with this exact structure:
{
  "score_overall": 85,
  "dimension_scores": {"relevance": 90, "clarity": 85, "structure": 80, "impact": 85},
  "coach_notes": "Your constructive feedback here..."
}

The overall score should be the average of the four dimension scores.`, seniority, jobTitle, questionType, questionText, answer)

	req := Prompt("You are an expert interview coach. Always respond with valid JSON. Be fair but constructive in your evaluation.", prompt)
	var ev Evaluation
	if s.completeJSON(ctx, quota.FeatureMockInterview, req, &ev, "score_overall", "dimension_scores", "coach_notes") {
		return ev
	}
	return s.dummyEvaluation(answer, questionType)
}

// SummarizeSession produces the final report of a structured interview.
func (s *Service) SummarizeSession(ctx context.Context, jobTitle, seniority string, answers []AnsweredQuestion) SessionSummary {
	avg := averageOverall(answers)
	var qa strings.Builder
	for i, a := range answers {
		excerpt := truncate(a.UserAnswer, 200)
		fmt.Fprintf(&qa, "Q%d (%s): %s\nScore: %.0f/100\nAnswer excerpt: %s...\n\n", i+1, a.Type, a.QuestionText, a.Scores.ScoreOverall, excerpt)
	}

	prompt := fmt.Sprintf(`You are an expert career coach reviewing a mock interview.

Job: %s %s
Overall Score: %d/100

Interview Performance:
%s
Based on this interview performance, provide a comprehensive analysis with:

1. STRENGTHS (2-4 items): Specific things the candidate did well
2. WEAKNESSES (2-4 items): Areas that need improvement
3. ACTION PLAN (3-5 items): Concrete, actionable steps to improve
4. SUGGESTED ROLES (2-4 items): Job titles/levels that match their performance

Return a JSON object with this exact structure:
{
  "overall_score": %d,
  "strengths": ["strength 1", "strength 2"],
  "weaknesses": ["weakness 1", "weakness 2"],
  "action_plan": ["action 1", "action 2"],
  "suggested_roles": ["role 1", "role 2"]
}

Be specific, constructive, and encouraging.`, seniority, jobTitle, avg, qa.String(), avg)

	req := Prompt("You are an expert career coach. Always respond with valid JSON. Be honest but supportive.", prompt)
	var summary SessionSummary
	if s.completeJSON(ctx, quota.FeatureMockInterview, req, &summary, summaryKeys...) {
		return summary
	}
	return dummySummary(jobTitle, seniority, answers)
}

// SummarizeVoiceInterview analyses a voice interview transcript.
func (s *Service) SummarizeVoiceInterview(ctx context.Context, jobTitle, seniority, transcript string, questionsAsked, totalQuestions int) SessionSummary {
	status := "INTERVIEW FULLY COMPLETED"
	if questionsAsked < totalQuestions {
		status = "INTERVIEW PARTIALLY COMPLETED - Candidate left early"
	}
	prompt := fmt.Sprintf(`You are an expert career coach reviewing a voice mock interview.

Job: %s %s
Questions Asked: %d/%d
%s

Full Interview Conversation:
%s

Based on this interview conversation, provide a comprehensive analysis with:

1. OVERALL SCORE (0-100): Rate the candidate's overall interview performance. If incomplete, score based on what was demonstrated so far.
2. STRENGTHS (2-4 items): Specific things the candidate did well.
3. WEAKNESSES (2-4 items): Areas that need improvement. If the interview was cut short, mention completion as a weakness.
4. ACTION PLAN (3-5 items): Concrete, actionable steps to improve. If incomplete, include "Complete full interview sessions to build stamina and consistency".
5. SUGGESTED ROLES (2-4 items): Job titles/levels that match their performance.

Return a JSON object with this exact structure:
{
  "overall_score": 78,
  "strengths": ["strength 1", "strength 2"],
  "weaknesses": ["weakness 1", "weakness 2"],
  "action_plan": ["action 1", "action 2"],
  "suggested_roles": ["role 1", "role 2"]
}

Be specific, constructive, and encouraging.`, seniority, jobTitle, questionsAsked, totalQuestions, status, transcript)

	req := Prompt("You are an expert career coach. Always respond with valid JSON. Be honest but supportive and constructive.", prompt)
	var summary SessionSummary
	if s.completeJSON(ctx, FeatureVoiceSummary, req, &summary, summaryKeys...) {
		return summary
	}
	title := cases.Title(language.English).String(seniority)
	return SessionSummary{
		OverallScore: 75,
		Strengths: []string{
			"Completed the voice interview successfully",
			"Engaged in natural conversation with the AI interviewer",
			fmt.Sprintf("Answered %d questions during the session", questionsAsked),
		},
		Weaknesses: []string{
			"Voice interview analysis requires AI configuration",
			"Unable to provide detailed performance metrics without AI analysis",
		},
		ActionPlan: []string{
			"Review your interview recording if available",
			"Practice speaking clearly and confidently",
			fmt.Sprintf("Continue preparing for %s interviews", jobTitle),
			"Focus on providing specific examples in your answers",
		},
		SuggestedRoles: []string{
			strings.TrimSpace(title + " " + jobTitle),
			fmt.Sprintf("%s positions at various companies", jobTitle),
		},
	}
}

// ConversationPrompt drives one turn of the conversational interviewer.
type ConversationPrompt struct {
	System      string
	History     []Message
	Instruction string
}

// NextConversationalTurn returns the interviewer's next utterance. ok is false
// when no provider is configured or the call failed; the caller owns the fallback.
func (s *Service) NextConversationalTurn(ctx context.Context, p ConversationPrompt) (string, bool) {
	req := Request{System: p.System, Messages: append(append([]Message{}, p.History...), Message{Role: RoleUser, Content: p.Instruction})}
	resp, ok := s.complete(ctx, quota.FeatureMockInterview, req)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(resp.Text), true
}

func averageOverall(answers []AnsweredQuestion) int {
	if len(answers) == 0 {
		return 0
	}
	total := 0
	for _, a := range answers {
		total += int(a.Scores.ScoreOverall)
	}
	return total / len(answers)
}
