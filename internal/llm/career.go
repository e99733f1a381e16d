package llm

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"interviewly/internal/quota"
)

// FeatureCareerSuggestions 职业路径建议，不计入额度。
const FeatureCareerSuggestions = "career_suggestions"

// 职业教练回复状态。
const (
	CareerStatusSuccess = "success"
	CareerStatusLimited = "limited"
)

const (
	careerHistoryLimit = 10
	maxSuggestions     = 5
	maxActionItems     = 3
)

// CareerContext is what the user tells the coach about themselves.
type CareerContext struct {
	JobTitle        string   `json:"job_title"`
	ExperienceYears int      `json:"experience_years"`
	Skills          []string `json:"skills"`
	Goals           string   `json:"goals"`
}

// CareerReply is one answer of the career coach.
type CareerReply struct {
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions"`
	ActionItems []string `json:"action_items"`
	Status      string   `json:"status"`
}

// CareerProfile is the input of CareerSuggestions.
type CareerProfile struct {
	CurrentRole     string
	Skills          []string
	ExperienceYears int
	Interests       []string
}

// CareerPaths lists next roles, growth paths and skills to develop.
type CareerPaths struct {
	SuggestedRoles []string `json:"suggested_roles"`
	GrowthPaths    []string `json:"growth_paths"`
	SkillsToLearn  []string `json:"skills_to_learn"`
}

const careerSystemPrompt = `You are an expert AI Career Coach and mentor. Your role is to:

1. Provide Personalized Career Guidance: Offer tailored advice based on the user's experience, goals, and industry.
2. Suggest Career Paths: Recommend suitable job roles and career trajectories based on skills and interests.
3. Skills Development: Identify skill gaps and recommend specific courses, certifications, or resources.
4. Job Search Strategy: Help with resume optimization, interview preparation, and job search tactics.
5. Career Growth: Advise on promotions, salary negotiations, and professional development.
6. Industry Insights: Share current trends, in-demand skills, and market opportunities.

Communication Style:
- Be encouraging and supportive
- Provide specific, actionable advice
- Use examples and real-world scenarios
- Ask clarifying questions when needed
- Be honest about challenges and opportunities
- Celebrate achievements and progress

Focus Areas:
- Resume and CV optimization
- Interview preparation and practice
- Skill development and learning paths
- Job search strategies
- Career transitions and pivots
- Salary negotiation
- Professional networking
- Work-life balance
- Industry trends and opportunities
`

func careerSystem(user *CareerContext) string {
	if user == nil {
		return careerSystemPrompt
	}
	var b strings.Builder
	if user.JobTitle != "" {
		b.WriteString("- Current Role: " + user.JobTitle + "\n")
	}
	if user.ExperienceYears > 0 {
		fmt.Fprintf(&b, "- Experience: %d years\n", user.ExperienceYears)
	}
	if len(user.Skills) > 0 {
		b.WriteString("- Skills: " + strings.Join(user.Skills, ", ") + "\n")
	}
	if user.Goals != "" {
		b.WriteString("- Career Goals: " + user.Goals + "\n")
	}
	if b.Len() == 0 {
		return careerSystemPrompt
	}
	return careerSystemPrompt + "\nUser Context:\n" + b.String()
}

// CareerChat answers message in the context of the last few turns of history.
// Without a working provider it returns keyword-matched advice with status "limited".
func (s *Service) CareerChat(ctx context.Context, message string, history []Message, user *CareerContext) CareerReply {
	if len(history) > careerHistoryLimit {
		history = history[len(history)-careerHistoryLimit:]
	}
	msgs := make([]Message, 0, len(history)+1)
	for _, m := range history {
		role := m.Role
		if role != RoleAssistant {
			role = RoleUser
		}
		msgs = append(msgs, Message{Role: role, Content: m.Content})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: message})

	req := Request{System: careerSystem(user), Messages: msgs, Temperature: 0.7, MaxTokens: 1000}
	if resp, ok := s.complete(ctx, quota.FeatureCareerChat, req); ok {
		if text := strings.TrimSpace(resp.Text); text != "" {
			return CareerReply{
				Message:     text,
				Suggestions: extractSuggestions(text),
				ActionItems: extractActionItems(text),
				Status:      CareerStatusSuccess,
			}
		}
	}
	return fallbackCareerReply(message)
}

// extractSuggestions 取列表项（•、-、*、数字编号）中较长的前几条。
func extractSuggestions(text string) []string {
	out := []string{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !isListItem(line) {
			continue
		}
		item := strings.TrimSpace(strings.TrimLeft(line, "•-*0123456789.) "))
		if len([]rune(item)) > 10 {
			out = append(out, item)
		}
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}

func isListItem(line string) bool {
	if strings.HasPrefix(line, "•") || strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") {
		return true
	}
	r := []rune(line)
	return len(r) > 2 && unicode.IsDigit(r[0]) && (r[1] == '.' || r[1] == ')')
}

var actionKeywords = []string{
	"you should", "i recommend", "consider", "try", "start by",
	"take", "apply", "practice", "update", "learn", "research",
}

// extractActionItems returns sentences that read like instructions.
func extractActionItems(text string) []string {
	out := []string{}
	for _, sentence := range strings.Split(text, ".") {
		sentence = strings.TrimSpace(sentence)
		lower := strings.ToLower(sentence)
		matched := false
		for _, kw := range actionKeywords {
			if strings.Contains(lower, kw) {
				matched = true
				break
			}
		}
		if n := len([]rune(sentence)); matched && n > 15 && n < 200 {
			out = append(out, sentence)
		}
		if len(out) == maxActionItems {
			break
		}
	}
	return out
}

const (
	careerDefaultReply = "I'm your AI Career Coach! To provide personalized advice, " +
		"configure an LLM provider API key for the backend.\n\n" +
		"Once configured, I can help you with:\n" +
		"• Career path guidance and job role suggestions\n" +
		"• Skills development and learning recommendations\n" +
		"• Resume and interview preparation tips\n" +
		"• Job search strategies and networking advice\n" +
		"• Salary negotiation and career growth planning"
	careerResumeReply = "For resume advice, I recommend:\n" +
		"• Use action verbs and quantify achievements\n" +
		"• Tailor your resume to each job application\n" +
		"• Keep it concise (1-2 pages)\n" +
		"• Highlight relevant skills and experience\n" +
		"• Use our CV Analyzer and Rewriter tools!"
	careerInterviewReply = "For interview preparation:\n" +
		"• Practice common interview questions\n" +
		"• Research the company thoroughly\n" +
		"• Prepare STAR method examples\n" +
		"• Practice with our AI Interview Coach\n" +
		"• Ask thoughtful questions to the interviewer"
)

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func fallbackCareerReply(message string) CareerReply {
	lower := strings.ToLower(message)
	text := careerDefaultReply
	switch {
	case containsAny(lower, "resume", "cv", "curriculum"):
		text = careerResumeReply
	case containsAny(lower, "interview", "prepare", "practice"):
		text = careerInterviewReply
	}
	return CareerReply{
		Message: text,
		Suggestions: []string{
			"Configure an LLM API key for personalized advice",
			"Use the CV Analyzer to optimize your resume",
			"Practice interviews with our AI Interview Coach",
		},
		ActionItems: []string{"Set up an LLM API key for full AI features"},
		Status:      CareerStatusLimited,
	}
}

// CareerSuggestions proposes next roles for p. With no provider it says so in
// SuggestedRoles; a failed call falls back to generic seniority steps.
func (s *Service) CareerSuggestions(ctx context.Context, p CareerProfile) CareerPaths {
	if !s.Configured() {
		return CareerPaths{
			SuggestedRoles: []string{"Configure an LLM API key for personalized suggestions"},
			GrowthPaths:    []string{},
			SkillsToLearn:  []string{},
		}
	}
	interests := ""
	if len(p.Interests) > 0 {
		interests = " with interests in " + strings.Join(p.Interests, ", ")
	}
	prompt := fmt.Sprintf(`Based on this profile:
- Current Role: %s
- Skills: %s
- Experience: %d years%s

Suggest 5 suitable next career roles and provide:
1. Recommended job titles
2. Career growth paths
3. Skills to develop for advancement

Return as JSON with: suggested_roles, growth_paths, skills_to_learn (each as arrays)`,
		p.CurrentRole, strings.Join(p.Skills, ", "), p.ExperienceYears, interests)

	req := Prompt("You are a career advisor. Provide structured career guidance.", prompt)
	req.Temperature = 0.7
	var out CareerPaths
	if s.completeJSON(ctx, FeatureCareerSuggestions, req, &out, "suggested_roles", "growth_paths", "skills_to_learn") {
		return out
	}
	return CareerPaths{
		SuggestedRoles: []string{
			p.CurrentRole + " (Senior Level)",
			"Lead " + p.CurrentRole,
			p.CurrentRole + " Manager",
		},
		GrowthPaths: []string{
			"Individual Contributor → Senior → Lead",
			"Individual Contributor → Manager → Director",
		},
		SkillsToLearn: []string{
			"Leadership and communication",
			"Strategic thinking",
			"Project management",
		},
	}
}

// TipsGeneral 是未知主题时使用的主题。
const TipsGeneral = "general"

var careerTips = map[string][]string{
	"resume": {
		"Use action verbs to describe accomplishments",
		"Quantify achievements with specific metrics",
		"Tailor your resume to each job application",
		"Keep it concise - 1-2 pages maximum",
		"Use keywords from the job description",
	},
	"interview": {
		"Research the company thoroughly before the interview",
		"Prepare STAR method examples for behavioral questions",
		"Ask thoughtful questions about the role and team",
		"Practice common interview questions out loud",
		"Follow up with a thank-you email within 24 hours",
	},
	"networking": {
		"Attend industry events and conferences regularly",
		"Connect with people on LinkedIn with personalized messages",
		"Offer help before asking for favors",
		"Follow up with new connections within a week",
		"Join professional groups and online communities",
	},
	"salary": {
		"Research industry salary ranges beforehand",
		"Consider total compensation, not just base salary",
		"Practice salary negotiation conversations",
		"Know your worth and be confident",
		"Time your negotiation strategically",
	},
	"skills": {
		"Focus on high-demand skills in your industry",
		"Build a portfolio to showcase your work",
		"Take online courses and earn certifications",
		"Practice regularly through real projects",
		"Stay updated with industry trends",
	},
	TipsGeneral: {
		"Set clear short-term and long-term career goals",
		"Seek feedback regularly and act on it",
		"Build a strong professional network",
		"Invest in continuous learning",
		"Document your achievements and wins",
	},
}

// QuickTips returns the static tips of topic and the topic actually served.
// Unknown or empty topics get the general tips.
func QuickTips(topic string) (string, []string) {
	topic = strings.ToLower(strings.TrimSpace(topic))
	tips, ok := careerTips[topic]
	if !ok {
		topic = TipsGeneral
		tips = careerTips[TipsGeneral]
	}
	return topic, append([]string(nil), tips...)
}
