package llm

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const dummyNote = "\n\n💡 Note: For accurate AI-powered evaluation, configure an LLM API key for the backend."

var questionTemplates = map[string][]string{
	"technical": {
		"Describe your experience with key technologies used in %[1]s roles.",
		"What technical challenges have you faced in %[1]s work, and how did you overcome them?",
		"Explain a technical project you're proud of in the %[1]s domain.",
		"How do you stay updated with the latest trends and technologies in %[1]s?",
	},
	"behavioral": {
		"Tell me about a time when you had to work under pressure. How did you handle it?",
		"Describe a situation where you disagreed with a colleague. How did you resolve it?",
		"Give an example of how you've demonstrated leadership in your role.",
		"Tell me about a time you failed. What did you learn from it?",
	},
	"situational": {
		"If you joined our team as a %[1]s, what would be your priorities in the first 90 days?",
		"How would you handle a situation where you're given conflicting priorities?",
		"Imagine you're working on a critical %[1]s project with a tight deadline, and you discover a major issue. What do you do?",
		"How would you approach mentoring a junior team member?",
	},
	"general": {
		"Why are you interested in this %[1]s position?",
		"What are your career goals for the next 3-5 years?",
		"What motivates you in your work?",
		"What do you think are the most important skills for a %[2]s %[1]s?",
	},
}

var competencies = map[string][]string{
	"technical":   {"Technical Expertise", "Problem Solving", "Innovation"},
	"behavioral":  {"Teamwork", "Communication", "Adaptability", "Leadership"},
	"situational": {"Decision Making", "Strategic Thinking", "Conflict Resolution"},
	"general":     {"Self-Awareness", "Career Vision", "Motivation"},
}

var questionOrder = []string{"technical", "behavioral", "situational", "general"}

// dummyPlan 题型按 technical/behavioral/situational/general 轮换。
func (s *Service) dummyPlan(jobTitle, seniority string, n int) []PlannedQuestion {
	out := make([]PlannedQuestion, 0, n)
	for i := 0; i < n; i++ {
		qType := questionOrder[i%len(questionOrder)]
		templates := questionTemplates[qType]
		text := templates[i%len(templates)]
		if strings.Contains(text, "%[") {
			text = fmt.Sprintf(text, jobTitle, seniority)
		}
		out = append(out, PlannedQuestion{
			Idx:          i + 1,
			Type:         qType,
			Competency:   s.pick(competencies[qType]),
			QuestionText: text,
		})
	}
	return out
}

var strongFeedback = map[string][]string{
	"technical": {
		"Your technical explanation shows good understanding. Consider adding more specific examples or metrics.",
		"Good technical depth. You could discuss trade-offs or alternative approaches you considered.",
	},
	"behavioral": {
		"Good example. Using the STAR method more explicitly could make it even stronger.",
		"Nice story. Emphasize the specific actions you took and the measurable impact.",
	},
	"situational": {
		"Thoughtful approach. Consider discussing how you'd prioritize competing demands.",
		"Good response. Strengthen it by mentioning how you'd involve stakeholders or measure success.",
	},
	"general": {
		"Good reflection. Connect your goals more explicitly to the role and company.",
		"Thoughtful response. Provide more specific examples to illustrate your points.",
	},
}

// dummyEvaluation scores by answer length: very short answers land in 10-25,
// short ones in 25-45, medium ones around 50 and long ones around 60.
func (s *Service) dummyEvaluation(answer, questionType string) Evaluation {
	words := len(strings.Fields(answer))
	chars := len(strings.TrimSpace(answer))

	var dims [4]int
	switch {
	case words < 5 || chars < 20:
		for i := range dims {
			dims[i] = s.intn(10, 25)
		}
	case words < 15:
		for i := range dims {
			dims[i] = s.intn(25, 45)
		}
	case words < 30:
		base := 50 + s.intn(-5, 5)
		for i := range dims {
			dims[i] = clamp(base+s.intn(-10, 10), 35, 70)
		}
	default:
		base := 60 + s.intn(-5, 10)
		for i := range dims {
			dims[i] = clamp(base+s.intn(-10, 15), 45, 85)
		}
	}
	overall := (dims[0] + dims[1] + dims[2] + dims[3]) / 4

	var notes string
	switch {
	case overall < 30:
		notes = "⚠️ Your answer needs significant improvement. It appears too brief or lacks substance. " +
			"Please provide more detailed responses with specific examples and explanations. " +
			"Aim for at least 50-100 words with concrete details."
	case overall < 50:
		notes = "Your answer is too short and needs more development. Try to elaborate with specific examples, " +
			"use the STAR method (Situation, Task, Action, Result) for behavioral questions, and aim for " +
			"at least 100-200 words with meaningful content."
	case overall < 70:
		notes = "Good start, but your answer could be stronger. Add more specific examples, quantifiable results, " +
			"and connect your experience more directly to the question. Consider the STAR method for structure."
	default:
		options, ok := strongFeedback[questionType]
		if !ok {
			options = strongFeedback["general"]
		}
		notes = s.pick(options)
	}

	return Evaluation{
		ScoreOverall: float64(overall),
		DimensionScores: DimensionScores{
			Relevance: float64(dims[0]),
			Clarity:   float64(dims[1]),
			Structure: float64(dims[2]),
			Impact:    float64(dims[3]),
		},
		CoachNotes: notes + dummyNote,
	}
}

func dummySummary(jobTitle, seniority string, answers []AnsweredQuestion) SessionSummary {
	overall := averageOverall(answers)
	var rel, cla, str, imp float64
	if n := float64(len(answers)); n > 0 {
		for _, a := range answers {
			rel += a.Scores.DimensionScores.Relevance
			cla += a.Scores.DimensionScores.Clarity
			str += a.Scores.DimensionScores.Structure
			imp += a.Scores.DimensionScores.Impact
		}
		rel, cla, str, imp = rel/n, cla/n, str/n, imp/n
	}

	var strengths []string
	if rel >= 75 {
		strengths = append(strengths, "Strong relevance - you consistently provided on-topic, applicable answers")
	}
	if cla >= 75 {
		strengths = append(strengths, "Excellent communication - your answers were clear and easy to follow")
	}
	if str >= 75 {
		strengths = append(strengths, "Well-structured responses - you organized your thoughts logically")
	}
	if imp >= 75 {
		strengths = append(strengths, "Impactful examples - you demonstrated meaningful results and outcomes")
	}
	if len(strengths) == 0 {
		strengths = []string{
			"You showed enthusiasm and engagement throughout the interview",
			"You provided thoughtful answers to challenging questions",
		}
	}

	var weaknesses []string
	if rel < 65 {
		weaknesses = append(weaknesses, "Answer relevance - try to stay more focused on what the question is asking")
	}
	if cla < 65 {
		weaknesses = append(weaknesses, "Communication clarity - work on expressing your thoughts more concisely")
	}
	if str < 65 {
		weaknesses = append(weaknesses, "Response structure - consider using frameworks like STAR to organize answers")
	}
	if imp < 65 {
		weaknesses = append(weaknesses, "Demonstrating impact - include more specific metrics and measurable outcomes")
	}
	if len(weaknesses) == 0 {
		weaknesses = []string{"Minor: Could provide even more specific examples in some answers"}
	}

	var plan []string
	switch {
	case overall < 70:
		plan = []string{
			"Practice the STAR method (Situation, Task, Action, Result) for behavioral questions",
			fmt.Sprintf("Research common %s interview questions and prepare answers", jobTitle),
			"Conduct 2-3 more mock interviews to build confidence",
		}
	case overall < 80:
		plan = []string{
			fmt.Sprintf("Deepen your technical knowledge in key %s areas", jobTitle),
			"Prepare more quantifiable examples of your achievements",
			"Practice articulating complex ideas more concisely",
		}
	default:
		plan = []string{
			"You're interview-ready! Focus on researching specific companies",
			"Prepare thoughtful questions to ask interviewers",
			"Continue practicing to maintain your strong performance",
		}
	}

	title := cases.Title(language.English).String(seniority)
	var roles []string
	switch {
	case overall >= 80:
		roles = append(roles, strings.TrimSpace(title+" "+jobTitle))
		if !strings.EqualFold(seniority, "senior") {
			roles = append(roles, "Senior "+jobTitle)
		}
	case overall >= 70:
		roles = append(roles, strings.TrimSpace(title+" "+jobTitle), jobTitle+" - smaller companies or startups")
	default:
		if !strings.EqualFold(seniority, "junior") {
			roles = append(roles, "Junior "+jobTitle)
		}
		roles = append(roles, "Entry-level "+jobTitle, jobTitle+" Intern or Associate roles")
	}

	return SessionSummary{
		OverallScore:   float64(overall),
		Strengths:      strengths,
		Weaknesses:     weaknesses,
		ActionPlan:     plan,
		SuggestedRoles: roles,
	}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
