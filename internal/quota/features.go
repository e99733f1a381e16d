package quota

// 功能代码，与方案中的 PlanFeature.FeatureCode 对应。
const (
	FeatureCVGenerate       = "cv_generate"
	FeatureCVAnalyze        = "cv_analyze"
	FeatureCoverLetter      = "cover_letter_generate"
	FeatureMotivationLetter = "motivation_letter_generate"
	FeatureMockInterview    = "mock_interview"
	FeatureCareerChat       = "career_chat_messages"
	FeatureJobTracking      = "job_tracking"
)

// Feature describes a billable feature for display in the pricing pages.
type Feature struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

var catalog = []Feature{
	{Code: FeatureCVGenerate, Name: "CV Generation", Description: "Generate professional CVs with AI assistance", Icon: "file-text"},
	{Code: FeatureCVAnalyze, Name: "CV Analysis", Description: "Get detailed analysis and ATS scores for your CV", Icon: "search"},
	{Code: FeatureCoverLetter, Name: "Cover Letter Generation", Description: "Create tailored cover letters for job applications", Icon: "mail"},
	{Code: FeatureMotivationLetter, Name: "Motivation Letter", Description: "Write compelling motivation letters", Icon: "edit"},
	{Code: FeatureMockInterview, Name: "Mock Interviews", Description: "Practice with AI-powered interview simulations", Icon: "mic"},
	{Code: FeatureCareerChat, Name: "Career Coaching Chat", Description: "Get unlimited career advice from AI coach", Icon: "message-circle"},
	{Code: FeatureJobTracking, Name: "Job Application Tracking", Description: "Track your job applications in one place", Icon: "briefcase"},
}

// Catalog returns the feature catalog in display order.
func Catalog() []Feature {
	out := make([]Feature, len(catalog))
	copy(out, catalog)
	return out
}

// FeatureByCode 查找功能描述。
func FeatureByCode(code string) (Feature, bool) {
	for _, f := range catalog {
		if f.Code == code {
			return f, true
		}
	}
	return Feature{}, false
}
