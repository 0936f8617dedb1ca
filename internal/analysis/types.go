// Package analysis implements the multi-stage research pipeline that turns
// one ticker or free-text query into a full investment report.
package analysis

import (
	"github.com/jonathan/stock-research-agent/internal/llm"
)

// Language selects the report output language.
type Language string

// Supported report languages.
const (
	LanguageEnglish Language = "en"
	LanguageChinese Language = "cn"
)

// outputLanguage is the phrasing used inside prompts.
func (l Language) outputLanguage() string {
	if l == LanguageChinese {
		return "Simplified Chinese"
	}
	return "English"
}

// Valid reports whether l is a supported language.
func (l Language) Valid() bool {
	return l == LanguageEnglish || l == LanguageChinese
}

// CompanyProfile is a resolved company enriched with market data.
type CompanyProfile struct {
	Name         string `json:"name"`
	Ticker       string `json:"ticker"`
	Exchange     string `json:"exchange"`
	CurrentPrice string `json:"currentPrice"`
	WeekChange   string `json:"weekChange"`
	MonthChange  string `json:"monthChange"`
}

// QnAResult is one answered research question with its cited sources.
type QnAResult struct {
	Question string       `json:"question"`
	Answer   string       `json:"answer"`
	Sources  []llm.Source `json:"sources"`
}

// ConclusionSection is one section of the investment thesis.
type ConclusionSection struct {
	Summary  string   `json:"summary"`
	Evidence []string `json:"evidence"`
}

// InvestmentConclusion is the five-section structured thesis.
type InvestmentConclusion struct {
	UpstreamSupplyChain ConclusionSection `json:"UpstreamSupplyChain"`
	MarketPosition      ConclusionSection `json:"MarketPosition"`
	BusinessModel       ConclusionSection `json:"BusinessModel"`
	Financials          ConclusionSection `json:"Financials"`
	OutlookRisks        ConclusionSection `json:"OutlookRisks"`
}

// FinalConclusionPoint is one decisive argument with supporting evidence.
type FinalConclusionPoint struct {
	Argument string   `json:"argument"`
	Evidence []string `json:"evidence"`
}

// FinalConclusion is the executive summary of the analysis.
type FinalConclusion struct {
	OverallConclusion string                 `json:"overall_conclusion"`
	BulletPoints      []FinalConclusionPoint `json:"bullet_points"`
}

// CompanyAnalysis is the full research output for one company.
type CompanyAnalysis struct {
	ID                string                `json:"id"`
	Profile           CompanyProfile        `json:"profile"`
	Status            string                `json:"status"`
	Questions         []string              `json:"questions"`
	QnA               []QnAResult           `json:"qna"`
	Conclusion        *InvestmentConclusion `json:"conclusion"`
	FinalConclusion   *FinalConclusion      `json:"finalConclusion"`
	FollowUpQuestions []string              `json:"followUpQuestions"`
}

// AnalysisState is the complete result document for one job: the focus
// company plus up to two candidate competitors.
type AnalysisState struct {
	ID                 string            `json:"id"`
	Timestamp          string            `json:"timestamp"`
	Status             string            `json:"status"`
	Language           Language          `json:"language"`
	Query              string            `json:"query"`
	FocusCompany       *CompanyAnalysis  `json:"focusCompany"`
	CandidateCompanies []CompanyAnalysis `json:"candidateCompanies"`
	Error              *string           `json:"error"`
	CurrentStage       string            `json:"currentStage"`
	CurrentProgress    int               `json:"currentProgress"`
}
