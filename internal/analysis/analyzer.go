package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/stock-research-agent/internal/finance"
	"github.com/jonathan/stock-research-agent/internal/llm"
	"github.com/jonathan/stock-research-agent/internal/prompts"
	"github.com/jonathan/stock-research-agent/internal/queue"
	"github.com/jonathan/stock-research-agent/internal/schemas"
)

const (
	promptFile = "analysis.json"

	// questionCount is the fixed number of research questions per company.
	questionCount = 10

	// maxCandidates bounds how many competitors are analyzed alongside the
	// focus company.
	maxCandidates = 2
)

// MarketData resolves tickers and enriches listings with quote data.
// finance.Client is the production implementation.
type MarketData interface {
	// SearchTicker returns the listing for an exact ticker match, or nil
	// when no market recognizes the symbol.
	SearchTicker(ctx context.Context, query string) (*finance.Listing, error)
	// Quote fetches current price and recent change percentages.
	Quote(ctx context.Context, listing finance.Listing) (finance.Quote, error)
}

// ProgressCallback receives fractional progress as the pipeline advances.
// detail, when non-empty, is a longer message for the job's persistent log.
type ProgressCallback func(progress int, step, detail string)

// Analyzer runs the research pipeline. Both collaborators are injected at
// construction; the Analyzer holds no global state.
type Analyzer struct {
	llm    llm.Client
	market MarketData
}

// New creates an Analyzer.
func New(client llm.Client, market MarketData) *Analyzer {
	return &Analyzer{llm: client, market: market}
}

var _ queue.Executor = (*Analyzer)(nil)

// Execute implements queue.Executor: it runs the full pipeline for a job
// and returns the marshalled result document.
func (a *Analyzer) Execute(ctx context.Context, job *queue.Job, report queue.ProgressFunc) (json.RawMessage, error) {
	state, err := a.Run(ctx, job.Query, Language(job.Language), func(progress int, step, detail string) {
		report(progress, step, detail)
	})
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode analysis result: %w", err)
	}
	return payload, nil
}

// companyResult bundles the per-company research outputs.
type companyResult struct {
	questions       []string
	qna             []QnAResult
	conclusion      *InvestmentConclusion
	finalConclusion *FinalConclusion
}

// Run executes the full pipeline for one query: resolve companies, enrich
// with market data, research each company, and assemble the result. Any
// error here fails the whole job; partial research is not preserved.
func (a *Analyzer) Run(ctx context.Context, query string, lang Language, onProgress ProgressCallback) (*AnalysisState, error) {
	if !lang.Valid() {
		lang = LanguageEnglish
	}
	emit := func(progress int, step, detail string) {
		if detail == "" {
			detail = step
		}
		log.Printf("[%d%%] %s: %s", progress, step, detail)
		if onProgress != nil {
			onProgress(progress, step, detail)
		}
	}

	emit(5, "Starting Analysis", "Query: "+query)

	listings, err := a.discoverCompanies(ctx, query, lang, emit)
	if err != nil {
		return nil, err
	}
	if len(listings) == 0 {
		return nil, fmt.Errorf("could not identify any companies for the given query")
	}

	profiles := a.enrichProfiles(ctx, listings, emit)

	focus := profiles[0]
	candidates := profiles[1:]

	emit(55, "Analyzing Focus Company", fmt.Sprintf("%s (%s)", focus.Name, focus.Ticker))
	focusResult, err := a.analyzeCompany(ctx, focus, lang, func(progress int, step, detail string) {
		// Map company-level progress onto the 55-75% band.
		emit(55+progress*20/100, "Focus Company: "+step, detail)
	})
	if err != nil {
		return nil, err
	}
	emit(75, "Focus Company Analysis Complete", focus.Name)

	candidateAnalyses := make([]CompanyAnalysis, 0, len(candidates))
	for i, profile := range candidates {
		base := 75 + i*5
		emit(base, "Analyzing Candidate Company", fmt.Sprintf("%s (%s)", profile.Name, profile.Ticker))
		result, err := a.analyzeCompany(ctx, profile, lang, func(progress int, step, detail string) {
			emit(base+progress*5/100, fmt.Sprintf("Candidate %d: %s", i+1, step), detail)
		})
		if err != nil {
			return nil, err
		}
		candidateAnalyses = append(candidateAnalyses, newCompanyAnalysis(profile, result))
	}
	emit(95, "All Companies Analyzed", fmt.Sprintf("Completed analysis for %d companies", len(profiles)))

	focusAnalysis := newCompanyAnalysis(focus, focusResult)
	state := &AnalysisState{
		ID:                 strconv.FormatInt(time.Now().UnixMilli(), 10),
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
		Status:             "complete",
		Language:           lang,
		Query:              query,
		FocusCompany:       &focusAnalysis,
		CandidateCompanies: candidateAnalyses,
		CurrentStage:       "Analysis Complete",
		CurrentProgress:    100,
	}

	emit(100, "Analysis Complete", "Finalizing report")
	return state, nil
}

// discoverCompanies resolves the query to a focus company plus candidate
// competitors, via exact ticker match when possible and concept search
// otherwise. Failure here is fatal to the job.
func (a *Analyzer) discoverCompanies(ctx context.Context, query string, lang Language, emit ProgressCallback) ([]finance.Listing, error) {
	emit(10, "Searching for Companies", "Looking up ticker: "+query)

	exact, err := a.market.SearchTicker(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ticker lookup failed: %w", err)
	}

	if exact != nil {
		emit(15, "Finding Competitors", fmt.Sprintf("Found exact match: %s (%s)", exact.Name, exact.Ticker))
		competitors, err := a.findCompetitors(ctx, *exact, lang)
		if err != nil {
			return nil, err
		}
		emit(20, "Competitors Found", fmt.Sprintf("Found %d competitors", len(competitors)))
		return append([]finance.Listing{*exact}, competitors...), nil
	}

	emit(15, "Searching by Concept", "No exact match found, searching by concept")
	listings, err := a.findCompaniesByConcept(ctx, query, lang)
	if err != nil {
		return nil, err
	}
	emit(20, "Companies Found", fmt.Sprintf("Found %d companies", len(listings)))
	return listings, nil
}

// enrichProfiles attaches quote data to every listing concurrently. A failed
// quote degrades to default financial fields rather than failing the job.
func (a *Analyzer) enrichProfiles(ctx context.Context, listings []finance.Listing, emit ProgressCallback) []CompanyProfile {
	emit(25, "Fetching Financial Data", fmt.Sprintf("Enriching %d company profiles", len(listings)))

	profiles := make([]CompanyProfile, len(listings))
	g, gctx := errgroup.WithContext(ctx)
	for i, listing := range listings {
		g.Go(func() error {
			emit(25, "Fetching Financial Data", fmt.Sprintf("%s (%s)", listing.Name, listing.Ticker))
			quote, err := a.market.Quote(gctx, listing)
			if err != nil {
				log.Printf("Analysis: quote for %s failed, using defaults: %v", listing.Ticker, err)
				quote = finance.DefaultQuote()
			}
			profiles[i] = CompanyProfile{
				Name:         listing.Name,
				Ticker:       listing.Ticker,
				Exchange:     listing.Exchange,
				CurrentPrice: quote.CurrentPrice,
				WeekChange:   quote.WeekChange,
				MonthChange:  quote.MonthChange,
			}
			return nil
		})
	}
	_ = g.Wait() // enrichment never fails the pipeline

	emit(50, "Financial Data Loaded", "All company profiles enriched")
	return profiles
}

// analyzeCompany runs the question/answer/synthesis sequence for one
// company, reporting progress on a local 0-100 scale.
func (a *Analyzer) analyzeCompany(ctx context.Context, profile CompanyProfile, lang Language, emit ProgressCallback) (*companyResult, error) {
	emit(5, "Deconstructing narrative...", fmt.Sprintf("Analyzing %s investment thesis", profile.Name))

	questions, err := a.generateQuestions(ctx, profile.Name, lang)
	if err != nil {
		return nil, err
	}
	emit(10, "Questions Generated", fmt.Sprintf("Created %d research questions", len(questions)))

	qna := make([]QnAResult, 0, len(questions))
	for i, question := range questions {
		progress := 10 + i*60/len(questions)
		emit(progress, fmt.Sprintf("Answering Question %d/%d", i+1, len(questions)), truncate(question, 60))

		result, err := a.answerQuestion(ctx, question, profile.Name, lang)
		if err != nil {
			return nil, err
		}
		qna = append(qna, result)
		emit(progress+60/len(questions), fmt.Sprintf("Question %d Answered", i+1),
			fmt.Sprintf("Found %d sources", len(result.Sources)))
	}

	emit(75, "Synthesizing final report...", "Analyzing Q&A results and generating investment thesis")
	conclusion, err := a.synthesizeThesis(ctx, profile.Name, qna, lang)
	if err != nil {
		return nil, err
	}
	emit(85, "Conclusion Synthesized", "Investment thesis generated")

	emit(90, "Generating Final Conclusion", "Creating executive summary")
	finalConclusion, err := a.generateFinalConclusion(ctx, profile.Name, qna, lang)
	if err != nil {
		return nil, err
	}
	emit(100, "Analysis Complete", profile.Name+" analysis finished")

	return &companyResult{
		questions:       questions,
		qna:             qna,
		conclusion:      conclusion,
		finalConclusion: finalConclusion,
	}, nil
}

// findCompetitors asks the LLM for up to two publicly traded competitors of
// an exactly matched company.
func (a *Analyzer) findCompetitors(ctx context.Context, focus finance.Listing, lang Language) ([]finance.Listing, error) {
	prompt := prompts.Format(prompts.MustGet(promptFile, "find-competitors"), map[string]string{
		"Company":  focus.Name,
		"Ticker":   focus.Ticker,
		"Language": lang.outputLanguage(),
	})

	raw, err := a.generateValidatedJSON(ctx, prompt, llm.TierLite, schemas.Competitors)
	if err != nil {
		return nil, fmt.Errorf("competitor search failed: %w", err)
	}

	var parsed struct {
		Competitors []finance.Listing `json:"competitors"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse competitor response: %w", err)
	}

	if len(parsed.Competitors) > maxCandidates {
		parsed.Competitors = parsed.Competitors[:maxCandidates]
	}
	return parsed.Competitors, nil
}

// findCompaniesByConcept resolves a free-text query to a focus company plus
// up to two candidates when no ticker matched.
func (a *Analyzer) findCompaniesByConcept(ctx context.Context, query string, lang Language) ([]finance.Listing, error) {
	prompt := prompts.Format(prompts.MustGet(promptFile, "concept-search"), map[string]string{
		"Query":    query,
		"Language": lang.outputLanguage(),
	})

	raw, err := a.generateValidatedJSON(ctx, prompt, llm.TierLite, schemas.ConceptSearch)
	if err != nil {
		return nil, fmt.Errorf("concept search failed: %w", err)
	}

	var parsed struct {
		FocusCompany       finance.Listing   `json:"focusCompany"`
		CandidateCompanies []finance.Listing `json:"candidateCompanies"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse concept search response: %w", err)
	}

	if len(parsed.CandidateCompanies) > maxCandidates {
		parsed.CandidateCompanies = parsed.CandidateCompanies[:maxCandidates]
	}
	return append([]finance.Listing{parsed.FocusCompany}, parsed.CandidateCompanies...), nil
}

func (a *Analyzer) generateQuestions(ctx context.Context, companyName string, lang Language) ([]string, error) {
	prompt := prompts.Format(prompts.MustGet(promptFile, "research-questions"), map[string]string{
		"Company":  companyName,
		"Language": lang.outputLanguage(),
	})

	raw, err := a.generateValidatedJSON(ctx, prompt, llm.TierLite, schemas.ResearchQuestions)
	if err != nil {
		return nil, fmt.Errorf("question generation failed: %w", err)
	}

	var parsed struct {
		Questions []string `json:"questions"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse questions response: %w", err)
	}

	if len(parsed.Questions) > questionCount {
		parsed.Questions = parsed.Questions[:questionCount]
	}
	return parsed.Questions, nil
}

// answerQuestion produces a grounded answer with cited sources.
func (a *Analyzer) answerQuestion(ctx context.Context, question, companyName string, lang Language) (QnAResult, error) {
	prompt := prompts.Format(prompts.MustGet(promptFile, "answer-question"), map[string]string{
		"Company":  companyName,
		"Question": question,
		"Language": lang.outputLanguage(),
	})

	answer, sources, err := a.llm.GenerateGrounded(ctx, prompt, llm.TierStandard)
	if err != nil {
		return QnAResult{}, fmt.Errorf("failed to answer question %q: %w", truncate(question, 40), err)
	}
	return QnAResult{Question: question, Answer: answer, Sources: sources}, nil
}

func (a *Analyzer) synthesizeThesis(ctx context.Context, companyName string, qna []QnAResult, lang Language) (*InvestmentConclusion, error) {
	qnaJSON, err := marshalQnA(qna, "q", "a")
	if err != nil {
		return nil, err
	}

	prompt := prompts.Format(prompts.MustGet(promptFile, "investment-thesis"), map[string]string{
		"Company":  companyName,
		"Language": lang.outputLanguage(),
		"QnA":      qnaJSON,
	})

	raw, err := a.generateValidatedJSON(ctx, prompt, llm.TierAdvanced, schemas.InvestmentThesis)
	if err != nil {
		return nil, fmt.Errorf("thesis synthesis failed: %w", err)
	}

	var conclusion InvestmentConclusion
	if err := json.Unmarshal(raw, &conclusion); err != nil {
		return nil, fmt.Errorf("failed to parse thesis response: %w", err)
	}
	return &conclusion, nil
}

func (a *Analyzer) generateFinalConclusion(ctx context.Context, companyName string, qna []QnAResult, lang Language) (*FinalConclusion, error) {
	qnaJSON, err := marshalQnA(qna, "question", "answer")
	if err != nil {
		return nil, err
	}

	prompt := prompts.Format(prompts.MustGet(promptFile, "final-conclusion"), map[string]string{
		"Company":  companyName,
		"Language": lang.outputLanguage(),
		"QnA":      qnaJSON,
	})

	raw, err := a.generateValidatedJSON(ctx, prompt, llm.TierAdvanced, schemas.FinalConclusion)
	if err != nil {
		return nil, fmt.Errorf("final conclusion failed: %w", err)
	}

	var conclusion FinalConclusion
	if err := json.Unmarshal(raw, &conclusion); err != nil {
		return nil, fmt.Errorf("failed to parse final conclusion response: %w", err)
	}
	return &conclusion, nil
}

// generateValidatedJSON runs a JSON-mode generation and checks the response
// against the named schema before handing it back.
func (a *Analyzer) generateValidatedJSON(ctx context.Context, prompt string, tier llm.ModelTier, schema string) (json.RawMessage, error) {
	text, err := a.llm.GenerateJSON(ctx, prompt, tier)
	if err != nil {
		return nil, err
	}

	raw := json.RawMessage(text)
	if err := schemas.Validate(schema, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func newCompanyAnalysis(profile CompanyProfile, result *companyResult) CompanyAnalysis {
	return CompanyAnalysis{
		ID:                profile.Ticker,
		Profile:           profile,
		Status:            "complete",
		Questions:         result.questions,
		QnA:               result.qna,
		Conclusion:        result.conclusion,
		FinalConclusion:   result.finalConclusion,
		FollowUpQuestions: []string{},
	}
}

// marshalQnA flattens Q&A pairs into the compact JSON embedded in prompts.
func marshalQnA(qna []QnAResult, questionKey, answerKey string) (string, error) {
	pairs := make([]map[string]string, 0, len(qna))
	for _, item := range qna {
		pairs = append(pairs, map[string]string{
			questionKey: item.Question,
			answerKey:   item.Answer,
		})
	}
	data, err := json.Marshal(pairs)
	if err != nil {
		return "", fmt.Errorf("failed to encode Q&A context: %w", err)
	}
	return string(data), nil
}

// truncate shortens s to at most n runes. Questions may be Chinese, so
// cutting on byte offsets could split a rune.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
