package steps

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Имена агентских шагов pipeline по умолчанию.
const (
	StepNameAnalyze = "agentA"
	StepNameAudit   = "agentB"
	StepNameRewrite = "agentC"
)

// Ключи Extra, которые читают агенты.
const (
	extraScores    = "scores"
	extraDraft     = "draft"
	extraThreshold = "validation_threshold"
	extraMaxIter   = "max_iterations"
)

const (
	atRiskThreshold      = 50.0
	weakTopicThreshold   = 60.0
	defaultPassThreshold = 80
	defaultMaxIterations = 5
	maxIterationsLimit   = 20
	draftSnippetLen      = 100
)

// AnalyzeStep — агент A: анализ результатов класса.
//
// Вход (Extra):
//
//	{
//	    "scores": [
//	        {"student_id": "s1", "question_id": "q1", "topic": "fractions", "score": 4, "max_score": 10},
//	        ...
//	    ]
//	}
//
// Outputs:
//
//	{
//	    "who": "...", "action": "...",
//	    "rows": 12,
//	    "class_average": 63.5,
//	    "weakest_topics": [{"topic": "fractions", "avg": 41.2, "pct_below": 0.75}, ...],
//	    "at_risk_students": ["s1", ...],
//	    "item_tags": [{"question_id": "q1", "topic": "fractions"}, ...],
//	    "memory_updates": [{"type": "class_weakness", "value": "fractions"}]
//	}
type AnalyzeStep struct{}

// NewAnalyzeStep создаёт новый AnalyzeStep.
func NewAnalyzeStep() *AnalyzeStep {
	return &AnalyzeStep{}
}

// Name возвращает имя шага.
func (s *AnalyzeStep) Name() string {
	return StepNameAnalyze
}

// scoreRow — одна строка результатов.
type scoreRow struct {
	studentID  string
	questionID string
	topic      string
	pct        float64
}

// Execute выполняет анализ.
func (s *AnalyzeStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStepCancelled, err)
	}

	rows, err := parseScores(req.Run.Extra[extraScores])
	if err != nil {
		return nil, err
	}

	outputs := map[string]any{
		"who":              req.Run.Who,
		"action":           req.Run.Action,
		"rows":             len(rows),
		"class_average":    0.0,
		"weakest_topics":   []any{},
		"at_risk_students": []any{},
		"item_tags":        []any{},
		"memory_updates":   []any{},
	}
	if len(rows) == 0 {
		return NewResponse(outputs), nil
	}

	var total float64
	byTopic := make(map[string][]scoreRow)
	byStudent := make(map[string][]float64)
	for _, r := range rows {
		total += r.pct
		if r.topic != "" {
			byTopic[r.topic] = append(byTopic[r.topic], r)
		}
		byStudent[r.studentID] = append(byStudent[r.studentID], r.pct)
	}
	outputs["class_average"] = round2(total / float64(len(rows)))

	type topicStat struct {
		topic    string
		avg      float64
		pctBelow float64
	}
	stats := make([]topicStat, 0, len(byTopic))
	for topic, trows := range byTopic {
		var sum float64
		perStudent := make(map[string][]float64)
		for _, r := range trows {
			sum += r.pct
			perStudent[r.studentID] = append(perStudent[r.studentID], r.pct)
		}
		below := 0
		for _, vals := range perStudent {
			if mean(vals) < weakTopicThreshold {
				below++
			}
		}
		stats = append(stats, topicStat{
			topic:    topic,
			avg:      round2(sum / float64(len(trows))),
			pctBelow: round2(float64(below) / float64(len(perStudent))),
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].avg != stats[j].avg {
			return stats[i].avg < stats[j].avg
		}
		return stats[i].topic < stats[j].topic
	})

	weakest := make([]any, len(stats))
	for i, st := range stats {
		weakest[i] = map[string]any{"topic": st.topic, "avg": st.avg, "pct_below": st.pctBelow}
	}
	outputs["weakest_topics"] = weakest
	outputs["item_tags"] = itemTags(byTopic)
	if len(stats) > 0 {
		outputs["memory_updates"] = []any{
			map[string]any{"type": "class_weakness", "value": stats[0].topic},
		}
	}

	atRisk := make([]string, 0)
	for id, vals := range byStudent {
		if mean(vals) < atRiskThreshold {
			atRisk = append(atRisk, id)
		}
	}
	sort.Strings(atRisk)
	atRiskAny := make([]any, len(atRisk))
	for i, id := range atRisk {
		atRiskAny[i] = id
	}
	outputs["at_risk_students"] = atRiskAny

	return NewResponse(outputs), nil
}

// itemTags сопоставляет вопросы темам: одна пара на уникальный question_id в теме.
func itemTags(byTopic map[string][]scoreRow) []any {
	topics := make([]string, 0, len(byTopic))
	for topic := range byTopic {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	tags := make([]any, 0)
	for _, topic := range topics {
		seen := make(map[string]bool)
		for _, r := range byTopic[topic] {
			if r.questionID == "" || seen[r.questionID] {
				continue
			}
			seen[r.questionID] = true
			tags = append(tags, map[string]any{"question_id": r.questionID, "topic": topic})
		}
	}
	return tags
}

// parseScores разбирает массив результатов из Extra.
func parseScores(v any) ([]scoreRow, error) {
	if v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an array", ErrInvalidConfig, extraScores)
	}

	rows := make([]scoreRow, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] must be an object", ErrInvalidConfig, extraScores, i)
		}
		maxScore := toFloat(m["max_score"])
		if maxScore <= 0 {
			return nil, fmt.Errorf("%w: %s[%d].max_score must be positive", ErrInvalidConfig, extraScores, i)
		}
		studentID := GetExtraString(m, "student_id")
		if studentID == "" {
			return nil, fmt.Errorf("%w: %s[%d].student_id is required", ErrInvalidConfig, extraScores, i)
		}
		rows = append(rows, scoreRow{
			studentID:  studentID,
			questionID: GetExtraString(m, "question_id"),
			topic:      GetExtraString(m, "topic"),
			pct:        toFloat(m["score"]) / maxScore * 100,
		})
	}
	return rows, nil
}

// AuditStep — агент B: проверка черновика урока на покрытие стандарта.
//
// Использует outputs agentA (самая слабая тема) и Extra["draft"].
//
// Outputs:
//
//	{
//	    "weak_topic": "fractions",
//	    "coverage_score": 0.7,
//	    "covered": false,
//	    "missing_objectives": ["interpreting_coefficients"],
//	    "suggested_changes": ["Include number-line visualization"]
//	}
type AuditStep struct{}

// NewAuditStep создаёт новый AuditStep.
func NewAuditStep() *AuditStep {
	return &AuditStep{}
}

// Name возвращает имя шага.
func (s *AuditStep) Name() string {
	return StepNameAudit
}

// Execute выполняет аудит.
func (s *AuditStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStepCancelled, err)
	}

	analysis, ok := req.PreviousOutputs(StepNameAnalyze)
	if !ok {
		return nil, fmt.Errorf("%w: %s requires %s outputs", ErrInvalidConfig, StepNameAudit, StepNameAnalyze)
	}

	weakTopic := "general"
	if topics, ok := analysis["weakest_topics"].([]any); ok && len(topics) > 0 {
		if first, ok := topics[0].(map[string]any); ok {
			if t := GetExtraString(first, "topic"); t != "" {
				weakTopic = t
			}
		}
	}

	a := auditDraft(GetExtraString(req.Run.Extra, extraDraft))

	return NewResponse(map[string]any{
		"weak_topic":         weakTopic,
		"coverage_score":     a.coverage,
		"covered":            a.covered,
		"missing_objectives": a.missing,
		"suggested_changes":  a.suggestions,
	}), nil
}

type auditResult struct {
	coverage    float64
	covered     bool
	missing     []any
	suggestions []any
}

// auditDraft проверяет черновик на покрытие целей стандарта.
func auditDraft(draft string) auditResult {
	lower := strings.ToLower(draft)
	a := auditResult{coverage: 0.4, missing: []any{}, suggestions: []any{}}

	if strings.Contains(lower, "financial") || strings.Contains(lower, "money") {
		a.coverage += 0.3
	} else {
		a.missing = append(a.missing, "word_problem_contexts")
		a.suggestions = append(a.suggestions, "Add 3 word problems using financial context")
	}
	if strings.Contains(lower, "number-line") || strings.Contains(lower, "number line") {
		a.coverage += 0.2
	} else {
		a.missing = append(a.missing, "interpreting_coefficients")
		a.suggestions = append(a.suggestions, "Include number-line visualization")
	}
	a.coverage = round2(math.Min(a.coverage, 1.0))
	a.covered = a.coverage >= 0.8
	if a.covered {
		a.suggestions = []any{}
	}
	return a
}

// RewriteStep — агент C: цикл «оценка → доработка» над черновиком.
//
// Первая итерация оценивает исходный черновик по отчёту agentB. Если оценка
// ниже порога, черновик дорабатывается по замечаниям, заново проверяется
// и оценивается; цикл ограничен Extra["max_iterations"] (по умолчанию 5).
// На последней итерации доработка не выполняется: final_draft всегда
// совпадает с черновиком, получившим final_score.
//
// Outputs:
//
//	{
//	    "score": 83, "final_score": 83,
//	    "passed": true,
//	    "threshold": 80,
//	    "iterations": 2,
//	    "breakdown": {"standards": 28, "targeting": 20, ...},
//	    "history": [{"iter": 1, "score": 32, "draft_snippet": "..."}, ...],
//	    "final_draft": "..."
//	}
type RewriteStep struct{}

// NewRewriteStep создаёт новый RewriteStep.
func NewRewriteStep() *RewriteStep {
	return &RewriteStep{}
}

// Name возвращает имя шага.
func (s *RewriteStep) Name() string {
	return StepNameRewrite
}

// Execute выполняет цикл оценки и доработки.
func (s *RewriteStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStepCancelled, err)
	}

	audit, ok := req.PreviousOutputs(StepNameAudit)
	if !ok {
		return nil, fmt.Errorf("%w: %s requires %s outputs", ErrInvalidConfig, StepNameRewrite, StepNameAudit)
	}

	threshold := GetExtraInt(req.Run.Extra, extraThreshold)
	if threshold <= 0 {
		threshold = defaultPassThreshold
	}
	maxIter := GetExtraInt(req.Run.Extra, extraMaxIter)
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	if maxIter > maxIterationsLimit {
		return nil, fmt.Errorf("%w: %s: %s must not exceed %d", ErrInvalidConfig, StepNameRewrite, extraMaxIter, maxIterationsLimit)
	}

	draft := GetExtraString(req.Run.Extra, extraDraft)
	coverage := toFloat(audit["coverage_score"])
	suggestions, _ := audit["suggested_changes"].([]any)

	var (
		v       validation
		passed  bool
		history = make([]any, 0, maxIter)
	)
	for iter := 1; iter <= maxIter; iter++ {
		if iter > 1 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrStepCancelled, err)
			}
			a := auditDraft(draft)
			coverage, suggestions = a.coverage, a.suggestions
		}

		v = validationScore(coverage, draft)
		passed = v.total >= float64(threshold)
		history = append(history, map[string]any{
			"iter":          iter,
			"score":         v.score,
			"draft_snippet": snippet(draft),
		})

		if passed || iter == maxIter {
			break
		}
		draft = rewriteDraft(draft, suggestions)
	}

	return NewResponse(map[string]any{
		"score":       v.score,
		"final_score": v.score,
		"passed":      passed,
		"threshold":   threshold,
		"iterations":  len(history),
		"breakdown":   v.breakdown,
		"history":     history,
		"final_draft": draft,
	}), nil
}

// rewriteDraft дописывает к черновику раздел доработок: пример на каждое замечание.
func rewriteDraft(draft string, suggestions []any) string {
	var b strings.Builder
	b.WriteString(draft)
	b.WriteString("\n\n--- REVISED CONTENT ---\n\n")

	for _, c := range suggestions {
		sug, ok := c.(string)
		if !ok {
			continue
		}
		lower := strings.ToLower(sug)
		switch {
		case strings.Contains(lower, "financial"):
			b.WriteString(financialExample)
		case strings.Contains(lower, "number-line"):
			b.WriteString(numberLineExample)
		default:
			b.WriteString("\nAddressing: " + sug + "\n")
		}
	}
	return b.String()
}

const financialExample = `
**Word Problem Example (Financial Context):**
Sarah has $50 in her savings account. She plans to save $5 per week. How many weeks will it take her to have $100?

Solution: Let x = number of weeks
Equation: 50 + 5x = 100
Solving: 5x = 50, so x = 10 weeks

`

const numberLineExample = `
**Visualization on a Number Line:**
When solving -3x = 9, we can visualize the solution:
[---(-5)---(-4)---(-3)---(-2)---(-1)---(0)---(1)---(2)---(3)---]
The solution x = -3 is marked on the number line.

`

// snippet — первые draftSnippetLen символов черновика для истории итераций.
func snippet(draft string) string {
	r := []rune(draft)
	if len(r) > draftSnippetLen {
		r = r[:draftSnippetLen]
	}
	return string(r) + "..."
}

// validation — результат оценки черновика.
// score округлён для вывода; порог сравнивается с неокруглённым total.
type validation struct {
	score     int
	total     float64
	breakdown map[string]any
}

// validationScore считает оценку 0..100 по покрытию стандарта и тексту.
func validationScore(coverage float64, draft string) validation {
	standards := coverage * 40

	targeting := 20.0
	if len(draft) <= 100 {
		targeting = float64(len(draft)) / 100 * 20
	}

	readability := 15.0
	if !strings.Contains(draft, "\n") {
		readability -= 5
	}
	if len(draft) < 50 {
		readability -= 5
	}

	lower := strings.ToLower(draft)
	assessment := 0.0
	if strings.Contains(lower, "example") {
		assessment += 5
	}
	if strings.Contains(lower, "problem") {
		assessment += 5
	}
	if strings.Contains(lower, "practice") || strings.Contains(lower, "exercise") {
		assessment += 5
	}

	const safety = 10.0
	total := standards + targeting + readability + assessment + safety

	return validation{
		score: int(math.Min(math.Round(total), 100)),
		total: total,
		breakdown: map[string]any{
			"standards":   math.Round(standards),
			"targeting":   math.Round(targeting),
			"readability": readability,
			"assessment":  assessment,
			"safety":      safety,
		},
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
