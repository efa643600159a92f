package analysis

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"film-ai-api/internal/domain/entity"
	wfmodel "film-ai-api/internal/workflow/model"
	workflowport "film-ai-api/internal/workflow/port"
	workflowprompt "film-ai-api/internal/workflow/prompt"
	apperrors "film-ai-api/pkg/errors"
	"film-ai-api/pkg/logger"
)

type allocationLine struct {
	name    string
	percent int64
}

type allocationSection struct {
	name  string
	lines []allocationLine
}

// 各项为占总预算的百分比，全部相加为 100
var budgetAllocation = []allocationSection{
	{name: "Above the line", lines: []allocationLine{
		{"Story & rights", 3},
		{"Producers", 5},
		{"Director", 5},
		{"Cast", 7},
	}},
	{name: "Production", lines: []allocationLine{
		{"Crew", 15},
		{"Equipment", 7},
		{"Locations", 6},
		{"Sets & art", 7},
		{"Wardrobe & makeup", 5},
	}},
	{name: "Post-production", lines: []allocationLine{
		{"Editing", 5},
		{"VFX", 6},
		{"Sound & music", 4},
	}},
	{name: "Other", lines: []allocationLine{
		{"Insurance", 3},
		{"Legal", 2},
		{"Travel", 3},
		{"Catering", 2},
	}},
}

const (
	contingencyPercent int64 = 10
	bondingPercent     int64 = 5

	// maxTotalBudget 换算为分后仍远小于 2^53，金额在 float64 与分之间往返无损
	maxTotalBudget = 1e12
)

// BuildAllocation 按固定比例分配预算。
// 以分为单位计算，余数按最大余额法逐分分配，保证明细、分区、总计严格相加一致。
func BuildAllocation(total float64) (*entity.FinancialPlan, error) {
	if !(total > 0) || math.IsInf(total, 0) {
		return nil, apperrors.ErrInvalidParam.WithDetail("total budget must be positive")
	}
	if total > maxTotalBudget {
		return nil, apperrors.ErrInvalidParam.WithDetail(fmt.Sprintf("total budget must not exceed %.0f", maxTotalBudget))
	}
	cents := int64(math.Round(total * 100))
	if cents <= 0 {
		return nil, apperrors.ErrInvalidParam.WithDetail("total budget must be at least one cent")
	}

	percents := make([]int64, 0, 20)
	for _, sec := range budgetAllocation {
		for _, l := range sec.lines {
			percents = append(percents, l.percent)
		}
	}
	percents = append(percents, contingencyPercent, bondingPercent)
	shares := apportion(cents, percents)

	plan := &entity.FinancialPlan{TotalBudget: toAmount(cents)}
	idx := 0
	var sum int64
	for _, sec := range budgetAllocation {
		bs := entity.BudgetSection{Name: sec.name}
		var secCents int64
		for _, l := range sec.lines {
			bs.Items = append(bs.Items, entity.BudgetLineItem{
				Name:    l.name,
				Percent: float64(l.percent),
				Amount:  toAmount(shares[idx]),
			})
			secCents += shares[idx]
			idx++
		}
		bs.Total = toAmount(secCents)
		sum += secCents
		plan.Sections = append(plan.Sections, bs)
	}
	plan.Contingency = toAmount(shares[idx])
	plan.Bonding = toAmount(shares[idx+1])
	sum += shares[idx] + shares[idx+1]
	plan.GrandTotal = toAmount(sum)

	if err := CheckPlan(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// apportion 最大余额法：先取整，剩余的分按余数从大到小逐个补齐
func apportion(cents int64, percents []int64) []int64 {
	type rem struct {
		idx int
		r   int64
	}
	shares := make([]int64, len(percents))
	rems := make([]rem, len(percents))
	var assigned int64
	for i, p := range percents {
		shares[i] = cents * p / 100
		rems[i] = rem{idx: i, r: cents * p % 100}
		assigned += shares[i]
	}
	sort.SliceStable(rems, func(i, j int) bool { return rems[i].r > rems[j].r })
	for i := 0; assigned < cents; i++ {
		shares[rems[i%len(rems)].idx]++
		assigned++
	}
	return shares
}

// CheckPlan 以分为单位校验：分区合计等于明细之和，总计等于分区合计加不可预见费与保函
func CheckPlan(plan *entity.FinancialPlan) error {
	var sum int64
	for _, sec := range plan.Sections {
		var items int64
		for _, it := range sec.Items {
			items += toCents(it.Amount)
		}
		if items != toCents(sec.Total) {
			return apperrors.ErrInternalError.WithDetail(fmt.Sprintf("section %s total mismatch", sec.Name))
		}
		sum += items
	}
	sum += toCents(plan.Contingency) + toCents(plan.Bonding)
	if sum != toCents(plan.GrandTotal) {
		return apperrors.ErrInternalError.WithDetail("grand total mismatch")
	}
	return nil
}

func toAmount(cents int64) float64 {
	return float64(cents) / 100
}

func toCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// PlanFinancials 生成确定性分配表，并附加模型评注；评注失败不影响分配表
func (a *Analyzer) PlanFinancials(ctx context.Context, project *entity.Project, productionContext string) (*entity.FinancialPlan, error) {
	plan, err := BuildAllocation(project.TotalBudget)
	if err != nil {
		return nil, err
	}

	narrative, err := a.run(ctx, string(entity.StageFinancial), &wfmodel.StageInput{
		Prompt: workflowprompt.PromptFinancialNarrativeV1,
		Vars: map[string]any{
			"title":        project.Title,
			"total_budget": fmt.Sprintf("$%.2f", plan.TotalBudget),
			"budget_tier":  string(project.Tier()),
			"allocation":   formatAllocation(plan),
			"context":      strings.TrimSpace(productionContext),
		},
		ResponseFormat: workflowport.ResponseFormatText,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn(ctx, "financial narrative generation failed, returning allocation only", "error", err.Error())
		return plan, nil
	}
	plan.Narrative = strings.TrimSpace(narrative)
	return plan, nil
}

func formatAllocation(plan *entity.FinancialPlan) string {
	var b strings.Builder
	for _, sec := range plan.Sections {
		fmt.Fprintf(&b, "%s: $%.2f\n", sec.Name, sec.Total)
		for _, it := range sec.Items {
			fmt.Fprintf(&b, "  - %s (%.0f%%): $%.2f\n", it.Name, it.Percent, it.Amount)
		}
	}
	fmt.Fprintf(&b, "Contingency: $%.2f\n", plan.Contingency)
	fmt.Fprintf(&b, "Completion bond: $%.2f\n", plan.Bonding)
	fmt.Fprintf(&b, "Grand total: $%.2f", plan.GrandTotal)
	return b.String()
}
