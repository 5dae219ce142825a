package postgres

import (
	"fmt"
	"time"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
)

type planDat struct {
	Name                string `json:"name"`
	MaxHintsPerDay      int    `json:"max_hints"`
	MaxExecutionsPerDay int    `json:"max_exec"`
	MaxProblems         int    `json:"max_problems"`
	CanViewAll          bool   `json:"can_view_all"`
	CanRegister         bool   `json:"can_register"`
}

// planListGSI3 projects every plan onto one index partition so List needs no
// table scan. The plan set is small by construction.
const planListGSI3 = "PLAN"

// PlanRepo implements domain.PlanRepository.
type PlanRepo struct {
	table *Table
}

func NewPlanRepo(t *Table) *PlanRepo { return &PlanRepo{table: t} }

func (r *PlanRepo) Put(ctx domain.Context, p domain.Plan) error {
	dat, err := encodeDat(planDat{
		Name:                p.Name,
		MaxHintsPerDay:      p.MaxHintsPerDay,
		MaxExecutionsPerDay: p.MaxExecutionsPerDay,
		MaxProblems:         p.MaxProblems,
		CanViewAll:          p.CanViewAll,
		CanRegister:         p.CanRegister,
	})
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	g3pk := planListGSI3
	g3sk := p.ID
	it := Item{
		PK: planPK(p.ID), SK: skMeta, Tp: tpPlan, Dat: dat,
		Crt: now, Upd: now,
		GSI3PK: &g3pk, GSI3SK: &g3sk,
	}
	if err := r.table.Put(ctx, it, domain.Condition{}); err != nil {
		return fmt.Errorf("op=plans.put: %w", err)
	}
	return nil
}

func (r *PlanRepo) Get(ctx domain.Context, id string) (domain.Plan, error) {
	it, err := r.table.Get(ctx, planPK(id), skMeta)
	if err != nil {
		return domain.Plan{}, fmt.Errorf("op=plans.get: %w", err)
	}
	return planFromItem(it)
}

func (r *PlanRepo) List(ctx domain.Context) ([]domain.Plan, error) {
	items, _, err := r.table.QueryGSI(ctx, 3, planListGSI3, false, 100, "")
	if err != nil {
		return nil, fmt.Errorf("op=plans.list: %w", err)
	}
	plans := make([]domain.Plan, 0, len(items))
	for _, it := range items {
		p, err := planFromItem(it)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, nil
}

func planFromItem(it Item) (domain.Plan, error) {
	var d planDat
	if err := decodeDat(it.Dat, &d); err != nil {
		return domain.Plan{}, err
	}
	return domain.Plan{
		ID:                  it.PK[len("PLAN#"):],
		Name:                d.Name,
		MaxHintsPerDay:      d.MaxHintsPerDay,
		MaxExecutionsPerDay: d.MaxExecutionsPerDay,
		MaxProblems:         d.MaxProblems,
		CanViewAll:          d.CanViewAll,
		CanRegister:         d.CanRegister,
	}, nil
}
