package app

import (
	"fmt"
	"strconv"

	"github.com/John-Robertt/moviecsv/internal/domain"
	"github.com/John-Robertt/moviecsv/internal/reference"
)

// movieContext 是定价折叠的累加器：最近一条 Movie 行解析出的档位与成本。
// 在每条 Movie 行重置，在其后的 Actor/Director 行之间保持不变。
type movieContext struct {
	tier     domain.Tier
	cost     int64
	resolved bool
}

// ApplyPricing 对规范序列做一次左折叠，回填 Movie Tier / Production Cost / Price。
//
// - 只改这三列，其它列原样保留；不修改输入切片
// - 档位未解析时相关字段保持原值（不是错误）
// - 幂等：对自身输出再跑一次，结果不变
func ApplyPricing(rows []domain.Row, tiers reference.TierMap) ([]domain.Row, []domain.RowIssue) {
	out := make([]domain.Row, 0, len(rows))
	var issues []domain.RowIssue

	var cur movieContext
	for i, row := range rows {
		var priced domain.Row
		var issue *domain.RowIssue
		cur, priced, issue = priceRow(cur, row, tiers)
		if issue != nil {
			issue.Line = i + 1
			issues = append(issues, *issue)
		}
		out = append(out, priced)
	}
	return out, issues
}

// priceRow 是折叠的单步：(cur, row) => (cur', row')。
func priceRow(cur movieContext, row domain.Row, tiers reference.TierMap) (movieContext, domain.Row, *domain.RowIssue) {
	out := row.Clone()

	switch row.Type() {
	case domain.TypeMovie:
		id := row.Get(domain.ColImdbID)
		tier, ok := tiers.Lookup(id)
		if !ok {
			var issue *domain.RowIssue
			if id != "" {
				issue = &domain.RowIssue{
					Stage: domain.StagePricing,
					Kind:  domain.IssueUnresolvedReference,
					Key:   id,
					Msg:   "电影不在档位表中，档位/成本/价格保持原值",
				}
			}
			return movieContext{}, out, issue
		}
		cur = movieContext{tier: tier, cost: domain.ProductionCost(tier), resolved: true}
		out[domain.ColMovieTier] = string(tier)
		out[domain.ColProductionCost] = strconv.FormatInt(cur.cost, 10)
		out[domain.ColPrice] = strconv.FormatInt(domain.MoviePrice(tier), 10)
		return cur, out, nil

	case domain.TypeActor:
		raw := row.Get(domain.ColRank)
		if !cur.resolved || raw == "" {
			return cur, out, nil
		}
		rank, err := strconv.Atoi(raw)
		if err != nil {
			return cur, out, &domain.RowIssue{
				Stage: domain.StagePricing,
				Kind:  domain.IssueParseFailure,
				Key:   row.Get(domain.ColImdbID),
				Msg:   fmt.Sprintf("rank 不是整数：%q，价格保持原值", raw),
			}
		}
		out[domain.ColPrice] = strconv.FormatInt(domain.Price(cur.tier, rank), 10)
		return cur, out, nil

	case domain.TypeDirector:
		// 导演一律按该档位的最高区间计价，与行上的 rank 无关。
		if cur.resolved {
			out[domain.ColPrice] = strconv.FormatInt(domain.Price(cur.tier, 1), 10)
		}
		return cur, out, nil
	}

	return cur, out, nil
}
