package app

import (
	"fmt"
	"strconv"

	"github.com/John-Robertt/moviecsv/internal/domain"
)

// DefaultRankLimit 是 rank 过滤的默认上限（保留 rank < 16）。
const DefaultRankLimit = 16

// RankFilter 是可复用的 rank 过滤器，适用于任何带 rank 列的行集合。
type RankFilter struct {
	// Column 是 rank 所在列（原始表为 "rank"，规范序列为 "Rank"）。
	Column string
	// Limit：保留 rank < Limit 的行。
	Limit int
	// KeepUnranked 为 true 时保留 rank 为空/非数值的行（用于规范序列中的 Movie/Director/分隔行）。
	KeepUnranked bool
}

// FilterRank 保留 rank < Limit 的行；纯过滤、保序、不修改任何字段。
// rank 为空或非数值时按“比较不成立”处理（丢弃），除非 KeepUnranked。
func FilterRank(rows []domain.Row, f RankFilter) ([]domain.Row, []domain.RowIssue) {
	col := f.Column
	if col == "" {
		col = domain.RawRank
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultRankLimit
	}

	out := make([]domain.Row, 0, len(rows))
	var issues []domain.RowIssue
	for i, row := range rows {
		raw := row.Get(col)
		rank, err := strconv.ParseFloat(raw, 64)
		if raw == "" || err != nil {
			if f.KeepUnranked {
				out = append(out, row)
				continue
			}
			if !row.IsBlank() {
				issues = append(issues, domain.RowIssue{
					Stage: domain.StageFilter,
					Line:  i + 1,
					Kind:  domain.IssueParseFailure,
					Key:   rowID(row),
					Msg:   fmt.Sprintf("%s 不是数值：%q，已丢弃", col, raw),
				})
			}
			continue
		}
		if rank < float64(limit) {
			out = append(out, row)
		}
	}
	return out, issues
}

func rowID(row domain.Row) string {
	if id := row.Get(domain.RawActorImdbID); id != "" {
		return id
	}
	return row.Get(domain.ColImdbID)
}
