package reference

import (
	"fmt"

	"github.com/John-Robertt/moviecsv/internal/domain"
	"github.com/John-Robertt/moviecsv/internal/table"
)

// 电影参考表的默认列名。
const (
	DefaultTierIDColumn   = "Imdb_Id"
	DefaultTierDescColumn = "Movie Tier (Indie/Mainstream/Blockbuster)"
)

// TierMap 是 movie_imdb_id -> Tier 的只读映射。
type TierMap struct {
	byMovie map[string]domain.Tier
}

// Lookup 返回电影档位；不存在时 ok=false（不是错误）。
func (m TierMap) Lookup(movieID string) (domain.Tier, bool) {
	if m.byMovie == nil {
		return "", false
	}
	t, ok := m.byMovie[movieID]
	return t, ok
}

// Len 返回已解析档位的电影数。
func (m TierMap) Len() int { return len(m.byMovie) }

// NewTierMap 由内存映射构造；会拷贝输入并丢弃未知档位。
func NewTierMap(m map[string]domain.Tier) TierMap {
	out := make(map[string]domain.Tier, len(m))
	for k, v := range m {
		if v.Valid() {
			out[k] = v
		}
	}
	return TierMap{byMovie: out}
}

// BuildTiers 从电影参考表构建档位映射。
//
// - idCol/descCol 为空时使用默认列名
// - 描述只认前缀（大小写不敏感），"Mainstream (Price 50,000)" => Mainstream
// - id 或描述为空：跳过（不记录问题，参考表允许稀疏）
// - 描述无法识别：跳过并记录 parse_failure
func BuildTiers(t *table.Table, idCol, descCol string) (TierMap, []domain.RowIssue, error) {
	if idCol == "" {
		idCol = DefaultTierIDColumn
	}
	if descCol == "" {
		descCol = DefaultTierDescColumn
	}
	if err := t.Require(idCol, descCol); err != nil {
		return TierMap{}, nil, err
	}

	byMovie := make(map[string]domain.Tier, len(t.Rows))
	var issues []domain.RowIssue
	for i, row := range t.Rows {
		id := row.Get(idCol)
		desc := row.Get(descCol)
		if id == "" || desc == "" {
			continue
		}
		tier, ok := domain.ParseTier(desc)
		if !ok {
			issues = append(issues, domain.RowIssue{
				Stage: domain.StagePricing, Line: i + 1, Kind: domain.IssueParseFailure,
				Key: id, Msg: fmt.Sprintf("无法识别的档位描述：%q", desc),
			})
			continue
		}
		byMovie[id] = tier
	}
	return TierMap{byMovie: byMovie}, issues, nil
}
