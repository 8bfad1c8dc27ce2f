package app

import (
	"fmt"

	"github.com/John-Robertt/moviecsv/internal/domain"
	"github.com/John-Robertt/moviecsv/internal/table"
)

// GroupByMovie 把原始 (movie, actor) 行按 (movie_name, movie_imdb_id) 分组。
//
// - 分组顺序：键首次出现的顺序（用下标索引做稳定映射，不重新扫描）
// - 组内顺序：输入顺序；不相邻的同一部电影合并到同一组
// - 缺失身份字段的行被跳过并记录 missing_field，不会污染分组
func GroupByMovie(t *table.Table) ([]domain.MovieGroup, []domain.RowIssue, error) {
	if err := t.Require(domain.RawHeader...); err != nil {
		return nil, nil, err
	}

	index := make(map[domain.MovieKey]int, 128)
	groups := make([]domain.MovieGroup, 0, 128)
	var issues []domain.RowIssue

	for i, row := range t.Rows {
		if row.IsBlank() {
			continue
		}
		key := domain.MovieKey{
			Name:   row.Get(domain.RawMovieName),
			ImdbID: row.Get(domain.RawMovieImdbID),
		}
		if msg := missingIdentity(row, key); msg != "" {
			issues = append(issues, domain.RowIssue{
				Stage: domain.StageReorder,
				Line:  i + 1,
				Kind:  domain.IssueMissingField,
				Key:   rowKey(key),
				Msg:   msg,
			})
			continue
		}

		if idx, ok := index[key]; ok {
			groups[idx].Actors = append(groups[idx].Actors, row)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, domain.MovieGroup{
			Key:    key,
			Actors: []domain.Row{row},
		})
	}
	return groups, issues, nil
}

// Reorder 把分组展开为规范序列：每组一条 Movie 行 + 其 Actor 行，组间插入一条空白分隔行（最后一组之后不插）。
func Reorder(groups []domain.MovieGroup) []domain.Row {
	n := 0
	for _, g := range groups {
		n += len(g.Actors) + 2
	}
	out := make([]domain.Row, 0, n)

	for gi, g := range groups {
		out = append(out, MovieRow(g.Key))
		for _, a := range g.Actors {
			out = append(out, domain.Row{
				domain.ColType:           string(domain.TypeActor),
				domain.ColActive:         domain.ActiveTrue,
				domain.ColName:           a.Get(domain.RawActorName),
				domain.ColImdbID:         a.Get(domain.RawActorImdbID),
				domain.ColMovieTier:      "",
				domain.ColProductionCost: "",
				domain.ColRank:           a.Get(domain.RawRank),
				domain.ColPrice:          "0",
			})
		}
		if gi < len(groups)-1 {
			out = append(out, domain.BlankRow(domain.TypedHeader))
		}
	}
	return out
}

// MovieRow 生成分组阶段的 Movie 行：档位先写占位值，成本/价格为 0，由定价阶段覆盖。
func MovieRow(key domain.MovieKey) domain.Row {
	return domain.Row{
		domain.ColType:           string(domain.TypeMovie),
		domain.ColActive:         domain.ActiveTrue,
		domain.ColName:           key.Name,
		domain.ColImdbID:         key.ImdbID,
		domain.ColMovieTier:      string(domain.PlaceholderTier),
		domain.ColProductionCost: "0",
		domain.ColRank:           "",
		domain.ColPrice:          "0",
	}
}

// ReorderTable 是 GroupByMovie + Reorder 的组合：原始表 => 规范表。
func ReorderTable(raw *table.Table) (*table.Table, []domain.RowIssue, error) {
	groups, issues, err := GroupByMovie(raw)
	if err != nil {
		return nil, nil, err
	}
	out := table.New(domain.TypedHeader)
	out.Rows = Reorder(groups)
	return out, issues, nil
}

func missingIdentity(row domain.Row, key domain.MovieKey) string {
	switch {
	case key.ImdbID == "":
		return "缺少 movie_imdb_id，无法归组，已跳过"
	case key.Name == "":
		return "缺少 movie_name，无法归组，已跳过"
	case row.Get(domain.RawActorName) == "" && row.Get(domain.RawActorImdbID) == "":
		return "缺少 actor_name 与 actor_imdb_id，已跳过"
	}
	return ""
}

func rowKey(k domain.MovieKey) string {
	if k.ImdbID == "" {
		return k.Name
	}
	return fmt.Sprintf("%s (%s)", k.Name, k.ImdbID)
}
