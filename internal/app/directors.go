package app

import (
	"github.com/John-Robertt/moviecsv/internal/domain"
	"github.com/John-Robertt/moviecsv/internal/reference"
)

// JoinDirectors 在每条有导演记录的 Movie 行之后插入 Director 行。
//
// 纯插入：不改变、不重排任何已有行；去掉输出中的 Director 行即得到原输入。
func JoinDirectors(rows []domain.Row, dirs reference.Directors) []domain.Row {
	out := make([]domain.Row, 0, len(rows)+dirs.Movies())
	for _, row := range rows {
		out = append(out, row.Clone())
		if row.Type() != domain.TypeMovie {
			continue
		}
		ds, ok := dirs.Lookup(row.Get(domain.ColImdbID))
		if !ok {
			continue
		}
		for _, d := range ds {
			out = append(out, DirectorRow(d))
		}
	}
	return out
}

// DirectorRow 生成 Director 行：档位/成本/rank/价格都留空，价格由定价阶段填入。
func DirectorRow(d domain.Director) domain.Row {
	return domain.Row{
		domain.ColType:           string(domain.TypeDirector),
		domain.ColActive:         domain.ActiveTrue,
		domain.ColName:           d.Name,
		domain.ColImdbID:         d.ImdbID,
		domain.ColMovieTier:      "",
		domain.ColProductionCost: "",
		domain.ColRank:           "",
		domain.ColPrice:          "",
	}
}
