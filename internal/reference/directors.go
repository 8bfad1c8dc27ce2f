// Package reference 负责把参考表（导演表、电影档位表）构建为只读查找结构。
// 每次运行构建一次，构建后不再修改。
package reference

import (
	"fmt"

	"github.com/John-Robertt/moviecsv/internal/domain"
	"github.com/John-Robertt/moviecsv/internal/table"
)

// Directors 是 movie_imdb_id -> 导演列表 的只读映射；列表顺序即参考表中的出现顺序。
type Directors struct {
	byMovie map[string][]domain.Director
}

// Lookup 返回某部电影的导演（调用方不得修改返回的切片）。
func (d Directors) Lookup(movieID string) ([]domain.Director, bool) {
	if d.byMovie == nil {
		return nil, false
	}
	ds, ok := d.byMovie[movieID]
	return ds, ok
}

// Movies 返回有导演记录的电影数。
func (d Directors) Movies() int { return len(d.byMovie) }

// NewDirectors 由内存映射构造（主要用于测试与组合调用）；会拷贝输入。
func NewDirectors(m map[string][]domain.Director) Directors {
	out := make(map[string][]domain.Director, len(m))
	for k, v := range m {
		out[k] = append([]domain.Director(nil), v...)
	}
	return Directors{byMovie: out}
}

// BuildDirectors 从导演参考表构建映射。
//
// - 必需列：movie_imdb_id, director_name, director_imdb_id
// - movie_imdb_id 为空，或 director_name 与 director_imdb_id 同时为空：跳过该行并记录 missing_field
func BuildDirectors(t *table.Table) (Directors, []domain.RowIssue, error) {
	if err := t.Require(domain.DirMovieImdbID, domain.DirName, domain.DirImdbID); err != nil {
		return Directors{}, nil, err
	}

	byMovie := make(map[string][]domain.Director, len(t.Rows))
	var issues []domain.RowIssue
	for i, row := range t.Rows {
		if row.IsBlank() {
			continue
		}
		movieID := row.Get(domain.DirMovieImdbID)
		name := row.Get(domain.DirName)
		id := row.Get(domain.DirImdbID)
		switch {
		case movieID == "":
			issues = append(issues, domain.RowIssue{
				Stage: domain.StageDirectors, Line: i + 1, Kind: domain.IssueMissingField,
				Key: name, Msg: "导演表缺少 movie_imdb_id，已跳过",
			})
			continue
		case name == "" && id == "":
			issues = append(issues, domain.RowIssue{
				Stage: domain.StageDirectors, Line: i + 1, Kind: domain.IssueMissingField,
				Key: movieID, Msg: "导演表缺少 director_name 与 director_imdb_id，已跳过",
			})
			continue
		}
		byMovie[movieID] = append(byMovie[movieID], domain.Director{Name: name, ImdbID: id})
	}
	return Directors{byMovie: byMovie}, issues, nil
}

// String 便于日志输出。
func (d Directors) String() string {
	n := 0
	for _, ds := range d.byMovie {
		n += len(ds)
	}
	return fmt.Sprintf("directors(movies=%d, entries=%d)", len(d.byMovie), n)
}
