package domain

import "strings"

// 规范（typed）序列的列名。顺序即输出顺序，不要随意调整。
const (
	ColType           = "Type"
	ColActive         = "Active"
	ColName           = "Name"
	ColImdbID         = "Imdb id"
	ColMovieTier      = "Movie Tier"
	ColProductionCost = "Production Cost"
	ColRank           = "Rank"
	ColPrice          = "Price"
	ColImage          = "image"
)

// 原始（per-actor）表的列名。
const (
	RawMovieName   = "movie_name"
	RawMovieImdbID = "movie_imdb_id"
	RawActorName   = "actor_name"
	RawActorImdbID = "actor_imdb_id"
	RawRank        = "rank"
)

// 导演参考表的列名。
const (
	DirMovieImdbID = "movie_imdb_id"
	DirName        = "director_name"
	DirImdbID      = "director_imdb_id"
)

// TypedHeader 是规范序列的表头（不含 image 列）。
var TypedHeader = []string{
	ColType, ColActive, ColName, ColImdbID, ColMovieTier, ColProductionCost, ColRank, ColPrice,
}

// RawHeader 是原始 per-actor 表的必需列。
var RawHeader = []string{
	RawMovieName, RawMovieImdbID, RawActorName, RawActorImdbID, RawRank,
}

// RowType 是 Type 列的取值。
type RowType string

const (
	TypeMovie    RowType = "Movie"
	TypeActor    RowType = "Actor"
	TypeDirector RowType = "Director"
)

// ActiveTrue 是 Active 列唯一会被写出的取值。
const ActiveTrue = "TRUE"

// Row 是一行记录：列名 -> 字符串值。列顺序由所在 Table 的表头决定。
//
// 约束：
// - 缺失的列等价于空串（Get 不区分“没有该列”和“值为空”）
// - 空白分隔行（所有字段为空）不是数据，任何阶段都原样透传
type Row map[string]string

// Get 返回去掉首尾空白后的列值。
func (r Row) Get(col string) string {
	return strings.TrimSpace(r[col])
}

// Type 返回行类型（Movie/Actor/Director；其它值原样返回）。
func (r Row) Type() RowType {
	return RowType(r.Get(ColType))
}

// IsBlank 判断是否为空白分隔行。
func (r Row) IsBlank() bool {
	for _, v := range r {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Clone 返回浅拷贝（值是 string，浅拷贝即足够）。
func (r Row) Clone() Row {
	out := make(Row, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// BlankRow 生成一条覆盖 header 全部列的空白分隔行。
func BlankRow(header []string) Row {
	r := make(Row, len(header))
	for _, h := range header {
		r[h] = ""
	}
	return r
}

// CloneRows 拷贝整段序列，保证阶段函数不修改调用方的输入。
func CloneRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i := range rows {
		out[i] = rows[i].Clone()
	}
	return out
}
