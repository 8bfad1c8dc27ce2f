package domain

// Director 是导演参考表中的一条记录。
type Director struct {
	Name   string
	ImdbID string
}

// MovieKey 是分组键：同名且同 id 的行属于同一部电影。
type MovieKey struct {
	Name   string
	ImdbID string
}

// MovieGroup 是分组阶段的临时结构：一部电影 + 按输入顺序排列的演员行。
type MovieGroup struct {
	Key    MovieKey
	Actors []Row
}
