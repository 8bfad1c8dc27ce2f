package domain

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Tier 是电影的预算档位。零值表示“未解析”。
type Tier string

const (
	TierIndie       Tier = "Indie"
	TierMainstream  Tier = "Mainstream"
	TierBlockbuster Tier = "Blockbuster"
)

// Tiers 按预算从低到高列出所有已知档位。
var Tiers = []Tier{TierIndie, TierMainstream, TierBlockbuster}

// PlaceholderTier 是分组阶段写入 Movie 行的占位档位，随后由定价阶段覆盖。
const PlaceholderTier = TierMainstream

// 描述文本形如 "Mainstream (Price 50,000)"：只认前缀，后续文字忽略。
var tierPrefixRE = regexp.MustCompile(`(?i)^(mainstream|indie|blockbuster)`)

// ParseTier 从自由文本描述中识别档位（大小写不敏感），并规范为 Indie/Mainstream/Blockbuster。
// 无法识别时返回 ("", false)。
func ParseTier(desc string) (Tier, bool) {
	m := tierPrefixRE.FindStringSubmatch(strings.TrimSpace(desc))
	if m == nil {
		return "", false
	}
	return Tier(cases.Title(language.Und).String(strings.ToLower(m[1]))), true
}

// Valid 判断是否为已知档位。
func (t Tier) Valid() bool {
	switch t {
	case TierIndie, TierMainstream, TierBlockbuster:
		return true
	}
	return false
}

// ProductionCost 返回档位对应的制作成本；未知档位为 0。
func ProductionCost(t Tier) int64 {
	switch t {
	case TierIndie:
		return 5_000_000
	case TierMainstream:
		return 50_000_000
	case TierBlockbuster:
		return 150_000_000
	}
	return 0
}

// MoviePrice 返回档位对应的电影售价；未知档位为 0。
func MoviePrice(t Tier) int64 {
	switch t {
	case TierIndie:
		return 25_000
	case TierMainstream:
		return 50_000
	case TierBlockbuster:
		return 100_000
	}
	return 0
}

// 每档三个 rank 区间（1–5 / 6–10 / 11–15）的固定价格。
var priceTable = map[Tier][3]int64{
	TierIndie:       {5000, 2500, 1000},
	TierMainstream:  {15000, 10000, 5000},
	TierBlockbuster: {25000, 15000, 5000},
}

// MaxPricedRank 是仍有价格的最大 rank。
const MaxPricedRank = 15

// Price 是 (tier, rank) 的全函数：rank 不在 [1,15] 或档位未知时返回 0。
func Price(t Tier, rank int) int64 {
	row, ok := priceTable[t]
	if !ok || rank < 1 || rank > MaxPricedRank {
		return 0
	}
	return row[(rank-1)/5]
}
