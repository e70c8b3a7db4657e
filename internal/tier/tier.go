// Package tier holds the canonical tier table and the pure functions that map
// a point total onto it.
package tier

type Name string

const (
	Bronze   Name = "Bronze"
	Silver   Name = "Silver"
	Gold     Name = "Gold"
	Platinum Name = "Platinum"
	Diamond  Name = "Diamond"
)

// Unbounded marks the open upper bound of the top tier.
const Unbounded int64 = -1

// DiamondWindow is the span the top tier's progress bar is drawn against.
const DiamondWindow int64 = 5000

type Definition struct {
	Name      Name   `json:"name"`
	MinPoints int64  `json:"min_points"`
	MaxPoints int64  `json:"max_points"`
	Color     string `json:"color"`
	Icon      string `json:"icon"`
}

var table = []Definition{
	{Name: Bronze, MinPoints: 0, MaxPoints: 99, Color: "#CD7F32", Icon: "bronze-medal"},
	{Name: Silver, MinPoints: 100, MaxPoints: 499, Color: "#C0C0C0", Icon: "silver-medal"},
	{Name: Gold, MinPoints: 500, MaxPoints: 1499, Color: "#FFD700", Icon: "gold-medal"},
	{Name: Platinum, MinPoints: 1500, MaxPoints: 4999, Color: "#E5E4E2", Icon: "gem"},
	{Name: Diamond, MinPoints: 5000, MaxPoints: Unbounded, Color: "#B9F2FF", Icon: "diamond"},
}

// All returns a copy of the tier table, lowest tier first.
func All() []Definition {
	out := make([]Definition, len(table))
	copy(out, table)
	return out
}

// Lookup returns the definition for name.
func Lookup(name Name) (Definition, bool) {
	for _, d := range table {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}

// Valid reports whether name is one of the five tiers.
func Valid(name Name) bool {
	_, ok := Lookup(name)
	return ok
}

// Rank returns the 0-based position of name in the table, or -1 if unknown.
func Rank(name Name) int {
	for i, d := range table {
		if d.Name == name {
			return i
		}
	}
	return -1
}

// For returns the tier holding points. Negative totals are treated as 0.
func For(points int64) Name {
	return definitionFor(points).Name
}

func definitionFor(points int64) Definition {
	if points < 0 {
		points = 0
	}
	for i := len(table) - 1; i >= 0; i-- {
		if points >= table[i].MinPoints {
			return table[i]
		}
	}
	return table[0]
}

// UpTo returns the names of every tier ranked at or below name.
func UpTo(name Name) []Name {
	r := Rank(name)
	if r < 0 {
		return nil
	}
	out := make([]Name, 0, r+1)
	for _, d := range table[:r+1] {
		out = append(out, d.Name)
	}
	return out
}

type Progress struct {
	Tier         Name   `json:"tier"`
	Points       int64  `json:"points"`
	Percent      int    `json:"percent"`
	PointsToNext int64  `json:"points_to_next"`
	NextTier     Name   `json:"next_tier,omitempty"`
	Color        string `json:"color"`
	Icon         string `json:"icon"`
}

// ProgressFor reports how far points have travelled through their tier. The
// top tier has no next tier and is measured against DiamondWindow.
func ProgressFor(points int64) Progress {
	if points < 0 {
		points = 0
	}
	d := definitionFor(points)
	p := Progress{Tier: d.Name, Points: points, Color: d.Color, Icon: d.Icon}

	if d.MaxPoints == Unbounded {
		pct := (points - d.MinPoints) * 100 / DiamondWindow
		if pct > 100 {
			pct = 100
		}
		p.Percent = int(pct)
		return p
	}

	p.Percent = int((points - d.MinPoints) * 100 / (d.MaxPoints - d.MinPoints + 1))
	next := table[Rank(d.Name)+1]
	p.NextTier = next.Name
	p.PointsToNext = next.MinPoints - points
	return p
}
