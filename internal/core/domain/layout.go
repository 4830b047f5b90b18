package domain

// Layout identifies how many streams the presentation layer shows at once.
type Layout string

const (
	LayoutSingle Layout = "single"
	LayoutGrid4  Layout = "grid4"
	LayoutGrid9  Layout = "grid9"
)

func (l Layout) Valid() bool {
	switch l {
	case LayoutSingle, LayoutGrid4, LayoutGrid9:
		return true
	}
	return false
}

// LayoutForCount picks the smallest layout that fits n concurrent streams.
func LayoutForCount(n int) Layout {
	switch {
	case n <= 1:
		return LayoutSingle
	case n <= 4:
		return LayoutGrid4
	default:
		return LayoutGrid9
	}
}
