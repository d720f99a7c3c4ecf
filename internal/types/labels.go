package types

// Answer codes from the preference questionnaire. Budget codes are "1"-"4",
// genre codes "1"-"5"; providers and prompts translate them through these
// tables.

var budgetLabels = map[string]string{
	"1": "〜2,000円",
	"2": "〜4,000円",
	"3": "〜6,000円",
	"4": "6,000円〜",
}

var genreLabels = map[string]string{
	"1": "和食",
	"2": "洋食",
	"3": "中華",
	"4": "焼肉",
	"5": "なんでも",
}

// BudgetLabel returns the display label for a budget code, or 未定 for an
// unknown code.
func BudgetLabel(code string) string {
	if l, ok := budgetLabels[code]; ok {
		return l
	}
	return "未定"
}

// GenreLabel returns the display label for a genre code, or なんでも for an
// unknown code.
func GenreLabel(code string) string {
	if l, ok := genreLabels[code]; ok {
		return l
	}
	return "なんでも"
}
