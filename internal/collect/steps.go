// Package collect runs the private preference questionnaire: a fixed
// sequence of numbered questions pushed to each group member over direct
// messages, with per-participant progress and exactly-once aggregation.
package collect

import "kanpai/internal/types"

// Step is one questionnaire question. Allowed holds the valid answer codes;
// anything else re-prompts the same step.
type Step struct {
	Key     string
	Prompt  string
	Allowed map[string]bool
}

// Steps is the questionnaire, in order. Answer slices in session responses
// are indexed by step position.
var Steps = []Step{
	{
		Key: "budget",
		Prompt: "こっそり教えて🤫\n\n今夜の食事の希望を聞くよ！\n\n" +
			"**予算は？**\n1️⃣ 〜2,000円\n2️⃣ 〜4,000円\n3️⃣ 〜6,000円\n4️⃣ 6,000円〜\n\n" +
			"数字で答えてね！（例：2）",
		Allowed: map[string]bool{"1": true, "2": true, "3": true, "4": true},
	},
	{
		Key: "genre",
		Prompt: "ありがとう！あとひとつ🙏\n\n" +
			"**ジャンルは？**\n1️⃣ 和食\n2️⃣ 洋食\n3️⃣ 中華\n4️⃣ 焼肉\n5️⃣ なんでも\n\n" +
			"数字で答えてね！（例：4）",
		Allowed: map[string]bool{"1": true, "2": true, "3": true, "4": true, "5": true},
	},
}

const doneMessage = "OK！ありがとう🍻 みんなの回答がそろったらグループで提案するね！"

// Aggregate is the merged outcome of one session: the most frequent answer
// per step with a first-seen tie-break, over however many responses came in.
type Aggregate struct {
	Budget   string
	Genre    string
	Answered int
	Summary  string
}

// Labels returns the display labels for the aggregated codes.
func (a Aggregate) Labels() (budget, genre string) {
	return types.BudgetLabel(a.Budget), types.GenreLabel(a.Genre)
}
