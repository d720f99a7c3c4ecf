package signal

import "regexp"

// Category is one of the four independent signal categories scored by the
// extractor.
type Category int

const (
	CategoryTemporal Category = iota
	CategoryLocation
	CategoryTimeOfDay
	CategoryFood
)

func (c Category) String() string {
	switch c {
	case CategoryTemporal:
		return "temporal"
	case CategoryLocation:
		return "location"
	case CategoryTimeOfDay:
		return "time_of_day"
	case CategoryFood:
		return "food"
	}
	return "unknown"
}

// Pattern is one entry in the declarative signal table. Within a category,
// table order is the priority order: the first pattern that fires wins and
// its literal match becomes the extracted field. Keep the order stable;
// tests pin it.
type Pattern struct {
	Category Category
	Name     string
	re       *regexp.Regexp
}

// DefaultPatterns is the built-in signal table. Each category contributes
// at most one match per evaluation.
var DefaultPatterns = []Pattern{
	// Temporal references: relative days first, then weekdays, then dates.
	{CategoryTemporal, "tonight", regexp.MustCompile(`今夜|今晩`)},
	{CategoryTemporal, "today", regexp.MustCompile(`今日`)},
	{CategoryTemporal, "tomorrow", regexp.MustCompile(`明日|あした`)},
	{CategoryTemporal, "day_after", regexp.MustCompile(`明後日`)},
	{CategoryTemporal, "weekend", regexp.MustCompile(`今週末|週末|来週`)},
	{CategoryTemporal, "weekday", regexp.MustCompile(`[月火水木金土日]曜日?`)},
	{CategoryTemporal, "date", regexp.MustCompile(`\d{1,2}月\d{1,2}日`)},

	// Location references: the area gazetteer first, then station phrasing.
	{CategoryLocation, "gazetteer", regexp.MustCompile(
		`渋谷|新宿|六本木|銀座|池袋|品川|秋葉原|恵比寿|中目黒|表参道|赤坂|虎ノ門|浜松町|神田|上野|浅草|` +
			`梅田|難波|心斎橋|天王寺|神戸|京都|名古屋|博多|天神|札幌|仙台|広島|横浜|川崎|大宮|吉祥寺|下北沢|自由が丘`)},
	{CategoryLocation, "near_station", regexp.MustCompile(`駅近|駅前|駅周辺|駅の近く`)},

	// Time-of-day: explicit clock times first, then meal periods.
	{CategoryTimeOfDay, "clock_colon", regexp.MustCompile(`\d{1,2}:\d{2}`)},
	{CategoryTimeOfDay, "clock_kanji", regexp.MustCompile(`\d{1,2}時半?`)},
	{CategoryTimeOfDay, "lunch", regexp.MustCompile(`ランチ|お昼|昼飯|昼ごはん`)},
	{CategoryTimeOfDay, "dinner", regexp.MustCompile(`ディナー|夕飯|晩ごはん|晩飯|夕方`)},
	{CategoryTimeOfDay, "evening", regexp.MustCompile(`夜に|夜から|仕事終わり|仕事帰り`)},

	// Food/activity vocabulary: cuisines, dishes, drinking terms, cravings.
	{CategoryFood, "cuisine", regexp.MustCompile(
		`焼肉|焼き肉|寿司|鮨|ラーメン|つけ麺|居酒屋|イタリアン|フレンチ|中華|和食|洋食|韓国料理|エスニック|タイ料理`)},
	{CategoryFood, "dish", regexp.MustCompile(
		`カレー|鍋|もつ鍋|しゃぶしゃぶ|餃子|ピザ|パスタ|蕎麦|そば|うどん|天ぷら|串カツ|焼き鳥|焼鳥|ホルモン|刺身|海鮮`)},
	{CategoryFood, "drink", regexp.MustCompile(`ビール|ハイボール|日本酒|ワイン|レモンサワー|乾杯|飲み会|飲みに行|飲みたい`)},
	{CategoryFood, "craving", regexp.MustCompile(`食べたい|食いたい|腹減った|お腹すいた|お腹空いた|腹ペコ`)},
	{CategoryFood, "meal", regexp.MustCompile(`ご飯|ごはん|メシ|飯`)},
}

// pastTense vetoes approach: completion phrasing means the group is
// reminiscing, not planning. 食べた must not swallow 食べたい, so the
// eat/drink/go entries require a non-い continuation or end of text.
var pastTense = []*regexp.Regexp{
	regexp.MustCompile(`食べた(?:[^い]|$)`),
	regexp.MustCompile(`食った(?:[^い]|$)`),
	regexp.MustCompile(`飲んだ`),
	regexp.MustCompile(`行った`),
	regexp.MustCompile(`食べました|飲みました|行きました`),
	regexp.MustCompile(`美味しかった|おいしかった|うまかった|楽しかった|よかった|良かった`),
	regexp.MustCompile(`でした`),
	regexp.MustCompile(`だったね|だったよ`),
}

// stalemateRe matches the "anything is fine" deflections that signal a
// stuck decision.
var stalemateRe = regexp.MustCompile(`どっちでもいい|なんでもいい|どこでもいい|どれでもいい|わからん|任せる|まかせる|おまかせ`)
