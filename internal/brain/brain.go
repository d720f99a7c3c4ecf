package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"kanpai/internal/types"
)

// personaPrompt is the system instruction shared by every generation kind.
const personaPrompt = `あなたは「Kanpai」というLINEグループの幹事AIです。

【性格】
- 明るくて気が利く、でも出しゃばりすぎない
- 理由を添えた提案をする（なぜこれを勧めるか）
- 絵文字を自然に使う（使いすぎない）
- タメ口で話す

【制約】
- 返答は必ず日本語
- LINEグループなので短く読みやすく（長文NG）
- メンバーのプライバシーに配慮する
- 押しつけない、最後は人間が決める

【役割】
- グループの食事決定を助ける
- 食事の被りを防ぐ提案をする
- 投票を整理する
- 空気を読んで自然に会話に入る`

// Canned replies used when generation fails. Callers always get usable
// Japanese text from the fallback-bearing methods.
const (
	fallbackSuggestion = "ちょっと考え中...🍻 もう一回「@Kanpai おすすめ教えて」って言ってみて！"
	fallbackReply      = "ちょっと考えてる🤔 もう一回言って！"
	fallbackCollection = "条件に合うお店を探してるよ🔍 もう少し待って！"
)

// InterventionKind selects the unprompted-speech prompt.
type InterventionKind string

const (
	InterventionSilence   InterventionKind = "silence"
	InterventionStalemate InterventionKind = "stalemate"
)

// FoodInfo is the structured result of food extraction. Context is one of
// 食べた / 食べたい / 提案 as reported by the model.
type FoodInfo struct {
	Found    bool     `json:"found"`
	Items    []string `json:"items"`
	Category string   `json:"category"`
	Context  string   `json:"context"`
}

// CollectionInput carries the aggregated preferences for the post-collection
// suggestion prompt.
type CollectionInput struct {
	BudgetLabel string
	GenreLabel  string
	Area        string
	Answered    int
}

// Brain wraps a completion client with per-kind prompt construction and
// fallbacks. All methods bound their own timeout when the caller's context
// has no deadline.
type Brain struct {
	client  Client
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a Brain over the given client.
func New(client Client, timeout time.Duration, logger *zap.Logger) *Brain {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Brain{client: client, timeout: timeout, logger: logger}
}

func (b *Brain) boundCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, has := ctx.Deadline(); has {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.timeout)
}

// ExtractFood asks the model whether the text mentions food or drink and
// returns the structured extraction. Failures degrade to Found=false.
func (b *Brain) ExtractFood(ctx context.Context, text string) FoodInfo {
	ctx, cancel := b.boundCtx(ctx)
	defer cancel()

	prompt := fmt.Sprintf(`以下のテキストから食べ物・飲み物の情報を抽出してください。

テキスト:「%s」

以下のJSON形式で返してください（食べ物がない場合はfound: false）:
{
  "found": true/false,
  "items": ["ラーメン", "餃子"],
  "category": "ラーメン/寿司/焼肉/イタリアン/中華/その他",
  "context": "食べた/食べたい/提案"
}`, text)

	raw, err := b.client.CompleteWithSystem(ctx,
		"あなたは食事に関するテキスト分析器です。JSONのみ返してください。", prompt)
	if err != nil {
		b.logger.Warn("food extraction failed", zap.Error(err))
		return FoodInfo{}
	}

	var info FoodInfo
	if err := json.Unmarshal([]byte(extractJSON(raw)), &info); err != nil {
		b.logger.Warn("food extraction returned unparseable JSON", zap.Error(err))
		return FoodInfo{}
	}
	return info
}

// Suggest generates a grounded food suggestion for the group.
func (b *Brain) Suggest(ctx context.Context, recent []types.Message, history []types.FoodRecord, memberCount int) string {
	ctx, cancel := b.boundCtx(ctx)
	defer cancel()

	prompt := fmt.Sprintf(`グループ（%d人）への食事提案をお願いします。

【直近の食事履歴】
%s

【最近の会話】
%s

被りを避けた3ジャンルの提案を、理由付きで短く教えてください。`,
		memberCount, formatHistory(history, 0), formatChat(recent, 10))

	out, err := b.client.CompleteWithSystem(ctx, personaPrompt, prompt)
	if err != nil {
		b.logger.Warn("suggestion generation failed", zap.Error(err))
		return fallbackSuggestion
	}
	return out
}

// Reply generates a conversational answer to a direct mention.
func (b *Brain) Reply(ctx context.Context, recent []types.Message, displayName, userMessage string) string {
	ctx, cancel := b.boundCtx(ctx)
	defer cancel()

	var sb strings.Builder
	sb.WriteString("【最近の会話】\n")
	sb.WriteString(formatChat(recent, 15))
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "%s: %s\n\n", displayName, userMessage)
	sb.WriteString("上の発言に短く自然に返答してください。")

	out, err := b.client.CompleteWithSystem(ctx, personaPrompt, sb.String())
	if err != nil {
		b.logger.Warn("reply generation failed", zap.Error(err))
		return fallbackReply
	}
	return out
}

// Intervene generates an unprompted message for the given kind. The second
// return is false when generation failed; unprompted speech has no canned
// fallback because silence is better than a stock interruption.
func (b *Brain) Intervene(ctx context.Context, recent []types.Message, kind InterventionKind) (string, bool) {
	ctx, cancel := b.boundCtx(ctx)
	defer cancel()

	instruction := "グループが3時間以上静かです。自然に会話を盛り上げる短いメッセージを1つ作ってください。飲食の話題を絡めてもOK。"
	if kind == InterventionStalemate {
		instruction = "みんな「どっちでもいい」「なんでもいい」と言い続けています。投票を提案する短いメッセージを作ってください。"
	}

	prompt := fmt.Sprintf("【最近の会話】\n%s\n\n%s", formatChat(recent, 10), instruction)
	out, err := b.client.CompleteWithSystem(ctx, personaPrompt, prompt)
	if err != nil {
		b.logger.Warn("intervention generation failed",
			zap.String("kind", string(kind)), zap.Error(err))
		return "", false
	}
	return out, true
}

// VoteResult generates the closing announcement for a finished vote.
// counts is per-option tallies, winner the winning option index.
func (b *Brain) VoteResult(ctx context.Context, vote *types.Vote, counts []int, winner int) string {
	ctx, cancel := b.boundCtx(ctx)
	defer cancel()

	total := 0
	for _, c := range counts {
		total += c
	}
	var lines []string
	for i, opt := range vote.Options {
		mark := ""
		if i == winner {
			mark = "🏆 "
		}
		lines = append(lines, fmt.Sprintf("%s%s：%d票", mark, opt, counts[i]))
	}

	prompt := fmt.Sprintf(`投票が終わりました！結果を発表してください。

【投票内容】%s
【結果】
%s
【総投票数】%d票

勝者を明確にして、短く盛り上げるメッセージをお願いします。`,
		vote.Question, strings.Join(lines, "\n"), total)

	out, err := b.client.CompleteWithSystem(ctx, personaPrompt, prompt)
	if err != nil {
		b.logger.Warn("vote result generation failed", zap.Error(err))
		var plain []string
		for i, opt := range vote.Options {
			plain = append(plain, fmt.Sprintf("%s：%d票", opt, counts[i]))
		}
		return "📊 結果発表！\n" + strings.Join(plain, "\n")
	}
	return out
}

// CollectionSuggestion generates a venue suggestion from aggregated
// preferences, used when no provider returned concrete venues.
func (b *Brain) CollectionSuggestion(ctx context.Context, history []types.FoodRecord, in CollectionInput) string {
	ctx, cancel := b.boundCtx(ctx)
	defer cancel()

	area := in.Area
	if area == "" {
		area = "指定なし"
	}
	prompt := fmt.Sprintf(`みんなの本音を集めたよ！この条件でお店を提案して。

条件：
- 予算：%s
- ジャンル：%s
- エリア：%s
- 回答者：%d人

最近食べたもの（被りNG）：
%s

具体的なお店の種類・特徴を2〜3個提案して。短く読みやすく！`,
		in.BudgetLabel, in.GenreLabel, area, in.Answered, formatHistory(history, 5))

	out, err := b.client.CompleteWithSystem(ctx, personaPrompt, prompt)
	if err != nil {
		b.logger.Warn("collection suggestion generation failed", zap.Error(err))
		return fallbackCollection
	}
	return out
}

func formatChat(recent []types.Message, limit int) string {
	if len(recent) > limit {
		recent = recent[len(recent)-limit:]
	}
	var lines []string
	for _, m := range recent {
		name := m.DisplayName
		if m.FromBot {
			name = "Kanpai"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", name, m.Text))
	}
	if len(lines) == 0 {
		return "（まだ会話なし）"
	}
	return strings.Join(lines, "\n")
}

func formatHistory(history []types.FoodRecord, limit int) string {
	if len(history) == 0 {
		return "まだ記録なし"
	}
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	var lines []string
	for _, f := range history {
		cat := f.Category
		if cat == "" {
			cat = "?"
		}
		lines = append(lines, fmt.Sprintf("・%s（%s）", f.Item, cat))
	}
	return strings.Join(lines, "\n")
}

// extractJSON tolerates code fences and prose around a JSON object.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, "{"); i >= 0 {
		if j := strings.LastIndex(raw, "}"); j > i {
			return raw[i : j+1]
		}
	}
	return raw
}
