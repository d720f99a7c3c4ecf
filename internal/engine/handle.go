package engine

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"kanpai/internal/brain"
	"kanpai/internal/collect"
	"kanpai/internal/types"
	"kanpai/internal/venues"
)

var (
	ballotRe     = regexp.MustCompile(`^[1-9]$`)
	mentionRe    = regexp.MustCompile(`@[Kk]anpai`)
	voteCreateRe = regexp.MustCompile(`(.+?)か(.+?)か(投票|決めて|どっち)`)
)

// Trigger vocabularies, checked as substrings of the (mention-stripped)
// text.
var (
	collectTriggers    = []string{"本音", "みんなに聞いて", "こっそり聞いて"}
	suggestionTriggers = []string{"おすすめ", "どこ", "何食べ", "提案", "ご飯"}
	foodTriggers       = []string{"何食べる", "どこ行く", "ご飯", "飯どこ", "なに食べ", "お腹すいた"}
)

const greeting = "乾杯🍻 Kanpaiです！\n\n" +
	"グループのみんなの食事を記録して、被りなしの提案をする幹事AIです。\n\n" +
	"使い方は簡単：\n" +
	"・「ラーメン食べた」→ 記録します\n" +
	"・「@Kanpai おすすめ教えて」→ 提案します\n" +
	"・「@Kanpai 焼肉か中華か投票して」→ 投票します\n\n" +
	"よろしく！🎉"

// HandleEvent routes one inbound message. Direct messages go to the active
// collection session; group messages run the full pipeline. Errors are
// internal failures; unrecognized input is not an error.
func (e *Engine) HandleEvent(ctx context.Context, ev types.InboundEvent) error {
	if ev.IsDirect {
		return e.handleDirect(ctx, ev)
	}
	if ev.GroupID == "" || ev.Text == "" {
		return nil
	}

	l := e.groupLock(ev.GroupID)
	l.Lock()
	defer l.Unlock()
	return e.handleGroupMessage(ctx, ev)
}

// HandleJoin greets a group the bot was just added to.
func (e *Engine) HandleJoin(ctx context.Context, groupID, replyToken string) error {
	if _, err := e.store.GetGroupState(groupID); err != nil {
		return err
	}
	return e.deliver(ctx, groupID, replyToken, greeting)
}

func (e *Engine) handleDirect(ctx context.Context, ev types.InboundEvent) error {
	sess, err := e.store.SessionByParticipant(ev.ParticipantID, time.Now())
	if err != nil {
		return err
	}
	if sess == nil {
		// Not in any questionnaire; direct chatter is out of scope.
		return nil
	}

	// The response map is shared across the roster, so answers serialize on
	// the session's group lock like every other mutation for that group.
	l := e.groupLock(sess.GroupID)
	l.Lock()
	defer l.Unlock()

	sess, err = e.collector.HandleAnswer(ctx, ev.ParticipantID, ev.Text)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}
	// A valid answer may have been the last one outstanding.
	agg, err := e.collector.TryComplete(sess.ID, time.Now())
	if err != nil {
		return err
	}
	if agg != nil {
		e.announceCollection(ctx, sess.GroupID, *agg)
	}
	return nil
}

func (e *Engine) handleGroupMessage(ctx context.Context, ev types.InboundEvent) error {
	now := time.Now()
	if err := e.store.UpsertMember(ev.GroupID, ev.ParticipantID, ev.DisplayName); err != nil {
		e.logger.Warn("member upsert failed", zap.Error(err))
	}
	if err := e.store.LogMessage(types.Message{
		GroupID:     ev.GroupID,
		UserID:      ev.ParticipantID,
		DisplayName: ev.DisplayName,
		Text:        ev.Text,
		CreatedAt:   now,
	}); err != nil {
		e.logger.Warn("message log failed", zap.Error(err))
	}
	if err := e.store.TouchActivity(ev.GroupID, now); err != nil {
		e.logger.Warn("activity touch failed", zap.Error(err))
	}

	e.recordFoodMentions(ctx, ev)

	state, err := e.store.GetGroupState(ev.GroupID)
	if err != nil {
		return err
	}

	text := strings.TrimSpace(ev.Text)

	// Bare digits while a vote is open are ballots.
	if state.Mode == types.ModeVoting && ballotRe.MatchString(text) {
		idx, _ := strconv.Atoi(text)
		return e.recordBallot(ctx, state, ev.ParticipantID, idx-1, ev.ReplyToken)
	}

	if mentionRe.MatchString(ev.Text) || strings.Contains(strings.ToLower(ev.Text), "kanpai") {
		return e.handleMention(ctx, ev, state)
	}

	for _, trig := range foodTriggers {
		if strings.Contains(text, trig) {
			return e.sendSuggestion(ctx, ev.GroupID, ev.ReplyToken)
		}
	}

	return e.tryApproach(ctx, ev.GroupID)
}

func (e *Engine) handleMention(ctx context.Context, ev types.InboundEvent, state *types.GroupState) error {
	clean := strings.TrimSpace(mentionRe.ReplaceAllString(ev.Text, ""))

	if m := voteCreateRe.FindStringSubmatch(clean); m != nil {
		options := []string{strings.TrimSpace(m[1]), strings.TrimSpace(m[2])}
		return e.startVote(ctx, ev.GroupID, options, ev.ReplyToken)
	}

	for _, trig := range collectTriggers {
		if strings.Contains(clean, trig) {
			return e.startCollection(ctx, ev)
		}
	}

	for _, trig := range suggestionTriggers {
		if strings.Contains(clean, trig) {
			return e.sendSuggestion(ctx, ev.GroupID, ev.ReplyToken)
		}
	}

	recent, err := e.store.RecentMessages(ev.GroupID, 15)
	if err != nil {
		return err
	}
	reply := e.brain.Reply(ctx, recent, ev.DisplayName, ev.Text)
	return e.deliver(ctx, ev.GroupID, ev.ReplyToken, reply)
}

// sendSuggestion answers an explicit suggestion request: history-aware
// generated text, delivered outside the cooldown because it was asked for.
func (e *Engine) sendSuggestion(ctx context.Context, groupID, replyToken string) error {
	recent, err := e.store.RecentMessages(groupID, 15)
	if err != nil {
		return err
	}
	history, err := e.store.FoodHistory(groupID, time.Now().AddDate(0, 0, -14))
	if err != nil {
		return err
	}

	memberCount := distinctSpeakers(recent)
	text := e.brain.Suggest(ctx, recent, history, memberCount)
	return e.deliver(ctx, groupID, replyToken, text)
}

func (e *Engine) startCollection(ctx context.Context, ev types.InboundEvent) error {
	members, err := e.store.Members(ev.GroupID)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		members = []string{ev.ParticipantID}
	}
	if _, err := e.collector.Start(ctx, ev.GroupID, ev.ParticipantID, members); err != nil {
		e.logger.Info("collection start rejected",
			zap.String("group", ev.GroupID), zap.Error(err))
		return e.deliver(ctx, ev.GroupID, ev.ReplyToken,
			"いま聞き取り中だよ！回答を待ってるね🤫")
	}
	return e.deliver(ctx, ev.GroupID, ev.ReplyToken,
		"了解！みんなにこっそり聞いてくるね🤫 数分待ってて！")
}

// tryApproach runs signal extraction over the recent window and, when the
// heuristic approves and the cooldown allows, sends a venue-grounded
// suggestion.
func (e *Engine) tryApproach(ctx context.Context, groupID string) error {
	recent, err := e.store.RecentMessages(groupID, 10)
	if err != nil {
		return err
	}
	intent := e.extractor.Extract(recent)
	if !intent.ShouldApproach {
		return nil
	}

	state, err := e.store.GetGroupState(groupID)
	if err != nil {
		return err
	}
	if !e.CanSpeak(state, time.Now()) {
		return nil
	}

	found := e.venues.Lookup(ctx, venues.Query{
		Genre:  genreCodeFor(intent.Food),
		Budget: "2",
		Area:   intent.Where,
		Limit:  3,
	})
	text := venues.Format(found, genreCodeFor(intent.Food), "2", intent.Where)
	if text == "" {
		history, err := e.store.FoodHistory(groupID, time.Now().AddDate(0, 0, -14))
		if err != nil {
			return err
		}
		text = e.brain.Suggest(ctx, recent, history, distinctSpeakers(recent))
	}

	sent, err := e.Say(ctx, groupID, text)
	if err != nil {
		return err
	}
	if sent {
		e.logger.Info("approached group",
			zap.String("group", groupID),
			zap.Int("confidence", intent.Confidence),
			zap.String("where", intent.Where),
			zap.String("food", intent.Food))
	}
	return nil
}

// recordFoodMentions extracts eaten food from the message and records it.
// Only completed meals go into history; cravings and proposals do not.
func (e *Engine) recordFoodMentions(ctx context.Context, ev types.InboundEvent) {
	info := e.brain.ExtractFood(ctx, ev.Text)
	if !info.Found || info.Context != "食べた" {
		return
	}
	for _, item := range info.Items {
		if err := e.store.RecordFood(types.FoodRecord{
			GroupID:  ev.GroupID,
			UserID:   ev.ParticipantID,
			Item:     item,
			Category: info.Category,
			RawText:  ev.Text,
			EatenAt:  time.Now(),
		}); err != nil {
			e.logger.Warn("food record failed", zap.Error(err))
		}
	}
}

// announceCollection runs the completion pipeline: summary first, then a
// venue lookup grounded on the aggregate, then the suggestion. Both sends
// bypass the cooldown; the group asked for this outcome.
func (e *Engine) announceCollection(ctx context.Context, groupID string, agg collect.Aggregate) {
	if err := e.ForceSay(ctx, groupID, agg.Summary); err != nil {
		e.logger.Warn("collection summary send failed", zap.Error(err))
		return
	}

	recent, err := e.store.RecentMessages(groupID, 10)
	if err != nil {
		e.logger.Warn("recent messages read failed", zap.Error(err))
	}
	intent := e.extractor.Extract(recent)

	found := e.venues.Lookup(ctx, venues.Query{
		Genre:  agg.Genre,
		Budget: agg.Budget,
		Area:   intent.Where,
		Limit:  3,
	})
	text := venues.Format(found, agg.Genre, agg.Budget, intent.Where)
	if text == "" {
		history, err := e.store.FoodHistory(groupID, time.Now().AddDate(0, 0, -14))
		if err != nil {
			e.logger.Warn("food history read failed", zap.Error(err))
		}
		budgetLabel, genreLabel := agg.Labels()
		text = e.brain.CollectionSuggestion(ctx, history, brain.CollectionInput{
			BudgetLabel: budgetLabel,
			GenreLabel:  genreLabel,
			Area:        intent.Where,
			Answered:    agg.Answered,
		})
	}

	if err := e.ForceSay(ctx, groupID, text); err != nil {
		e.logger.Warn("collection suggestion send failed", zap.Error(err))
	}
}

func distinctSpeakers(recent []types.Message) int {
	seen := map[string]bool{}
	for _, m := range recent {
		if !m.FromBot && m.DisplayName != "" {
			seen[m.DisplayName] = true
		}
	}
	if len(seen) < 2 {
		return 2
	}
	return len(seen)
}

// genreCodes maps the food tokens the signal table can emit onto
// questionnaire genre codes. Tokens absent here (drinking terms, cravings,
// generic meal words) fold to なんでも.
var genreCodes = map[string]string{
	"焼肉": "4", "焼き肉": "4", "ホルモン": "4", "焼き鳥": "4", "焼鳥": "4", "串カツ": "4",
	"寿司": "1", "鮨": "1", "和食": "1", "蕎麦": "1", "そば": "1", "うどん": "1",
	"天ぷら": "1", "刺身": "1", "海鮮": "1", "鍋": "1", "もつ鍋": "1", "しゃぶしゃぶ": "1",
	"イタリアン": "2", "フレンチ": "2", "洋食": "2", "ピザ": "2", "パスタ": "2",
	"中華": "3", "餃子": "3", "ラーメン": "3", "つけ麺": "3", "韓国料理": "3",
}

func genreCodeFor(food string) string {
	if code, ok := genreCodes[food]; ok {
		return code
	}
	return "5"
}
