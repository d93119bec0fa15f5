package activation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azyu/talemind/pkg/types"
)

// transcript builds alternating user/assistant messages, one pair per entry.
func transcript(userTexts ...string) []types.Message {
	var msgs []types.Message
	id := int64(1)
	for _, text := range userTexts {
		msgs = append(msgs,
			types.Message{ID: id, Role: types.RoleUser, Content: text},
			types.Message{ID: id + 1, Role: types.RoleAssistant, Content: "..."},
		)
		id += 2
	}
	return msgs
}

func alexCard() types.WorldCard {
	card := types.NewWorldCard("Алекс", "Рыжий следопыт.", types.KindNPC)
	card.ID = 7
	card.MemoryTurns = types.IntPtr(5)
	return card
}

func TestBuildTurns(t *testing.T) {
	msgs := []types.Message{
		{ID: 1, Role: types.RoleAssistant, Content: "Пролог"},
		{ID: 2, Role: types.RoleUser, Content: "Привет"},
		{ID: 3, Role: types.RoleAssistant, Content: "Здравствуй"},
		{ID: 4, Role: types.RoleUser, Content: "Дальше"},
	}

	turns := BuildTurns(msgs)
	require.Len(t, turns, 3)
	assert.Equal(t, []int{1, 1, 2}, []int{turns[0].Index, turns[1].Index, turns[2].Index})
	assert.Equal(t, 2, CurrentTurn(turns))
}

func TestBuildTurns_OrdersByID(t *testing.T) {
	msgs := []types.Message{
		{ID: 3, Role: types.RoleUser, Content: "second"},
		{ID: 1, Role: types.RoleUser, Content: "first"},
	}
	turns := BuildTurns(msgs)
	require.Len(t, turns, 2)
	assert.Equal(t, "first", turns[0].Tokens[0].Text)
}

func TestEffectiveTriggers(t *testing.T) {
	tests := []struct {
		name string
		card types.WorldCard
		want []string
	}{
		{
			name: "title appended",
			card: types.WorldCard{Title: "Алекс", Triggers: []string{"следопыт"}},
			want: []string{"следопыт", "Алекс"},
		},
		{
			name: "case-insensitive duplicates dropped",
			card: types.WorldCard{Title: "Алекс", Triggers: []string{"алекс", " АЛЕКС "}},
			want: []string{"алекс"},
		},
		{
			name: "blank entries dropped",
			card: types.WorldCard{Title: "  ", Triggers: []string{"", "замок"}},
			want: []string{"замок"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EffectiveTriggers(tt.card))
		})
	}
}

func TestDecayWindow(t *testing.T) {
	texts := make([]string, 16)
	for i := range texts {
		texts[i] = "Ничего не происходит."
	}
	texts[9] = "Внезапно появился Алекс." // turn 10
	msgs := transcript(texts...)
	card := alexCard()

	for turn := 10; turn <= 16; turn++ {
		res := EvaluateAt(msgs, []types.WorldCard{card}, turn)
		status, ok := res.Status(card.ID)
		require.True(t, ok)

		assert.Equal(t, 10, status.LastMatchTurn, "turn %d", turn)
		assert.Equal(t, turn <= 15, status.Active, "turn %d", turn)
		assert.Equal(t, max(5-(turn-10), 0), status.TurnsRemaining, "turn %d", turn)
		assert.Equal(t, turn == 10, status.TriggeredThisTurn, "turn %d", turn)
	}
}

func TestEvaluate(t *testing.T) {
	hero := types.NewWorldCard("Мира", "Главная героиня.", types.KindMainHero)
	hero.ID = 1
	lore := types.NewWorldCard("Башня", "Древняя башня.", types.KindWorld)
	lore.ID = 2
	lore.MemoryTurns = nil
	dragon := types.NewWorldCard("Дракон", "Спит в горах.", types.KindWorld, "ящер")
	dragon.ID = 3
	ghost := types.NewWorldCard("Призрак", "Бродит по ночам.", types.KindWorld)
	ghost.ID = 4

	msgs := transcript("Мы идём к горам.", "Там ящеры?", "Нет, только камни.")
	res := Evaluate(msgs, []types.WorldCard{hero, lore, dragon, ghost})

	assert.Equal(t, 3, res.CurrentTurn)

	assert.True(t, res.Statuses[1].Active)
	assert.True(t, res.Statuses[1].AlwaysActive)
	assert.Equal(t, "always active", res.Statuses[1].Label())

	assert.True(t, res.Statuses[2].AlwaysActive, "nil memory never decays")

	assert.True(t, res.Statuses[3].Active)
	assert.Equal(t, 2, res.Statuses[3].LastMatchTurn)
	assert.Equal(t, 4, res.Statuses[3].TurnsRemaining)
	assert.Equal(t, "active · 4 turns left", res.Statuses[3].Label())

	assert.False(t, res.Statuses[4].Active)
	assert.Equal(t, "inactive", res.Statuses[4].Label())
}

func TestEvaluate_TitleIsImplicitTrigger(t *testing.T) {
	card := alexCard()
	res := Evaluate(transcript("Я встретил Алексом у ворот"), []types.WorldCard{card})

	s := res.Statuses[card.ID]
	assert.True(t, s.TriggeredThisTurn)
	assert.Equal(t, "triggered this turn", s.Label())
}

func TestEvaluate_AssistantTextTriggers(t *testing.T) {
	card := alexCard()
	msgs := []types.Message{
		{ID: 1, Role: types.RoleUser, Content: "Кто там?"},
		{ID: 2, Role: types.RoleAssistant, Content: "Это Алекс."},
	}
	assert.True(t, Evaluate(msgs, []types.WorldCard{card}).Statuses[card.ID].Active)
}

func TestEvaluate_IgnoresPrologue(t *testing.T) {
	card := alexCard()
	msgs := []types.Message{
		{ID: 1, Role: types.RoleAssistant, Content: "Алекс ждал у костра."},
		{ID: 2, Role: types.RoleUser, Content: "Я подхожу."},
	}
	assert.False(t, Evaluate(msgs, []types.WorldCard{card}).Statuses[card.ID].Active)
}

func TestEvaluate_Empty(t *testing.T) {
	res := Evaluate(nil, []types.WorldCard{alexCard()})
	assert.Equal(t, 0, res.CurrentTurn)
	assert.False(t, res.Statuses[7].Active)
}

func TestStatusAt(t *testing.T) {
	card := alexCard()

	assert.False(t, StatusAt(card, 0, 3).Active, "never matched")
	assert.True(t, StatusAt(card, 3, 8).Active)
	assert.Equal(t, 0, StatusAt(card, 3, 8).TurnsRemaining)
	assert.False(t, StatusAt(card, 3, 9).Active)
	assert.Equal(t, 0, StatusAt(card, 3, 20).TurnsRemaining, "floored at zero")
}

func TestActiveCards(t *testing.T) {
	card := alexCard()
	other := types.NewWorldCard("Ворон", "Птица.", types.KindWorld)
	other.ID = 8

	texts := []string{"Алекс здесь", "тишина", "тишина", "тишина", "тишина", "тишина", "тишина", "ворон каркнул"}
	msgs := transcript(texts...)
	cards := []types.WorldCard{other, card}

	assert.Equal(t, []types.WorldCard{card}, ActiveCards(msgs, cards, 1))
	assert.Equal(t, []types.WorldCard{card}, ActiveCards(msgs, cards, 6))
	assert.Empty(t, ActiveCards(msgs, cards, 7))
	assert.Equal(t, []types.WorldCard{other}, ActiveCards(msgs, cards, 8))
}
