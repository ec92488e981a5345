package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/lucaferrato/amie/internal/genai"
)

// scriptedClient returns a fixed completion and records the last request.
type scriptedClient struct {
	text  string
	err   error
	calls int
	last  genai.Request
}

func (c *scriptedClient) Name() string { return "scripted" }

func (c *scriptedClient) Complete(ctx context.Context, req genai.Request) (genai.Response, error) {
	c.calls++
	c.last = req
	if c.err != nil {
		return genai.Response{}, c.err
	}
	return genai.Response{Text: c.text}, nil
}

func TestDialogueGeneratorParsesMockReply(t *testing.T) {
	gen := NewDialogueGenerator(genai.NewMockClient(), 20)
	reply, err := gen.Generate(context.Background(), DialogueInput{
		Persona:           PersonaContext{Name: "Mia", Age: "24", Occupation: "barista"},
		Affection:         50,
		RelationshipStage: "stranger",
		UserMessage:       "hi there",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply.Dialogue == "" {
		t.Fatalf("expected non-empty dialogue")
	}
	if reply.AffectionDelta < -10 || reply.AffectionDelta > 10 {
		t.Fatalf("affection delta out of range: %d", reply.AffectionDelta)
	}
}

func TestDialogueGeneratorUnfencesWrappedJSON(t *testing.T) {
	client := &scriptedClient{text: "Sure! Here you go:\n```json\n{\"dialogue\": \"hey\", \"affection_delta\": 2}\n```"}
	gen := NewDialogueGenerator(client, 20)
	reply, err := gen.Generate(context.Background(), DialogueInput{UserMessage: "hello"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply.Dialogue != "hey" || reply.AffectionDelta != 2 {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestDialogueGeneratorRejectsEmptyDialogue(t *testing.T) {
	client := &scriptedClient{text: `{"dialogue": "", "affection_delta": 0}`}
	gen := NewDialogueGenerator(client, 20)
	if _, err := gen.Generate(context.Background(), DialogueInput{UserMessage: "hello"}); err == nil {
		t.Fatalf("expected error for empty dialogue")
	}
}

func TestDialogueGeneratorTrimsHistory(t *testing.T) {
	client := &scriptedClient{text: `{"dialogue": "ok"}`}
	gen := NewDialogueGenerator(client, 2)
	history := []Exchange{
		{UserMessage: "one", Dialogue: "r1"},
		{UserMessage: "two", Dialogue: "r2"},
		{UserMessage: "three", Dialogue: "r3"},
	}
	if _, err := gen.Generate(context.Background(), DialogueInput{History: history, UserMessage: "now"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(client.last.History) != 4 {
		t.Fatalf("expected 2 exchanges (4 messages) of history, got %d messages", len(client.last.History))
	}
	if client.last.History[0].Content != "two" {
		t.Fatalf("expected oldest turns dropped, history starts with %q", client.last.History[0].Content)
	}
}

func TestQuestValidatorDropsUnknownQuestIDs(t *testing.T) {
	client := &scriptedClient{text: `{"verdicts": [
		{"quest_id": "q1", "satisfied": true},
		{"quest_id": "made-up", "satisfied": true},
		{"quest_id": "q2", "satisfied": false}
	]}`}
	v := NewQuestValidator(client)
	verdicts, err := v.Evaluate(context.Background(), QuestInput{
		Quests: []PendingQuest{{ID: "q1", Title: "a"}, {ID: "q2", Title: "b"}},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(verdicts) != 2 {
		t.Fatalf("expected 2 verdicts, got %d", len(verdicts))
	}
	if verdicts[0].QuestID != "q1" || !verdicts[0].Satisfied {
		t.Fatalf("unexpected first verdict: %+v", verdicts[0])
	}
	if verdicts[1].QuestID != "q2" || verdicts[1].Satisfied {
		t.Fatalf("unexpected second verdict: %+v", verdicts[1])
	}
}

func TestQuestValidatorSkipsWithoutQuests(t *testing.T) {
	client := &scriptedClient{text: `{"verdicts": []}`}
	v := NewQuestValidator(client)
	verdicts, err := v.Evaluate(context.Background(), QuestInput{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if verdicts != nil {
		t.Fatalf("expected nil verdicts, got %v", verdicts)
	}
	if client.calls != 0 {
		t.Fatalf("expected no completion call, got %d", client.calls)
	}
}

func TestQuestValidatorPropagatesClientError(t *testing.T) {
	wantErr := errors.New("provider down")
	v := NewQuestValidator(&scriptedClient{err: wantErr})
	if _, err := v.Evaluate(context.Background(), QuestInput{Quests: []PendingQuest{{ID: "q1"}}}); !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped client error, got %v", err)
	}
}

func TestMemoryExtractorFlattensCategories(t *testing.T) {
	client := &scriptedClient{text: `{
		"facts": ["the cafe closes at nine"],
		"emotions": ["she felt at ease", " "],
		"key_events": [],
		"user_info": ["the user plays guitar"],
		"character_revelations": ["she used to live abroad"]
	}`}
	e := NewMemoryExtractor(client)
	facts, err := e.Extract(context.Background(), "Mia", Exchange{UserMessage: "u", Dialogue: "d"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(facts) != 4 {
		t.Fatalf("expected 4 facts after dropping blanks, got %d", len(facts))
	}
	want := []ExtractedFact{
		{Category: CategoryFact, Content: "the cafe closes at nine"},
		{Category: CategoryEmotion, Content: "she felt at ease"},
		{Category: CategoryUserInfo, Content: "the user plays guitar"},
		{Category: CategoryRevelation, Content: "she used to live abroad"},
	}
	for i, w := range want {
		if facts[i] != w {
			t.Fatalf("fact %d: got %+v, want %+v", i, facts[i], w)
		}
	}
}

func TestMemoryExtractorWorksAgainstMock(t *testing.T) {
	e := NewMemoryExtractor(genai.NewMockClient())
	facts, err := e.Extract(context.Background(), "Mia", Exchange{UserMessage: "hi", Dialogue: "hello"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	for _, f := range facts {
		if f.Content == "" {
			t.Fatalf("mock produced empty fact content")
		}
	}
}

func TestProfileUpdaterTrimsAndDropsBlanks(t *testing.T) {
	client := &scriptedClient{text: `{"traits": ["  enjoys teasing ", "", "hums while thinking"]}`}
	u := NewProfileUpdater(client)
	traits, err := u.Propose(context.Background(), ProfileInput{Persona: PersonaContext{Name: "Mia"}})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if len(traits) != 2 || traits[0] != "enjoys teasing" || traits[1] != "hums while thinking" {
		t.Fatalf("unexpected traits: %v", traits)
	}
}

func TestCharacterCreatorSplitsWorldview(t *testing.T) {
	c := NewCharacterCreator(genai.NewMockClient())
	draft, err := c.Create(context.Background(), Basics{Name: "Mia", Age: 24, Occupation: "barista"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if draft.Worldview == "" {
		t.Fatalf("expected worldview to be set")
	}
	if _, ok := draft.Details["worldview"]; ok {
		t.Fatalf("worldview should not remain in details")
	}
	if len(draft.Details) == 0 {
		t.Fatalf("expected detail fields beyond worldview")
	}
}

func TestCharacterCreatorRejectsMissingWorldview(t *testing.T) {
	c := NewCharacterCreator(&scriptedClient{text: `{"personality": "warm"}`})
	if _, err := c.Create(context.Background(), Basics{Name: "Mia"}); err == nil {
		t.Fatalf("expected error when worldview is missing")
	}
}
