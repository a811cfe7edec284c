package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pathakanu/healthReminder/internal/config"
	"github.com/pathakanu/healthReminder/internal/model"
	myopenai "github.com/pathakanu/healthReminder/internal/openai"
	"github.com/pathakanu/healthReminder/internal/store"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	to   string
	body string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (s *recordingSender) Send(to, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{to: to, body: body})
	return nil
}

type stubAssistant struct {
	intent     myopenai.Intent
	extraction myopenai.Extraction
}

func (stubAssistant) Enabled() bool { return true }

func (a stubAssistant) ClassifyIntent(context.Context, string) (myopenai.Intent, error) {
	return a.intent, nil
}

func (a stubAssistant) ExtractReminder(context.Context, string) (myopenai.Extraction, error) {
	return a.extraction, nil
}

func newTestBot(t *testing.T) (*Bot, *store.Store, *recordingSender) {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_fk=1", name, time.Now().UnixNano())

	logger, _ := test.NewNullLogger()
	s, err := store.Open(context.Background(), store.Options{Driver: store.DriverSQL, SQLitePath: dsn}, logger)
	require.NoError(t, err, "open sqlite memory store")
	t.Cleanup(func() { _ = s.Close() })

	sender := &recordingSender{}
	b := New(&config.Config{LocalTimezone: time.UTC}, s, myopenai.New(""), sender, logger)
	return b, s, sender
}

// seedReminders stores reminders for a user with increasing ids.
func seedReminders(t *testing.T, s *store.Store, reminders []model.Reminder) {
	t.Helper()
	for i := range reminders {
		if reminders[i].ID == 0 {
			reminders[i].ID = int64(i + 1)
		}
		require.NoError(t, s.Save(context.Background(), &reminders[i]), "seed reminder %d", i)
	}
}

func postMessage(t *testing.T, b *Bot, from, body string) string {
	t.Helper()
	form := url.Values{"From": {from}, "Body": {body}}
	req := httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	b.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	return rec.Body.String()
}

func TestParseIndices(t *testing.T) {
	t.Parallel()

	cases := map[string][]int{
		"1 2 3":      {1, 2, 3},
		"1,2,3":      {1, 2, 3},
		" 3 , 2 , 1": {3, 2, 1},
		"5":          {5},
		"":           nil,
		"0,1":        nil,
		"-1":         nil,
		"1,a":        nil,
	}

	for input, want := range cases {
		assert.Equal(t, want, parseIndices(input), "parseIndices(%q)", input)
	}
}

func TestParseClock(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"08:00":   "08:00",
		"8":       "08:00",
		"8:30":    "08:30",
		"8am":     "08:00",
		"8 PM":    "20:00",
		"12am":    "00:00",
		"12pm":    "12:00",
		"23:59":   "23:59",
		"24:00":   "",
		"13pm":    "",
		"7:75":    "",
		"noonish": "",
	}

	for input, want := range cases {
		got, ok := parseClock(input)
		assert.Equal(t, want, got, "parseClock(%q)", input)
		assert.Equal(t, want != "", ok, "parseClock(%q) ok", input)
	}
}

func TestExtractTaskAndTime(t *testing.T) {
	t.Parallel()

	task, clock := extractTaskAndTime("Remind me to take medicine at 8am")
	assert.Equal(t, "take medicine", task)
	assert.Equal(t, "08:00", clock)

	task, clock = extractTaskAndTime("please remind me drink water @ 14:30")
	assert.Equal(t, "drink water", task)
	assert.Equal(t, "14:30", clock)

	task, clock = extractTaskAndTime("remind me to stretch")
	assert.Equal(t, "stretch", task)
	assert.Empty(t, clock)

	task, clock = extractTaskAndTime("look at 99 bottles")
	assert.Equal(t, "look at 99 bottles", task)
	assert.Empty(t, clock)
}

func TestDeleteReminderByIndices(t *testing.T) {
	t.Parallel()
	b, s, _ := newTestBot(t)

	seedReminders(t, s, []model.Reminder{
		{UserID: "user", Task: "alpha", Time: "07:00"},
		{UserID: "user", Task: "beta", Time: "08:00"},
		{UserID: "user", Task: "gamma", Time: "09:00"},
		{UserID: "other", Task: "delta", Time: "06:00"},
	})

	msg, err := b.deleteReminder(context.Background(), "user", "1,3")
	require.NoError(t, err)
	assert.Equal(t, "Deleted reminder(s): 1, 3.", msg)

	remaining, err := b.userReminders(context.Background(), "user")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "beta", remaining[0].Task)

	_, err = b.deleteReminder(context.Background(), "user", "4")
	assert.Error(t, err, "expected error for invalid index")

	all, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2, "other users' reminders are untouched")
}

func TestDeleteReminderByKeyword(t *testing.T) {
	t.Parallel()
	b, s, _ := newTestBot(t)

	seedReminders(t, s, []model.Reminder{
		{UserID: "user", Task: "Take medicine", Time: "08:00"},
		{UserID: "user", Task: "Drink water", Time: "10:00"},
	})

	msg, err := b.deleteReminder(context.Background(), "user", "medicine")
	require.NoError(t, err)
	assert.Equal(t, "Deleted reminders matching 'medicine'.", msg)

	remaining, err := b.userReminders(context.Background(), "user")
	require.NoError(t, err)
	assert.Len(t, remaining, 1)

	_, err = b.deleteReminder(context.Background(), "user", "doctor")
	assert.Error(t, err, "expected error when keyword not found")
}

func TestListRemindersFormatting(t *testing.T) {
	t.Parallel()
	b, s, _ := newTestBot(t)

	seedReminders(t, s, []model.Reminder{
		{UserID: "user", Task: "Evening walk", Time: "19:00"},
		{UserID: "user", Task: "Take medicine", Time: "08:00"},
	})

	output, err := b.listReminders(context.Background(), "user")
	require.NoError(t, err)
	assert.Equal(t, "Here are your reminders:\n1. 08:00 Take medicine\n2. 19:00 Evening walk\n", output)

	empty, err := b.listReminders(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestWebhookAddWithTime(t *testing.T) {
	t.Parallel()
	b, s, _ := newTestBot(t)

	reply := postMessage(t, b, "whatsapp:+15550001", "Remind me to take medicine at 8am")
	assert.Contains(t, reply, "remind you to take medicine every day at 08:00")

	list, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "take medicine", list[0].Task)
	assert.Equal(t, "08:00", list[0].Time)
	assert.Equal(t, "+15550001", list[0].UserID)
	assert.NotZero(t, list[0].ID)
}

func TestWebhookAsksForMissingTime(t *testing.T) {
	t.Parallel()
	b, s, _ := newTestBot(t)
	from := "whatsapp:+15550002"

	reply := postMessage(t, b, from, "remind me to stretch")
	assert.Contains(t, reply, "When should I remind you to stretch?")

	reply = postMessage(t, b, from, "whenever")
	assert.Contains(t, reply, "Please send a time")

	reply = postMessage(t, b, from, "17:45")
	assert.Contains(t, reply, "every day at 17:45")

	list, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "stretch", list[0].Task)
	assert.Equal(t, "17:45", list[0].Time)
}

func TestWebhookCancelPending(t *testing.T) {
	t.Parallel()
	b, s, _ := newTestBot(t)
	from := "whatsapp:+15550003"

	postMessage(t, b, from, "remind me to meditate")
	reply := postMessage(t, b, from, "cancel")
	assert.Contains(t, reply, "dropped")

	list, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.False(t, b.state.IsAwaitingTime("+15550003"))
}

func TestWebhookReschedule(t *testing.T) {
	t.Parallel()
	b, s, _ := newTestBot(t)

	seedReminders(t, s, []model.Reminder{
		{UserID: "+15550004", Task: "Take medicine", Time: "08:00"},
	})

	reply := postMessage(t, b, "whatsapp:+15550004", "change 1 to 9am")
	assert.Contains(t, reply, "Moved &#39;Take medicine&#39; to 09:00.")

	got, err := s.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "09:00", got.Time)

	reply = postMessage(t, b, "whatsapp:+15550004", "change 5 to 10:00")
	assert.Contains(t, reply, "Tell me which reminder to move")
}

func TestWebhookListAndClear(t *testing.T) {
	t.Parallel()
	b, s, _ := newTestBot(t)

	reply := postMessage(t, b, "whatsapp:+15550005", "list reminders")
	assert.Contains(t, reply, "You have no reminders yet")

	seedReminders(t, s, []model.Reminder{
		{UserID: "+15550005", Task: "Take medicine", Time: "08:00"},
		{UserID: "+15550006", Task: "Drink water", Time: "10:00"},
	})

	reply = postMessage(t, b, "whatsapp:+15550005", "Show my reminders")
	assert.Contains(t, reply, "1. 08:00 Take medicine")
	assert.NotContains(t, reply, "Drink water")

	reply = postMessage(t, b, "whatsapp:+15550005", "clear all reminders")
	assert.Contains(t, reply, "All reminders cleared.")

	list, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "+15550006", list[0].UserID)
}

func TestWebhookRejectsEmptyMessage(t *testing.T) {
	t.Parallel()
	b, _, _ := newTestBot(t)

	reply := postMessage(t, b, "", "hello")
	assert.Contains(t, reply, "I need a message to work with")
}

func TestDetermineIntentUsesAssistant(t *testing.T) {
	t.Parallel()
	b, s, _ := newTestBot(t)
	b.assistant = stubAssistant{
		intent:     myopenai.IntentAddReminder,
		extraction: myopenai.Extraction{Task: "check blood pressure", Time: "07:30"},
	}

	intent, _ := b.determineIntent(context.Background(), "blood pressure check before breakfast", "blood pressure check before breakfast")
	assert.Equal(t, myopenai.IntentAddReminder, intent)

	reply := postMessage(t, b, "whatsapp:+15550007", "blood pressure check before breakfast")
	assert.Contains(t, reply, "every day at 07:30")

	list, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "check blood pressure", list[0].Task)

	b.assistant = stubAssistant{intent: myopenai.IntentHelp}
	reply = postMessage(t, b, "whatsapp:+15550007", "what can you do")
	assert.Contains(t, reply, "You can say things like")
}

func TestDispatchDue(t *testing.T) {
	t.Parallel()
	b, s, sender := newTestBot(t)

	seedReminders(t, s, []model.Reminder{
		{UserID: "+15550008", Task: "Take medicine", Time: "08:00"},
		{UserID: "+15550009", Task: "Take vitamins", Time: "08:00"},
		{UserID: "+15550008", Task: "Drink water", Time: "09:00"},
		{Task: "Ownerless", Time: "08:00"},
	})

	now := time.Date(2026, 10, 17, 8, 0, 30, 0, time.UTC)
	assert.Equal(t, 2, b.dispatchDue(context.Background(), now))
	assert.ElementsMatch(t, []sentMessage{
		{to: "+15550008", body: "Reminder: Take medicine (08:00)"},
		{to: "+15550009", body: "Reminder: Take vitamins (08:00)"},
	}, sender.sent)

	sender.err = errors.New("twilio down")
	assert.Equal(t, 0, b.dispatchDue(context.Background(), now))
}

func TestDispatchDueUsesLocalTimezone(t *testing.T) {
	t.Parallel()
	b, s, sender := newTestBot(t)
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	b.cfg.LocalTimezone = berlin

	seedReminders(t, s, []model.Reminder{
		{UserID: "+15550010", Task: "Take medicine", Time: "08:00"},
	})

	// 06:00 UTC is 08:00 in Berlin during summer time.
	now := time.Date(2026, 7, 1, 6, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, b.dispatchDue(context.Background(), now))
	assert.Len(t, sender.sent, 1)
}

func TestIDSourceStrictlyIncreasing(t *testing.T) {
	t.Parallel()
	ids := &idSource{}
	prev := ids.Next()
	for i := 0; i < 100; i++ {
		next := ids.Next()
		assert.Greater(t, next, prev)
		prev = next
	}
}
