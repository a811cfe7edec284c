package bot

import (
	"cmp"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pathakanu/healthReminder/internal/config"
	"github.com/pathakanu/healthReminder/internal/model"
	myopenai "github.com/pathakanu/healthReminder/internal/openai"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ReminderStore is the persistence the bot works against.
type ReminderStore interface {
	Save(ctx context.Context, reminder *model.Reminder) error
	Update(ctx context.Context, reminder *model.Reminder) error
	List(ctx context.Context) ([]model.Reminder, error)
	Delete(ctx context.Context, id int64) error
}

// Sender delivers a message to a WhatsApp user.
type Sender interface {
	Send(to, body string) error
}

// Assistant understands free-form reminder requests.
type Assistant interface {
	Enabled() bool
	ClassifyIntent(ctx context.Context, content string) (myopenai.Intent, error)
	ExtractReminder(ctx context.Context, content string) (myopenai.Extraction, error)
}

// Bot coordinates reminder persistence, messaging, and scheduling.
type Bot struct {
	cfg       *config.Config
	store     ReminderStore
	assistant Assistant
	sender    Sender
	cron      *cron.Cron
	state     *conversationStore
	ids       *idSource
	logger    logrus.FieldLogger
}

// New creates a fully configured Bot instance.
func New(cfg *config.Config, store ReminderStore, assistant Assistant, sender Sender, logger logrus.FieldLogger) *Bot {
	return &Bot{
		cfg:       cfg,
		store:     store,
		assistant: assistant,
		sender:    sender,
		cron:      cron.New(cron.WithLocation(cfg.LocalTimezone)),
		state:     newConversationStore(),
		ids:       &idSource{},
		logger:    logger,
	}
}

// StartScheduler checks for due reminders every minute.
func (b *Bot) StartScheduler() error {
	_, err := b.cron.AddFunc("* * * * *", func() {
		b.dispatchDue(context.Background(), time.Now())
	})
	if err != nil {
		return err
	}
	b.cron.Start()
	return nil
}

// StopScheduler stops the cron scheduler gracefully.
func (b *Bot) StopScheduler() {
	ctx := b.cron.Stop()
	<-ctx.Done()
}

// Handler returns the HTTP handler for incoming Twilio messages.
func (b *Bot) Handler() http.HandlerFunc {
	return b.handleIncomingMessage
}

// handleIncomingMessage processes Twilio webhook POST requests.
func (b *Bot) handleIncomingMessage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		b.logger.WithError(err).Warn("webhook: parse error")
		b.writeTwilioResponse(w, "Sorry, I couldn't understand that request.")
		return
	}

	from := r.FormValue("From")
	body := strings.TrimSpace(r.FormValue("Body"))
	if from == "" || body == "" {
		b.writeTwilioResponse(w, "I need a message to work with. Please try again.")
		return
	}

	ctx := r.Context()
	userID := sanitizeWhatsAppNumber(from)

	if b.state.IsAwaitingTime(userID) {
		b.handleTimeResponse(ctx, w, userID, body)
		return
	}

	intent, argument := b.determineIntent(ctx, body, strings.ToLower(body))

	switch intent {
	case myopenai.IntentListReminders:
		list, err := b.listReminders(ctx, userID)
		if err != nil {
			b.logger.WithError(err).Error("list reminders")
			b.writeTwilioResponse(w, "I couldn't load your reminders. Please try again later.")
			return
		}
		if list == "" {
			b.writeTwilioResponse(w, "You have no reminders yet. Send me one to get started!")
			return
		}
		b.writeTwilioResponse(w, list)
	case myopenai.IntentClearReminders:
		if err := b.clearReminders(ctx, userID); err != nil {
			b.logger.WithError(err).Error("clear reminders")
			b.writeTwilioResponse(w, "Hmm, I couldn't clear your reminders. Please try again later.")
			return
		}
		b.writeTwilioResponse(w, "All reminders cleared.")
	case myopenai.IntentDeleteReminder:
		if argument == "" {
			b.writeTwilioResponse(w, "Tell me which reminder to delete, e.g. 'delete 2' or 'delete reminder about medicine'.")
			return
		}
		msg, err := b.deleteReminder(ctx, userID, argument)
		if err != nil {
			b.logger.WithError(err).Info("delete reminder")
			b.writeTwilioResponse(w, "I couldn't find that reminder.")
			return
		}
		b.writeTwilioResponse(w, msg)
	case myopenai.IntentUpdateReminder:
		msg, err := b.rescheduleReminder(ctx, userID, argument)
		if err != nil {
			b.logger.WithError(err).Info("reschedule reminder")
			b.writeTwilioResponse(w, "Tell me which reminder to move and when, e.g. 'change 1 to 09:00'.")
			return
		}
		b.writeTwilioResponse(w, msg)
	case myopenai.IntentHelp:
		b.writeTwilioResponse(w, helpResponse())
	default:
		b.handleNewReminder(ctx, w, userID, body)
	}
}

func (b *Bot) determineIntent(ctx context.Context, message, lowerMessage string) (myopenai.Intent, string) {
	if isClearAllRequest(lowerMessage) {
		return myopenai.IntentClearReminders, ""
	}
	if isListRequest(lowerMessage) {
		return myopenai.IntentListReminders, ""
	}
	if lowerMessage == "help" || lowerMessage == "?" {
		return myopenai.IntentHelp, ""
	}
	if updateRegex.MatchString(message) {
		return myopenai.IntentUpdateReminder, message
	}
	if keyword := extractDeleteKeyword(message); keyword != "" {
		return myopenai.IntentDeleteReminder, keyword
	}
	if remindPrefixRegex.MatchString(message) || b.assistant == nil {
		return myopenai.IntentAddReminder, ""
	}

	intent, err := b.assistant.ClassifyIntent(ctx, message)
	if err != nil {
		if !errors.Is(err, myopenai.ErrClientNotInitialised) {
			b.logger.WithError(err).Warn("intent classification error")
		}
		return myopenai.IntentAddReminder, ""
	}

	switch intent {
	case myopenai.IntentDeleteReminder:
		return intent, extractDeleteKeyword(message)
	case myopenai.IntentUpdateReminder:
		return intent, message
	case myopenai.IntentListReminders,
		myopenai.IntentClearReminders,
		myopenai.IntentHelp,
		myopenai.IntentAddReminder:
		return intent, ""
	default:
		return myopenai.IntentAddReminder, ""
	}
}

func (b *Bot) handleNewReminder(ctx context.Context, w http.ResponseWriter, userID, body string) {
	task, clock := b.extractReminder(ctx, body)
	if task == "" {
		b.writeTwilioResponse(w, "What should I remind you about?")
		return
	}
	if clock == "" {
		b.state.SetPendingTask(userID, task)
		b.writeTwilioResponse(w, b.askForTime(task))
		return
	}
	b.saveAndConfirm(ctx, w, userID, task, clock)
}

func (b *Bot) handleTimeResponse(ctx context.Context, w http.ResponseWriter, userID, body string) {
	if strings.EqualFold(body, "cancel") {
		b.state.PopPendingTask(userID)
		b.writeTwilioResponse(w, "Okay, I dropped that reminder.")
		return
	}

	clock, ok := parseClock(body)
	if !ok {
		b.writeTwilioResponse(w, "Please send a time like 08:00 or 8pm, or 'cancel'.")
		return
	}

	task, ok := b.state.PopPendingTask(userID)
	if !ok {
		b.writeTwilioResponse(w, "I lost track of that reminder. Please send it again.")
		return
	}
	b.saveAndConfirm(ctx, w, userID, task, clock)
}

func (b *Bot) saveAndConfirm(ctx context.Context, w http.ResponseWriter, userID, task, clock string) {
	if err := b.saveReminder(ctx, userID, task, clock); err != nil {
		b.logger.WithError(err).Error("save reminder")
		b.writeTwilioResponse(w, "I couldn't save the reminder. Please try again.")
		return
	}
	b.writeTwilioResponse(w, fmt.Sprintf("Got it! I'll remind you to %s every day at %s.", task, clock))
}

// askForTime prompts the user for the time of day of a pending reminder.
func (b *Bot) askForTime(task string) string {
	return fmt.Sprintf("When should I remind you to %s? Reply with a time like 08:00 or 8pm.", task)
}

// extractReminder splits a message into task and HH:MM time, falling back to
// the assistant when local rules find no time.
func (b *Bot) extractReminder(ctx context.Context, message string) (string, string) {
	task, clock := extractTaskAndTime(message)
	if clock != "" || b.assistant == nil || !b.assistant.Enabled() {
		return task, clock
	}

	extraction, err := b.assistant.ExtractReminder(ctx, message)
	if err != nil {
		b.logger.WithError(err).Warn("openai extraction error")
		return task, clock
	}
	return extraction.Task, extraction.Time
}

// saveReminder persists a new reminder owned by userID.
func (b *Bot) saveReminder(ctx context.Context, userID, task, clock string) error {
	return b.store.Save(ctx, &model.Reminder{
		ID:     b.ids.Next(),
		Task:   task,
		Time:   clock,
		UserID: userID,
	})
}

// userReminders returns the reminders owned by userID ordered by time of day.
func (b *Bot) userReminders(ctx context.Context, userID string) ([]model.Reminder, error) {
	all, err := b.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var owned []model.Reminder
	for _, reminder := range all {
		if reminder.UserID == userID {
			owned = append(owned, reminder)
		}
	}
	slices.SortStableFunc(owned, func(a, c model.Reminder) int {
		if byTime := cmp.Compare(a.Time, c.Time); byTime != 0 {
			return byTime
		}
		return cmp.Compare(a.ID, c.ID)
	})
	return owned, nil
}

// listReminders returns a human-readable list of reminders for a user.
func (b *Bot) listReminders(ctx context.Context, userID string) (string, error) {
	reminders, err := b.userReminders(ctx, userID)
	if err != nil || len(reminders) == 0 {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Here are your reminders:\n")
	for i, r := range reminders {
		sb.WriteString(fmt.Sprintf("%d. %s %s\n", i+1, fallback(r.Time, "--:--"), r.Task))
	}
	return sb.String(), nil
}

// deleteReminder deletes reminders by 1-based list indices ("1,3") or by keyword.
func (b *Bot) deleteReminder(ctx context.Context, userID, argument string) (string, error) {
	reminders, err := b.userReminders(ctx, userID)
	if err != nil {
		return "", err
	}

	if indices := parseIndices(argument); indices != nil {
		for _, index := range indices {
			if index > len(reminders) {
				return "", fmt.Errorf("reminder %d does not exist", index)
			}
		}
		labels := make([]string, 0, len(indices))
		for _, index := range indices {
			if err := b.store.Delete(ctx, reminders[index-1].ID); err != nil {
				return "", err
			}
			labels = append(labels, strconv.Itoa(index))
		}
		return fmt.Sprintf("Deleted reminder(s): %s.", strings.Join(labels, ", ")), nil
	}

	keyword := strings.ToLower(strings.TrimSpace(argument))
	deleted := 0
	for _, reminder := range reminders {
		if !strings.Contains(strings.ToLower(reminder.Task), keyword) {
			continue
		}
		if err := b.store.Delete(ctx, reminder.ID); err != nil {
			return "", err
		}
		deleted++
	}
	if deleted == 0 {
		return "", fmt.Errorf("no reminders match %q", argument)
	}
	return fmt.Sprintf("Deleted reminders matching '%s'.", argument), nil
}

// rescheduleReminder moves the reminder at a list index to a new time.
func (b *Bot) rescheduleReminder(ctx context.Context, userID, message string) (string, error) {
	matches := updateRegex.FindStringSubmatch(message)
	if len(matches) < 3 {
		return "", fmt.Errorf("unrecognised reschedule request %q", message)
	}
	index, err := strconv.Atoi(matches[1])
	if err != nil {
		return "", err
	}
	clock, ok := parseClock(matches[2])
	if !ok {
		return "", fmt.Errorf("invalid time %q", matches[2])
	}

	reminders, err := b.userReminders(ctx, userID)
	if err != nil {
		return "", err
	}
	if index < 1 || index > len(reminders) {
		return "", fmt.Errorf("reminder %d does not exist", index)
	}

	reminder := reminders[index-1]
	reminder.Time = clock
	if err := b.store.Update(ctx, &reminder); err != nil {
		return "", err
	}
	return fmt.Sprintf("Moved '%s' to %s.", reminder.Task, clock), nil
}

// clearReminders removes every reminder owned by userID.
func (b *Bot) clearReminders(ctx context.Context, userID string) error {
	reminders, err := b.userReminders(ctx, userID)
	if err != nil {
		return err
	}
	for _, reminder := range reminders {
		if err := b.store.Delete(ctx, reminder.ID); err != nil {
			return err
		}
	}
	return nil
}

// dispatchDue sends every reminder scheduled for the minute of now and
// returns how many were delivered.
func (b *Bot) dispatchDue(ctx context.Context, now time.Time) int {
	reminders, err := b.store.List(ctx)
	if err != nil {
		b.logger.WithError(err).Error("scheduler: list reminders")
		return 0
	}

	clock := now.In(b.cfg.LocalTimezone).Format("15:04")
	sent := 0
	for _, reminder := range reminders {
		if reminder.Time != clock || reminder.UserID == "" {
			continue
		}
		message := fmt.Sprintf("Reminder: %s (%s)", reminder.Task, reminder.Time)
		if err := b.sender.Send(reminder.UserID, message); err != nil {
			b.logger.WithError(err).WithField("id", reminder.ID).Warn("scheduler: send reminder")
			continue
		}
		sent++
	}
	return sent
}

func (b *Bot) writeTwilioResponse(w http.ResponseWriter, message string) {
	twiml := struct {
		XMLName xml.Name `xml:"Response"`
		Message string   `xml:"Message"`
	}{
		Message: message,
	}

	w.Header().Set("Content-Type", "application/xml")
	if err := xml.NewEncoder(w).Encode(twiml); err != nil {
		b.logger.WithError(err).Error("twilio response encode")
	}
}

func isListRequest(body string) bool {
	return strings.Contains(body, "show my reminders") ||
		strings.Contains(body, "list my reminders") ||
		strings.Contains(body, "show reminders") ||
		strings.Contains(body, "list reminders") ||
		(strings.Contains(body, "list") && strings.Contains(body, "reminder"))
}

func isClearAllRequest(body string) bool {
	return body == "clear all reminders" ||
		body == "clear reminders" ||
		body == "delete all reminders"
}

func sanitizeWhatsAppNumber(from string) string {
	// Twilio prepends whatsapp: to the number.
	return strings.TrimPrefix(from, "whatsapp:")
}

func fallback(primary, secondary string) string {
	if strings.TrimSpace(primary) == "" {
		return secondary
	}
	return primary
}

func helpResponse() string {
	return "You can say things like:\n- \"Remind me to take medicine at 8am\" to add a daily reminder\n- \"List reminders\" to see everything saved\n- \"Change 1 to 09:00\" to move a reminder\n- \"Delete 2\" or \"Delete reminder about water\" to remove one\n- \"Clear all reminders\" to wipe everything"
}

var (
	deleteKeywordRegex = regexp.MustCompile(`(?i)^\s*(?:delete|remove)(?:\s+reminder(?:s)?(?:\s+about)?)?\s*(.*)$`)
	updateRegex        = regexp.MustCompile(`(?i)^\s*(?:change|move|reschedule|update)\s+(?:reminder\s+)?#?(\d+)\s+to\s+(.+?)\s*$`)
	remindPrefixRegex  = regexp.MustCompile(`(?i)^\s*(?:please\s+)?remind\s+me\s+(?:to\s+)?`)
	trailingTimeRegex  = regexp.MustCompile(`(?i)^(.+?)\s+(?:at|@)\s+(\d{1,2}(?::\d{2})?(?:\s*[ap]m)?)\s*$`)
	clockRegex         = regexp.MustCompile(`(?i)^(\d{1,2})(?::(\d{2}))?\s*([ap]m)?$`)
)

func extractDeleteKeyword(message string) string {
	matches := deleteKeywordRegex.FindStringSubmatch(message)
	if len(matches) < 2 {
		return ""
	}
	return strings.TrimSpace(matches[1])
}

// extractTaskAndTime strips a "remind me to" prefix and a trailing "at <time>".
func extractTaskAndTime(message string) (string, string) {
	task := strings.TrimSpace(remindPrefixRegex.ReplaceAllString(message, ""))
	if matches := trailingTimeRegex.FindStringSubmatch(task); len(matches) == 3 {
		if clock, ok := parseClock(matches[2]); ok {
			return strings.TrimSpace(matches[1]), clock
		}
	}
	return task, ""
}

// parseClock normalises "8", "8:30", "8pm" or "20:15" to HH:MM.
func parseClock(input string) (string, bool) {
	matches := clockRegex.FindStringSubmatch(strings.TrimSpace(input))
	if matches == nil {
		return "", false
	}
	hour, _ := strconv.Atoi(matches[1])
	minute := 0
	if matches[2] != "" {
		minute, _ = strconv.Atoi(matches[2])
	}

	switch strings.ToLower(matches[3]) {
	case "am":
		if hour < 1 || hour > 12 {
			return "", false
		}
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 1 || hour > 12 {
			return "", false
		}
		if hour != 12 {
			hour += 12
		}
	}
	if hour > 23 || minute > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), true
}

// parseIndices parses "1,3" or "1 3" into positive indices; nil on any bad entry.
func parseIndices(input string) []int {
	fields := strings.FieldsFunc(input, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) == 0 {
		return nil
	}
	indices := make([]int, 0, len(fields))
	for _, field := range fields {
		index, err := strconv.Atoi(field)
		if err != nil || index < 1 {
			return nil
		}
		indices = append(indices, index)
	}
	return indices
}

// idSource hands out millisecond-timestamp ids, strictly increasing.
type idSource struct {
	mu   sync.Mutex
	last int64
}

func (s *idSource) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := time.Now().UnixMilli()
	if id <= s.last {
		id = s.last + 1
	}
	s.last = id
	return id
}

type conversationStore struct {
	mu    sync.RWMutex
	state map[string]conversationState
}

type conversationState struct {
	AwaitingTime bool
	PendingTask  string
}

func newConversationStore() *conversationStore {
	return &conversationStore{
		state: make(map[string]conversationState),
	}
}

func (c *conversationStore) SetPendingTask(userID, task string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[userID] = conversationState{
		AwaitingTime: true,
		PendingTask:  task,
	}
}

func (c *conversationStore) PopPendingTask(userID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.state[userID]
	if !ok {
		return "", false
	}
	delete(c.state, userID)
	return state.PendingTask, true
}

func (c *conversationStore) IsAwaitingTime(userID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state, ok := c.state[userID]
	return ok && state.AwaitingTime
}
