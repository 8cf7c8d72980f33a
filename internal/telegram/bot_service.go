// Package telegram is a chat front-end on top of the matcher, relay and
// lifecycle services. Each Telegram chat is one anonymous user.
package telegram

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"pairchat/backend/internal/analysis"
	"pairchat/backend/internal/apperr"
	"pairchat/backend/internal/chathub"
	"pairchat/backend/internal/localization"
	"pairchat/backend/internal/logger"
	"pairchat/backend/internal/models"
)

const (
	defaultPollInterval = 20 * time.Second
	defaultSearchLimit  = 10 * time.Minute
	clientBuffer        = 16
)

// Sender is the part of the Bot API the service writes through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Matcher interface {
	AttemptMatch(ctx context.Context, req models.MatchRequest) (*models.MatchOutcome, error)
	CancelMatch(ctx context.Context, userID string) (bool, error)
}

type Relay interface {
	PostMessage(ctx context.Context, sessionID, authorID, content, msgType string) (*models.Message, error)
}

type Lifecycle interface {
	ActiveSessionFor(ctx context.Context, userID string) (*models.Session, error)
	EndSession(ctx context.Context, sessionID, byUserID string) (*models.Session, error)
	ReportSession(ctx context.Context, sessionID, reporterID, category, reason string) (*models.Report, error)
}

type Preferences interface {
	SetPreference(ctx context.Context, userID, field, value string) error
	GetPreference(ctx context.Context, userID, field string) (string, error)
}

type search struct {
	cancel context.CancelFunc
}

type pendingReport struct {
	sessionID string
	category  string
}

// BotService receives Telegram updates and drives the chat services.
type BotService struct {
	API       *tgbotapi.BotAPI
	Bot       Sender
	Hub       *chathub.ManagerService
	Matcher   Matcher
	Relay     Relay
	Lifecycle Lifecycle
	Prefs     Preferences
	Localizer *localization.Localizer

	// PollInterval refreshes a waiting search; it must stay below the
	// waiting entry TTL. SearchLimit gives up on a search.
	PollInterval time.Duration
	SearchLimit  time.Duration

	mu       sync.Mutex
	searches map[int64]*search
	reports  map[int64]*pendingReport
	baseCtx  context.Context

	log *slog.Logger
}

// NewBotService authorizes the bot token and builds the service.
func NewBotService(token string, hub *chathub.ManagerService, m Matcher, r Relay, lc Lifecycle, prefs Preferences, loc *localization.Localizer) (*BotService, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	api.Debug = false

	s := newBotService(api, hub, m, r, lc, prefs, loc)
	s.API = api
	s.log.Info("authorized on telegram", "account", api.Self.UserName)
	return s, nil
}

func newBotService(bot Sender, hub *chathub.ManagerService, m Matcher, r Relay, lc Lifecycle, prefs Preferences, loc *localization.Localizer) *BotService {
	return &BotService{
		Bot:          bot,
		Hub:          hub,
		Matcher:      m,
		Relay:        r,
		Lifecycle:    lc,
		Prefs:        prefs,
		Localizer:    loc,
		PollInterval: defaultPollInterval,
		SearchLimit:  defaultSearchLimit,
		searches:     make(map[int64]*search),
		reports:      make(map[int64]*pendingReport),
		baseCtx:      context.Background(),
		log:          logger.With("component", "telegram"),
	}
}

// Run processes updates until ctx ends. RestoreClient should be installed
// on the hub before the hub starts.
func (s *BotService) Run(ctx context.Context) {
	s.baseCtx = ctx

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := s.API.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			s.API.StopReceivingUpdates()
			s.stopAllSearches()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			s.HandleUpdate(ctx, update)
		}
	}
}

// RestoreClient creates a client for Telegram users so hub events reach them
// after a restart. Other users are left alone.
func (s *BotService) RestoreClient(userID string) (chathub.Client, error) {
	chatID, ok := ChatIDFromUser(userID)
	if !ok {
		return nil, nil
	}
	return s.newClient(chatID), nil
}

func (s *BotService) newClient(chatID int64) *Client {
	return &Client{
		UserID:    UserID(chatID),
		ChatID:    chatID,
		Send:      make(chan models.Event, clientBuffer),
		Bot:       s.Bot,
		Localizer: s.Localizer,
		Language:  s.language,
		OnEvent:   s.onClientEvent,
	}
}

// ensureClient registers a hub client for the chat if it has none.
func (s *BotService) ensureClient(chatID int64) {
	if s.Hub == nil || s.Hub.IsConnected(UserID(chatID)) {
		return
	}
	client := s.newClient(chatID)
	if s.Hub.Register(client) {
		client.Run()
	}
}

func (s *BotService) onClientEvent(chatID int64, event models.Event) {
	// The partner formed the session; the search is over.
	if event.Type == models.EventMatched {
		s.stopSearch(chatID)
	}
}

// HandleUpdate processes one update.
func (s *BotService) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		s.handleCallbackQuery(ctx, update.CallbackQuery)
	case update.Message != nil:
		s.handleMessage(ctx, update.Message)
	}
}

func (s *BotService) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	s.ensureClient(chatID)
	s.rememberLanguage(ctx, chatID, msg.From)

	if msg.IsCommand() {
		switch msg.Command() {
		case "start", "help":
			s.reply(chatID, "welcome")
		case "search":
			s.handleSearch(ctx, chatID, msg.CommandArguments())
		case "stop":
			s.handleStop(ctx, chatID, true)
		case "next":
			s.handleNext(ctx, chatID)
		case "report":
			s.handleReportCommand(ctx, chatID)
		case "language":
			s.handleLanguageCommand(ctx, chatID)
		default:
			s.reply(chatID, "welcome")
		}
		return
	}

	if msg.Text == "" {
		s.reply(chatID, "unsupported_message_type")
		return
	}
	if s.takeReport(ctx, chatID, msg.Text) {
		return
	}
	s.handleText(ctx, chatID, msg.Text)
}

func (s *BotService) handleText(ctx context.Context, chatID int64, text string) {
	userID := UserID(chatID)
	session, err := s.Lifecycle.ActiveSessionFor(ctx, userID)
	if err != nil {
		s.replyError(chatID, err)
		return
	}
	if session == nil {
		s.reply(chatID, "not_in_chat")
		return
	}
	if _, err := s.Relay.PostMessage(ctx, session.ID, userID, text, models.MessageText); err != nil {
		s.replyError(chatID, err)
	}
}

func (s *BotService) handleSearch(ctx context.Context, chatID int64, args string) {
	language, interests, err := ParseSearch(args)
	if err != nil {
		s.reply(chatID, "search_usage")
		return
	}

	last := lastSearch{Language: language, Interests: interests}
	if data, err := json.Marshal(last); err == nil {
		if err := s.Prefs.SetPreference(ctx, UserID(chatID), prefLastSearch, string(data)); err != nil {
			s.log.Warn("failed to save last search", "chat_id", chatID, "err", err)
		}
	}
	s.startSearch(ctx, chatID, last.request(UserID(chatID)))
}

// handleStop ends the active session or cancels the search. It reports
// whether there was anything to stop.
func (s *BotService) handleStop(ctx context.Context, chatID int64, announceIdle bool) bool {
	userID := UserID(chatID)
	s.stopSearch(chatID)

	session, err := s.Lifecycle.ActiveSessionFor(ctx, userID)
	if err != nil {
		s.replyError(chatID, err)
		return false
	}
	if session != nil {
		if _, err := s.Lifecycle.EndSession(ctx, session.ID, userID); err != nil {
			s.replyError(chatID, err)
			return false
		}
		s.reply(chatID, "you_left")
		return true
	}

	cancelled, err := s.Matcher.CancelMatch(ctx, userID)
	if err != nil {
		s.replyError(chatID, err)
		return false
	}
	switch {
	case cancelled:
		s.reply(chatID, "search_cancelled")
	case announceIdle:
		s.reply(chatID, "nothing_to_stop")
	}
	return cancelled
}

func (s *BotService) handleNext(ctx context.Context, chatID int64) {
	s.handleStop(ctx, chatID, false)

	raw, err := s.Prefs.GetPreference(ctx, UserID(chatID), prefLastSearch)
	if err != nil {
		s.replyError(chatID, err)
		return
	}
	var last lastSearch
	if raw == "" || json.Unmarshal([]byte(raw), &last) != nil {
		s.reply(chatID, "no_previous_search")
		return
	}
	s.startSearch(ctx, chatID, last.request(UserID(chatID)))
}

// startSearch makes the first attempt and keeps polling in the background
// while the user waits.
func (s *BotService) startSearch(ctx context.Context, chatID int64, req models.MatchRequest) {
	s.stopSearch(chatID)

	outcome, err := s.Matcher.AttemptMatch(ctx, req)
	if err != nil {
		s.replySearchError(chatID, err)
		return
	}
	if outcome.Matched() {
		s.sendMatched(chatID, outcome)
		return
	}

	s.reply(chatID, "searching")

	searchCtx, cancel := context.WithTimeout(s.baseCtx, s.SearchLimit)
	current := &search{cancel: cancel}
	s.mu.Lock()
	s.searches[chatID] = current
	s.mu.Unlock()

	go s.pollSearch(searchCtx, current, chatID, req)
}

func (s *BotService) pollSearch(ctx context.Context, current *search, chatID int64, req models.MatchRequest) {
	defer s.clearSearch(chatID, current)

	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				if _, err := s.Matcher.CancelMatch(context.WithoutCancel(ctx), req.UserID); err != nil {
					s.log.Warn("failed to cancel expired search", "chat_id", chatID, "err", err)
				}
				s.reply(chatID, "search_expired")
			}
			return

		case <-ticker.C:
			outcome, err := s.Matcher.AttemptMatch(ctx, req)
			if err != nil {
				if apperr.KindOf(err) == apperr.Forbidden {
					s.replySearchError(chatID, err)
					return
				}
				s.log.Warn("search poll failed", "chat_id", chatID, "err", err)
				continue
			}
			if outcome.Matched() {
				// When the partner formed the session the hub has told us already.
				if outcome.Created {
					s.sendMatched(chatID, outcome)
				}
				return
			}
		}
	}
}

func (s *BotService) stopSearch(chatID int64) {
	s.mu.Lock()
	current, ok := s.searches[chatID]
	delete(s.searches, chatID)
	s.mu.Unlock()
	if ok {
		current.cancel()
	}
}

// clearSearch forgets the search unless a newer one replaced it.
func (s *BotService) clearSearch(chatID int64, current *search) {
	current.cancel()
	s.mu.Lock()
	if s.searches[chatID] == current {
		delete(s.searches, chatID)
	}
	s.mu.Unlock()
}

func (s *BotService) stopAllSearches() {
	s.mu.Lock()
	searches := s.searches
	s.searches = make(map[int64]*search)
	s.mu.Unlock()
	for _, current := range searches {
		current.cancel()
	}
}

// IsSearching reports whether a background search runs for the chat.
func (s *BotService) IsSearching(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.searches[chatID]
	return ok
}

func (s *BotService) sendMatched(chatID int64, outcome *models.MatchOutcome) {
	text, _ := renderEvent(s.Localizer, s.language(UserID(chatID)), UserID(chatID), models.Event{
		Type:      models.EventMatched,
		SessionID: outcome.SessionID,
		Partner:   outcome.Partner,
	})
	s.send(chatID, tgbotapi.NewMessage(chatID, text))
}

func (s *BotService) handleReportCommand(ctx context.Context, chatID int64) {
	session, err := s.Lifecycle.ActiveSessionFor(ctx, UserID(chatID))
	if err != nil {
		s.replyError(chatID, err)
		return
	}
	if session == nil {
		s.reply(chatID, "not_in_chat")
		return
	}

	lang := s.language(UserID(chatID))
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, category := range analysis.Categories() {
		label := s.Localizer.GetString(lang, "report_"+strings.ToLower(category))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, callbackReport+session.ID+":"+category),
		))
	}
	msg := tgbotapi.NewMessage(chatID, s.Localizer.GetString(lang, "report_choose"))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	s.send(chatID, msg)
}

// takeReport consumes text as the reason of a pending report.
func (s *BotService) takeReport(ctx context.Context, chatID int64, reason string) bool {
	s.mu.Lock()
	pending, ok := s.reports[chatID]
	delete(s.reports, chatID)
	s.mu.Unlock()
	if !ok {
		return false
	}

	if _, err := s.Lifecycle.ReportSession(ctx, pending.sessionID, UserID(chatID), pending.category, reason); err != nil {
		s.replyError(chatID, err)
		return true
	}
	s.reply(chatID, "report_sent")
	return true
}

func (s *BotService) handleLanguageCommand(ctx context.Context, chatID int64) {
	var buttons []tgbotapi.InlineKeyboardButton
	for _, lang := range s.Localizer.Languages() {
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(strings.ToUpper(lang), callbackLanguage+lang))
	}
	msg := tgbotapi.NewMessage(chatID, s.Localizer.GetString(s.language(UserID(chatID)), "choose_language"))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(buttons...))
	s.send(chatID, msg)
}

func (s *BotService) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	// Clears the button's loading state.
	if _, err := s.Bot.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		s.log.Warn("failed to answer callback", "err", err)
	}
	if query.Message == nil {
		return
	}
	chatID := query.Message.Chat.ID

	switch {
	case strings.HasPrefix(query.Data, callbackLanguage):
		lang := strings.TrimPrefix(query.Data, callbackLanguage)
		if !s.Localizer.Has(lang) {
			return
		}
		if err := s.Prefs.SetPreference(ctx, UserID(chatID), prefLanguage, lang); err != nil {
			s.replyError(chatID, err)
			return
		}
		s.reply(chatID, "language_changed")

	case strings.HasPrefix(query.Data, callbackReport):
		sessionID, category, ok := strings.Cut(strings.TrimPrefix(query.Data, callbackReport), ":")
		if !ok || !analysis.ValidCategory(category) {
			return
		}
		s.mu.Lock()
		s.reports[chatID] = &pendingReport{sessionID: sessionID, category: category}
		s.mu.Unlock()
		s.reply(chatID, "report_reason_prompt")
	}
}

// rememberLanguage adopts the Telegram client language on first contact.
func (s *BotService) rememberLanguage(ctx context.Context, chatID int64, from *tgbotapi.User) {
	if from == nil || from.LanguageCode == "" {
		return
	}
	userID := UserID(chatID)
	current, err := s.Prefs.GetPreference(ctx, userID, prefLanguage)
	if err != nil || current != "" {
		return
	}
	lang := strings.ToLower(from.LanguageCode)
	if !s.Localizer.Has(lang) {
		return
	}
	if err := s.Prefs.SetPreference(ctx, userID, prefLanguage, lang); err != nil {
		s.log.Warn("failed to save language", "chat_id", chatID, "err", err)
	}
}

func (s *BotService) language(userID string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	lang, err := s.Prefs.GetPreference(ctx, userID, prefLanguage)
	if err != nil || lang == "" {
		return localization.DefaultLanguage
	}
	return lang
}

func (s *BotService) reply(chatID int64, key string) {
	s.send(chatID, tgbotapi.NewMessage(chatID, s.Localizer.GetString(s.language(UserID(chatID)), key)))
}

func (s *BotService) replyError(chatID int64, err error) {
	key := errorKeyForKind(apperr.KindOf(err))
	if key == "error_generic" {
		s.log.Error("telegram request failed", "chat_id", chatID, "err", err)
	}
	s.reply(chatID, key)
}

// replySearchError explains a failed match attempt. The matcher refuses
// banned users with Forbidden.
func (s *BotService) replySearchError(chatID int64, err error) {
	switch apperr.KindOf(err) {
	case apperr.Forbidden:
		s.reply(chatID, "banned")
	case apperr.Validation:
		s.reply(chatID, "search_usage")
	default:
		s.replyError(chatID, err)
	}
}

func (s *BotService) send(chatID int64, c tgbotapi.Chattable) {
	if _, err := s.Bot.Send(c); err != nil {
		s.log.Warn("failed to send telegram message", "chat_id", chatID, "err", err)
	}
}
