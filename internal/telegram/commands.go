package telegram

import (
	"errors"
	"strconv"
	"strings"

	"pairchat/backend/internal/models"
)

const userPrefix = "tg:"

// Callback data prefixes of inline keyboard buttons.
const (
	callbackLanguage = "lang:"
	callbackReport   = "report:"
)

// Preference fields kept per Telegram user.
const (
	prefLanguage   = "lang"
	prefLastSearch = "last_search"
)

// Telegram users have no age group; they all share this one.
const telegramAgeGroup = "any"

var errSearchUsage = errors.New("usage: /search <language> <interest,...>")

// UserID maps a Telegram chat to the anonymous user id used by the services.
func UserID(chatID int64) string {
	return userPrefix + strconv.FormatInt(chatID, 10)
}

// ChatIDFromUser is the inverse of UserID. It reports false for users that do
// not come from Telegram.
func ChatIDFromUser(userID string) (int64, bool) {
	rest, ok := strings.CutPrefix(userID, userPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// ParseSearch reads "<language> <interest,...>". Interests may be separated
// by commas or spaces.
func ParseSearch(args string) (language string, interests []string, err error) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return "", nil, errSearchUsage
	}

	language = strings.ToLower(fields[0])
	for _, f := range fields[1:] {
		for _, tag := range strings.Split(f, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				interests = append(interests, tag)
			}
		}
	}
	if len(interests) == 0 {
		return "", nil, errSearchUsage
	}
	return language, interests, nil
}

// lastSearch is the stored form of the most recent /search.
type lastSearch struct {
	Language  string   `json:"language"`
	Interests []string `json:"interests"`
}

func (l lastSearch) request(userID string) models.MatchRequest {
	return models.MatchRequest{
		UserID:    userID,
		Interests: l.Interests,
		Language:  l.Language,
		AgeGroup:  telegramAgeGroup,
	}
}
