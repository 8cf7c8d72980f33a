package telegram

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserIDRoundTrip(t *testing.T) {
	assert.Equal(t, "tg:42", UserID(42))
	assert.Equal(t, "tg:-100123", UserID(-100123))

	id, ok := ChatIDFromUser("tg:42")
	assert.True(t, ok)
	assert.EqualValues(t, 42, id)

	for _, userID := range []string{"", "42", "tg:", "tg:abc", "tg:0", "6f1c-uuid"} {
		_, ok := ChatIDFromUser(userID)
		assert.False(t, ok, userID)
	}
}

func TestParseSearch(t *testing.T) {
	tests := []struct {
		args      string
		language  string
		interests []string
		wantErr   bool
	}{
		{args: "en chess", language: "en", interests: []string{"chess"}},
		{args: "  EN   chess,Music  ", language: "en", interests: []string{"chess", "Music"}},
		{args: "uk музика, книги", language: "uk", interests: []string{"музика", "книги"}},
		{args: "en a,,b c", language: "en", interests: []string{"a", "b", "c"}},
		{args: "", wantErr: true},
		{args: "en", wantErr: true},
		{args: "en ,,,", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.args, func(t *testing.T) {
			language, interests, err := ParseSearch(tt.args)
			if tt.wantErr {
				assert.ErrorIs(t, err, errSearchUsage)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.language, language)
			assert.Equal(t, tt.interests, interests)
		})
	}
}
