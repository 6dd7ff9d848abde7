package streamevent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	payload := `{"type":"streamEvent","eventType":"reasoning_end","eventData":{"messageId":"m1","durationSec":12,"model":"o3"},"url":"https://chatgpt.com/c/abc","timestamp":1700000000000}`
	msg, err := Parse([]byte(payload), "T1")
	require.NoError(t, err)
	assert.Equal(t, "reasoning_end", msg.EventType)
	assert.Equal(t, "https://chatgpt.com/c/abc", msg.URL)
	assert.EqualValues(t, "T1", msg.TabID)
	assert.EqualValues(t, 1700000000000, msg.Timestamp)
	assert.JSONEq(t, `{"messageId":"m1","durationSec":12,"model":"o3"}`, string(msg.EventData))

	s := Summarize(msg)
	assert.Equal(t, "o3", s.Model)
	assert.EqualValues(t, 12, s.DurationSec)
	assert.True(t, s.HasDuration)
}

func TestParseMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":       `{"type":`,
		"array":          `[1,2]`,
		"wrong type":     `{"type":"other","eventType":"x","url":"https://chatgpt.com/"}`,
		"no event type":  `{"type":"streamEvent","url":"https://chatgpt.com/"}`,
		"no url":         `{"type":"streamEvent","eventType":"reasoning_end"}`,
		"empty document": ``,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(payload), "T1")
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecorateMessage(t *testing.T) {
	base := "ChatGPT 推理已结束，正在输出回答。"
	assert.Equal(t, base, DecorateMessage(base, Summary{}))
	assert.Equal(t, base, DecorateMessage(base, Summary{HasDuration: true}))
	assert.Equal(t, base+"（思考 8 秒）", DecorateMessage(base, Summary{DurationSec: 8, HasDuration: true}))

	msg, err := Parse([]byte(`{"type":"streamEvent","eventType":"first_token","url":"https://chatgpt.com/"}`), "T1")
	require.NoError(t, err)
	assert.Empty(t, msg.EventData)
	assert.Equal(t, Summary{}, Summarize(msg))
}
