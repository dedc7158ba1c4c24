package broker

import (
	"testing"

	"github.com/IliaW/chapter-scrape-worker/internal/model"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTask(t *testing.T) {
	task, err := DecodeTask([]byte(`{"url":"https://example.com/ch-1","use_lazy":true,"allowed_to_scrape":true}`))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/ch-1", task.URL)
	assert.True(t, task.IsAllowedToScrape)

	req := task.Request()
	assert.True(t, req.LazyMode)
	assert.False(t, req.PrependBase)
}

func TestDecodeTaskRejectsBadInput(t *testing.T) {
	_, err := DecodeTask([]byte(`{"url":`))
	assert.Error(t, err)

	_, err = DecodeTask([]byte(`{"url":"  "}`))
	assert.EqualError(t, err, "task has no url")
}

func TestMessageIsKeyedByURL(t *testing.T) {
	scrape := &model.ChapterScrape{
		URL:        "https://example.com/ch-2",
		Images:     []string{"https://cdn.example.com/1.jpg", "https://cdn.example.com/2.jpg"},
		ImageCount: 2,
		Status:     "success",
	}
	msg, err := Message(scrape)
	require.NoError(t, err)
	assert.Equal(t, []byte(scrape.URL), msg.Key)

	var decoded model.ChapterScrape
	require.NoError(t, jsoniter.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, scrape.Images, decoded.Images)
}
