package dataset

import (
	"sync"
	"testing"

	"github.com/fyerfyer/paper-dataset/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(chunk, index int, texts ...string) models.SynthesizedSample {
	s := models.SynthesizedSample{ChunkIndex: chunk, SampleIndex: index, Valid: true, Model: "test-model"}
	for i, text := range texts {
		speaker := models.SpeakerUser
		if i%2 == 1 {
			speaker = models.SpeakerAssistant
		}
		s.Turns = append(s.Turns, models.Turn{Speaker: speaker, Text: text})
	}
	return s
}

func TestAppendDeduplicatesWithinChunk(t *testing.T) {
	ds := New()

	added, err := ds.Append(sample(0, 0, "What is X?", "X is a method."))
	require.NoError(t, err)
	assert.True(t, added)

	// 同一块内相同内容视为重复
	added, err = ds.Append(sample(0, 1, "What is X?", "X is a method."))
	require.NoError(t, err)
	assert.False(t, added)

	// 不同块的相同内容保留
	added, err = ds.Append(sample(1, 0, "What is X?", "X is a method."))
	require.NoError(t, err)
	assert.True(t, added)

	assert.Equal(t, 2, ds.Len())
}

func TestAppendRejectsInvalid(t *testing.T) {
	ds := New()

	invalid := sample(0, 0, "q", "a")
	invalid.Valid = false
	added, err := ds.Append(invalid)
	require.NoError(t, err)
	assert.False(t, added)

	added, err = ds.Append(models.SynthesizedSample{Valid: true})
	require.NoError(t, err)
	assert.False(t, added)

	assert.Zero(t, ds.Len())
}

func TestAppendAfterFreeze(t *testing.T) {
	ds := New()
	_, err := ds.Append(sample(0, 0, "q", "a"))
	require.NoError(t, err)

	ds.Freeze()
	assert.True(t, ds.Frozen())

	added, err := ds.Append(sample(1, 0, "q2", "a2"))
	assert.ErrorIs(t, err, ErrFrozen)
	assert.False(t, added)
	assert.Equal(t, 1, ds.Len())
}

func TestSamplesOrderIndependentOfArrival(t *testing.T) {
	inputs := []models.SynthesizedSample{
		sample(2, 1, "c", "d"),
		sample(0, 0, "a", "b"),
		sample(2, 0, "e", "f"),
		sample(1, 0, "g", "h"),
		sample(0, 1, "i", "j"),
	}

	sequential := New()
	for _, s := range inputs {
		_, err := sequential.Append(s)
		require.NoError(t, err)
	}

	concurrent := New()
	var wg sync.WaitGroup
	for i := len(inputs) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(s models.SynthesizedSample) {
			defer wg.Done()
			_, _ = concurrent.Append(s)
		}(inputs[i])
	}
	wg.Wait()

	want := sequential.Samples()
	got := concurrent.Samples()
	require.Len(t, got, len(inputs))
	assert.Equal(t, want, got)

	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		assert.True(t, prev.ChunkIndex < cur.ChunkIndex ||
			(prev.ChunkIndex == cur.ChunkIndex && prev.SampleIndex <= cur.SampleIndex))
	}
}

func TestSamplesReturnsCopy(t *testing.T) {
	ds := New()
	original := sample(0, 0, "q", "a")
	_, err := ds.Append(original)
	require.NoError(t, err)

	// 调用方修改原切片不影响数据集
	original.Turns[0].Text = "changed"
	got := ds.Samples()
	assert.Equal(t, "q", got[0].Turns[0].Text)

	got[0].Turns[0].Text = "changed again"
	assert.Equal(t, "q", ds.Samples()[0].Turns[0].Text)
}

func TestSampleIDStable(t *testing.T) {
	a := sample(3, 1, "q", "a")
	b := sample(3, 1, "q", "a")
	assert.Equal(t, SampleID(a), SampleID(b))
	assert.Regexp(t, `^3-1-[0-9a-f]{12}$`, SampleID(a))

	c := sample(3, 1, "q", "different")
	assert.NotEqual(t, SampleID(a), SampleID(c))
}

func TestTurnHashSeparatesFields(t *testing.T) {
	a := []models.Turn{{Speaker: models.SpeakerUser, Text: "ab"}}
	b := []models.Turn{{Speaker: "usera", Text: "b"}}
	assert.NotEqual(t, TurnHash(a), TurnHash(b))
}

func TestStats(t *testing.T) {
	ds := New()
	_, _ = ds.Append(sample(0, 0, "what is this", "a short answer", "why", "because"))
	_, _ = ds.Append(sample(1, 0, "hello there", "hi"))

	stats := ds.Stats()
	assert.Equal(t, 2, stats.Samples)
	assert.Equal(t, 2, stats.Chunks)
	assert.InDelta(t, 3.0, stats.AverageTurns, 0.001)
	assert.Equal(t, 3, stats.TurnsBySpeaker["user"])
	assert.Equal(t, 3, stats.TurnsBySpeaker["assistant"])
	assert.Equal(t, 11, stats.TotalWords)
}

func TestStatsEmpty(t *testing.T) {
	stats := New().Stats()
	assert.Zero(t, stats.Samples)
	assert.Zero(t, stats.AverageTurns)
}
