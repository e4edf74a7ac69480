package diarization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionUtterances() []Utterance {
	return []Utterance{
		{Speaker: "A", Text: "Hi there", Start: 0, End: 2000},
		{Speaker: "B", Text: "Hello how are you doing today", Start: 2000, End: 8000},
	}
}

func TestFormatTimestamp(t *testing.T) {
	testCases := []struct {
		ms       int64
		expected string
	}{
		{0, "0:00"},
		{2000, "0:02"},
		{65_000, "1:05"},
		{59*60_000 + 59_999, "59:59"},
		{3_600_000, "1:00:00"},
		{3_600_000 + 5*60_000 + 7_000, "1:05:07"},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, FormatTimestamp(tc.ms), "ms=%d", tc.ms)
	}
}

func TestFormatTranscript(t *testing.T) {
	utterances := []Utterance{
		{Speaker: "A", Text: "  Hi there ", Start: 0, End: 2000},
		{Speaker: "B", Text: "Hello", Start: 3_661_000, End: 3_662_000},
	}

	got := FormatTranscript(utterances, "ignored")
	assert.Equal(t, "0:00 [Speaker A]: Hi there\n\n1:01:01 [Speaker B]: Hello", got)
}

func TestFormatTranscript_FallsBackWithoutUtterances(t *testing.T) {
	assert.Equal(t, "flat text", FormatTranscript(nil, "flat text"))
	assert.Equal(t, "", FormatTranscript([]Utterance{}, ""))
}

func TestAggregateSpeakerStats_Session(t *testing.T) {
	result := AggregateSpeakerStats(sessionUtterances(), 8)

	require.Equal(t, 2, result.SpeakerCount)
	assert.Equal(t, float64(8), result.TotalDuration)

	b := result.Speakers[0]
	assert.Equal(t, "B", b.ID)
	assert.Equal(t, "Speaker B", b.Label)
	assert.Equal(t, int64(6000), b.TalkTimeMs)
	assert.Equal(t, 75, b.TalkTimePercent)
	assert.Equal(t, 6, b.WordCount)
	assert.Equal(t, 1, b.UtteranceCount)

	a := result.Speakers[1]
	assert.Equal(t, "A", a.ID)
	assert.Equal(t, int64(2000), a.TalkTimeMs)
	assert.Equal(t, 25, a.TalkTimePercent)
	assert.Equal(t, 2, a.WordCount)
}

func TestAggregateSpeakerStats_Empty(t *testing.T) {
	result := AggregateSpeakerStats(nil, 42.5)

	assert.Equal(t, 0, result.SpeakerCount)
	assert.NotNil(t, result.Speakers)
	assert.Empty(t, result.Speakers)
	assert.Equal(t, 42.5, result.TotalDuration)
}

func TestAggregateSpeakerStats_SortsByTalkTime(t *testing.T) {
	result := AggregateSpeakerStats([]Utterance{
		{Speaker: "A", Text: "one", Start: 0, End: 1000},
		{Speaker: "B", Text: "two", Start: 1000, End: 4000},
	}, 4)

	assert.Equal(t, "B", result.Speakers[0].ID)
	assert.Equal(t, "A", result.Speakers[1].ID)
}

func TestAggregateSpeakerStats_TiesKeepFirstSeenOrder(t *testing.T) {
	result := AggregateSpeakerStats([]Utterance{
		{Speaker: "C", Text: "x", Start: 0, End: 1000},
		{Speaker: "A", Text: "y", Start: 1000, End: 2000},
		{Speaker: "B", Text: "z", Start: 2000, End: 3000},
	}, 3)

	ids := []string{result.Speakers[0].ID, result.Speakers[1].ID, result.Speakers[2].ID}
	assert.Equal(t, []string{"C", "A", "B"}, ids)
}

func TestAggregateSpeakerStats_AccumulatesAcrossUtterances(t *testing.T) {
	result := AggregateSpeakerStats([]Utterance{
		{Speaker: "A", Text: "I have  been\tthinking", Start: 0, End: 1500},
		{Speaker: "B", Text: "Tell me more", Start: 1500, End: 2500},
		{Speaker: "A", Text: "about work", Start: 2500, End: 4000},
		{Speaker: "A", Text: "   ", Start: 4000, End: 4500},
	}, 5)

	a := result.Speakers[0]
	assert.Equal(t, "A", a.ID)
	assert.Equal(t, 6, a.WordCount)
	assert.Equal(t, int64(3500), a.TalkTimeMs)
	assert.Equal(t, 3, a.UtteranceCount)
}

func TestAggregateSpeakerStats_ZeroLengthUtterances(t *testing.T) {
	result := AggregateSpeakerStats([]Utterance{
		{Speaker: "A", Text: "hm", Start: 100, End: 100},
	}, 1)

	require.Len(t, result.Speakers, 1)
	assert.Equal(t, 0, result.Speakers[0].TalkTimePercent)
}

func TestAggregateSpeakerStats_PercentSumWithinRoundingBound(t *testing.T) {
	inputs := [][]Utterance{
		sessionUtterances(),
		{
			{Speaker: "A", Text: "a", Start: 0, End: 1000},
			{Speaker: "B", Text: "b", Start: 1000, End: 2000},
			{Speaker: "C", Text: "c", Start: 2000, End: 3000},
		},
		{
			{Speaker: "A", Text: "a", Start: 0, End: 1234},
			{Speaker: "B", Text: "b", Start: 1234, End: 2000},
			{Speaker: "C", Text: "c", Start: 2000, End: 2777},
			{Speaker: "D", Text: "d", Start: 2777, End: 9000},
			{Speaker: "E", Text: "e", Start: 9000, End: 9333},
			{Speaker: "F", Text: "f", Start: 9333, End: 9999},
		},
	}

	for _, utterances := range inputs {
		result := AggregateSpeakerStats(utterances, 10)
		sum := 0
		for _, s := range result.Speakers {
			sum += s.TalkTimePercent
		}
		n := result.SpeakerCount
		assert.GreaterOrEqual(t, sum, 100-(n-1))
		assert.LessOrEqual(t, sum, 100+(n-1))
	}
}

func TestAggregateSpeakerStats_IndependentRounding(t *testing.T) {
	// Three equal speakers round to 33 each; the missing point is not redistributed.
	result := AggregateSpeakerStats([]Utterance{
		{Speaker: "A", Text: "a", Start: 0, End: 1000},
		{Speaker: "B", Text: "b", Start: 1000, End: 2000},
		{Speaker: "C", Text: "c", Start: 2000, End: 3000},
	}, 3)

	for _, s := range result.Speakers {
		assert.Equal(t, 33, s.TalkTimePercent)
	}
}
