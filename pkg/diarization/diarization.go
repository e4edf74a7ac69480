// Package diarization turns a transcription service's speaker-labelled
// utterances into a readable transcript, per-speaker talk statistics and a
// suggested speaker role mapping.
//
// Everything in this package is a pure function over already materialised
// input. Functions never fail: degenerate input produces the documented
// fallback values and malformed input (negative timestamps and similar)
// produces nonsensical but well-formed output.
package diarization

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// SpeakerTag is the opaque speaker identifier assigned by the transcription
// service ("A", "B", ...). It is only unique within one transcription job.
type SpeakerTag = string

// Utterance is one continuous speech segment attributed to a single speaker.
// Start and End are offsets from the start of the recording in milliseconds.
type Utterance struct {
	Speaker SpeakerTag `json:"speaker"`
	Text    string     `json:"text"`
	Start   int64      `json:"start"`
	End     int64      `json:"end"`
}

// SpeakerStat holds aggregated statistics for one speaker.
type SpeakerStat struct {
	ID              SpeakerTag `json:"id"`
	Label           string     `json:"label"`
	WordCount       int        `json:"wordCount"`
	TalkTimeMs      int64      `json:"talkTimeMs"`
	TalkTimePercent int        `json:"talkTimePercent"`
	UtteranceCount  int        `json:"utteranceCount"`
}

// Result is the aggregate of one diarized transcript. Speakers are sorted by
// talk time descending; TotalDuration is the audio duration in seconds.
type Result struct {
	SpeakerCount  int           `json:"speakerCount"`
	Speakers      []SpeakerStat `json:"speakers"`
	TotalDuration float64       `json:"totalDuration"`
}

// DefaultLabel is the label given to a speaker before any role is known.
func DefaultLabel(tag SpeakerTag) string {
	return "Speaker " + tag
}

// FormatTimestamp renders a millisecond offset as m:ss, or h:mm:ss once the
// offset reaches one hour.
func FormatTimestamp(ms int64) string {
	totalSeconds := ms / 1000
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// FormatTranscript renders one line per utterance, separated by blank lines:
//
//	0:02 [Speaker B]: Hello how are you
//
// When there are no utterances there is no speaker information and the flat
// fallback transcript is returned unchanged.
func FormatTranscript(utterances []Utterance, fallback string) string {
	return formatLines(utterances, fallback, func(tag SpeakerTag) string {
		return DefaultLabel(tag)
	})
}

func formatLines(utterances []Utterance, fallback string, label func(SpeakerTag) string) string {
	if len(utterances) == 0 {
		return fallback
	}

	lines := make([]string, 0, len(utterances))
	for _, u := range utterances {
		lines = append(lines, fmt.Sprintf("%s [%s]: %s", FormatTimestamp(u.Start), label(u.Speaker), strings.TrimSpace(u.Text)))
	}
	return strings.Join(lines, "\n\n")
}

type accumulator struct {
	stat  SpeakerStat
	order int
}

// AggregateSpeakerStats accumulates word count, talk time and utterance count
// per speaker and derives each speaker's share of the total talk time.
//
// Percentages are rounded per speaker, so with N speakers their sum may be
// off from 100 by up to N-1. Speakers are ordered by talk time descending with ties
// kept in first-seen order.
func AggregateSpeakerStats(utterances []Utterance, audioDurationSeconds float64) Result {
	if len(utterances) == 0 {
		return Result{
			SpeakerCount:  0,
			Speakers:      []SpeakerStat{},
			TotalDuration: audioDurationSeconds,
		}
	}

	bySpeaker := make(map[SpeakerTag]*accumulator)
	var totalTalk int64

	for _, u := range utterances {
		acc, ok := bySpeaker[u.Speaker]
		if !ok {
			acc = &accumulator{
				stat: SpeakerStat{
					ID:    u.Speaker,
					Label: DefaultLabel(u.Speaker),
				},
				order: len(bySpeaker),
			}
			bySpeaker[u.Speaker] = acc
		}

		talk := u.End - u.Start
		acc.stat.WordCount += len(strings.Fields(u.Text))
		acc.stat.TalkTimeMs += talk
		acc.stat.UtteranceCount++
		totalTalk += talk
	}

	speakers := make([]SpeakerStat, len(bySpeaker))
	for _, acc := range bySpeaker {
		if totalTalk != 0 {
			acc.stat.TalkTimePercent = int(math.Round(float64(acc.stat.TalkTimeMs) / float64(totalTalk) * 100))
		}
		speakers[acc.order] = acc.stat
	}

	sort.SliceStable(speakers, func(i, j int) bool {
		return speakers[i].TalkTimeMs > speakers[j].TalkTimeMs
	})

	return Result{
		SpeakerCount:  len(speakers),
		Speakers:      speakers,
		TotalDuration: audioDurationSeconds,
	}
}
