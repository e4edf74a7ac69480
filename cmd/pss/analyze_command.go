package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"pss-server/pkg/diarization"
	"pss-server/pkg/service"
)

// transcriptFile is the analyze input: either this object or a bare array
// of utterances
type transcriptFile struct {
	Utterances    []diarization.Utterance `json:"utterances"`
	AudioDuration float64                 `json:"audioDuration"`
	Text          string                  `json:"text"`
}

func newAnalyzeCommand() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "analyze <transcript.json|->",
		Short: "Summarize speaker talk time and suggest roles for a diarized transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			input, err := parseTranscript(data)
			if err != nil {
				return err
			}

			analysis := service.Analyze(input.Utterances, input.AudioDuration, input.Text)
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(analysis)
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderAnalysis(analysis))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the analysis as JSON")
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func parseTranscript(data []byte) (transcriptFile, error) {
	var input transcriptFile
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &input.Utterances); err != nil {
			return input, fmt.Errorf("parse utterances: %w", err)
		}
		return input, nil
	}
	if err := json.Unmarshal(trimmed, &input); err != nil {
		return input, fmt.Errorf("parse transcript: %w", err)
	}
	return input, nil
}

func renderAnalysis(analysis service.Analysis) string {
	result := analysis.Diarization
	if result.SpeakerCount == 0 {
		return "No speaker information.\n\n" + analysis.FormattedTranscript
	}

	rows := make([][]string, 0, len(result.Speakers))
	for _, s := range result.Speakers {
		suggestion := analysis.SuggestedRoles[s.ID]
		rows = append(rows, []string{
			s.ID,
			suggestion.Label,
			string(suggestion.Role),
			strconv.Itoa(s.WordCount),
			diarization.FormatTimestamp(s.TalkTimeMs),
			strconv.Itoa(s.TalkTimePercent) + "%",
			strconv.Itoa(s.UtteranceCount),
		})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d speakers, %.1fs of audio\n", result.SpeakerCount, result.TotalDuration)
	b.WriteString(renderTable(
		[]string{"Speaker", "Suggested label", "Role", "Words", "Talk time", "Share", "Utterances"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
	))
	b.WriteString("\n\n")
	b.WriteString(analysis.FormattedTranscript)
	return b.String()
}
