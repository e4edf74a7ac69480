package diarization

import (
	"errors"
	"fmt"
	"sort"
)

// Role is the part a speaker plays in a peer support session.
type Role string

const (
	RoleSpecialist  Role = "specialist"
	RoleParticipant Role = "participant"
)

// SpecialistLabel is the display label for the support specialist.
const SpecialistLabel = "Peer Support Specialist"

var (
	ErrUnknownSpeaker = errors.New("unknown speaker")
	ErrInvalidRole    = errors.New("invalid speaker role")
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleSpecialist || r == RoleParticipant
}

// RoleAssignment is the role and display label given to one speaker.
type RoleAssignment struct {
	Role  Role   `json:"role"`
	Label string `json:"label"`
}

// RoleMap maps speaker tags to their assignment.
type RoleMap map[SpeakerTag]RoleAssignment

// SuggestRoles proposes an initial role mapping from talk time. Sessions are
// expected to be participant-led, so the speaker who talks least is assumed
// to be the specialist and everyone else is a participant, numbered in
// descending talk-time order. A lone speaker is the specialist.
//
// The result is only a suggestion for a human to confirm with
// ApplyRoleOverrides; it must not be treated as ground truth.
func SuggestRoles(result Result) RoleMap {
	roles := make(RoleMap, len(result.Speakers))
	if len(result.Speakers) == 0 {
		return roles
	}

	// Speakers are sorted by talk time descending, so the last one talks least.
	// With ties at the bottom the later first-seen speaker wins.
	specialist := len(result.Speakers) - 1
	participant := 0
	for i, s := range result.Speakers {
		if i == specialist {
			roles[s.ID] = RoleAssignment{Role: RoleSpecialist, Label: SpecialistLabel}
			continue
		}
		participant++
		roles[s.ID] = RoleAssignment{Role: RoleParticipant, Label: fmt.Sprintf("Participant %d", participant)}
	}
	return roles
}

// ApplyRoleOverrides returns a new mapping where every override replaces the
// suggested assignment for that speaker. An override with an empty label gets
// the default label for its role.
func ApplyRoleOverrides(suggested RoleMap, overrides RoleMap) (RoleMap, error) {
	confirmed := make(RoleMap, len(suggested))
	for tag, assignment := range suggested {
		confirmed[tag] = assignment
	}

	for tag, override := range overrides {
		if _, ok := suggested[tag]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSpeaker, tag)
		}
		if !override.Role.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRole, override.Role)
		}
		if override.Label == "" {
			override.Label = defaultRoleLabel(override.Role, tag)
		}
		confirmed[tag] = override
	}
	return confirmed, nil
}

func defaultRoleLabel(role Role, tag SpeakerTag) string {
	if role == RoleSpecialist {
		return SpecialistLabel
	}
	return "Participant " + tag
}

// Specialists returns the tags assigned the specialist role, sorted.
func (m RoleMap) Specialists() []SpeakerTag {
	var tags []SpeakerTag
	for tag, a := range m {
		if a.Role == RoleSpecialist {
			tags = append(tags, tag)
		}
	}
	sort.Strings(tags)
	return tags
}

// LabelSpeakers returns a copy of result with each speaker's label taken from
// roles. Speakers missing from roles keep their label.
func LabelSpeakers(result Result, roles RoleMap) Result {
	labelled := result
	labelled.Speakers = make([]SpeakerStat, len(result.Speakers))
	for i, s := range result.Speakers {
		if a, ok := roles[s.ID]; ok && a.Label != "" {
			s.Label = a.Label
		}
		labelled.Speakers[i] = s
	}
	return labelled
}

// FormatLabeledTranscript is FormatTranscript using confirmed role labels in
// place of the raw speaker tags.
func FormatLabeledTranscript(utterances []Utterance, roles RoleMap, fallback string) string {
	return formatLines(utterances, fallback, func(tag SpeakerTag) string {
		if a, ok := roles[tag]; ok && a.Label != "" {
			return a.Label
		}
		return DefaultLabel(tag)
	})
}
