// SPDX-License-Identifier: MIT

package dialog

import "github.com/trialbot/trialbot/internal/state"

// Stage names. Each dialog kind walks a fixed ordered subset of these;
// "confirmation" is always last before the terminal outcome.
const (
	StageParentName   = "parent_name"
	StageStudentName  = "student_name"
	StageAge          = "age"
	StageCourse       = "course"
	StageContact      = "contact"
	StageFieldSelect  = "field_select"
	StageFieldValue   = "field_value"
	StageReason       = "reason"
	StageRating       = "rating"
	StageReviewText   = "review_text"
	StageConfirmation = "confirmation"
)

// stageSequences defines the forward order of stages per dialog kind.
var stageSequences = map[state.DialogKind][]string{
	state.KindRegistration: {StageParentName, StageStudentName, StageAge, StageCourse, StageContact, StageConfirmation},
	state.KindEdit:         {StageFieldSelect, StageFieldValue, StageConfirmation},
	state.KindCancellation: {StageReason, StageConfirmation},
	state.KindReview:       {StageRating, StageReviewText, StageConfirmation},
}

// editableFields is what the edit dialog offers at the field_select stage.
var editableFields = []string{"parent_name", "student_name", "age", "course", "contact"}

var stagePrompts = map[string]string{
	StageParentName:   "What is the parent's name?",
	StageStudentName:  "What is the student's name?",
	StageAge:          "How old is the student?",
	StageCourse:       "Which course are you interested in?",
	StageContact:      "How can we reach you? Send a phone number or an @handle.",
	StageFieldSelect:  "Which field would you like to change?",
	StageFieldValue:   "Send the new value.",
	StageReason:       "Please tell us why you are cancelling.",
	StageRating:       "How would you rate the lesson, 1 to 5?",
	StageReviewText:   "A few words about the lesson?",
	StageConfirmation: "Everything correct? Reply yes to confirm or no to abort.",
}

// validStage reports whether stage belongs to the kind's sequence.
func validStage(kind state.DialogKind, stage string) bool {
	for _, s := range stageSequences[kind] {
		if s == stage {
			return true
		}
	}
	return false
}

// nextStage returns the stage after the given one, or "" at the end of
// the sequence.
func nextStage(kind state.DialogKind, stage string) string {
	seq := stageSequences[kind]
	for i, s := range seq {
		if s == stage && i+1 < len(seq) {
			return seq[i+1]
		}
	}
	return ""
}

// promptFor returns the user-facing prompt for a stage.
func promptFor(stage string) string {
	return stagePrompts[stage]
}
