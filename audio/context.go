package audio

import "time"

// EducationalContext is read-only activity state supplied by the
// learning layer. The engine uses it to select clip keys and pacing,
// never to bypass the volume safety ceiling.
type EducationalContext struct {
	ChildID              string
	ChildAge             int
	Language             string
	ActivityType         string
	DifficultyLevel      int
	ConsecutiveCorrect   int
	ConsecutiveIncorrect int
}

// PacingDelay suggests an inter-step delay for narration sequences.
// Younger children and children who are struggling get more breathing
// room between steps.
func PacingDelay(ec EducationalContext) time.Duration {
	d := 400 * time.Millisecond
	if ec.ChildAge > 0 && ec.ChildAge < 6 {
		d += 350 * time.Millisecond
	}
	if ec.ConsecutiveIncorrect >= 2 {
		d += 250 * time.Millisecond
	}
	return d
}
