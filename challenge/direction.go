// Package challenge sequences the guided head-movement prompts of the liveness
// check. It validates time held in each pose only; judging the pose itself is
// left to the verification service.
package challenge

import (
	"fmt"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Direction is the way the user turns their head for one step.
type Direction int

const (
	Right Direction = iota
	Left
	Up
	Down
)

func (d Direction) String() string {
	switch d {
	case Right:
		return "right"
	case Left:
		return "left"
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

var upper = cases.Upper(language.English)

// Prompt is the instruction shown while the step is active.
func (d Direction) Prompt() string {
	switch d {
	case Right, Left:
		return "Turn your face to the " + upper.String(d.String())
	default:
		return "Look " + upper.String(d.String())
	}
}

func (d Direction) Icon() string {
	switch d {
	case Right:
		return "→"
	case Left:
		return "←"
	case Up:
		return "↑"
	case Down:
		return "↓"
	default:
		return ""
	}
}

// ParseDirection accepts direction names in any case.
func ParseDirection(s string) (Direction, error) {
	for _, d := range []Direction{Right, Left, Up, Down} {
		if cases.Fold().String(s) == d.String() {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

// Step is one pose the user must hold.
type Step struct {
	Direction Direction
	Hold      time.Duration
}

// DefaultSteps is right, left, up, down, each held for hold.
func DefaultSteps(hold time.Duration) []Step {
	return []Step{
		{Direction: Right, Hold: hold},
		{Direction: Left, Hold: hold},
		{Direction: Up, Hold: hold},
		{Direction: Down, Hold: hold},
	}
}
