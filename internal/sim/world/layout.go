package world

import (
	"encoding/json"
	"fmt"
	"os"
)

// Layout is the static walkability grid and the agent roster, loaded from
// town.json at startup. The movement system treats obstacle cells as
// unwalkable; everything else in bounds is fair game.
type Layout struct {
	Width     int         `json:"width"`
	Height    int         `json:"height"`
	Obstacles []Rect      `json:"obstacles,omitempty"`
	Agents    []AgentSeed `json:"agents"`
}

type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

type AgentSeed struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
}

func LoadLayout(path string) (Layout, error) {
	var l Layout
	raw, err := os.ReadFile(path)
	if err != nil {
		return l, err
	}
	if err := json.Unmarshal(raw, &l); err != nil {
		return l, fmt.Errorf("town.json: %w", err)
	}
	if l.Width <= 0 || l.Height <= 0 {
		return l, fmt.Errorf("town.json: width and height must be positive")
	}
	if len(l.Agents) == 0 {
		return l, fmt.Errorf("town.json: no agents")
	}
	seen := map[string]bool{}
	for _, a := range l.Agents {
		if a.ID == "" {
			return l, fmt.Errorf("town.json: agent with empty id")
		}
		if seen[a.ID] {
			return l, fmt.Errorf("town.json: duplicate agent %s", a.ID)
		}
		seen[a.ID] = true
	}
	return l, nil
}

func (l Layout) blockedCells() map[[2]int]bool {
	blocked := map[[2]int]bool{}
	for _, r := range l.Obstacles {
		for x := r.X; x < r.X+r.W; x++ {
			for y := r.Y; y < r.Y+r.H; y++ {
				blocked[[2]int{x, y}] = true
			}
		}
	}
	return blocked
}
