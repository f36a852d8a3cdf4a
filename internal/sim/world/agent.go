package world

// Agent is one townsperson. All state is owned by the town goroutine;
// position mutates only inside systemMovement.
type Agent struct {
	ID   string
	Name string

	X, Y int

	Orch *Orchestrator

	// In-flight movement request, nil when idle.
	move *moveState
}

type moveState struct {
	TargetX, TargetY int
	Tolerance        int
}
