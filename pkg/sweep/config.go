package sweep

// Config enumerates the sweep's tunable knobs, per spec.md §6. It is a
// plain struct constructed directly by the caller; CLI parsing is out of
// scope for this library.
type Config struct {
	// FramesK is the induction depth (default 1).
	FramesK int
	// FramesAddSim is the number of extra simulation rounds used to
	// strengthen classes before each induction pass (default 2).
	FramesAddSim int
	// ConflictLimit bounds each individual SAT query (default 1000).
	ConflictLimit int
	// LatchCorrOnly restricts candidacy to latch outputs (default false).
	LatchCorrOnly bool
	// MaxLevels excludes nodes above this level from candidacy; 0 means
	// unlimited (default).
	MaxLevels int
	// PolarFlip enables the CNF encoder's polarity-flip bias (default
	// false, per spec.md §9's Open Question default).
	PolarFlip bool
	// FsizeOnly and Verbose are diagnostic-only knobs: FsizeOnly reports
	// node-count reduction without committing replacements, Verbose raises
	// the session logger's effective level.
	FsizeOnly bool
	Verbose   bool
}

// DefaultConfig returns spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		FramesK:       1,
		FramesAddSim:  2,
		ConflictLimit: 1000,
		LatchCorrOnly: false,
		MaxLevels:     0,
		PolarFlip:     false,
		FsizeOnly:     false,
		Verbose:       false,
	}
}
