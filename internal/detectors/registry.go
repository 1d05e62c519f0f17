package detectors

// All returns one instance of each detector in the order the correlation
// engine runs them.
func All() []Detector {
	return []Detector{
		NewSequentialDetector(),
		NewConcurrentDetector(),
		NewCyclicalDetector(),
		NewContextualDetector(),
	}
}
