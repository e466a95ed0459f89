package preflight

// Plan selects which checks Run performs before an operation starts.
type Plan struct {
	SourceAccessible bool
	TargetAccessible bool
	TargetWritable   bool
	PathNesting      bool

	// SourceIsFile relaxes the target checks: a single file may be written
	// to a file path rather than into a directory.
	SourceIsFile bool
}

// Run executes the checks enabled in p in a fixed order and returns the first failure.
func Run(p *Plan, srcPath, targetPath string) error {
	if p.SourceAccessible {
		if err := CheckSourceAccessible(srcPath); err != nil {
			return err
		}
	}
	if p.PathNesting {
		if err := CheckPathNesting(srcPath, targetPath); err != nil {
			return err
		}
	}
	if p.TargetAccessible {
		if err := CheckTargetAccessible(targetPath, !p.SourceIsFile); err != nil {
			return err
		}
	}
	if p.TargetWritable && !p.SourceIsFile {
		if err := CheckTargetWritable(targetPath); err != nil {
			return err
		}
	}
	return nil
}
