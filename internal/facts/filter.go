package facts

// FilterTablesBySignals returns a new Tables object containing only rows
// that mention one of the given signal names. Blocks are kept as they are.
func FilterTablesBySignals(tables Tables, names map[string]bool) Tables {
	if len(names) == 0 {
		return emptyTables()
	}
	out := emptyTables()

	for _, row := range tables.Signals {
		if names[row.Name] {
			out.Signals = append(out.Signals, row)
		}
	}
	for _, row := range tables.Assignments {
		if names[row.Target] {
			out.Assignments = append(out.Assignments, row)
		}
	}
	for _, row := range tables.Cases {
		if names[row.Select] {
			out.Cases = append(out.Cases, row)
		}
	}
	for _, row := range tables.Displays {
		for _, arg := range row.Args {
			if names[arg] {
				out.Displays = append(out.Displays, row)
				break
			}
		}
	}
	for _, row := range tables.Unresolved {
		if names[row.Name] {
			out.Unresolved = append(out.Unresolved, row)
		}
	}
	out.Blocks = append(out.Blocks, tables.Blocks...)

	return out
}

// FilterDeltaBySignals filters both sides of a delta.
func FilterDeltaBySignals(delta Delta, names map[string]bool) Delta {
	return Delta{
		Added:   FilterTablesBySignals(delta.Added, names),
		Removed: FilterTablesBySignals(delta.Removed, names),
	}
}
