// ABOUTME: Read-only introspection helpers for reference tooling (cmd/kvdump's "stats" subcommand)
// ABOUTME: Exposes admin-facing stats as local function calls over one open Environment

package env

// Stats summarizes an Environment's freelist, cache, and write-ahead-log
// state at a point in time.
type Stats struct {
	Pagesize        int
	FreeBytes       int
	CachedPages     int
	ActiveLogFile   string
	DatabaseCount   int
}

// Stats gathers a snapshot of the Environment's current resource usage.
func (e *Environment) Stats() (Stats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	freeBytes, err := e.fl.Total()
	if err != nil {
		return Stats{}, err
	}
	count := 0
	for _, s := range e.header.DBs {
		if s.DBName != 0 {
			count++
		}
	}
	return Stats{
		Pagesize:      e.dev.Pagesize(),
		FreeBytes:     freeBytes,
		CachedPages:   e.cache.Len(),
		ActiveLogFile: e.wal.ActivePath(),
		DatabaseCount: count,
	}, nil
}

// ListDatabases returns the names of every initialized Database slot.
func (e *Environment) ListDatabases() []uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var names []uint16
	for _, s := range e.header.DBs {
		if s.DBName != 0 {
			names = append(names, s.DBName)
		}
	}
	return names
}
