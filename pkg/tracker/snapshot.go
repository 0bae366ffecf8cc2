package tracker

// Row is a point in time copy of one descriptor.
type Row struct {
	Index    int
	Name     string
	Type     string
	Kind     Kind
	Status   Status
	Chunks   int64
	Bytes    int64
	RawBytes int64
}

// Summary aggregates the files left out of a snapshot window.
type Summary struct {
	Files    int
	ByStatus map[Status]int
	Bytes    int64
	RawBytes int64
}

// Snapshot is a display-ready view of the tracker.
type Snapshot struct {
	Total   int
	Claimed int
	Done    int
	Failed  int
	Rows    []Row
	Before  Summary
	After   Summary
}

// Snapshot copies at most window rows around the claim index. Rows outside the
// window are folded into the Before and After summaries. A window <= 0 shows
// every row.
func (t *Tracker) Snapshot(window int) Snapshot {
	rows := make([]Row, len(t.files))
	s := Snapshot{Total: len(t.files), Claimed: t.Claimed()}

	for i, f := range t.files {
		rows[i] = Row{
			Index:    f.Index,
			Name:     f.Name,
			Type:     f.Type,
			Kind:     f.Kind,
			Status:   f.Status(),
			Chunks:   f.Chunks(),
			Bytes:    f.Bytes(),
			RawBytes: f.RawBytes(),
		}
		switch rows[i].Status {
		case Done:
			s.Done++
		case Failed:
			s.Failed++
		}
	}

	from, to := windowBounds(len(rows), s.Claimed, window)
	s.Rows = rows[from:to]
	s.Before = summarize(rows[:from])
	s.After = summarize(rows[to:])

	return s
}

// windowBounds centres the window on the most recently claimed row, keeping
// it inside [0, n).
func windowBounds(n, claimed, window int) (int, int) {
	if window <= 0 || window >= n {
		return 0, n
	}

	from := claimed - window/2 - 1
	if from < 0 {
		from = 0
	}
	to := from + window
	if to > n {
		to = n
		from = n - window
	}

	return from, to
}

func summarize(rows []Row) Summary {
	s := Summary{Files: len(rows), ByStatus: map[Status]int{}}
	for _, r := range rows {
		s.ByStatus[r.Status]++
		s.Bytes += r.Bytes
		s.RawBytes += r.RawBytes
	}

	return s
}
