package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/downfa11-org/raftlite/pkg/meta"
	"github.com/downfa11-org/raftlite/pkg/wal"
	"github.com/spf13/cobra"
)

type segmentInfo struct {
	WalNo     uint64 `json:"wal_no" yaml:"wal_no"`
	File      string `json:"file" yaml:"file"`
	IDFrom    uint64 `json:"id_from" yaml:"id_from"`
	IDUntil   uint64 `json:"id_until" yaml:"id_until"`
	Records   uint64 `json:"records" yaml:"records"`
	DataStart uint32 `json:"data_start" yaml:"data_start"`
	DataEnd   uint32 `json:"data_end" yaml:"data_end"`
	Capacity  uint32 `json:"capacity" yaml:"capacity"`
	SpaceLeft int    `json:"space_left" yaml:"space_left"`
}

type dirInfo struct {
	Dir        string        `json:"dir" yaml:"dir"`
	CleanStop  bool          `json:"clean_stop" yaml:"clean_stop"`
	LastPurged *uint64       `json:"last_purged,omitempty" yaml:"last_purged,omitempty"`
	Vote       *meta.Vote    `json:"vote,omitempty" yaml:"vote,omitempty"`
	Segments   []segmentInfo `json:"segments" yaml:"segments"`
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List segments and stored metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := inspectDir(dirFlag)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), info, info.writeTable)
	},
}

func inspectDir(dir string) (*dirInfo, error) {
	files, err := wal.ListFiles(dir)
	if err != nil {
		return nil, err
	}
	clean, err := meta.Stopped(dir)
	if err != nil {
		return nil, err
	}

	info := &dirInfo{Dir: dir, CleanStop: clean}
	for _, f := range files {
		info.Segments = append(info.Segments, describe(f))
	}

	// the side-store is only read when it already exists
	if store, err := meta.OpenExisting(dir); err == nil {
		defer store.Close()
		if purged, err := store.LastPurged(); err == nil {
			info.LastPurged = &purged
		}
		if v, err := store.Vote(); err == nil {
			info.Vote = &v
		}
	}
	return info, nil
}

func describe(f *wal.WalFile) segmentInfo {
	s := segmentInfo{
		WalNo:     f.WalNo,
		File:      wal.FileName(f.WalNo),
		IDFrom:    f.IDFrom,
		IDUntil:   f.IDUntil,
		DataStart: f.DataStart,
		DataEnd:   f.DataEnd,
		Capacity:  f.LenMax,
		SpaceLeft: f.SpaceLeft(),
	}
	if !f.IsEmpty() {
		s.Records = f.IDUntil - f.IDFrom + 1
	}
	return s
}

func (d *dirInfo) writeTable(w io.Writer) error {
	fmt.Fprintf(w, "Directory:   %s\n", d.Dir)
	fmt.Fprintf(w, "Clean stop:  %v\n", d.CleanStop)
	if d.LastPurged != nil {
		fmt.Fprintf(w, "Last purged: %d\n", *d.LastPurged)
	}
	if d.Vote != nil {
		fmt.Fprintf(w, "Vote:        term=%d candidate=%q candidate_term=%d committed=%t\n",
			d.Vote.Term, d.Vote.Candidate, d.Vote.CandidateTerm, d.Vote.Committed)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tID FROM\tID UNTIL\tRECORDS\tDATA START\tDATA END\tSPACE LEFT")
	for _, s := range d.Segments {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			s.File, s.IDFrom, s.IDUntil, s.Records, s.DataStart, s.DataEnd, s.SpaceLeft)
	}
	return tw.Flush()
}
