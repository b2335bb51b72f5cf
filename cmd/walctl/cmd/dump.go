package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/downfa11-org/raftlite/pkg/raftstore"
	"github.com/downfa11-org/raftlite/pkg/wal"
	"github.com/spf13/cobra"
)

var (
	fromFlag    uint64
	untilFlag   uint64
	raftFlag    bool
	previewFlag int
)

type dumpRecord struct {
	ID      uint64 `json:"id" yaml:"id"`
	Size    int    `json:"size" yaml:"size"`
	CRC     uint32 `json:"crc" yaml:"crc"`
	Term    uint64 `json:"term,omitempty" yaml:"term,omitempty"`
	Type    string `json:"type,omitempty" yaml:"type,omitempty"`
	Preview string `json:"preview" yaml:"preview"`
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the records in an id range",
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := dumpDir(dirFlag, fromFlag, untilFlag, raftFlag, previewFlag)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), records, func(w io.Writer) error {
			return writeRecords(w, records, raftFlag)
		})
	},
}

func init() {
	dumpCmd.Flags().Uint64Var(&fromFlag, "from", 0, "First id to print, 0 for the first stored id")
	dumpCmd.Flags().Uint64Var(&untilFlag, "until", 0, "Last id to print, 0 for the last stored id")
	dumpCmd.Flags().BoolVar(&raftFlag, "raft", false, "Decode records as raft logs")
	dumpCmd.Flags().IntVar(&previewFlag, "preview", 32, "Bytes of payload to show per record")
}

func dumpDir(dir string, from, until uint64, asRaft bool, preview int) ([]dumpRecord, error) {
	files, err := wal.ListFiles(dir)
	if err != nil {
		return nil, err
	}
	set := &wal.WalFileSet{BasePath: dir, Files: files, Active: len(files) - 1}
	first, ok := set.FirstLogID()
	if !ok {
		return nil, nil
	}
	last, _ := set.LastLogID()
	if from == 0 {
		from = first
	}
	if until == 0 || until > last {
		until = last
	}
	if from < first || from > until {
		return nil, fmt.Errorf("%w: [%d, %d] outside stored ids [%d, %d]", wal.ErrOutOfRange, from, until, first, last)
	}

	var out []dumpRecord
	for _, f := range set.Overlapping(from, until) {
		logs, err := readSegment(f, max(from, f.IDFrom), min(until, f.IDUntil))
		if err != nil {
			return out, err
		}
		for _, rec := range logs {
			r := dumpRecord{ID: rec.ID, Size: len(rec.Data), CRC: rec.CRC}
			payload := rec.Data
			if asRaft {
				l, err := raftstore.DecodeLog(rec.ID, rec.Data)
				if err != nil {
					return out, err
				}
				r.Term, r.Type, payload = l.Term, l.Type.String(), l.Data
			}
			r.Preview = previewOf(payload, preview)
			out = append(out, r)
		}
	}
	return out, nil
}

func readSegment(f *wal.WalFile, from, until uint64) ([]wal.Record, error) {
	if err := f.Mmap(); err != nil {
		return nil, err
	}
	defer f.Close()
	return f.ReadLogs(from, until)
}

// previewOf shows up to n bytes, as text when printable and hex otherwise.
func previewOf(data []byte, n int) string {
	cut := data
	if n >= 0 && len(cut) > n {
		cut = cut[:n]
	}
	suffix := ""
	if len(cut) < len(data) {
		suffix = "..."
	}
	if utf8.Valid(cut) && printable(cut) {
		return fmt.Sprintf("%q%s", cut, suffix)
	}
	return hex.EncodeToString(cut) + suffix
}

func printable(b []byte) bool {
	for _, c := range string(b) {
		if c < 0x20 || c == 0x7f {
			return false
		}
	}
	return true
}

func writeRecords(w io.Writer, records []dumpRecord, asRaft bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if asRaft {
		fmt.Fprintln(tw, "INDEX\tTERM\tTYPE\tSIZE\tDATA")
		for _, r := range records {
			fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%s\n", r.ID, r.Term, r.Type, r.Size, r.Preview)
		}
	} else {
		fmt.Fprintln(tw, "ID\tSIZE\tCRC\tDATA")
		for _, r := range records {
			fmt.Fprintf(tw, "%d\t%d\t%08x\t%s\n", r.ID, r.Size, r.CRC, r.Preview)
		}
	}
	return tw.Flush()
}
