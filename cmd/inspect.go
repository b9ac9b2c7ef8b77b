package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/blockforest/blockforest/sim/nodeid"
)

var (
	// CLI flags for the inspect-ids command
	inspectSnapshot string // list the nodes of this snapshot
	inspectDim      int    // dimension used to list children
)

// inspectIDsCmd decodes node ids given on the command line, or lists every
// node of a snapshot in traversal order.
var inspectIDsCmd = &cobra.Command{
	Use:   "inspect-ids [id...]",
	Short: "Decode node ids or list the nodes of a snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if inspectSnapshot != "" {
			return listSnapshot(out, inspectSnapshot)
		}
		if len(args) == 0 {
			return fmt.Errorf("no ids given and no --snapshot set")
		}
		if inspectDim < 1 || inspectDim > 3 {
			return fmt.Errorf("--dim must be 1, 2 or 3, got %d", inspectDim)
		}
		for _, arg := range args {
			raw, err := strconv.ParseUint(arg, 0, 64)
			if err != nil {
				return fmt.Errorf("parsing id %q: %w", arg, err)
			}
			describeID(out, nodeid.ID(raw), inspectDim)
		}
		return nil
	},
}

func describeID(w io.Writer, id nodeid.ID, dim int) {
	fmt.Fprintf(w, "%d\t%v\tlevel=%d root=%d", uint64(id), id, id.Level(), id.Root())
	if id.Level() > 0 {
		fmt.Fprintf(w, " parent=%v child=%d", id.Parent(), id.ChildIndex())
	}
	if id.Level() < nodeid.MaxLevel {
		fmt.Fprintf(w, " children=%v", id.Children(dim))
	}
	fmt.Fprintln(w)
}

func listSnapshot(w io.Writer, path string) error {
	s, err := readSnapshot(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "run %s t=%g step=%d ranks=%d dim=%d roots=%v nodes=%d\n",
		s.RunID, s.Time, s.Step, s.Ranks, s.Dim, s.Roots, len(s.Nodes))
	perLevel := make(map[int]int)
	for _, n := range s.Nodes {
		id := nodeid.ID(n.ID)
		kind := "parent"
		if n.Leaf {
			kind = "leaf"
			perLevel[id.Level()]++
		}
		fmt.Fprintf(w, "%d\t%v\trank=%d\t%s\tphases=%d\n", n.ID, id, n.Owner, kind, len(n.Phases))
	}
	for level := 0; level <= nodeid.MaxLevel; level++ {
		if perLevel[level] > 0 {
			fmt.Fprintf(w, "leaves on level %d: %d\n", level, perLevel[level])
		}
	}
	return nil
}

func init() {
	inspectIDsCmd.Flags().StringVar(&inspectSnapshot, "snapshot", "", "List every node of this CBOR snapshot")
	inspectIDsCmd.Flags().IntVar(&inspectDim, "dim", 1, "Dimension used to list children")
}
